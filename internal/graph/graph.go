// Package graph projects a System onto a presentation graph: components,
// their handlers, the events each handler can emit, and the instance tree.
//
// Send edges are discovered by invoking handlers speculatively with an
// empty payload. Results are discarded; nothing is queued or applied.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
)

// EdgeKind distinguishes how one handler leads to another.
type EdgeKind string

const (
	EdgeSend      EdgeKind = "send"
	EdgePropagate EdgeKind = "propagate"
)

// HandlerNode is one (component, event) pair with a registered handler.
type HandlerNode struct {
	Component string `json:"component"`
	Event     string `json:"event"`
}

// ID returns "component.EVENT".
func (n HandlerNode) ID() string {
	return n.Component + "." + n.Event
}

// Edge connects two handler nodes. To may name a component or event with
// no handler; such edges are kept and marked Dangling.
type Edge struct {
	From     HandlerNode `json:"from"`
	To       HandlerNode `json:"to"`
	Kind     EdgeKind    `json:"kind"`
	Dangling bool        `json:"dangling,omitempty"`
}

// InstanceNode is one instance and its parent link.
type InstanceNode struct {
	Ref    ir.InstanceRef  `json:"ref"`
	Parent *ir.InstanceRef `json:"parent,omitempty"`
}

// ComponentNode is a registered component.
type ComponentNode struct {
	Name     string        `json:"name"`
	Parent   string        `json:"parent,omitempty"`
	Children []string      `json:"children,omitempty"`
	Handlers []HandlerNode `json:"handlers"`
}

// Graph is a snapshot of a System's topology.
type Graph struct {
	Components []ComponentNode `json:"components"`
	Edges      []Edge          `json:"edges"`
	Instances  []InstanceNode  `json:"instances"`
}

// Build walks sys through its read interface. Handlers that fail or panic
// on the synthetic payload contribute no edges and are logged at Debug.
func Build(ctx context.Context, sys *engine.System, logger *slog.Logger) Graph {
	if logger == nil {
		logger = slog.Default()
	}

	g := Graph{
		Components: []ComponentNode{},
		Edges:      []Edge{},
		Instances:  []InstanceNode{},
	}

	for _, name := range sys.Components() {
		c, _ := sys.Component(name)
		node := ComponentNode{
			Name:     name,
			Parent:   c.Parent(),
			Children: c.Children(),
			Handlers: []HandlerNode{},
		}
		for _, event := range c.RegisteredEventNames() {
			from := HandlerNode{Component: name, Event: event}
			node.Handlers = append(node.Handlers, from)

			res, err := dryRun(ctx, c, event)
			if err != nil {
				logger.Debug("handler dry run failed", "component", name, "event", event, "error", err)
				continue
			}
			for _, s := range res.Send {
				target := s.Component
				if target == "" {
					target = name
				}
				g.Edges = append(g.Edges, edgeTo(sys, from, target, s.Event, EdgeSend))
			}
			if res.Send == nil && c.Parent() != "" && c.Propagates(event) {
				if pc, ok := sys.Component(c.Parent()); ok {
					if _, handles := pc.EventHandler(event); handles {
						g.Edges = append(g.Edges, edgeTo(sys, from, pc.Name(), event, EdgePropagate))
					}
				}
			}
		}
		g.Components = append(g.Components, node)

		for _, inst := range c.Instances() {
			in := InstanceNode{Ref: inst.Ref()}
			if inst.ParentID != "" {
				in.Parent = &ir.InstanceRef{Component: inst.ParentComponent, ID: inst.ParentID}
			}
			g.Instances = append(g.Instances, in)
		}
	}
	return g
}

func edgeTo(sys *engine.System, from HandlerNode, component, event string, kind EdgeKind) Edge {
	e := Edge{From: from, To: HandlerNode{Component: component, Event: event}, Kind: kind}
	c, ok := sys.Component(component)
	if !ok {
		e.Dangling = true
		return e
	}
	if _, handles := c.EventHandler(event); !handles {
		e.Dangling = true
	}
	return e
}

// dryRun runs a handler against the component's first instance (or none)
// with an empty payload.
func dryRun(ctx context.Context, c *engine.Component, event string) (res engine.Result, err error) {
	h, ok := c.EventHandler(event)
	if !ok {
		return engine.Result{}, fmt.Errorf("no handler for %q", event)
	}

	var instanceID string
	if ids := c.InstanceIDs(); len(ids) > 0 {
		instanceID = ids[0]
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, engine.Call{
		Component:  c,
		InstanceID: instanceID,
		Event:      event,
		Payload:    ir.Object{},
	})
}

// Handler returns the node for component.event, if registered.
func (g Graph) Handler(component, event string) (HandlerNode, bool) {
	for _, c := range g.Components {
		if c.Name != component {
			continue
		}
		i := slices.IndexFunc(c.Handlers, func(h HandlerNode) bool { return h.Event == event })
		if i >= 0 {
			return c.Handlers[i], true
		}
	}
	return HandlerNode{}, false
}
