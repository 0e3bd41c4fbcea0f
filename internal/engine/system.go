package engine

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/roach88/cascade/internal/ir"
)

// System is the component registry and the single-writer dispatcher.
//
// Thread-safety model:
//   - QueueEvent: safe from any goroutine
//   - ProcessEvents: one call at a time; handlers run synchronously inside it
//   - registry, store and relationship operations: not synchronized, call
//     them from the goroutine that drives ProcessEvents
type System struct {
	components map[string]*Component
	order      []string

	rel   *relations
	queue *eventQueue

	// born stamps instances in system-wide creation order.
	born uint64

	clock      Sequencer
	flowGen    FlowTokenGenerator
	logger     *slog.Logger
	observers  []Observer
	maxSteps   int
	validation *ValidationContext

	processing atomic.Bool
}

// Option configures a System.
type Option func(*System)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *System) {
		s.logger = l
	}
}

// WithMaxSteps bounds the number of dispatches per ProcessEvents call.
// Default 0 means unbounded.
func WithMaxSteps(maxSteps int) Option {
	return func(s *System) {
		s.maxSteps = maxSteps
	}
}

// WithClock replaces the logical clock used to stamp dispatches.
func WithClock(c Sequencer) Option {
	return func(s *System) {
		s.clock = c
	}
}

// WithFlowGenerator replaces the flow token generator.
func WithFlowGenerator(g FlowTokenGenerator) Option {
	return func(s *System) {
		s.flowGen = g
	}
}

// WithObserver adds an observer notified after every dispatch.
func WithObserver(o Observer) Option {
	return func(s *System) {
		s.observers = append(s.observers, o)
	}
}

// WithValidation enables the stricter validation layer: instance ids are
// unique for the lifetime of ctx and sends must address instances of the
// component they target.
func WithValidation(ctx *ValidationContext) Option {
	return func(s *System) {
		s.validation = ctx
	}
}

// New creates an empty System.
func New(opts ...Option) *System {
	s := &System{
		components: make(map[string]*Component),
		rel:        newRelations(),
		queue:      newEventQueue(),
		clock:      NewClock(),
		flowGen:    UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// AddObserver registers an observer after construction.
func (s *System) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// CreateComponent registers a component. parent may be empty.
func (s *System) CreateComponent(name string, dataModel ir.Object, parent string) (*Component, error) {
	return s.CreateComponentWithChildren(name, dataModel, parent, nil)
}

// CreateComponentWithChildren registers a component with declared children.
func (s *System) CreateComponentWithChildren(name string, dataModel ir.Object, parent string, children []string) (*Component, error) {
	if name == "" {
		return nil, fmt.Errorf("component name must not be empty")
	}
	if _, exists := s.components[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateComponent, name)
	}
	if dataModel == nil {
		dataModel = ir.Object{}
	}

	c := &Component{
		sys:       s,
		name:      name,
		dataModel: dataModel.Clone(),
		parent:    parent,
		handlers:  make(map[string]Handler),
		stop:      make(map[string]bool),
		records:   make(map[string]ir.Object),
		born:      make(map[string]uint64),
	}
	for _, child := range children {
		c.AddChild(child)
	}

	s.components[name] = c
	s.order = append(s.order, name)
	s.logger.Debug("component registered", "component", name, "parent", parent)
	return c, nil
}

// Component returns the named component.
func (s *System) Component(name string) (*Component, bool) {
	c, ok := s.components[name]
	return c, ok
}

// Components returns component names in registration order.
func (s *System) Components() []string {
	return slices.Clone(s.order)
}

// Descendants returns every component reachable through Children, breadth
// first, excluding name itself.
func (s *System) Descendants(name string) ([]string, error) {
	root, ok := s.components[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrComponentNotFound, name)
	}

	var out []string
	seen := map[string]bool{name: true}
	frontier := root.Children()
	for len(frontier) > 0 {
		var next []string
		for _, child := range frontier {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			if c, ok := s.components[child]; ok {
				next = append(next, c.Children()...)
			}
		}
		frontier = next
	}
	return out, nil
}

// Ancestors returns the parent chain of name, nearest first. A parent that
// is named but not registered ends the chain.
func (s *System) Ancestors(name string) ([]string, error) {
	c, ok := s.components[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrComponentNotFound, name)
	}

	var out []string
	seen := map[string]bool{name: true}
	for p := c.Parent(); p != "" && !seen[p]; {
		seen[p] = true
		out = append(out, p)
		pc, ok := s.components[p]
		if !ok {
			break
		}
		p = pc.Parent()
	}
	return out, nil
}

// Instance looks up an instance by reference.
func (s *System) Instance(ref ir.InstanceRef) (Instance, bool) {
	c, ok := s.components[ref.Component]
	if !ok {
		return Instance{}, false
	}
	return c.Instance(ref.ID)
}

// Link attaches child under parent. Both instances must exist and the link
// must not make child its own ancestor.
func (s *System) Link(child, parent ir.InstanceRef) error {
	if err := s.requireInstance(child); err != nil {
		return err
	}
	if err := s.requireInstance(parent); err != nil {
		return err
	}
	if s.rel.isAncestor(child, parent) {
		return fmt.Errorf("%w: %s under %s", ErrRelationCycle, child, parent)
	}
	s.rel.link(child, parent)
	return nil
}

// Unlink detaches child from its parent. It is a no-op for parentless instances.
func (s *System) Unlink(child ir.InstanceRef) error {
	if err := s.requireInstance(child); err != nil {
		return err
	}
	s.rel.unlink(child)
	return nil
}

// SetInstanceParent links two instances named by "component:id" ids.
func (s *System) SetInstanceParent(childID, parentID string) error {
	child, err := ir.ParseRef(childID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	parent, err := ir.ParseRef(parentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	return s.Link(child, parent)
}

func (s *System) requireInstance(ref ir.InstanceRef) error {
	c, ok := s.components[ref.Component]
	if !ok {
		return fmt.Errorf("%w: %q", ErrComponentNotFound, ref.Component)
	}
	if !c.HasInstance(ref.ID) {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, ref)
	}
	return nil
}

// view assembles an Instance from the record and the arena.
func (s *System) view(ref ir.InstanceRef, rec ir.Object) Instance {
	inst := Instance{
		Component: ref.Component,
		ID:        ref.ID,
		Data:      rec.Clone(),
	}

	for _, kid := range s.rel.childrenOf(ref) {
		inst.ChildIDs = append(inst.ChildIDs, kid.ID)
	}

	var cohort []ir.InstanceRef
	if p, ok := s.rel.parentOf(ref); ok {
		inst.ParentComponent = p.Component
		inst.ParentID = p.ID
		cohort = s.rel.childrenOf(p)
	} else {
		cohort = s.roots()
	}

	for i, member := range cohort {
		if member == ref {
			inst.SiblingIndex = i
			continue
		}
		inst.SiblingIDs = append(inst.SiblingIDs, member.ID)
	}
	return inst
}

// roots returns every parentless instance in the system, ordered by
// creation across components.
func (s *System) roots() []ir.InstanceRef {
	type root struct {
		ref  ir.InstanceRef
		born uint64
	}
	var all []root
	for _, name := range s.order {
		c := s.components[name]
		for _, id := range c.order {
			ref := ir.InstanceRef{Component: name, ID: id}
			if _, ok := s.rel.parentOf(ref); !ok {
				all = append(all, root{ref: ref, born: c.born[id]})
			}
		}
	}
	slices.SortFunc(all, func(a, b root) int {
		return cmp.Compare(a.born, b.born)
	})
	out := make([]ir.InstanceRef, len(all))
	for i, r := range all {
		out[i] = r.ref
	}
	return out
}

// QueueEvent appends an event for the instance to the back of the queue
// under a new flow and returns the flow token. Nothing runs until
// ProcessEvents is called.
func (s *System) QueueEvent(component, instanceID, event string, payload ir.Object) string {
	flow := s.flowGen.Generate()
	s.Enqueue(QueuedEvent{
		Target:    ir.InstanceRef{Component: component, ID: instanceID},
		Event:     event,
		Payload:   payload,
		FlowToken: flow,
	})
	return flow
}

// Enqueue appends a fully formed event. An empty FlowToken gets a new flow.
func (s *System) Enqueue(ev QueuedEvent) {
	if ev.FlowToken == "" {
		ev.FlowToken = s.flowGen.Generate()
	}
	ev.Payload = ev.Payload.Clone()
	if ev.Payload == nil {
		ev.Payload = ir.Object{}
	}
	s.queue.Enqueue(ev)
}

// QueueLen returns the number of pending events.
func (s *System) QueueLen() int {
	return s.queue.Len()
}

// Pending returns the pending events in dispatch order.
func (s *System) Pending() []QueuedEvent {
	return s.queue.Snapshot()
}

// DiscardPending drops every pending event and returns how many were dropped.
func (s *System) DiscardPending() int {
	return s.queue.Clear()
}
