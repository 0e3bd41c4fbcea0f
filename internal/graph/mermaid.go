package graph

import (
	"fmt"
	"strings"

	"github.com/roach88/cascade/internal/engine"
)

// Overlay marks handler nodes that actually ran in a trace.
type Overlay struct {
	Visited []HandlerNode
	Failed  []HandlerNode
}

// OverlayFromTrace builds an Overlay from recorded dispatches.
func OverlayFromTrace(records []engine.TraceRecord) *Overlay {
	o := &Overlay{}
	for _, rec := range records {
		node := HandlerNode{Component: rec.Target.Component, Event: rec.Event}
		switch rec.Outcome {
		case engine.OutcomeHandled, engine.OutcomeMissingInstance:
			o.Visited = append(o.Visited, node)
		case engine.OutcomeFailed:
			o.Failed = append(o.Failed, node)
		}
	}
	return o
}

// Mermaid renders g as a Mermaid flowchart. Each component is a subgraph of
// its handlers; send edges are solid, propagation edges dotted. Instances
// are drawn as rounded nodes linked to their parent instance.
func Mermaid(g Graph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, c := range g.Components {
		fmt.Fprintf(&sb, "    subgraph %s[\"%s\"]\n", sanitizeMermaidID(c.Name), c.Name)
		for _, h := range c.Handlers {
			fmt.Fprintf(&sb, "        %s[\"%s\"]\n", sanitizeMermaidID(h.ID()), h.Event)
		}
		fmt.Fprintf(&sb, "    end\n")
	}

	for _, e := range g.Edges {
		from := sanitizeMermaidID(e.From.ID())
		to := sanitizeMermaidID(e.To.ID())
		if e.Dangling {
			fmt.Fprintf(&sb, "    %s{{\"%s ?\"}}\n", to, e.To.ID())
		}
		switch e.Kind {
		case EdgePropagate:
			fmt.Fprintf(&sb, "    %s -. propagates .-> %s\n", from, to)
		default:
			fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
		}
	}

	if len(g.Instances) > 0 {
		sb.WriteString("\n    %% Instances\n")
		for _, in := range g.Instances {
			id := "inst_" + sanitizeMermaidID(in.Ref.Component+"_"+in.Ref.ID)
			fmt.Fprintf(&sb, "    %s(\"%s\")\n", id, in.Ref.String())
			if in.Parent != nil {
				parent := "inst_" + sanitizeMermaidID(in.Parent.Component+"_"+in.Parent.ID)
				fmt.Fprintf(&sb, "    %s --- %s\n", id, parent)
			}
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffcdd2,stroke:#b71c1c,stroke-width:3px,color:#000;\n")
		writeClass(&sb, overlay.Visited, "visited")
		writeClass(&sb, overlay.Failed, "failed")
	}

	return sb.String()
}

func writeClass(sb *strings.Builder, nodes []HandlerNode, class string) {
	seen := make(map[string]bool)
	for _, n := range nodes {
		id := sanitizeMermaidID(n.ID())
		if seen[id] {
			continue
		}
		seen[id] = true
		fmt.Fprintf(sb, "    class %s %s;\n", id, class)
	}
}

func sanitizeMermaidID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", ":", "_", " ", "_")
	return r.Replace(id)
}
