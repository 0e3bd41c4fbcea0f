package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cascade/internal/ir"
)

// CycleWarning describes a set of handlers that can keep triggering each
// other. The dispatcher drains until the queue is empty, so such a cascade
// only stops if handler data ends it; otherwise it needs WithMaxSteps.
//
// Cycles are warnings, not errors: a ping-pong guarded by instance state is
// legitimate.
type CycleWarning struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// AnalyzeCycles builds the handler graph ("component.EVENT" nodes, edges
// for every send and for default propagation to the parent component) and
// reports each strongly connected component that forms a loop.
func AnalyzeCycles(specs []ir.ComponentSpec) []CycleWarning {
	graph := buildEventGraph(specs)
	if len(graph) == 0 {
		return []CycleWarning{}
	}

	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// eventGraph maps a handler node to the handler nodes it can trigger.
type eventGraph map[string][]string

func handlerNode(component, event string) string {
	return component + "." + event
}

func buildEventGraph(specs []ir.ComponentSpec) eventGraph {
	graph := make(eventGraph)

	handles := make(map[string]bool)
	parents := make(map[string]string)
	for _, spec := range specs {
		parents[spec.Name] = spec.Parent
		for _, h := range spec.Handlers {
			handles[handlerNode(spec.Name, h.Event)] = true
		}
	}

	for _, spec := range specs {
		for _, h := range spec.Handlers {
			from := handlerNode(spec.Name, h.Event)
			if graph[from] == nil {
				graph[from] = []string{}
			}

			for _, s := range h.Send {
				target := s.Component
				if target == "" {
					target = spec.Name
				}
				to := handlerNode(target, s.Event)
				if handles[to] && !slices.Contains(graph[from], to) {
					graph[from] = append(graph[from], to)
				}
			}

			if h.Send == nil && !slices.Contains(spec.StopPropagation, h.Event) {
				if p := parents[spec.Name]; p != "" {
					to := handlerNode(p, h.Event)
					if handles[to] && !slices.Contains(graph[from], to) {
						graph[from] = append(graph[from], to)
					}
				}
			}
		}
	}
	return graph
}

func hasSelfLoop(node string, graph eventGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so output is deterministic.
func tarjanSCC(graph eventGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleSCCToWarning(scc []string, graph eventGraph) CycleWarning {
	if len(scc) == 1 {
		node := scc[0]
		return CycleWarning{
			Path:    []string{node, node},
			Message: fmt.Sprintf("Self-triggering handler detected: %s → %s", node, node),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential event cycle detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath walks edges inside the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph eventGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
