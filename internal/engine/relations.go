package engine

import (
	"slices"

	"github.com/roach88/cascade/internal/ir"
)

// relations is the single source of truth for instance parent/child links.
// Child lists keep attach order, which is also sibling order.
type relations struct {
	parent   map[ir.InstanceRef]ir.InstanceRef
	children map[ir.InstanceRef][]ir.InstanceRef
}

func newRelations() *relations {
	return &relations{
		parent:   make(map[ir.InstanceRef]ir.InstanceRef),
		children: make(map[ir.InstanceRef][]ir.InstanceRef),
	}
}

// link attaches child under parent, detaching it from any previous parent.
// Re-linking to the current parent keeps the existing position.
func (r *relations) link(child, parent ir.InstanceRef) {
	if prev, ok := r.parent[child]; ok {
		if prev == parent {
			return
		}
		r.detach(child, prev)
	}
	r.parent[child] = parent
	r.children[parent] = append(r.children[parent], child)
}

// unlink detaches child from its parent, if any.
func (r *relations) unlink(child ir.InstanceRef) {
	if prev, ok := r.parent[child]; ok {
		r.detach(child, prev)
		delete(r.parent, child)
	}
}

func (r *relations) detach(child, parent ir.InstanceRef) {
	kids := r.children[parent]
	if i := slices.Index(kids, child); i >= 0 {
		kids = slices.Delete(kids, i, i+1)
	}
	if len(kids) == 0 {
		delete(r.children, parent)
	} else {
		r.children[parent] = kids
	}
}

// forget removes node from the arena. Its children become parentless.
func (r *relations) forget(node ir.InstanceRef) {
	r.unlink(node)
	for _, kid := range r.children[node] {
		delete(r.parent, kid)
	}
	delete(r.children, node)
}

func (r *relations) parentOf(node ir.InstanceRef) (ir.InstanceRef, bool) {
	p, ok := r.parent[node]
	return p, ok
}

func (r *relations) childrenOf(node ir.InstanceRef) []ir.InstanceRef {
	return slices.Clone(r.children[node])
}

// isAncestor reports whether candidate is node or one of its ancestors.
func (r *relations) isAncestor(candidate, node ir.InstanceRef) bool {
	seen := make(map[ir.InstanceRef]bool)
	for cur, ok := node, true; ok; cur, ok = r.parent[cur] {
		if cur == candidate {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
	}
	return false
}
