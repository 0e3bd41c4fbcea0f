package compiler

import (
	"fmt"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
)

// Install registers every spec as a component of sys and attaches a
// template handler per declared handler. Specs should be validated first.
func Install(sys *engine.System, specs []ir.ComponentSpec) error {
	for _, spec := range specs {
		c, err := sys.CreateComponentWithChildren(spec.Name, spec.Data, spec.Parent, spec.Children)
		if err != nil {
			return fmt.Errorf("install %q: %w", spec.Name, err)
		}
		for _, h := range spec.Handlers {
			c.On(h.Event, NewHandler(h))
		}
		c.StopPropagation(spec.StopPropagation...)
	}
	return nil
}
