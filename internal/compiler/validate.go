package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/cascade/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrInvalidComponent   = "E101" // declaration invalid on its own
	ErrDuplicateComponent = "E102" // two declarations share a name
	ErrUnknownParent      = "E103" // parent names no declared component
	ErrUnknownChild       = "E104" // child names no declared component
	ErrUnknownSendTarget  = "E105" // send addresses no declared component
	ErrUndeclaredEvent    = "E106" // send event outside the target's declared events
	ErrParentCycle        = "E107" // component parent chain loops
	ErrInvalidTemplate    = "E108" // template reference malformed
	ErrUnhandledEvent     = "E109" // declared event with no handler anywhere
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Component string `json:"component,omitempty"`
	Field     string `json:"field"`
	Message   string `json:"message"`
	Code      string `json:"code"`
}

func (e ValidationError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s] component.%s.%s: %s", e.Code, e.Component, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a set of component declarations. It runs each spec's own
// checks, then resolves parent, child and send references across the set.
// Every send event must be declared by its target when the target has a
// closed event set. All problems are returned.
func Validate(specs []ir.ComponentSpec) []ValidationError {
	var errs []ValidationError

	byName := make(map[string]*ir.ComponentSpec, len(specs))
	for i := range specs {
		spec := &specs[i]
		for _, e := range spec.Validate() {
			errs = append(errs, ValidationError{
				Component: spec.Name,
				Field:     e.Field,
				Message:   e.Message,
				Code:      ErrInvalidComponent,
			})
		}
		if _, dup := byName[spec.Name]; dup {
			errs = append(errs, ValidationError{
				Component: spec.Name,
				Field:     "name",
				Message:   fmt.Sprintf("component %q declared more than once", spec.Name),
				Code:      ErrDuplicateComponent,
			})
			continue
		}
		byName[spec.Name] = spec
	}

	for i := range specs {
		spec := &specs[i]
		if spec.Parent != "" {
			if _, ok := byName[spec.Parent]; !ok {
				errs = append(errs, ValidationError{
					Component: spec.Name,
					Field:     "parent",
					Message:   fmt.Sprintf("unknown component %q", spec.Parent),
					Code:      ErrUnknownParent,
				})
			}
		}
		for j, child := range spec.Children {
			if _, ok := byName[child]; !ok {
				errs = append(errs, ValidationError{
					Component: spec.Name,
					Field:     fmt.Sprintf("children[%d]", j),
					Message:   fmt.Sprintf("unknown component %q", child),
					Code:      ErrUnknownChild,
				})
			}
		}
		errs = append(errs, validateHandlers(spec, byName)...)
	}

	errs = append(errs, validateParentChains(specs, byName)...)
	return errs
}

func validateHandlers(spec *ir.ComponentSpec, byName map[string]*ir.ComponentSpec) []ValidationError {
	var errs []ValidationError
	for _, h := range spec.Handlers {
		field := "on." + h.Event

		for _, clause := range []struct {
			name string
			obj  ir.Object
		}{{"update", h.Update}, {"append", h.Append}, {"remove", h.Remove}} {
			errs = append(errs, validateTemplates(spec.Name, field+"."+clause.name, clause.obj)...)
		}

		for j, s := range h.Send {
			sendField := fmt.Sprintf("%s.send[%d]", field, j)
			errs = append(errs, validateTemplates(spec.Name, sendField+".data", s.Data)...)

			targetName := s.Component
			if targetName == "" {
				targetName = spec.Name
			}
			target, ok := byName[targetName]
			if !ok {
				errs = append(errs, ValidationError{
					Component: spec.Name,
					Field:     sendField + ".component",
					Message:   fmt.Sprintf("unknown component %q", targetName),
					Code:      ErrUnknownSendTarget,
				})
				continue
			}
			if !target.Declares(s.Event) {
				errs = append(errs, ValidationError{
					Component: spec.Name,
					Field:     sendField + ".event",
					Message:   fmt.Sprintf("%q is not a declared event of %q", s.Event, targetName),
					Code:      ErrUndeclaredEvent,
				})
			}
		}
	}

	if len(spec.Events) > 0 {
		handled := make(map[string]bool, len(spec.Handlers))
		for _, h := range spec.Handlers {
			handled[h.Event] = true
		}
		for i, e := range spec.Events {
			if !handled[e] {
				errs = append(errs, ValidationError{
					Component: spec.Name,
					Field:     fmt.Sprintf("events[%d]", i),
					Message:   fmt.Sprintf("declared event %q has no handler", e),
					Code:      ErrUnhandledEvent,
				})
			}
		}
	}
	return errs
}

// validateTemplates rejects "${...}" references that do not start with
// payload. or instance. .
func validateTemplates(component, field string, obj ir.Object) []ValidationError {
	var errs []ValidationError
	var walk func(path string, v ir.Value)
	walk = func(path string, v ir.Value) {
		switch val := v.(type) {
		case ir.String:
			s := string(val)
			stripped := templateRef.ReplaceAllString(s, "")
			if strings.Contains(stripped, "${") {
				errs = append(errs, ValidationError{
					Component: component,
					Field:     path,
					Message:   fmt.Sprintf("malformed template in %q, use ${payload.key}, ${instance.key} or ${instance.id}", s),
					Code:      ErrInvalidTemplate,
				})
			}
		case ir.Array:
			for i, elem := range val {
				walk(fmt.Sprintf("%s[%d]", path, i), elem)
			}
		case ir.Object:
			for _, k := range val.SortedKeys() {
				walk(path+"."+k, val[k])
			}
		}
	}
	if obj != nil {
		walk(field, obj)
	}
	return errs
}

// validateParentChains reports components whose parent chain loops back.
func validateParentChains(specs []ir.ComponentSpec, byName map[string]*ir.ComponentSpec) []ValidationError {
	var errs []ValidationError
	reported := make(map[string]bool)
	for _, spec := range specs {
		seen := map[string]bool{spec.Name: true}
		chain := []string{spec.Name}
		for p := spec.Parent; p != ""; {
			chain = append(chain, p)
			if seen[p] {
				if p == spec.Name && !reported[spec.Name] {
					for _, name := range chain[:len(chain)-1] {
						reported[name] = true
					}
					errs = append(errs, ValidationError{
						Component: spec.Name,
						Field:     "parent",
						Message:   "parent chain loops: " + strings.Join(chain, " -> "),
						Code:      ErrParentCycle,
					})
				}
				break
			}
			seen[p] = true
			next, ok := byName[p]
			if !ok {
				break
			}
			p = next.Parent
		}
	}
	return errs
}
