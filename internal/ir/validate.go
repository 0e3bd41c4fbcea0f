package ir

import "fmt"

// ValidationError is one problem found in a declaration, addressed by field path.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a component declaration in isolation. All problems are
// returned, not just the first. Cross-component checks (send targets,
// parent names) live in the compiler.
func (c *ComponentSpec) Validate() []ValidationError {
	var errs []ValidationError

	if c.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "component name is required"})
	}
	if c.Parent != "" && c.Parent == c.Name {
		errs = append(errs, ValidationError{Field: "parent", Message: "component cannot be its own parent"})
	}
	for i, child := range c.Children {
		if child == c.Name {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("children[%d]", i),
				Message: "component cannot be its own child",
			})
		}
	}

	seenEvents := make(map[string]bool, len(c.Events))
	for i, e := range c.Events {
		if e == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("events[%d]", i), Message: "event name is empty"})
		}
		if seenEvents[e] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("events[%d]", i),
				Message: fmt.Sprintf("duplicate event name %q", e),
			})
		}
		seenEvents[e] = true
	}

	seenHandlers := make(map[string]bool, len(c.Handlers))
	for i, h := range c.Handlers {
		field := fmt.Sprintf("on.%s", h.Event)
		if h.Event == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("handlers[%d]", i), Message: "handler event name is empty"})
			continue
		}
		if seenHandlers[h.Event] {
			errs = append(errs, ValidationError{Field: field, Message: "more than one handler for event"})
		}
		seenHandlers[h.Event] = true

		if !c.Declares(h.Event) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("event %q is not in the component's declared events", h.Event),
			})
		}
		for j, s := range h.Send {
			if s.Event == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.send[%d].event", field, j),
					Message: "send entry needs an event name",
				})
			}
		}
	}

	for i, e := range c.StopPropagation {
		if !c.Declares(e) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("stop_propagation[%d]", i),
				Message: fmt.Sprintf("event %q is not in the component's declared events", e),
			})
		}
	}

	return errs
}
