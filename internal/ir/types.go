package ir

// ComponentSpec is a compiled component declaration.
type ComponentSpec struct {
	Name     string   `json:"name"`
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children,omitempty"`

	// Data is the default record merged under every new instance.
	Data Object `json:"data"`

	// Events is the closed set of event names this component accepts.
	// Empty means the set is open.
	Events []string `json:"events,omitempty"`

	// StopPropagation lists events that never bubble to the parent instance.
	StopPropagation []string `json:"stop_propagation,omitempty"`

	// Handlers in declaration order.
	Handlers []HandlerSpec `json:"handlers"`
}

// HandlerSpec is a declarative event handler. String values of the form
// "${payload.key}", "${instance.key}" or "${instance.id}" are substituted
// with the referenced value when the handler runs.
type HandlerSpec struct {
	Event string `json:"event"`

	// Update keys are shallow-merged into the instance record.
	Update Object `json:"update,omitempty"`

	// Append adds elements to array fields; Remove deletes matching elements.
	// Clauses apply in order update, append, remove.
	Append Object `json:"append,omitempty"`
	Remove Object `json:"remove,omitempty"`

	// Send is nil when the declaration has no send clause, and a non-nil
	// empty slice for an explicit "send: []" which suppresses propagation.
	Send []SendSpec `json:"send,omitempty"`
}

// SendSpec is one outbound event template.
type SendSpec struct {
	Component string `json:"component,omitempty"`
	Event     string `json:"event"`
	Data      Object `json:"data,omitempty"`
}

// Declares reports whether the component accepts the named event.
func (c ComponentSpec) Declares(event string) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, e := range c.Events {
		if e == event {
			return true
		}
	}
	return false
}
