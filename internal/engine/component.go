package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/cascade/internal/ir"
)

// Component is a named kind of entity: a data model, an instance store and
// a table of event handlers. Components are created through System and
// share its relationship arena and queue.
type Component struct {
	sys       *System
	name      string
	dataModel ir.Object
	parent    string
	children  []string

	handlers     map[string]Handler
	handlerOrder []string
	stop         map[string]bool

	records map[string]ir.Object
	order   []string
	born    map[string]uint64
}

// Instance is a read-only view of one instance. Relationship fields are
// derived from the System's arena at the time of the read.
type Instance struct {
	Component string
	ID        string
	Data      ir.Object

	// ParentComponent and ParentID are empty when the instance has no parent.
	ParentComponent string
	ParentID        string

	ChildIDs   []string
	SiblingIDs []string

	// SiblingIndex is the instance's position within its sibling cohort.
	SiblingIndex int
}

// Ref returns the instance's reference.
func (i Instance) Ref() ir.InstanceRef {
	return ir.InstanceRef{Component: i.Component, ID: i.ID}
}

// InstanceOption configures CreateInstance.
type InstanceOption func(*instanceConfig)

type instanceConfig struct {
	parentID        string
	parentComponent string
}

// WithParent links the new instance under parentID. The parent component is
// the declared parent component, or the prefix of a "component:id" id.
func WithParent(parentID string) InstanceOption {
	return func(c *instanceConfig) {
		c.parentID = parentID
	}
}

// WithParentRef links the new instance under an explicit parent reference.
func WithParentRef(ref ir.InstanceRef) InstanceOption {
	return func(c *instanceConfig) {
		c.parentComponent = ref.Component
		c.parentID = ref.ID
	}
}

// Name returns the component name.
func (c *Component) Name() string {
	return c.name
}

// DataModel returns a copy of the default record.
func (c *Component) DataModel() ir.Object {
	return c.dataModel.Clone()
}

// Parent returns the parent component name. An explicitly set parent wins;
// otherwise a component listing this one among its children is the parent.
func (c *Component) Parent() string {
	if c.parent != "" {
		return c.parent
	}
	for _, name := range c.sys.order {
		other := c.sys.components[name]
		if other != c && slices.Contains(other.children, c.name) {
			return other.name
		}
	}
	return ""
}

// SetParent declares the parent component.
func (c *Component) SetParent(name string) {
	c.parent = name
}

// Children returns explicitly declared children followed by components that
// name this one as their parent, in registration order.
func (c *Component) Children() []string {
	out := slices.Clone(c.children)
	for _, name := range c.sys.order {
		other := c.sys.components[name]
		if other.parent == c.name && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// AddChild declares name as a child component.
func (c *Component) AddChild(name string) {
	if !slices.Contains(c.children, name) {
		c.children = append(c.children, name)
	}
}

// On registers the handler for event, replacing any previous one.
func (c *Component) On(event string, h Handler) *Component {
	if _, ok := c.handlers[event]; !ok {
		c.handlerOrder = append(c.handlerOrder, event)
	}
	c.handlers[event] = h
	return c
}

// EventHandler returns the handler registered for event.
func (c *Component) EventHandler(event string) (Handler, bool) {
	h, ok := c.handlers[event]
	return h, ok
}

// RegisteredEventNames returns handled event names in registration order.
func (c *Component) RegisteredEventNames() []string {
	return slices.Clone(c.handlerOrder)
}

// StopPropagation marks events that never bubble from this component's
// instances to their parent instance.
func (c *Component) StopPropagation(events ...string) *Component {
	for _, e := range events {
		c.stop[e] = true
	}
	return c
}

// Propagates reports whether event may bubble to the parent instance.
func (c *Component) Propagates(event string) bool {
	return !c.stop[event]
}

// CreateInstance creates an instance whose record is the data model with
// data shallow-merged over it. Ids must be unique within the component.
func (c *Component) CreateInstance(id string, data ir.Object, opts ...InstanceOption) (Instance, error) {
	if id == "" {
		return Instance{}, fmt.Errorf("%w: empty id for component %q", ErrInvalidInstanceID, c.name)
	}
	if _, exists := c.records[id]; exists {
		return Instance{}, fmt.Errorf("%w: %s", ErrDuplicateInstance, ir.InstanceRef{Component: c.name, ID: id})
	}

	var cfg instanceConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ref := ir.InstanceRef{Component: c.name, ID: id}

	var parent ir.InstanceRef
	if cfg.parentID != "" {
		var err error
		parent, err = c.resolveParent(cfg.parentComponent, cfg.parentID)
		if err != nil {
			return Instance{}, err
		}
		if err := c.sys.requireInstance(parent); err != nil {
			return Instance{}, err
		}
	}

	if v := c.sys.validation; v != nil {
		if err := v.Claim(ref); err != nil {
			return Instance{}, err
		}
	}

	c.records[id] = c.dataModel.Clone().Merge(data.Clone())
	c.order = append(c.order, id)
	c.sys.born++
	c.born[id] = c.sys.born

	if cfg.parentID != "" {
		c.sys.rel.link(ref, parent)
	}

	c.sys.logger.Debug("instance created", "component", c.name, "id", id)

	inst, _ := c.Instance(id)
	return inst, nil
}

// CreateInstanceInOrder creates an instance only if no component listed
// after this one in order already has instances, and the declared parent
// component, when it is listed earlier, already has at least one.
func (c *Component) CreateInstanceInOrder(id string, data ir.Object, order []string, opts ...InstanceOption) (Instance, error) {
	idx := slices.Index(order, c.name)
	if idx < 0 {
		return Instance{}, fmt.Errorf("%w: component %q is not in creation order %v", ErrCreationOrder, c.name, order)
	}
	if p := c.Parent(); p != "" && slices.Contains(order[:idx], p) {
		if pc, ok := c.sys.components[p]; !ok || pc.InstanceCount() == 0 {
			return Instance{}, fmt.Errorf("%w: cannot create %s instance %q before any %s instance exists",
				ErrCreationOrder, c.name, id, p)
		}
	}
	for _, later := range order[idx+1:] {
		other, ok := c.sys.components[later]
		if !ok {
			continue
		}
		if n := other.InstanceCount(); n > 0 {
			return Instance{}, fmt.Errorf("%w: cannot create %s instance %q after %d %s instance(s) exist",
				ErrCreationOrder, c.name, id, n, later)
		}
	}
	return c.CreateInstance(id, data, opts...)
}

// Instance returns a view of the instance, or false if it does not exist.
func (c *Component) Instance(id string) (Instance, bool) {
	rec, ok := c.records[id]
	if !ok {
		return Instance{}, false
	}
	return c.sys.view(ir.InstanceRef{Component: c.name, ID: id}, rec), true
}

// HasInstance reports whether id exists in the store.
func (c *Component) HasInstance(id string) bool {
	_, ok := c.records[id]
	return ok
}

// Instances returns every instance in creation order.
func (c *Component) Instances() []Instance {
	out := make([]Instance, 0, len(c.order))
	for _, id := range c.order {
		inst, _ := c.Instance(id)
		out = append(out, inst)
	}
	return out
}

// InstanceIDs returns instance ids in creation order.
func (c *Component) InstanceIDs() []string {
	return slices.Clone(c.order)
}

// InstanceCount returns the number of live instances.
func (c *Component) InstanceCount() int {
	return len(c.order)
}

// UpdateInstance shallow-merges partial into the stored record.
func (c *Component) UpdateInstance(id string, partial ir.Object) error {
	rec, ok := c.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, ir.InstanceRef{Component: c.name, ID: id})
	}
	c.records[id] = rec.Merge(partial.Clone())
	return nil
}

// ClearInstances removes every instance and its relationship links.
// Child instances in other components lose their parent.
func (c *Component) ClearInstances() {
	for _, id := range c.order {
		c.sys.rel.forget(ir.InstanceRef{Component: c.name, ID: id})
	}
	c.records = make(map[string]ir.Object)
	c.order = nil
	c.born = make(map[string]uint64)
}

// SetInstanceParent links childID of this component under parentID.
// The parent component is resolved as for WithParent.
func (c *Component) SetInstanceParent(childID, parentID string) error {
	parent, err := c.resolveParent("", parentID)
	if err != nil {
		return err
	}
	return c.sys.Link(ir.InstanceRef{Component: c.name, ID: childID}, parent)
}

func (c *Component) resolveParent(component, id string) (ir.InstanceRef, error) {
	if component != "" {
		return ir.InstanceRef{Component: component, ID: id}, nil
	}
	if p := c.Parent(); p != "" {
		return ir.InstanceRef{Component: p, ID: id}, nil
	}
	ref, err := ir.ParseRef(id)
	if err != nil {
		return ir.InstanceRef{}, fmt.Errorf("%w: component %q declares no parent and %v", ErrInvalidRef, c.name, err)
	}
	return ref, nil
}
