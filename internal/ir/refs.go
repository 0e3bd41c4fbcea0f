package ir

import (
	"fmt"
	"strings"
)

// RefSeparator splits a qualified instance id into its component prefix and
// local part, e.g. "person:alice".
const RefSeparator = ":"

// InstanceRef names one instance. ID is the full identifier as stored in the
// component's instance store.
type InstanceRef struct {
	Component string `json:"component"`
	ID        string `json:"id"`
}

// String renders the ref as component/id for diagnostics.
func (r InstanceRef) String() string {
	return r.Component + "/" + r.ID
}

// QualifiedID builds a prefixed identifier: QualifiedID("person", "alice") = "person:alice".
func QualifiedID(component, local string) string {
	return component + RefSeparator + local
}

// ParseRef derives the owning component from a qualified id. The returned
// ref keeps the whole id, prefix included, as its ID.
func ParseRef(id string) (InstanceRef, error) {
	component, local, ok := strings.Cut(id, RefSeparator)
	if !ok || component == "" || local == "" {
		return InstanceRef{}, fmt.Errorf("instance id %q is not of the form component%slocal", id, RefSeparator)
	}
	return InstanceRef{Component: component, ID: id}, nil
}
