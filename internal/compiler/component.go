package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/cascade/internal/ir"
)

// CompileComponent parses a CUE value into a ComponentSpec.
//
// The value should be the component struct itself:
//
//	v := cuecontext.New().CompileString(`component: person: { data: {} }`)
//	spec, err := CompileComponent(v.LookupPath(cue.ParsePath("component.person")))
func CompileComponent(v cue.Value) (*ir.ComponentSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ComponentSpec{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	var err error
	if spec.Parent, err = optionalString(v, "parent"); err != nil {
		return nil, err
	}
	if spec.Children, err = optionalStrings(v, "children"); err != nil {
		return nil, err
	}
	if spec.Events, err = optionalStrings(v, "events"); err != nil {
		return nil, err
	}
	if spec.StopPropagation, err = optionalStrings(v, "stop_propagation"); err != nil {
		return nil, err
	}

	spec.Data = ir.Object{}
	dataVal := v.LookupPath(cue.ParsePath("data"))
	if dataVal.Exists() {
		data, err := objectFromCUE(dataVal, "data")
		if err != nil {
			return nil, err
		}
		spec.Data = data
	}

	spec.Handlers, err = parseHandlers(v)
	if err != nil {
		return nil, err
	}

	return spec, nil
}

// parseHandlers reads the on: block in declaration order.
func parseHandlers(v cue.Value) ([]ir.HandlerSpec, error) {
	onVal := v.LookupPath(cue.ParsePath("on"))
	if !onVal.Exists() {
		return nil, nil
	}

	iter, err := onVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var handlers []ir.HandlerSpec
	for iter.Next() {
		event := iter.Label()
		hv := iter.Value()
		field := "on." + event

		h := ir.HandlerSpec{Event: event}
		for _, clause := range []struct {
			name string
			dst  *ir.Object
		}{
			{"update", &h.Update},
			{"append", &h.Append},
			{"remove", &h.Remove},
		} {
			cv := hv.LookupPath(cue.ParsePath(clause.name))
			if !cv.Exists() {
				continue
			}
			obj, err := objectFromCUE(cv, field+"."+clause.name)
			if err != nil {
				return nil, err
			}
			*clause.dst = obj
		}

		sendVal := hv.LookupPath(cue.ParsePath("send"))
		if sendVal.Exists() {
			sends, err := parseSends(sendVal, field+".send")
			if err != nil {
				return nil, err
			}
			h.Send = sends
		}

		handlers = append(handlers, h)
	}
	return handlers, nil
}

func parseSends(v cue.Value, field string) ([]ir.SendSpec, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "send must be a list", Pos: v.Pos()}
	}

	sends := []ir.SendSpec{}
	for i := 0; iter.Next(); i++ {
		sv := iter.Value()
		path := fmt.Sprintf("%s[%d]", field, i)

		var send ir.SendSpec
		if send.Component, err = optionalString(sv, "component"); err != nil {
			return nil, err
		}
		event, err := optionalString(sv, "event")
		if err != nil {
			return nil, err
		}
		if event == "" {
			return nil, &CompileError{Field: path + ".event", Message: "event is required", Pos: sv.Pos()}
		}
		send.Event = event

		dataVal := sv.LookupPath(cue.ParsePath("data"))
		if dataVal.Exists() {
			if send.Data, err = objectFromCUE(dataVal, path+".data"); err != nil {
				return nil, err
			}
		}
		sends = append(sends, send)
	}
	return sends, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: "must be a string", Pos: fv.Pos()}
	}
	return s, nil
}

func optionalStrings(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of strings", Pos: fv.Pos()}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "must be a list of strings", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

func objectFromCUE(v cue.Value, field string) (ir.Object, error) {
	val, err := valueFromCUE(v, field)
	if err != nil {
		return nil, err
	}
	obj, ok := val.(ir.Object)
	if !ok {
		return nil, &CompileError{Field: field, Message: "must be a struct", Pos: v.Pos()}
	}
	return obj, nil
}

// valueFromCUE converts a concrete CUE value. Floats are rejected so that
// instance data always hashes deterministically.
func valueFromCUE(v cue.Value, field string) (ir.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, &CompileError{Field: field, Message: fmt.Sprintf("integer out of range: %v", err), Pos: v.Pos()}
		}
		return ir.Int(n), nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{Field: field, Message: "floats are not allowed in component data, use int", Pos: v.Pos()}
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.Array{}
		for i := 0; iter.Next(); i++ {
			elem, err := valueFromCUE(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.Object{}
		for iter.Next() {
			elem, err := valueFromCUE(iter.Value(), field+"."+iter.Label())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("value must be concrete, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError is a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
