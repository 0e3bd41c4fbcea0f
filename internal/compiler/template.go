package compiler

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
)

// templateRef matches "${payload.a.b}", "${instance.k}" and "${instance.id}".
var templateRef = regexp.MustCompile(`\$\{(payload|instance)((?:\.[A-Za-z_][A-Za-z0-9_]*)+)\}`)

// Scope is what a template can reference while a handler runs.
type Scope struct {
	Payload    ir.Object
	Instance   ir.Object
	InstanceID string
}

// lookup resolves a root ("payload" or "instance") and a dotted path.
// Missing keys resolve to Null.
func (s Scope) lookup(root, path string) ir.Value {
	keys := strings.Split(strings.TrimPrefix(path, "."), ".")

	var cur ir.Value
	switch root {
	case "payload":
		cur = s.Payload
	case "instance":
		if len(keys) == 1 && keys[0] == "id" {
			if _, shadowed := s.Instance["id"]; !shadowed {
				return ir.String(s.InstanceID)
			}
		}
		cur = s.Instance
	}

	for _, k := range keys {
		obj, ok := cur.(ir.Object)
		if !ok {
			return ir.Null{}
		}
		next, ok := obj[k]
		if !ok {
			return ir.Null{}
		}
		cur = next
	}
	if cur == nil {
		return ir.Null{}
	}
	return ir.CloneValue(cur)
}

// Render substitutes templates in v. A string that is exactly one template
// is replaced by the referenced value whole; templates embedded in longer
// strings are interpolated as text.
func Render(v ir.Value, scope Scope) ir.Value {
	switch val := v.(type) {
	case ir.String:
		s := string(val)
		if m := templateRef.FindStringSubmatchIndex(s); m != nil && m[0] == 0 && m[1] == len(s) {
			return scope.lookup(s[m[2]:m[3]], s[m[4]:m[5]])
		}
		if !templateRef.MatchString(s) {
			return val
		}
		return ir.String(templateRef.ReplaceAllStringFunc(s, func(ref string) string {
			sub := templateRef.FindStringSubmatch(ref)
			return textOf(scope.lookup(sub[1], sub[2]))
		}))
	case ir.Array:
		out := make(ir.Array, len(val))
		for i, elem := range val {
			out[i] = Render(elem, scope)
		}
		return out
	case ir.Object:
		out := make(ir.Object, len(val))
		for k, elem := range val {
			out[k] = Render(elem, scope)
		}
		return out
	default:
		return v
	}
}

func textOf(v ir.Value) string {
	switch val := v.(type) {
	case ir.String:
		return string(val)
	case ir.Int:
		return fmt.Sprintf("%d", int64(val))
	case ir.Bool:
		return fmt.Sprintf("%t", bool(val))
	case ir.Null:
		return ""
	default:
		b, err := ir.MarshalValue(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// TemplateRefs lists the "root.path" references used anywhere in v.
func TemplateRefs(v ir.Value) []string {
	var refs []string
	var walk func(ir.Value)
	walk = func(v ir.Value) {
		switch val := v.(type) {
		case ir.String:
			for _, m := range templateRef.FindAllStringSubmatch(string(val), -1) {
				refs = append(refs, m[1]+m[2])
			}
		case ir.Array:
			for _, elem := range val {
				walk(elem)
			}
		case ir.Object:
			for _, k := range val.SortedKeys() {
				walk(val[k])
			}
		}
	}
	walk(v)
	return refs
}

// NewHandler builds an engine.Handler from a declarative HandlerSpec.
//
// Clauses apply in order update, append, remove; each sees the record as
// left by the clauses before it. A send clause that is absent leaves Send
// nil so the event may propagate to the parent instance.
func NewHandler(spec ir.HandlerSpec) engine.Handler {
	return func(_ context.Context, call engine.Call) (engine.Result, error) {
		current := call.Data()
		scope := Scope{Payload: call.Payload, Instance: current, InstanceID: call.InstanceID}

		update := ir.Object{}
		working := current.Clone()
		if working == nil {
			working = ir.Object{}
		}

		for _, k := range spec.Update.SortedKeys() {
			v := Render(spec.Update[k], scope)
			update[k] = v
			working[k] = v
		}
		for _, k := range spec.Append.SortedKeys() {
			arr, err := arrayField(working, k)
			if err != nil {
				return engine.Result{}, fmt.Errorf("append: %w", err)
			}
			arr = append(arr, items(Render(spec.Append[k], scope))...)
			update[k] = arr
			working[k] = arr
		}
		for _, k := range spec.Remove.SortedKeys() {
			arr, err := arrayField(working, k)
			if err != nil {
				return engine.Result{}, fmt.Errorf("remove: %w", err)
			}
			arr = without(arr, items(Render(spec.Remove[k], scope)))
			update[k] = arr
			working[k] = arr
		}

		var res engine.Result
		if len(update) > 0 {
			res.Update = update
		}
		if spec.Send != nil {
			res.Send = engine.NoSend()
			for _, s := range spec.Send {
				data, _ := Render(s.Data, scope).(ir.Object)
				if s.Data == nil {
					data = nil
				}
				res.Send = append(res.Send, engine.Send{
					Component: s.Component,
					Event:     s.Event,
					Data:      data,
				})
			}
		}
		return res, nil
	}
}

// arrayField returns a copy of the array at key. A missing or null field is
// an empty array.
func arrayField(rec ir.Object, key string) (ir.Array, error) {
	switch v := rec[key].(type) {
	case nil, ir.Null:
		return ir.Array{}, nil
	case ir.Array:
		return append(ir.Array{}, v...), nil
	default:
		return nil, fmt.Errorf("field %q is %T, not an array", key, v)
	}
}

// items spreads an array into its elements; any other value is one item.
func items(v ir.Value) ir.Array {
	switch val := v.(type) {
	case ir.Array:
		return val
	case ir.Null:
		return nil
	default:
		return ir.Array{val}
	}
}

func without(list, remove ir.Array) ir.Array {
	out := ir.Array{}
	for _, item := range list {
		drop := false
		for _, r := range remove {
			if ir.Equal(item, r) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, item)
		}
	}
	return out
}
