package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/cascade/internal/ir"
)

// LoadDir builds the CUE package in dir and compiles every declaration
// under the top-level component: field, in declaration order.
func LoadDir(dir string) ([]ir.ComponentSpec, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", err)
	}

	value := cuecontext.New().BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileAll(value)
}

// CompileString compiles CUE source text. Used by tests and by callers
// that embed declarations.
func CompileString(src string) ([]ir.ComponentSpec, error) {
	value := cuecontext.New().CompileString(src)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileAll(value)
}

// CompileAll compiles every field of value's component: struct.
func CompileAll(value cue.Value) ([]ir.ComponentSpec, error) {
	componentsVal := value.LookupPath(cue.ParsePath("component"))
	if !componentsVal.Exists() {
		return nil, nil
	}

	iter, err := componentsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []ir.ComponentSpec
	for iter.Next() {
		spec, err := CompileComponent(iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}
	return specs, nil
}
