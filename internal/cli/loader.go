package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/token"

	"github.com/roach88/cascade/internal/compiler"
	"github.com/roach88/cascade/internal/ir"
)

// LoadResult holds the component declarations compiled from a directory.
type LoadResult struct {
	Components []ir.ComponentSpec
	FileCount  int
}

// Handlers counts the handlers across all components.
func (r *LoadResult) Handlers() int {
	n := 0
	for _, c := range r.Components {
		n += len(c.Handlers)
	}
	return n
}

// LoadError is a load failure with a CLI error code and, when the CUE
// toolchain reported one, a source position.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants shared by all commands. Declaration validation
// codes (E101-E109) come from the compiler package.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load or compile failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeNoComponent = "E006" // Package declares no components
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeInvalid     = "E008" // Declarations failed validation
)

// LoadSpecs compiles the CUE package in dir. Validation is left to the
// caller so validate can report every problem at once.
func LoadSpecs(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	specs, err := compiler.LoadDir(dir)
	if err != nil {
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("%s: %s", ce.Field, ce.Message), Pos: ce.Pos}
		}
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
	}
	if len(specs) == 0 {
		return nil, &LoadError{Code: ErrCodeNoComponent, Message: fmt.Sprintf("no components declared in %s", dir)}
	}

	return &LoadResult{Components: specs, FileCount: len(files)}, nil
}

// LoadValidSpecs is LoadSpecs followed by compiler.Validate. Any
// validation problem fails the load.
func LoadValidSpecs(dir string) (*LoadResult, error) {
	result, err := LoadSpecs(dir)
	if err != nil {
		return nil, err
	}
	if verrs := compiler.Validate(result.Components); len(verrs) > 0 {
		return nil, &LoadError{
			Code:    ErrCodeInvalid,
			Message: fmt.Sprintf("%d validation error(s), first: %v", len(verrs), verrs[0]),
		}
	}
	return result, nil
}

// FindCUEFiles lists the .cue files directly in dir. The CUE loader only
// builds the package in dir itself, so subdirectories are not searched.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// loadErrorCode returns the code of a LoadError, or ErrCodeGeneric.
func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}
