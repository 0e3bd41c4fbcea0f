package engine

import (
	"fmt"
	"sync"

	"github.com/roach88/cascade/internal/ir"
)

// ValidationContext remembers every instance id ever created under it, so
// an id cannot be reused even after ClearInstances.
type ValidationContext struct {
	mu   sync.Mutex
	used map[ir.InstanceRef]bool
}

// NewValidationContext creates an empty context.
func NewValidationContext() *ValidationContext {
	return &ValidationContext{used: make(map[ir.InstanceRef]bool)}
}

// Claim reserves ref, failing with ErrDuplicateID if it was claimed before.
func (v *ValidationContext) Claim(ref ir.InstanceRef) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.used[ref] {
		return fmt.Errorf("%w: %s", ErrDuplicateID, ref)
	}
	v.used[ref] = true
	return nil
}

// Used reports whether ref has been claimed.
func (v *ValidationContext) Used(ref ir.InstanceRef) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.used[ref]
}

// Reset forgets every claimed id.
func (v *ValidationContext) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.used)
}
