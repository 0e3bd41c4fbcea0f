package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/cascade/internal/engine"
)

var (
	_ engine.FlowTokenGenerator = (*FixedFlowGenerator)(nil)
	_ engine.FlowTokenGenerator = (*CountingFlowGenerator)(nil)
)

// FixedFlowGenerator returns the same token for every queued event, so all
// events of a run share one flow.
type FixedFlowGenerator struct {
	token string
}

// NewFixedFlowGenerator creates a fixed generator. An empty token becomes
// "test-flow".
func NewFixedFlowGenerator(token string) *FixedFlowGenerator {
	if token == "" {
		token = "test-flow"
	}
	return &FixedFlowGenerator{token: token}
}

// Generate returns the fixed token.
func (g *FixedFlowGenerator) Generate() string {
	return g.token
}

// CountingFlowGenerator hands out "<prefix>-1", "<prefix>-2", ... so every
// queued event starts its own flow while golden traces stay stable.
type CountingFlowGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewCountingFlowGenerator creates a counting generator. An empty prefix
// becomes "flow".
func NewCountingFlowGenerator(prefix string) *CountingFlowGenerator {
	if prefix == "" {
		prefix = "flow"
	}
	return &CountingFlowGenerator{prefix: prefix}
}

// Generate returns the next numbered token.
func (g *CountingFlowGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts numbering at 1.
func (g *CountingFlowGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
