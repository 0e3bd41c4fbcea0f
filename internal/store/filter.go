package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/cascade/internal/engine"
)

// Filter selects journal rows. Zero fields match everything; set fields are
// ANDed together.
type Filter struct {
	FlowToken  string
	Component  string
	InstanceID string
	Event      string
	Outcome    engine.Outcome
	Propagated *bool

	// Seq range, inclusive. Zero leaves the bound open.
	FromSeq int64
	ToSeq   int64
}

// predicate is one parameterized condition of a WHERE clause.
type predicate struct {
	sql   string
	param any
}

func (f Filter) predicates() []predicate {
	var preds []predicate
	eq := func(column string, v string) {
		if v != "" {
			preds = append(preds, predicate{column + " = ?", v})
		}
	}
	eq("flow_token", f.FlowToken)
	eq("component", f.Component)
	eq("instance_id", f.InstanceID)
	eq("event", f.Event)
	eq("outcome", string(f.Outcome))
	if f.Propagated != nil {
		preds = append(preds, predicate{"propagated = ?", *f.Propagated})
	}
	if f.FromSeq > 0 {
		preds = append(preds, predicate{"seq >= ?", f.FromSeq})
	}
	if f.ToSeq > 0 {
		preds = append(preds, predicate{"seq <= ?", f.ToSeq})
	}
	return preds
}

// Compile renders the filter as a SELECT over dispatches. Values are always
// bound as parameters and every query is ordered by seq then id.
func (f Filter) Compile() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT " + dispatchColumns + " FROM dispatches")

	preds := f.predicates()
	params := make([]any, 0, len(preds))
	for i, p := range preds {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(p.sql)
		params = append(params, p.param)
	}

	sb.WriteString(" ORDER BY seq ASC, id COLLATE BINARY ASC")
	return sb.String(), params
}

// Validate rejects inverted seq ranges and instance ids without a component.
func (f Filter) Validate() error {
	if f.FromSeq < 0 || f.ToSeq < 0 {
		return fmt.Errorf("seq bounds must not be negative")
	}
	if f.ToSeq > 0 && f.FromSeq > f.ToSeq {
		return fmt.Errorf("seq range %d..%d is empty", f.FromSeq, f.ToSeq)
	}
	if f.InstanceID != "" && f.Component == "" {
		return fmt.Errorf("instance id %q needs a component", f.InstanceID)
	}
	return nil
}

// Find returns the dispatches matching f in dispatch order.
func (s *Store) Find(ctx context.Context, f Filter) ([]engine.TraceRecord, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	query, params := f.Compile()
	return s.queryRecords(ctx, query, params...)
}
