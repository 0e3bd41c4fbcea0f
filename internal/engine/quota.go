package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer bounds the number of dispatches a single ProcessEvents call
// may perform. Handlers that keep sending each other events never drain the
// queue on their own; the quota turns that into an error instead of a hang.
//
// A limit of 0 or less means unbounded.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates an enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check records one dispatch and fails once the limit is exceeded.
func (q *QuotaEnforcer) Check(flowToken string) error {
	q.current++
	if q.maxSteps > 0 && q.current > q.maxSteps {
		return &StepsExceededError{
			FlowToken: flowToken,
			Steps:     q.current,
			Limit:     q.maxSteps,
		}
	}
	return nil
}

// Exhausted reports whether another dispatch would exceed the limit.
func (q *QuotaEnforcer) Exhausted() bool {
	return q.maxSteps > 0 && q.current >= q.maxSteps
}

// Reset sets the step counter back to 0.
func (q *QuotaEnforcer) Reset() {
	q.current = 0
}

// Current returns the number of dispatches recorded so far.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the configured limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a drain exceeds the step quota.
// The event that tripped the quota is left at the front of the queue.
type StepsExceededError struct {
	FlowToken string
	Steps     int
	Limit     int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("flow %s exceeded max steps quota: %d steps > %d limit",
		e.FlowToken, e.Steps, e.Limit)
}

// IsStepsExceededError reports whether err wraps a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
