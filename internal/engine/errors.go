package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/cascade/internal/ir"
)

// Sentinel errors returned by registry, store and relationship operations.
// Callers match them with errors.Is; returned errors wrap them with context.
var (
	ErrComponentNotFound  = errors.New("component not found")
	ErrDuplicateComponent = errors.New("component already registered")
	ErrInstanceNotFound   = errors.New("instance not found")
	ErrDuplicateInstance  = errors.New("instance already exists")
	ErrInvalidInstanceID  = errors.New("invalid instance id")
	ErrCreationOrder      = errors.New("creation order violated")
	ErrDuplicateID        = errors.New("instance id already used")
	ErrEventMismatch      = errors.New("event does not belong to instance component")
	ErrInvalidRef         = errors.New("invalid instance reference")
	ErrRelationCycle      = errors.New("relationship would create a cycle")
	ErrAlreadyProcessing  = errors.New("events are already being processed")
)

// RuntimeError is an error raised while draining the event queue.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// FlowToken identifies the affected flow.
	FlowToken string

	// Target and Event identify the dispatch that failed, when there is one.
	Target ir.InstanceRef
	Event  string

	// Err is the underlying cause (handler error, quota overrun).
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeHandlerFailed indicates a handler returned an error.
	ErrCodeHandlerFailed RuntimeErrorCode = "HANDLER_FAILED"

	// ErrCodeQuotaExceeded indicates a drain exceeded max steps.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeEventMismatch indicates a send addressed an instance of a
	// component other than the one it targets.
	ErrCodeEventMismatch RuntimeErrorCode = "EVENT_MISMATCH"
)

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Event != "" {
		msg += fmt.Sprintf(" (event=%s, target=%s)", e.Event, e.Target)
	}
	if e.FlowToken != "" {
		msg += fmt.Sprintf(" (flow=%s)", e.FlowToken)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsHandlerError reports whether err is a HANDLER_FAILED runtime error.
func IsHandlerError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeHandlerFailed
	}
	return false
}

// IsQuotaError reports whether err is a quota overrun, either as a
// RuntimeError with ErrCodeQuotaExceeded or a bare StepsExceededError.
func IsQuotaError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) && re.Code == ErrCodeQuotaExceeded {
		return true
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

// NewHandlerError wraps a handler failure with the dispatch it came from.
func NewHandlerError(ev QueuedEvent, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeHandlerFailed,
		Message:   "handler returned an error",
		FlowToken: ev.FlowToken,
		Target:    ev.Target,
		Event:     ev.Event,
		Err:       err,
	}
}

// NewQuotaError creates a RuntimeError for a quota overrun.
func NewQuotaError(flowToken string, steps, maxSteps int) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeQuotaExceeded,
		Message:   fmt.Sprintf("drain exceeded max steps (%d >= %d)", steps, maxSteps),
		FlowToken: flowToken,
		Err:       &StepsExceededError{FlowToken: flowToken, Steps: steps, Limit: maxSteps},
	}
}
