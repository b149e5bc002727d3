package engine

import (
	"errors"
	"fmt"
)

// HostErrorCode categorizes engine-level failures. These are the only
// error kinds Dispatch surfaces as terminal causes; effect failures
// below this level are recorded into state, not raised.
type HostErrorCode string

const (
	// ErrCodeActionNotFound means the intent names an action the flow
	// does not define. Configuration error: fails immediately, no
	// effects started.
	ErrCodeActionNotFound HostErrorCode = "ACTION_NOT_FOUND"

	// ErrCodeMissingHandler means a raised requirement has no
	// registered handler. Configuration error: no effect of the batch
	// is started.
	ErrCodeMissingHandler HostErrorCode = "MISSING_HANDLER"

	// ErrCodeMaxIterations means the evaluator was re-invoked more than
	// maxIterations times for one intent. The circuit breaker against
	// effects that never converge.
	ErrCodeMaxIterations HostErrorCode = "LOOP_MAX_ITERATIONS"

	// ErrCodeEvalFailed means the evaluator itself returned a Go error
	// (a malformed flow, not a domain-level error status).
	ErrCodeEvalFailed HostErrorCode = "EVAL_FAILED"

	// ErrCodeFlowError means the evaluator reported status "error":
	// a domain-level failure the flow chose not to recover from.
	ErrCodeFlowError HostErrorCode = "FLOW_ERROR"

	// ErrCodePatchFailed means a patch set could not be applied to the
	// snapshot (a malformed patch, not an effect failure).
	ErrCodePatchFailed HostErrorCode = "PATCH_FAILED"

	// ErrCodeAlreadySeeded means Seed was called on a context that
	// already processed jobs.
	ErrCodeAlreadySeeded HostErrorCode = "ALREADY_SEEDED"
)

// HostError is a structured engine failure.
type HostError struct {
	Code     HostErrorCode
	Message  string
	Key      string
	IntentID string
	Action   string

	// EffectType is set for MISSING_HANDLER.
	EffectType string

	// Iterations is set for LOOP_MAX_ITERATIONS.
	Iterations int

	Err error
}

// Error implements the error interface.
func (e *HostError) Error() string {
	switch {
	case e.IntentID != "" && e.Action != "":
		return fmt.Sprintf("%s: %s (intent=%s, action=%s)", e.Code, e.Message, e.IntentID, e.Action)
	case e.IntentID != "":
		return fmt.Sprintf("%s: %s (intent=%s)", e.Code, e.Message, e.IntentID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the wrapped cause, if any.
func (e *HostError) Unwrap() error {
	return e.Err
}

// IsMaxIterationsError reports whether err is the circuit breaker
// firing. Uses errors.As to handle wrapped errors.
func IsMaxIterationsError(err error) bool {
	var he *HostError
	return errors.As(err, &he) && he.Code == ErrCodeMaxIterations
}

// IsMissingHandlerError reports whether err is a missing-handler
// configuration failure.
func IsMissingHandlerError(err error) bool {
	var he *HostError
	return errors.As(err, &he) && he.Code == ErrCodeMissingHandler
}

// IsActionNotFoundError reports whether err is an unknown-action
// configuration failure.
func IsActionNotFoundError(err error) bool {
	var he *HostError
	return errors.As(err, &he) && he.Code == ErrCodeActionNotFound
}

// newMaxIterationsError builds the circuit-breaker error.
func newMaxIterationsError(intentID, action string, iterations int) *HostError {
	return &HostError{
		Code:       ErrCodeMaxIterations,
		Message:    fmt.Sprintf("evaluator invoked %d times without reaching a terminal status", iterations),
		IntentID:   intentID,
		Action:     action,
		Iterations: iterations,
	}
}
