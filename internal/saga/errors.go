package saga

import (
	"errors"
	"fmt"
)

// AbortError stops the run without treating it as an operator-facing fault.
// The executor prints the reason, drains the compensation stack, and returns
// nil — the process exits zero, same as a successful migration.
//
// Use it for unmet preconditions ("nothing to migrate") and for remote
// operations that definitively failed in a way that is not a bug here.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string { return e.Reason }

// Abortf builds an AbortError with a formatted, user-facing reason.
func Abortf(format string, args ...any) *AbortError {
	return &AbortError{Reason: fmt.Sprintf(format, args...)}
}

// CompensateError marks a Perform failure that happened after the step
// already had an observable side effect. The executor pushes Step onto the
// compensation stack before propagating the wrapped error.
type CompensateError struct {
	Step Step
	Err  error
}

func (e *CompensateError) Error() string {
	return fmt.Sprintf("step %s failed after taking effect: %v", e.Step.ID(), e.Err)
}

func (e *CompensateError) Unwrap() error { return e.Err }

// NeedsCompensation wraps err so the executor knows step must be rolled back
// even though its Perform failed.
func NeedsCompensation(step Step, err error) *CompensateError {
	return &CompensateError{Step: step, Err: err}
}

// AsAbort unwraps an AbortError from err, if any.
func AsAbort(err error) (*AbortError, bool) {
	var ae *AbortError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// AsNeedsCompensation unwraps a CompensateError from err, if any.
func AsNeedsCompensation(err error) (*CompensateError, bool) {
	var ce *CompensateError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
