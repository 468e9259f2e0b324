package agent

import (
	"errors"
	"fmt"
)

// ErrNoProvider means no provider adapter matched the requested name.
var ErrNoProvider = errors.New("no provider configured")

// ErrNoModel means neither the request nor configuration named a model.
var ErrNoModel = errors.New("no model configured")

// RunError wraps a run-ending failure with the iteration it occurred in.
// Partial progress already delivered through callbacks is not retracted.
type RunError struct {
	Iteration int
	Cause     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("agent run failed at iteration %d: %v", e.Iteration, e.Cause)
}

func (e *RunError) Unwrap() error {
	return e.Cause
}
