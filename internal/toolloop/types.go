// Package toolloop lets a brain invoke external tools between full calls.
// The loop parses a structured tool request out of a response, executes it,
// folds the result back into context, and re-invokes the same brain — hard
// bounded by a maximum cycle count so it always terminates.
package toolloop

import (
	"context"
	"fmt"
)

// Registry executes named tools. Implemented by the embedding application.
type Registry interface {
	// Execute runs a tool and returns its textual result. Errors are fed
	// back to the brain as context, never raised to the router's caller.
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Call records one tool invocation within a loop run. Transient: it lives
// only for the duration of that run and its result payload.
type Call struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result,omitempty"`
	Err    string         `json:"error,omitempty"`
}

// ExecutionError wraps a tool failure for logging.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
