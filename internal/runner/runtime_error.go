package runner

import "fmt"

// RuntimeError captures run failures that should not stop the runner loop.
// Retryable failures are re-run ahead of the next tick.
type RuntimeError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func wrapRuntime(op string, err error, retryable bool) error {
	if err == nil {
		return nil
	}
	return &RuntimeError{Op: op, Err: err, Retryable: retryable}
}
