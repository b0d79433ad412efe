package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrTimeout        = errors.New("execution timed out")
	ErrMemoryLimit    = errors.New("memory limit exceeded")
	ErrOutputSize     = errors.New("output size limit exceeded")
	ErrSpawn          = errors.New("failed to spawn sandbox process")
	ErrInvalidRequest = errors.New("invalid execution request")
)

// ExecutionError wraps errors with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsMemoryLimit returns true if the error is a memory ceiling breach.
func IsMemoryLimit(err error) bool {
	return errors.Is(err, ErrMemoryLimit)
}

// IsOutputSize returns true if the error is an output ceiling breach.
func IsOutputSize(err error) bool {
	return errors.Is(err, ErrOutputSize)
}
