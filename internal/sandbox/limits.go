package sandbox

import (
	"fmt"
	"time"
)

// Limits bounds one sandboxed execution. The memory ceiling is checked
// post-hoc against peak RSS after the process exits; it is not a
// preemptive kill (see the runner).
type Limits struct {
	Timeout        time.Duration `json:"timeout"`
	MemoryLimitMB  int64         `json:"memory_limit_mb"`
	MaxOutputBytes int64         `json:"max_output_bytes"`
}

// MaxTimeout is the hard upper bound a caller may request.
const MaxTimeout = 120 * time.Second

func DefaultLimits() Limits {
	return Limits{
		Timeout:        30 * time.Second,
		MemoryLimitMB:  512,
		MaxOutputBytes: 32 << 20, // 32MB combined stdout+stderr
	}
}

func (l Limits) Validate() error {
	if l.Timeout < time.Second || l.Timeout > MaxTimeout {
		return fmt.Errorf("%w: timeout must be 1s-%s, got %s", ErrInvalidRequest, MaxTimeout, l.Timeout)
	}
	if l.MemoryLimitMB < 16 || l.MemoryLimitMB > 4096 {
		return fmt.Errorf("%w: memory_limit_mb must be 16-4096, got %d", ErrInvalidRequest, l.MemoryLimitMB)
	}
	if l.MaxOutputBytes < 1024 || l.MaxOutputBytes > 64<<20 {
		return fmt.Errorf("%w: max_output_bytes must be 1KB-64MB, got %d", ErrInvalidRequest, l.MaxOutputBytes)
	}
	return nil
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.Timeout == 0 {
		l.Timeout = def.Timeout
	}
	if l.MemoryLimitMB == 0 {
		l.MemoryLimitMB = def.MemoryLimitMB
	}
	if l.MaxOutputBytes == 0 {
		l.MaxOutputBytes = def.MaxOutputBytes
	}
	return l
}
