package sandbox

import (
	"bytes"
	"sync"
)

// limitedBuffer caps how much child output is retained. Writes past the
// cap are counted but discarded, so a runaway process cannot exhaust the
// parent's memory while it is being supervised.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func newLimitedBuffer(max int64) *limitedBuffer {
	return &limitedBuffer{max: max}
}

// Write always reports success so the child's pipe stays open; exceeding
// the cap is surfaced through Truncated after the process exits.
func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remain := b.max - int64(b.buf.Len())
	switch {
	case remain <= 0:
		b.truncated = true
	case int64(len(p)) > remain:
		b.buf.Write(p[:remain])
		b.truncated = true
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
