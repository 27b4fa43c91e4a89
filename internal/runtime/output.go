package runtime

import "bytes"

// DefaultOutputLimit caps each captured stream.
const DefaultOutputLimit = 1 << 20

// CappedBuffer is an io.Writer that keeps at most limit bytes and silently
// discards the rest, so a program flooding its output cannot exhaust memory.
type CappedBuffer struct {
	limit     int
	buf       bytes.Buffer
	truncated bool
}

// NewCappedBuffer returns a buffer holding at most limit bytes. A
// non-positive limit means DefaultOutputLimit.
func NewCappedBuffer(limit int) *CappedBuffer {
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	return &CappedBuffer{limit: limit}
}

func (b *CappedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *CappedBuffer) String() string {
	return b.buf.String()
}

// Truncated reports whether any output was dropped.
func (b *CappedBuffer) Truncated() bool {
	return b.truncated
}
