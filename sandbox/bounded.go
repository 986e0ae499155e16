package sandbox

// BoundedBuffer is a fixed-capacity byte sink. Once full, further writes are
// silently dropped and the truncated flag latches. It never allocates beyond
// its capacity regardless of how much the script writes.
//
// The engine runs scripts on a single goroutine and all writes happen on it,
// so no locking is needed.
type BoundedBuffer struct {
	buf       []byte
	capacity  int
	truncated bool
}

// NewBoundedBuffer creates a buffer that holds at most capacity bytes.
func NewBoundedBuffer(capacity int) *BoundedBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &BoundedBuffer{capacity: capacity}
}

// Write implements io.Writer. It always reports the full length as written
// so producers never see an error; overflow is recorded, not surfaced.
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	room := b.capacity - len(b.buf)
	switch {
	case room >= len(p):
		b.buf = append(b.buf, p...)
	case room > 0:
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
	default:
		if len(p) > 0 {
			b.truncated = true
		}
	}
	return len(p), nil
}

// WriteString appends a string, subject to the same bound. Only the portion
// that fits is ever copied.
func (b *BoundedBuffer) WriteString(s string) {
	room := b.capacity - len(b.buf)
	if room <= 0 {
		if len(s) > 0 {
			b.truncated = true
		}
		return
	}
	if len(s) > room {
		s = s[:room]
		b.truncated = true
	}
	b.buf = append(b.buf, s...)
}

// String returns the captured bytes.
func (b *BoundedBuffer) String() string { return string(b.buf) }

// Len returns the number of captured bytes.
func (b *BoundedBuffer) Len() int { return len(b.buf) }

// Truncated reports whether any write overflowed the capacity.
func (b *BoundedBuffer) Truncated() bool { return b.truncated }
