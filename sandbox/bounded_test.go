package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedBufferWithinCapacity(t *testing.T) {
	buf := NewBoundedBuffer(16)

	n, err := buf.Write([]byte("hello "))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	buf.WriteString("world")

	assert.Equal(t, "hello world", buf.String())
	assert.Equal(t, 11, buf.Len())
	assert.False(t, buf.Truncated())
}

func TestBoundedBufferOverflow(t *testing.T) {
	buf := NewBoundedBuffer(8)

	n, err := buf.Write([]byte("0123456789"))
	require.NoError(t, err)
	// Producers always see the full length so nothing upstream errors out.
	assert.Equal(t, 10, n)

	assert.Equal(t, "01234567", buf.String())
	assert.True(t, buf.Truncated())

	// Once full every further write is dropped.
	buf.WriteString("more")
	assert.Equal(t, "01234567", buf.String())
}

func TestBoundedBufferNeverAllocatesPastCapacity(t *testing.T) {
	buf := NewBoundedBuffer(32)

	buf.WriteString(strings.Repeat("x", 1<<20))

	assert.Equal(t, 32, buf.Len())
	assert.True(t, buf.Truncated())
}

func TestBoundedBufferZeroCapacity(t *testing.T) {
	for _, capacity := range []int{0, -5} {
		buf := NewBoundedBuffer(capacity)

		buf.WriteString("anything")
		_, err := buf.Write([]byte("more"))
		require.NoError(t, err)

		assert.Equal(t, "", buf.String())
		assert.True(t, buf.Truncated())
	}
}

func TestBoundedBufferEmptyWritesDoNotTruncate(t *testing.T) {
	buf := NewBoundedBuffer(0)

	buf.WriteString("")
	_, err := buf.Write(nil)
	require.NoError(t, err)

	assert.False(t, buf.Truncated())
}
