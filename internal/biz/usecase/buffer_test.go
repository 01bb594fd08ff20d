package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundBuffer_FIFO(t *testing.T) {
	b := NewOutboundBuffer(DefaultBufferConfig(), nil)
	b.Push("L1")
	b.Push("L2")
	b.Push("L3")

	got := b.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, "L1", got[0].Line)
	assert.Equal(t, "L3", got[2].Line)
	assert.Nil(t, b.Drain())
}

func TestOutboundBuffer_OverflowKeepsOneSummary(t *testing.T) {
	b := NewOutboundBuffer(BufferConfig{Capacity: 3}, nil)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		b.Push(l)
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 2, b.Dropped())

	got := b.Drain()
	require.Len(t, got, 4)
	assert.True(t, strings.Contains(got[0].Line, "2 console lines were dropped"), got[0].Line)
	assert.Equal(t, []string{"c", "d", "e"}, []string{got[1].Line, got[2].Line, got[3].Line})

	// the summary is reset after a drain
	b.Push("f")
	got = b.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "f", got[0].Line)
}

func TestOutboundBuffer_ClosedRejectsPush(t *testing.T) {
	b := NewOutboundBuffer(DefaultBufferConfig(), nil)
	assert.True(t, b.Push("before"))
	b.Close()
	assert.False(t, b.Push("after"))

	got := b.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "before", got[0].Line)
}
