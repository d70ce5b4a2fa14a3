package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_Bounded(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 3; i++ {
		_, evicted := r.Push(i)
		assert.False(t, evicted)
	}
	assert.True(t, r.Full())

	old, evicted := r.Push(4)
	assert.True(t, evicted)
	assert.Equal(t, 1, old)
	assert.Equal(t, []int{2, 3, 4}, r.Slice())
	assert.Equal(t, 2, r.At(0))
	assert.Equal(t, 4, r.At(2))

	v, ok := r.PopFront()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, r.Len())

	r.Clear()
	_, ok = r.Front()
	assert.False(t, ok)
}

func TestRing_Unbounded(t *testing.T) {
	r := NewRing[int](0)
	for i := 0; i < 20; i++ {
		_, evicted := r.Push(i)
		require.False(t, evicted)
		if i%3 == 0 {
			_, _ = r.PopFront()
		}
	}
	// seven pops at i = 0, 3, ..., 18
	assert.Equal(t, 13, r.Len())
	front, ok := r.Front()
	require.True(t, ok)
	assert.Equal(t, 7, front)

	sum := 0
	r.Each(func(v int) { sum += v })
	assert.Equal(t, 7+8+9+10+11+12+13+14+15+16+17+18+19, sum)
	assert.Panics(t, func() { r.At(13) })
}
