package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_PushWithinCapacity(t *testing.T) {
	b := New[int](3)
	assert.False(t, b.Push(1))
	assert.False(t, b.Push(2))

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 3, b.Cap())
	assert.Equal(t, []int{1, 2}, b.Items())

	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last)
}

func TestBuffer_EvictsOldestOnOverflow(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{3, 4, 5}, b.Items())

	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last)
}

func TestBuffer_PushReportsEviction(t *testing.T) {
	b := New[string](1)
	assert.False(t, b.Push("a"))
	assert.True(t, b.Push("b"))
	assert.Equal(t, []string{"b"}, b.Items())
}

func TestBuffer_EmptyLast(t *testing.T) {
	b := New[int](2)
	_, ok := b.Last()
	assert.False(t, ok)
	assert.Empty(t, b.Items())
}

func TestBuffer_NonPositiveCapacity(t *testing.T) {
	b := New[int](0)
	assert.Equal(t, 1, b.Cap())
	b.Push(7)
	b.Push(8)
	assert.Equal(t, []int{8}, b.Items())
}

func TestBuffer_Tail(t *testing.T) {
	b := New[int](4)
	for i := 1; i <= 6; i++ {
		b.Push(i)
	}

	tests := []struct {
		name     string
		n        int
		expected []int
	}{
		{name: "zero", n: 0, expected: []int{}},
		{name: "negative", n: -1, expected: []int{}},
		{name: "two newest", n: 2, expected: []int{5, 6}},
		{name: "all", n: 4, expected: []int{3, 4, 5, 6}},
		{name: "more than held", n: 10, expected: []int{3, 4, 5, 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, b.Tail(tt.n))
		})
	}
}
