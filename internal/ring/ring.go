// Package ring provides a fixed-capacity FIFO buffer. Pushing into a full
// buffer overwrites the oldest entry.
package ring

// Buffer is not safe for concurrent use; callers hold their own lock.
type Buffer[T any] struct {
	items     []T
	nextIndex int
	count     int
}

// New returns an empty buffer holding at most capacity entries. A
// non-positive capacity is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when full. It reports whether an
// entry was evicted.
func (b *Buffer[T]) Push(v T) bool {
	evicted := b.count == len(b.items)
	b.items[b.nextIndex] = v
	b.nextIndex++
	if b.nextIndex >= len(b.items) {
		b.nextIndex = 0
	}
	if !evicted {
		b.count++
	}
	return evicted
}

func (b *Buffer[T]) Len() int { return b.count }

func (b *Buffer[T]) Cap() int { return len(b.items) }

// Last returns the newest entry.
func (b *Buffer[T]) Last() (T, bool) {
	if b.count == 0 {
		var zero T
		return zero, false
	}
	idx := b.nextIndex - 1
	if idx < 0 {
		idx = len(b.items) - 1
	}
	return b.items[idx], true
}

// Each visits entries oldest first.
func (b *Buffer[T]) Each(fn func(T)) {
	start := b.start()
	for i := 0; i < b.count; i++ {
		fn(b.items[(start+i)%len(b.items)])
	}
}

// Items returns a copy of the entries, oldest first.
func (b *Buffer[T]) Items() []T {
	out := make([]T, 0, b.count)
	b.Each(func(v T) { out = append(out, v) })
	return out
}

// Tail returns a copy of the newest n entries, oldest first.
func (b *Buffer[T]) Tail(n int) []T {
	if n <= 0 {
		return []T{}
	}
	if n > b.count {
		n = b.count
	}
	out := make([]T, 0, n)
	start := b.start() + (b.count - n)
	for i := 0; i < n; i++ {
		out = append(out, b.items[(start+i)%len(b.items)])
	}
	return out
}

func (b *Buffer[T]) start() int {
	return (b.nextIndex - b.count + len(b.items)) % len(b.items)
}
