package sequence

// Ring is a FIFO over a growable circular buffer. With a positive capacity it
// is bounded and Push evicts the oldest item once full.
type Ring[T any] struct {
	items []T
	head  int
	size  int
	limit int
}

// NewRing returns a ring holding at most capacity items. A capacity of zero
// or less makes the ring unbounded.
func NewRing[T any](capacity int) *Ring[T] {
	r := &Ring[T]{limit: capacity}
	if capacity > 0 {
		r.items = make([]T, capacity)
	}
	return r
}

func (r *Ring[T]) Len() int { return r.size }

func (r *Ring[T]) Cap() int { return r.limit }

// Full reports whether a bounded ring holds capacity items.
func (r *Ring[T]) Full() bool {
	return r.limit > 0 && r.size == r.limit
}

// Push appends v. When the ring is bounded and full, the oldest item is
// removed and returned with evicted set.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	if r.Full() {
		old = r.items[r.head]
		r.items[r.head] = v
		r.head = (r.head + 1) % len(r.items)
		return old, true
	}
	if r.size == len(r.items) {
		r.grow()
	}
	r.items[(r.head+r.size)%len(r.items)] = v
	r.size++
	return old, false
}

// PopFront removes and returns the oldest item.
func (r *Ring[T]) PopFront() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return v, true
}

// Front returns the oldest item without removing it.
func (r *Ring[T]) Front() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.items[r.head], true
}

// At returns the i-th oldest item. It panics when i is out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.size {
		panic("sequence: ring index out of range")
	}
	return r.items[(r.head+i)%len(r.items)]
}

// Each calls fn for every item from oldest to newest.
func (r *Ring[T]) Each(fn func(T)) {
	for i := 0; i < r.size; i++ {
		fn(r.items[(r.head+i)%len(r.items)])
	}
}

// Slice copies the items from oldest to newest.
func (r *Ring[T]) Slice() []T {
	out := make([]T, 0, r.size)
	r.Each(func(v T) { out = append(out, v) })
	return out
}

func (r *Ring[T]) Clear() {
	clear(r.items)
	r.head, r.size = 0, 0
}

func (r *Ring[T]) grow() {
	n := max(2*len(r.items), 8)
	items := make([]T, n)
	for i := 0; i < r.size; i++ {
		items[i] = r.items[(r.head+i)%len(r.items)]
	}
	r.items, r.head = items, 0
}
