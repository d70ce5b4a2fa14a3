package models

// Iterator walks a collection without exposing its storage.
type Iterator[T any] interface {
	Next() bool
	Item() T
	Count() int
	ToSlice() []T
}

// SliceIterator is an Iterator over a snapshot slice.
type SliceIterator[T any] struct {
	items []T
	pos   int
}

func NewSliceIterator[T any](items []T) *SliceIterator[T] {
	return &SliceIterator[T]{items: items, pos: -1}
}

func (it *SliceIterator[T]) Next() bool {
	if it.pos+1 >= len(it.items) {
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator[T]) Item() T {
	return it.items[it.pos]
}

func (it *SliceIterator[T]) Count() int {
	return len(it.items)
}

func (it *SliceIterator[T]) ToSlice() []T {
	out := make([]T, len(it.items))
	copy(out, it.items)
	return out
}
