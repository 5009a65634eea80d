package history

// Deque is a fixed-capacity list ordered from head (newest) to tail
// (oldest). Pushing onto a full deque evicts from the tail.
type Deque[T any] struct {
	items    []T
	capacity int
}

// NewDeque creates an empty deque. Capacity below one is treated as one.
func NewDeque[T any](capacity int) *Deque[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Deque[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// PushFront inserts v at the head and returns whatever fell off the tail.
func (d *Deque[T]) PushFront(v T) []T {
	d.items = append(d.items, v)
	copy(d.items[1:], d.items[:len(d.items)-1])
	d.items[0] = v

	if len(d.items) <= d.capacity {
		return nil
	}

	evicted := append([]T(nil), d.items[d.capacity:]...)
	d.items = d.items[:d.capacity]
	return evicted
}

// RemoveFunc drops every element for which match returns true and reports
// how many were removed.
func (d *Deque[T]) RemoveFunc(match func(T) bool) int {
	kept := d.items[:0]
	for _, item := range d.items {
		if !match(item) {
			kept = append(kept, item)
		}
	}
	removed := len(d.items) - len(kept)

	var zero T
	for i := len(kept); i < len(d.items); i++ {
		d.items[i] = zero
	}
	d.items = kept
	return removed
}

// Items returns a copy of the elements, head first.
func (d *Deque[T]) Items() []T {
	return append([]T(nil), d.items...)
}

// Len returns the number of elements.
func (d *Deque[T]) Len() int {
	return len(d.items)
}

// Cap returns the capacity.
func (d *Deque[T]) Cap() int {
	return d.capacity
}
