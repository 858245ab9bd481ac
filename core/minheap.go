package core

// MinHeap is an array-backed binary min-heap ordered by a caller supplied comparator.
// The comparator may read external state (the bid ledger), so callers must not change
// the ordering key of an element in a way that makes it compare smaller than its parent
// or larger than its children while it is in the heap.
type MinHeap[T any] struct {
	items []T
	less  func(a, b T) bool
}

// NewMinHeap returns an empty heap using less as a strict ordering.
func NewMinHeap[T any](less func(a, b T) bool) *MinHeap[T] {
	return &MinHeap[T]{less: less}
}

// Len returns the number of elements in the heap.
func (h *MinHeap[T]) Len() int {
	return len(h.items)
}

// Insert adds x and swims it up while its parent compares strictly greater.
func (h *MinHeap[T]) Insert(x T) {
	h.items = append(h.items, x)
	h.swim(len(h.items) - 1)
}

// PeekMin returns the smallest element without removing it.
// The second result is false if the heap is empty.
func (h *MinHeap[T]) PeekMin() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// DeleteMin removes and returns the smallest element.
// The second result is false if the heap is empty.
func (h *MinHeap[T]) DeleteMin() (T, bool) {
	n := len(h.items)
	if n == 0 {
		var zero T
		return zero, false
	}

	root := h.items[0]
	last := n - 1
	h.items[0] = h.items[last]

	var zero T
	h.items[last] = zero
	h.items = h.items[:last]

	if len(h.items) > 1 {
		h.sink(0)
	}
	return root, true
}

// Items returns a copy of the elements in slot order (root first).
func (h *MinHeap[T]) Items() []T {
	out := make([]T, len(h.items))
	copy(out, h.items)
	return out
}

// Valid reports whether every parent compares less than or equal to its children.
func (h *MinHeap[T]) Valid() bool {
	for k := 1; k < len(h.items); k++ {
		if h.less(h.items[k], h.items[parent(k)]) {
			return false
		}
	}
	return true
}

// restore replaces the contents with items taken from a previous Items call.
func (h *MinHeap[T]) restore(items []T) {
	h.items = make([]T, len(items))
	copy(h.items, items)
}

func (h *MinHeap[T]) swim(k int) {
	for k > 0 {
		p := parent(k)
		if !h.less(h.items[k], h.items[p]) {
			return
		}
		h.items[k], h.items[p] = h.items[p], h.items[k]
		k = p
	}
}

func (h *MinHeap[T]) sink(k int) {
	n := len(h.items)
	for {
		j := 2*k + 1 // left child
		if j >= n {
			return
		}
		// Only compare against the right child when it exists.
		if r := j + 1; r < n && h.less(h.items[r], h.items[j]) {
			j = r
		}
		if !h.less(h.items[j], h.items[k]) {
			return
		}
		h.items[k], h.items[j] = h.items[j], h.items[k]
		k = j
	}
}

func parent(k int) int {
	return (k - 1) / 2
}
