// Package metrics provides bounded rolling windows and the performance
// statistics computed over them.
package metrics

// Window is a fixed-capacity FIFO buffer. Pushing onto a full window evicts
// the oldest element.
type Window[T any] struct {
	buf   []T
	start int
	size  int
}

// NewWindow creates a window holding at most capacity elements. A capacity
// below 1 is treated as 1.
func NewWindow[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

// Push appends v, dropping the oldest element when the window is full.
func (w *Window[T]) Push(v T) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = v
		w.size++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of stored elements.
func (w *Window[T]) Len() int { return w.size }

// Cap returns the window capacity.
func (w *Window[T]) Cap() int { return len(w.buf) }

// Values returns a copy of the contents ordered oldest to newest.
func (w *Window[T]) Values() []T {
	out := make([]T, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Last returns a copy of the newest n elements, oldest first. If fewer than
// n are stored, all of them are returned.
func (w *Window[T]) Last(n int) []T {
	if n > w.size {
		n = w.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	off := w.size - n
	for i := 0; i < n; i++ {
		out[i] = w.buf[(w.start+off+i)%len(w.buf)]
	}
	return out
}
