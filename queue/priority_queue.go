// Package queue provides a generic priority queue on top of container/heap,
// used to pick the smallest head among the runs of a merge.
package queue

import (
	"container/heap"
)

// inner implements heap.Interface.
type inner[E any] struct {
	items   []E
	cmpFunc func(E, E) int
}

// PriorityQueue is a min-heap ordered by a three-way comparison function.
type PriorityQueue[E any] struct {
	h inner[E]
}

// NewPriorityQueue creates an empty queue ordered by cmpFunc, which returns a
// negative number when a sorts before b, zero when they tie and a positive
// number otherwise.
func NewPriorityQueue[E any](cmpFunc func(a, b E) int) *PriorityQueue[E] {
	return &PriorityQueue[E]{h: inner[E]{cmpFunc: cmpFunc}}
}

// Len returns the number of items in the queue
func (pq *PriorityQueue[E]) Len() int {
	return len(pq.h.items)
}

// Push adds x to the queue
func (pq *PriorityQueue[E]) Push(x E) {
	heap.Push(&pq.h, x)
}

// Pop removes and returns the smallest item. It panics on an empty queue.
func (pq *PriorityQueue[E]) Pop() E {
	return heap.Pop(&pq.h).(E)
}

// Peek returns the smallest item without removing it
func (pq *PriorityQueue[E]) Peek() E {
	return pq.h.items[0]
}

// PeekUpdate restores the heap order after the item returned by Peek changed
// its position in the ordering, e.g. a run reader that advanced.
func (pq *PriorityQueue[E]) PeekUpdate() {
	heap.Fix(&pq.h, 0)
}

// Clear drops every item.
func (pq *PriorityQueue[E]) Clear() {
	clear(pq.h.items)
	pq.h.items = pq.h.items[:0]
}

func (h *inner[E]) Len() int {
	return len(h.items)
}

func (h *inner[E]) Less(i, j int) bool {
	return h.cmpFunc(h.items[i], h.items[j]) < 0
}

func (h *inner[E]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *inner[E]) Push(x any) {
	h.items = append(h.items, x.(E))
}

func (h *inner[E]) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	var zero E
	old[n-1] = zero
	h.items = old[:n-1]
	return x
}
