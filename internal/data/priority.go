package data

import (
	"time"
)

// Item describes an entry in the deadline queue.
type Item struct {
	value    interface{}
	deadline time.Time
	index    int
}

// Value returns the value stored with the item.
func (i *Item) Value() interface{} {
	return i.value
}

// Deadline returns the instant at which the item expires.
func (i *Item) Deadline() time.Time {
	return i.deadline
}

// priorityQueue implements heap.Interface and holds Items.
// This implementation is adapted from the container/heap documentation:
// https://golang.org/pkg/container/heap/
type priorityQueue []*Item

// Len returns the current size of the queue.
func (pq priorityQueue) Len() int {
	return len(pq)
}

// Less instructs heap.Interface how to sort items within the heap. The queue is a min heap on
// deadline, so the item that expires soonest is always at the root.
func (pq priorityQueue) Less(i, j int) bool {
	return pq[i].deadline.Before(pq[j].deadline)
}

// Swap swaps the ith and jth items in the backing data structure.
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push adds a new item to the backing data structure.
func (pq *priorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*Item)
	item.index = n
	*pq = append(*pq, item)
}

// Pop removes the last item from the backing data structure.
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]

	return item
}
