package data

import (
	"container/heap"
	"time"
)

// DeadlineQueue orders values by the instant at which they expire, so that a periodic sweep can
// collect every expired value without scanning the values that are still live. It is not safe for
// concurrent use; callers serialize access themselves.
type DeadlineQueue struct {
	store priorityQueue
}

// NewDeadlineQueue creates an empty deadline queue.
func NewDeadlineQueue() *DeadlineQueue {
	q := &DeadlineQueue{store: make(priorityQueue, 0)}
	heap.Init(&q.store)

	return q
}

// Push inserts a value that expires at the specified deadline. The returned Item can later be
// passed to Remove if the value completes before it expires.
func (q *DeadlineQueue) Push(value interface{}, deadline time.Time) *Item {
	item := &Item{value: value, deadline: deadline}
	heap.Push(&q.store, item)

	return item
}

// Remove deletes an item from the queue. It returns false if the item was already removed, either
// explicitly or by expiring.
func (q *DeadlineQueue) Remove(item *Item) bool {
	if item == nil || item.index < 0 || item.index >= q.store.Len() || q.store[item.index] != item {
		return false
	}

	heap.Remove(&q.store, item.index)

	return true
}

// PopExpired removes and returns, in deadline order, every value whose deadline is not after now.
func (q *DeadlineQueue) PopExpired(now time.Time) []interface{} {
	var expired []interface{}

	for q.store.Len() > 0 && !q.store[0].deadline.After(now) {
		item := heap.Pop(&q.store).(*Item)
		expired = append(expired, item.value)
	}

	return expired
}

// Drain removes and returns every value in the queue, in deadline order.
func (q *DeadlineQueue) Drain() []interface{} {
	values := make([]interface{}, 0, q.store.Len())

	for q.store.Len() > 0 {
		values = append(values, heap.Pop(&q.store).(*Item).value)
	}

	return values
}

// Next returns the earliest deadline in the queue, and false if the queue is empty.
func (q *DeadlineQueue) Next() (time.Time, bool) {
	if q.store.Len() == 0 {
		return time.Time{}, false
	}

	return q.store[0].deadline, true
}

// Len reads the current size of the queue.
func (q *DeadlineQueue) Len() int {
	return q.store.Len()
}
