// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SchedLive Contributors

package core

import "sync"

// QueueItem pairs a decoded message with the connection it arrived on.
type QueueItem struct {
	Conn *Connection
	Msg  InboundMessage
}

// InboundQueue is the process-wide FIFO shared by every receive loop.
// Dequeue blocks while the queue is empty instead of polling, and items
// are never dropped or reordered. The queue is unbounded.
type InboundQueue struct {
	mu     sync.Mutex
	notify *sync.Cond
	items  []QueueItem
	closed bool
}

// NewInboundQueue creates an empty queue.
func NewInboundQueue() *InboundQueue {
	q := &InboundQueue{}
	q.notify = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends one item. Items enqueued after Close are discarded.
func (q *InboundQueue) Enqueue(item QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.items = append(q.items, item)
	q.notify.Signal()
}

// Dequeue removes and returns the oldest item, blocking while the queue is
// empty. It returns ok=false once the queue is closed and fully drained.
func (q *InboundQueue) Dequeue() (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notify.Wait()
	}
	if len(q.items) == 0 {
		return QueueItem{}, false
	}

	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of queued items.
func (q *InboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops intake and wakes any blocked consumer. Queued items remain
// dequeuable; further Enqueue calls are no-ops.
func (q *InboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notify.Broadcast()
}
