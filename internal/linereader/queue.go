package linereader

import "sync"

// Queue is a concurrency-safe FIFO of lines with explicit acknowledgement.
// One goroutine pushes, one goroutine peeks and acks.
type Queue struct {
	mu    sync.Mutex
	items []string
}

// Push appends s to the tail.
func (q *Queue) Push(s string) {
	q.mu.Lock()
	q.items = append(q.items, s)
	q.mu.Unlock()
}

// Peek returns the head without removing it. ok is false when empty.
func (q *Queue) Peek() (s string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	return q.items[0], true
}

// Ack removes the head. Acking an empty queue is a no-op.
func (q *Queue) Ack() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	q.items[0] = ""
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
