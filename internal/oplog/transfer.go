package oplog

import (
	"sync"

	"github.com/roach88/oplog/internal/model"
)

// transfer moves the oldest entries of one layer into the next. Source -1 is
// the primary layer; source i >= 0 is archive i.
type transfer struct {
	source int
	last   model.OplogIndex

	// done, if set, is closed once the transfer finished.
	done chan struct{}

	// stop asks the worker goroutine to exit once the queue drains.
	stop bool
}

const fromPrimary = -1

// transferQueue is an unbounded FIFO of transfers. The worker goroutine
// enqueues cascading transfers while processing one, so Enqueue never
// blocks.
type transferQueue struct {
	mu     sync.Mutex
	items  []transfer
	signal chan struct{} // buffered, size 1
}

func newTransferQueue() *transferQueue {
	return &transferQueue{signal: make(chan struct{}, 1)}
}

// Enqueue adds t to the back of the queue. Safe from any goroutine.
func (q *transferQueue) Enqueue(t transfer) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, t)

	// Non-blocking; the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryDequeue removes the front transfer without blocking.
func (q *transferQueue) TryDequeue() (transfer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return transfer{}, false
	}
	t := q.items[0]
	q.items[0] = transfer{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return t, true
}

// Dequeue blocks until a transfer is available.
func (q *transferQueue) Dequeue() transfer {
	for {
		if t, ok := q.TryDequeue(); ok {
			return t
		}
		<-q.signal
	}
}

func (q *transferQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
