package pipeline

import (
	"sync"

	"gocv.io/x/gocv"
)

type item struct {
	seq   uint64
	frame gocv.Mat
}

// mailbox is a bounded FIFO between a stream's reader and its worker. A put
// into a full mailbox evicts the oldest frame.
type mailbox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []item
	capacity int
	finished bool // no more puts; take drains what is left
	closed   bool // pending frames discarded; take returns immediately
}

func newMailbox(capacity int) *mailbox {
	if capacity < 1 {
		capacity = 1
	}
	m := &mailbox{
		items:    make([]item, 0, capacity),
		capacity: capacity,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put enqueues it and reports whether an older frame was evicted to make room.
func (m *mailbox) put(it item) (dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.finished {
		it.frame.Close()
		return false
	}

	if len(m.items) == m.capacity {
		m.items[0].frame.Close()
		m.items = append(m.items[:0], m.items[1:]...)
		dropped = true
	}
	m.items = append(m.items, it)
	m.cond.Signal()
	return dropped
}

// take blocks until an item is available. ok is false once the mailbox is
// closed, or finished and empty.
func (m *mailbox) take() (it item, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.items) == 0 && !m.closed && !m.finished {
		m.cond.Wait()
	}
	if m.closed || len(m.items) == 0 {
		return item{}, false
	}

	it = m.items[0]
	m.items = append(m.items[:0], m.items[1:]...)
	return it, true
}

// finish marks the end of input; queued items are still delivered.
func (m *mailbox) finish() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.finished = true
	m.cond.Broadcast()
}

// close discards queued items and wakes the consumer.
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for _, it := range m.items {
		it.frame.Close()
	}
	m.items = nil
	m.cond.Broadcast()
}
