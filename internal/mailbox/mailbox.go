// Package mailbox provides a bounded, non-blocking, latest-value-wins handoff
// between one producing and one consuming goroutine.
//
// A full mailbox never blocks its producer: the oldest pending value is
// discarded to make room. Values are observed in the order they were sent;
// intermediate values may be coalesced away when the consumer falls behind.
package mailbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Send and Recv once the mailbox has been closed,
// i.e. when the peer on the other side is gone.
var ErrClosed = errors.New("mailbox: peer gone")

// Mailbox is a bounded FIFO with drop-oldest overflow. It is safe for one
// concurrent producer and one concurrent consumer.
type Mailbox[T any] struct {
	ch   chan T
	done chan struct{}

	closeOnce sync.Once
	sent      atomic.Uint64
	drops     atomic.Uint64
}

// New creates a mailbox holding at most capacity pending values. A capacity
// below one is treated as one.
func New[T any](capacity int) *Mailbox[T] {
	return &Mailbox[T]{
		ch:   make(chan T, max(capacity, 1)),
		done: make(chan struct{}),
	}
}

// Send enqueues v without blocking. When the mailbox is full the oldest
// pending value is dropped. Send returns [ErrClosed] after Close.
func (m *Mailbox[T]) Send(v T) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	for {
		select {
		case m.ch <- v:
			m.sent.Add(1)
			return nil
		default:
		}
		// Full: evict the oldest value. The consumer may have emptied a slot
		// in the meantime, in which case there is nothing to evict.
		select {
		case <-m.ch:
			m.drops.Add(1)
		default:
		}
	}
}

// TryRecv returns the oldest pending value without blocking.
func (m *Mailbox[T]) TryRecv() (v T, ok bool) {
	select {
	case v = <-m.ch:
		return v, true
	default:
		return v, false
	}
}

// Latest drains every pending value and returns the most recent one. ok is
// false when nothing was pending.
func (m *Mailbox[T]) Latest() (v T, ok bool) {
	for {
		next, more := m.TryRecv()
		if !more {
			return v, ok
		}
		v, ok = next, true
	}
}

// Recv blocks until a value is available, ctx is done, or the mailbox is
// closed. Pending values are still delivered after Close.
func (m *Mailbox[T]) Recv(ctx context.Context) (T, error) {
	select {
	case v := <-m.ch:
		return v, nil
	default:
	}
	var zero T
	select {
	case v := <-m.ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-m.done:
		if v, ok := m.TryRecv(); ok {
			return v, nil
		}
		return zero, ErrClosed
	}
}

// Close marks the mailbox closed. It is safe to call more than once and from
// either side.
func (m *Mailbox[T]) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Len returns the number of pending values.
func (m *Mailbox[T]) Len() int { return len(m.ch) }

// Cap returns the capacity.
func (m *Mailbox[T]) Cap() int { return cap(m.ch) }

// Stats reports lifetime counters.
type Stats struct {
	// Sent counts values accepted by Send.
	Sent uint64

	// Dropped counts values evicted before they were received.
	Dropped uint64
}

// Stats returns the lifetime counters.
func (m *Mailbox[T]) Stats() Stats {
	return Stats{Sent: m.sent.Load(), Dropped: m.drops.Load()}
}
