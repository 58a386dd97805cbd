// Package input collects user events (quit requests) from the terminal,
// process signals and the preview websocket into a single queue that the
// playback loop drains once per tick.
package input

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
)

// Type identifies an input event.
type Type int

const (
	// Quit asks the playback loop to stop.
	Quit Type = iota + 1
)

func (t Type) String() string {
	switch t {
	case Quit:
		return "quit"
	default:
		return "unknown"
	}
}

// Event is one user input.
type Event struct {
	Type Type

	// Source names where the event came from ("signal", "keyboard", "preview").
	Source string
}

// DefaultQueueSize is the queue capacity used by [NewQueue] for sizes < 1.
const DefaultQueueSize = 16

// Queue is a bounded multi-producer, single-consumer event queue. Push never
// blocks; events that do not fit are dropped and counted.
type Queue struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewQueue creates a queue holding up to size pending events.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Event, size)}
}

// Push enqueues e and reports whether it was accepted.
func (q *Queue) Push(e Event) bool {
	select {
	case q.ch <- e:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Poll returns the next pending event without blocking.
func (q *Queue) Poll() (Event, bool) {
	select {
	case e := <-q.ch:
		return e, true
	default:
		return Event{}, false
	}
}

// Dropped returns how many events were rejected because the queue was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// WatchSignals pushes a Quit event for every delivery of sigs until ctx is
// done. It blocks; run it on its own goroutine.
func WatchSignals(ctx context.Context, q *Queue, sigs ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			slog.Info("signal received", "signal", sig.String())
			q.Push(Event{Type: Quit, Source: "signal"})
		}
	}
}

// keyEscape is the ASCII escape byte sent by the Escape key.
const keyEscape = 0x1b

// IsQuitKey reports whether b is a key that requests quitting.
func IsQuitKey(b byte) bool {
	return b == keyEscape || b == 'q' || b == 'Q'
}

// ReadKeys reads bytes from r and pushes a Quit event for each quit key. It
// returns nil at end of input. The terminal is left in its current mode, so
// in cooked mode keys arrive after Enter.
//
// The read itself cannot be interrupted; ReadKeys returns on ctx cancellation
// only once the next byte or EOF arrives.
func ReadKeys(ctx context.Context, r io.Reader, q *Queue) error {
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if IsQuitKey(b) {
			q.Push(Event{Type: Quit, Source: "keyboard"})
		}
	}
}
