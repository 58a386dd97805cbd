package audio

import (
	"errors"
	"sync/atomic"
)

// WindowSender accepts completed windows without blocking. Send returns an
// error only when the receiving side is gone.
type WindowSender interface {
	Send(w Window) error
}

// Tap is the [Sink] used by the pipeline: it feeds a [Ring] and hands every
// completed window to a [WindowSender].
//
// The first send failure is reported once through the fatal callback and all
// later windows are discarded; the realtime path itself never fails.
type Tap struct {
	ring    *Ring
	out     WindowSender
	onFatal func(error)

	windows atomic.Uint64
	failed  atomic.Bool
	err     atomic.Pointer[error]
}

// NewTap returns a Tap over a ring of size samples. onFatal may be nil.
func NewTap(size int, out WindowSender, onFatal func(error)) *Tap {
	return &Tap{
		ring:    NewRing(size),
		out:     out,
		onFatal: onFatal,
	}
}

// OnSample implements [Sink].
func (t *Tap) OnSample(s Sample) {
	w, ok := t.ring.Push(s)
	if !ok || t.failed.Load() {
		return
	}
	t.windows.Add(1)
	if err := t.out.Send(w); err != nil {
		t.failed.Store(true)
		err = errors.Join(ErrHandoff, err)
		t.err.Store(&err)
		if t.onFatal != nil {
			t.onFatal(err)
		}
	}
}

// Windows returns the number of completed windows produced so far.
func (t *Tap) Windows() uint64 { return t.windows.Load() }

// WindowSize returns N.
func (t *Tap) WindowSize() int { return t.ring.Len() }

// Err returns the handoff failure, if any.
func (t *Tap) Err() error {
	if p := t.err.Load(); p != nil {
		return *p
	}
	return nil
}

// ErrHandoff marks a failure to pass a completed window downstream.
var ErrHandoff = errors.New("audio: window handoff failed")
