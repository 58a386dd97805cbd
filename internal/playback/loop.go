// Package playback drives the video: it polls the activity level once per tick
// and advances the decoder by exactly one frame on every tick where speech is
// active. While inactive the last presented frame stays on screen.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/talkreel/internal/input"
	"github.com/MrWong99/talkreel/internal/observe"
	"github.com/MrWong99/talkreel/internal/present"
	"github.com/MrWong99/talkreel/pkg/video"
)

// DefaultTick is the playback poll interval.
const DefaultTick = 50 * time.Millisecond

// Config holds the loop parameters.
type Config struct {
	// Tick is the interval between polls. Zero means [DefaultTick].
	Tick time.Duration
}

// ActivitySource yields the most recent activity level without blocking. ok is
// false when no new level arrived since the last call.
type ActivitySource interface {
	Latest() (active bool, ok bool)
}

// EventSource yields pending user events without blocking.
type EventSource interface {
	Poll() (input.Event, bool)
}

// Option configures a [Loop].
type Option func(*Loop)

// WithMetrics records tick and frame metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loop) {
		if lg != nil {
			l.log = lg
		}
	}
}

// Loop is the playback state machine. It runs on a single goroutine.
type Loop struct {
	tick      time.Duration
	source    video.Source
	presenter present.Presenter
	activity  ActivitySource
	events    EventSource
	metrics   *observe.Metrics
	log       *slog.Logger

	current bool
	primed  bool
	ticks   int
	pulls   int
}

// New creates a loop that pulls from source and draws into presenter.
func New(cfg Config, source video.Source, presenter present.Presenter, activity ActivitySource, events EventSource, opts ...Option) *Loop {
	l := &Loop{
		tick:      cfg.Tick,
		source:    source,
		presenter: presenter,
		activity:  activity,
		events:    events,
		log:       slog.Default(),
	}
	if l.tick <= 0 {
		l.tick = DefaultTick
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With("component", "playback")
	return l
}

// Prime pulls and presents the first frame so the surface shows something
// before any speech. Any failure here, end of stream included, is a setup
// error.
func (l *Loop) Prime(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "playback.prime")
	defer span.End()

	if err := l.advance(ctx); err != nil {
		observe.FailSpan(span, err)
		observe.Logger(ctx, l.log).Error("first frame failed", "err", err)
		return fmt.Errorf("playback: first frame: %w", err)
	}
	l.primed = true
	return nil
}

// Step runs one tick. It reports true when the loop should stop. Quit, end of
// stream and decode failure all end playback cleanly.
func (l *Loop) Step(ctx context.Context) (done bool) {
	l.ticks++

	for {
		ev, ok := l.events.Poll()
		if !ok {
			break
		}
		if ev.Type == input.Quit {
			l.log.Info("quit requested", "source", ev.Source)
			return true
		}
	}

	if active, ok := l.activity.Latest(); ok && active != l.current {
		l.current = active
		l.log.Debug("activity changed", "active", active, "tick", l.ticks)
	}
	if l.metrics != nil {
		l.metrics.RecordTick(ctx, l.current)
	}
	if !l.current {
		return false
	}

	err := l.advance(ctx)
	switch {
	case err == nil:
		return false
	case ctx.Err() != nil:
		return true
	case errors.Is(err, video.ErrEndOfStream):
		l.log.Info("end of video reached", "frames", l.pulls)
		l.recordFailure(ctx, "eos")
		return true
	default:
		l.log.Error("video decode failed, stopping playback", "err", err, "frames", l.pulls)
		l.recordFailure(ctx, "error")
		return true
	}
}

// Run primes the surface and then ticks until Step reports done or ctx is
// cancelled. It returns a non-nil error only for setup failures.
func (l *Loop) Run(ctx context.Context) error {
	if !l.primed {
		if err := l.Prime(ctx); err != nil {
			return err
		}
	}
	l.log.Info("playback started", "tick", l.tick)

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Debug("playback cancelled", "ticks", l.ticks, "frames", l.pulls)
			return nil
		case <-ticker.C:
			if l.Step(ctx) {
				l.log.Info("playback finished", "ticks", l.ticks, "frames", l.pulls)
				return nil
			}
		}
	}
}

// advance pulls exactly one frame and presents it.
func (l *Loop) advance(ctx context.Context) error {
	start := time.Now()
	l.pulls++
	f, err := l.source.Next(ctx)
	if err != nil {
		return err
	}
	if err := l.presenter.Present(f); err != nil {
		return fmt.Errorf("playback: present: %w", err)
	}
	if l.metrics != nil {
		l.metrics.FramesPresented.Add(ctx, 1)
		l.metrics.FrameDuration.Record(ctx, time.Since(start).Seconds())
	}
	return nil
}

func (l *Loop) recordFailure(ctx context.Context, reason string) {
	if l.metrics != nil {
		l.metrics.RecordDecodeFailure(ctx, reason)
	}
}

// Active reports the activity level the loop last observed.
func (l *Loop) Active() bool { return l.current }

// Ticks returns the number of Step calls so far.
func (l *Loop) Ticks() int { return l.ticks }

// Pulls returns the number of frames requested from the source, including the
// priming pull.
func (l *Loop) Pulls() int { return l.pulls }
