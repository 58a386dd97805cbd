package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/talkreel/internal/observe"
	"github.com/MrWong99/talkreel/pkg/audio"
)

// WindowSource yields completed windows, blocking while none is available.
type WindowSource interface {
	Recv(ctx context.Context) (audio.Window, error)
}

// LevelSender publishes activity levels without blocking.
type LevelSender interface {
	Send(active bool) error
}

// Worker runs a [Detector] on its own goroutine between a window source and a
// level sink.
type Worker struct {
	det     *Detector
	in      WindowSource
	out     LevelSender
	metrics *observe.Metrics
	log     *slog.Logger
}

// WorkerOption configures a [Worker].
type WorkerOption func(*Worker)

// WithMetrics records detector metrics on m.
func WithMetrics(m *observe.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWorker wires det between in and out.
func NewWorker(det *Detector, in WindowSource, out LevelSender, opts ...WorkerOption) *Worker {
	w := &Worker{
		det: det,
		in:  in,
		out: out,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With("component", "activity")
	return w
}

// Run processes windows until ctx is done. It returns nil on cancellation and
// an error when either peer is gone, which the pipeline treats as fatal.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Debug("detector started")
	for {
		win, err := w.in.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("activity: receive window: %w", err)
		}

		start := time.Now()
		avg := Average(win)
		active, emit := w.det.ProcessAverage(avg)
		w.record(ctx, avg, active, emit, time.Since(start))

		if !emit {
			continue
		}
		if err := w.out.Send(active); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("activity: send level: %w", err)
		}
		if !active {
			w.log.Debug("activity ended", "average", avg)
		}
	}
}

func (w *Worker) record(ctx context.Context, avg int, active, emit bool, d time.Duration) {
	if w.metrics == nil {
		return
	}
	w.metrics.WindowsProcessed.Add(ctx, 1)
	w.metrics.WindowAverage.Record(ctx, int64(avg))
	w.metrics.DetectDuration.Record(ctx, d.Seconds())
	if emit {
		w.metrics.ActivityEvents.Add(ctx, 1, metric.WithAttributes(attribute.Bool("active", active)))
	}
}
