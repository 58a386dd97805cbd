// Package app wires the talkreel subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the capture device and the
// decoder and connects the pipeline, Run executes it until playback ends, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithRegistry,
// WithDevice, WithSource). When an option is not provided, New creates real
// implementations from the config through the backend registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/MrWong99/talkreel/internal/activity"
	"github.com/MrWong99/talkreel/internal/config"
	"github.com/MrWong99/talkreel/internal/health"
	"github.com/MrWong99/talkreel/internal/input"
	"github.com/MrWong99/talkreel/internal/mailbox"
	"github.com/MrWong99/talkreel/internal/observe"
	"github.com/MrWong99/talkreel/internal/playback"
	"github.com/MrWong99/talkreel/internal/present"
	"github.com/MrWong99/talkreel/pkg/audio"
	"github.com/MrWong99/talkreel/pkg/video"
)

const (
	// statsInterval is how often mailbox counters are exported as metrics.
	statsInterval = time.Second

	// serverShutdownTimeout bounds the graceful stop of the ops servers.
	serverShutdownTimeout = 5 * time.Second
)

// App owns all subsystem lifetimes and orchestrates the talkreel pipeline.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	log      *slog.Logger

	// Subsystems, initialised in New and torn down in Shutdown.
	device  audio.Device
	stream  audio.Stream
	source  video.Source
	tap     *audio.Tap
	windows *mailbox.Mailbox[audio.Window]
	levels  *mailbox.Mailbox[bool]
	worker  *activity.Worker
	surface *present.Surface
	events  *input.Queue
	loop    *playback.Loop

	// Ops endpoints.
	health        *health.Handler
	captureReady  health.Flag
	playbackReady health.Flag
	httpServer    *http.Server
	httpListener  net.Listener
	grpcServer    *grpc.Server
	grpcListener  net.Listener
	bridge        *health.GRPCBridge

	// fail cancels the pipeline with a fatal cause. Set by Run before any
	// pipeline goroutine starts.
	fail context.CancelCauseFunc

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the backend registry used to create the capture device
// and open the decoder.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithDevice injects a capture device instead of creating one from config.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithSource injects a frame source instead of opening the configured clip.
func WithSource(s video.Source) Option {
	return func(a *App) { a.source = s }
}

// WithEvents injects the user event queue. Defaults to a fresh queue.
func WithEvents(q *input.Queue) Option {
	return func(a *App) { a.events = q }
}

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Capture is opened and
// the clip is probed here, so every setup failure surfaces before Run.
//
// On error, everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.events == nil {
		a.events = input.NewQueue(input.DefaultQueueSize)
	}
	a.log = a.log.With("component", "app")

	ctx, span := observe.StartSpan(ctx, "app.New")
	defer span.End()

	defer func() {
		if err != nil {
			observe.FailSpan(span, err)
			observe.Logger(ctx, a.log).Warn("setup aborted, releasing resources", "err", err)
			_ = a.Shutdown(context.Background())
		}
	}()

	// ── 1. Capture ───────────────────────────────────────────────────────
	if err := a.initCapture(ctx); err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 2. Detector ──────────────────────────────────────────────────────
	if err := a.initDetector(); err != nil {
		return nil, fmt.Errorf("app: init detector: %w", err)
	}

	// ── 3. Video source + playback ───────────────────────────────────────
	if err := a.initPlayback(ctx); err != nil {
		return nil, fmt.Errorf("app: init playback: %w", err)
	}

	// ── 4. Ops HTTP server ───────────────────────────────────────────────
	a.health = health.New(
		a.captureReady.Checker("capture"),
		a.playbackReady.Checker("playback"),
	)
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	// ── 5. gRPC health ───────────────────────────────────────────────────
	if err := a.initGRPC(); err != nil {
		return nil, fmt.Errorf("app: init grpc: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCapture opens the capture stream and builds the tap that feeds the
// snapshot mailbox.
func (a *App) initCapture(ctx context.Context) error {
	if a.device == nil {
		d, err := a.registry.CreateCapture(a.cfg.Audio)
		if err != nil {
			return err
		}
		a.device = d
	}

	stream, err := a.device.Open(ctx, audio.CaptureConfig{
		SampleRate: a.cfg.Audio.SampleRate,
		Channels:   a.cfg.Audio.Channels,
		BufferSize: a.cfg.Audio.BufferSize,
	})
	if err != nil {
		return fmt.Errorf("open %q: %w", a.cfg.Audio.Backend, err)
	}
	a.stream = stream
	a.closers = append(a.closers, stream.Close)

	spec := stream.Spec()
	a.windows = mailbox.New[audio.Window](a.cfg.Audio.SnapshotQueue)
	a.tap = audio.NewTap(spec.WindowSize(a.cfg.Detector.Window), a.windows, a.onFatal)

	a.log.Info("capture opened", "spec", spec.String(), "window_samples", a.tap.WindowSize())
	return nil
}

// initDetector builds the detector worker between the two mailboxes.
func (a *App) initDetector() error {
	dcfg := activity.Config{
		ActiveThreshold:   a.cfg.Detector.ActiveThreshold,
		HysteresisWindows: a.cfg.Detector.HysteresisWindows,
	}
	if err := dcfg.Validate(); err != nil {
		return err
	}
	det := activity.NewDetector(dcfg)
	a.levels = mailbox.New[bool](1)
	a.worker = activity.NewWorker(det, a.windows, a.levels,
		activity.WithMetrics(a.metrics),
		activity.WithLogger(a.log),
	)
	return nil
}

// initPlayback opens the clip and builds the playback loop drawing into the
// shared surface.
func (a *App) initPlayback(ctx context.Context) error {
	if a.source == nil {
		src, err := a.registry.OpenDecoder(ctx, a.cfg.Video)
		if err != nil {
			return fmt.Errorf("open %q: %w", a.cfg.Video.Path, err)
		}
		a.source = src
	}
	a.closers = append(a.closers, a.source.Close)

	a.surface = present.NewSurface()
	a.loop = playback.New(
		playback.Config{Tick: a.cfg.Playback.Tick},
		a.source, a.surface, a.levels, a.events,
		playback.WithMetrics(a.metrics),
		playback.WithLogger(a.log),
	)
	return nil
}

// initHTTP binds the ops listener. The server itself is started by Run.
func (a *App) initHTTP() error {
	if !a.cfg.Server.HTTPEnabled() {
		return nil
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(observe.Middleware(a.metrics))
	a.health.Routes(r)
	r.Handle("/metrics", promhttp.Handler())

	preview := present.NewPreview(a.surface, a.events,
		present.WithPreviewMetrics(a.metrics),
		present.WithPreviewLogger(a.log),
		present.WithOriginPatterns(a.cfg.Server.PreviewOrigins...),
	)
	preview.Routes(r)

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.httpListener = ln
	a.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.closers = append(a.closers, a.closeHTTP)
	a.log.Info("ops server listening", "addr", ln.Addr().String())
	return nil
}

// initGRPC binds the optional gRPC health listener.
func (a *App) initGRPC() error {
	if a.cfg.Server.GRPCAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.GRPCAddr, err)
	}
	a.grpcListener = ln
	a.grpcServer = grpc.NewServer()
	a.bridge = health.NewGRPCBridge(a.health, health.DefaultSyncInterval)
	a.bridge.Register(a.grpcServer)
	a.closers = append(a.closers, func() error {
		a.grpcServer.Stop()
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	a.log.Info("grpc health listening", "addr", ln.Addr().String())
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts capture, detection and the ops servers, then plays the clip on
// the calling goroutine until the user quits, the stream ends or ctx is
// cancelled.
//
// Run returns nil on a clean end. It returns an error when the first frame
// cannot be shown, when capture fails, or when a pipeline handoff finds its
// peer gone.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	a.fail = cancel

	g, gctx := errgroup.WithContext(ctx)

	// ── Capture ──────────────────────────────────────────────────────────
	g.Go(func() error {
		a.captureReady.Set(true)
		defer a.captureReady.Set(false)
		if err := a.stream.Run(gctx, a.tap); err != nil {
			return fmt.Errorf("app: capture: %w", err)
		}
		return nil
	})

	// ── Detector ─────────────────────────────────────────────────────────
	g.Go(func() error {
		return a.worker.Run(gctx)
	})

	// ── Stats export ─────────────────────────────────────────────────────
	g.Go(func() error {
		a.exportStats(gctx)
		return nil
	})

	// ── Ops servers ──────────────────────────────────────────────────────
	if a.httpServer != nil {
		a.httpServer.BaseContext = func(net.Listener) context.Context { return gctx }
		g.Go(func() error {
			err := a.httpServer.Serve(a.httpListener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: ops server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			if err := a.closeHTTP(); err != nil {
				a.log.Warn("ops server shutdown", "err", err)
			}
			return nil
		})
	}
	if a.grpcServer != nil {
		g.Go(func() error {
			err := a.grpcServer.Serve(a.grpcListener)
			if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("app: grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			return a.bridge.Run(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			// Health watch streams never finish on their own.
			a.grpcServer.Stop()
			return nil
		})
	}

	// ── Playback ─────────────────────────────────────────────────────────
	loopErr := a.play(gctx)

	// Cancel before closing the mailboxes so the workers see a finished
	// context rather than a vanished peer.
	cancel(nil)
	a.windows.Close()
	a.levels.Close()
	waitErr := g.Wait()

	// A failed goroutine cancels gctx, which can surface in the loop as a
	// secondary error; report the root cause first.
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, audio.ErrHandoff):
		return cause
	case waitErr != nil:
		return waitErr
	default:
		return loopErr
	}
}

// play primes the surface, marks playback ready and runs the loop.
func (a *App) play(ctx context.Context) error {
	if err := a.loop.Prime(ctx); err != nil {
		return err
	}
	a.playbackReady.Set(true)
	defer a.playbackReady.Set(false)

	a.log.Info("app running", "tick", a.cfg.Playback.Tick, "window", a.cfg.Detector.Window)
	return a.loop.Run(ctx)
}

// onFatal is the tap's handoff failure callback. It runs on the capture
// goroutine and must not block.
func (a *App) onFatal(err error) {
	if a.fail != nil {
		a.fail(err)
	}
}

// exportStats publishes the lock-free mailbox and tap counters as metric
// deltas until ctx is done, then flushes once more.
func (a *App) exportStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	var lastWindows, lastDropped uint64
	flush := func() {
		windows := a.tap.Windows()
		dropped := a.windows.Stats().Dropped
		// The export context may already be cancelled; counters still count.
		bg := context.WithoutCancel(ctx)
		if d := windows - lastWindows; d > 0 {
			a.metrics.WindowsCaptured.Add(bg, int64(d))
		}
		if d := dropped - lastDropped; d > 0 {
			a.metrics.SnapshotsDropped.Add(bg, int64(d))
			a.log.Debug("detector behind, windows dropped", "dropped", d)
		}
		lastWindows, lastDropped = windows, dropped
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		}
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Events returns the user event queue. Producers (signals, keyboard, preview
// websocket) push quit requests here.
func (a *App) Events() *input.Queue { return a.events }

// Surface returns the presentation surface.
func (a *App) Surface() *present.Surface { return a.surface }

// Health returns the readiness handler.
func (a *App) Health() *health.Handler { return a.health }

// HTTPAddr returns the bound ops server address, or "" when disabled.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC health address, or "" when disabled.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// WindowSize returns the number of samples per detection window.
func (a *App) WindowSize() int { return a.tap.WindowSize() }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the capture stream, the decoder and the listeners. It is
// safe to call more than once and after a failed New.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		var errs []error
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				shutdownErr = errors.Join(errs...)
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeHTTP gracefully stops the ops server. A server that never started
// releases its listener.
func (a *App) closeHTTP() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	err := a.httpServer.Shutdown(ctx)
	if cerr := a.httpListener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}
