// Command talkreel plays a video clip forward only while someone is speaking
// into the microphone.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/talkreel/internal/app"
	"github.com/MrWong99/talkreel/internal/config"
	"github.com/MrWong99/talkreel/internal/input"
	"github.com/MrWong99/talkreel/internal/observe"
	"github.com/MrWong99/talkreel/pkg/audio"
	"github.com/MrWong99/talkreel/pkg/audio/execcapture"
	"github.com/MrWong99/talkreel/pkg/video"
	"github.com/MrWong99/talkreel/pkg/video/ffmpeg"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", config.DefaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	// The default path is optional; an explicit one must exist.
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.LoadOrDefault(*configPath, !explicit)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "talkreel: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "talkreel: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	runID := uuid.NewString()
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Slog())
	logger := observe.WithRunID(newLogger(&level), runID)
	slog.SetDefault(logger)

	slog.Info("talkreel starting",
		"version", version,
		"config", *configPath,
		"video", cfg.Video.Path,
		"capture", cfg.Audio.Backend,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		InstanceID:     runID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	// ── Hot reload ────────────────────────────────────────────────────────────
	if _, statErr := os.Stat(*configPath); statErr == nil {
		w, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
			applyReload(&level, d)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			go func() { _ = w.Run(ctx) }()
		}
	}

	// ── Quit sources ──────────────────────────────────────────────────────────
	events := input.NewQueue(input.DefaultQueueSize)
	go input.WatchSignals(ctx, events, os.Interrupt, syscall.SIGTERM)
	go func() {
		if err := input.ReadKeys(ctx, os.Stdin, events); err != nil {
			slog.Debug("keyboard input stopped", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg,
		app.WithRegistry(reg),
		app.WithEvents(events),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready: speak to play, press q or Ctrl+C to quit", "ops_addr", application.HTTPAddr())

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the subprocess capture and decode backends
// into reg.
func registerBuiltinBackends(reg *config.Registry) {
	for _, backend := range []execcapture.Backend{execcapture.BackendARecord, execcapture.BackendFFmpeg} {
		reg.RegisterCapture(string(backend), func(ac config.AudioConfig) (audio.Device, error) {
			d, err := execcapture.New(backend,
				execcapture.WithBinary(ac.Binary),
				execcapture.WithInput(ac.Device),
				execcapture.WithInputFormat(ac.InputFormat),
			)
			if err != nil {
				return nil, err
			}
			return d, nil
		})
	}

	reg.RegisterDecoder(config.DefaultDecoder, func(ctx context.Context, vc config.VideoConfig) (video.Source, error) {
		d, err := ffmpeg.Open(ctx, vc.Path,
			ffmpeg.WithFFmpeg(vc.FFmpegPath),
			ffmpeg.WithFFprobe(vc.FFprobePath),
		)
		if err != nil {
			return nil, err
		}
		return d, nil
	})

	slog.Debug("registered backends", "capture", reg.CaptureNames(), "decoder", config.DefaultDecoder)
}

// applyReload applies the live-reloadable parts of a config change and warns
// about the rest.
func applyReload(level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changed, restart to apply", "keys", d.RestartRequired)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        talkreel — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Video", cfg.Video.Path)
	printRow("Capture", cfg.Audio.Backend)
	printRow("Window", cfg.Detector.Window.String())
	printRow("Threshold", fmt.Sprint(cfg.Detector.ActiveThreshold))
	printRow("Hysteresis", fmt.Sprint(cfg.Detector.HysteresisWindows))
	printRow("Tick", cfg.Playback.Tick.String())
	if cfg.Server.HTTPEnabled() {
		printRow("Ops addr", cfg.Server.ListenAddr)
	} else {
		printRow("Ops addr", "(disabled)")
	}
	if cfg.Server.GRPCAddr != "" {
		printRow("gRPC health", cfg.Server.GRPCAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
