// Package config provides the configuration schema, loader, file watcher and
// backend registry for talkreel.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the matching [slog.Level]. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultConfigPath        = "talkreel.yaml"
	DefaultListenAddr        = "127.0.0.1:8080"
	DefaultCaptureBackend    = "arecord"
	DefaultSnapshotQueue     = 4
	DefaultWindow            = 100 * time.Millisecond
	DefaultActiveThreshold   = 32767 / 4
	DefaultHysteresisWindows = 5
	DefaultVideoPath         = "video.mp4"
	DefaultDecoder           = "ffmpeg"
	DefaultTick              = 50 * time.Millisecond
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Audio    AudioConfig    `yaml:"audio"`
	Detector DetectorConfig `yaml:"detector"`
	Video    VideoConfig    `yaml:"video"`
	Playback PlaybackConfig `yaml:"playback"`
}

// ServerConfig holds the operational endpoints and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the ops HTTP server (health, metrics,
	// preview). Set to "-" to disable it.
	ListenAddr string `yaml:"listen_addr"`

	// GRPCAddr, when set, starts a gRPC health service on this address.
	GRPCAddr string `yaml:"grpc_addr"`

	// LogLevel controls verbosity. Changes are applied without restart.
	LogLevel LogLevel `yaml:"log_level"`

	// PreviewOrigins lists extra host patterns allowed to open the preview
	// websocket from a browser page served elsewhere.
	PreviewOrigins []string `yaml:"preview_origins"`
}

// HTTPEnabled reports whether the ops HTTP server should run.
func (s ServerConfig) HTTPEnabled() bool { return s.ListenAddr != "-" }

// AudioConfig selects and configures the capture device.
type AudioConfig struct {
	// Backend names the capture factory in the [Registry] ("arecord", "ffmpeg").
	Backend string `yaml:"backend"`

	// Binary overrides the capture tool executable.
	Binary string `yaml:"binary"`

	// Device is the capture device name passed to the backend. Empty selects
	// the system default.
	Device string `yaml:"device"`

	// InputFormat is the ffmpeg input format (e.g. "alsa", "pulse").
	InputFormat string `yaml:"input_format"`

	// SampleRate, Channels and BufferSize request a capture format. Zero
	// leaves the choice to the device.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BufferSize int `yaml:"buffer_size"`

	// SnapshotQueue is the capacity of the window handoff between capture and
	// detector. Older windows are dropped when it is full.
	SnapshotQueue int `yaml:"snapshot_queue"`
}

// DetectorConfig tunes voice activity detection.
type DetectorConfig struct {
	// Window is the audio duration reduced to one activity decision.
	Window time.Duration `yaml:"window"`

	// ActiveThreshold is the mean absolute amplitude (0..32768) a window must
	// exceed to count as speech.
	ActiveThreshold int `yaml:"active_threshold"`

	// HysteresisWindows is how many windows activity is held after the last
	// loud one.
	HysteresisWindows int `yaml:"hysteresis_windows"`
}

// VideoConfig locates the clip and the decoder tools.
type VideoConfig struct {
	Path        string `yaml:"path"`
	Decoder     string `yaml:"decoder"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

// PlaybackConfig controls the playback loop.
type PlaybackConfig struct {
	// Tick is the activity poll and frame advance interval.
	Tick time.Duration `yaml:"tick"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults. Capture
// format fields stay zero so the device picks its native format.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = DefaultCaptureBackend
	}
	if cfg.Audio.SnapshotQueue == 0 {
		cfg.Audio.SnapshotQueue = DefaultSnapshotQueue
	}
	if cfg.Detector.Window == 0 {
		cfg.Detector.Window = DefaultWindow
	}
	if cfg.Detector.ActiveThreshold == 0 {
		cfg.Detector.ActiveThreshold = DefaultActiveThreshold
	}
	if cfg.Detector.HysteresisWindows == 0 {
		cfg.Detector.HysteresisWindows = DefaultHysteresisWindows
	}
	if cfg.Video.Path == "" {
		cfg.Video.Path = DefaultVideoPath
	}
	if cfg.Video.Decoder == "" {
		cfg.Video.Decoder = DefaultDecoder
	}
	if cfg.Playback.Tick == 0 {
		cfg.Playback.Tick = DefaultTick
	}
}
