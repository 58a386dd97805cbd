package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like [Load] but returns [Default] when path does not
// exist and optional is set. It is used for the implicit default config path.
func LoadOrDefault(path string, optional bool) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && optional && errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the defaults.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.GRPCAddr != "" && cfg.Server.GRPCAddr == cfg.Server.ListenAddr {
		errs = append(errs, fmt.Errorf("server.grpc_addr %q must differ from server.listen_addr", cfg.Server.GRPCAddr))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 {
		errs = append(errs, fmt.Errorf("audio.channels %d must not be negative", cfg.Audio.Channels))
	}
	if cfg.Audio.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_size %d must not be negative", cfg.Audio.BufferSize))
	}
	if cfg.Audio.SnapshotQueue < 1 {
		errs = append(errs, fmt.Errorf("audio.snapshot_queue %d must be at least 1", cfg.Audio.SnapshotQueue))
	}

	// Detector
	if cfg.Detector.Window < time.Millisecond {
		errs = append(errs, fmt.Errorf("detector.window %s must be at least 1ms", cfg.Detector.Window))
	}
	if cfg.Detector.ActiveThreshold < 0 || cfg.Detector.ActiveThreshold > 32768 {
		errs = append(errs, fmt.Errorf("detector.active_threshold %d is out of range [0, 32768]", cfg.Detector.ActiveThreshold))
	}
	if cfg.Detector.HysteresisWindows < 1 {
		errs = append(errs, fmt.Errorf("detector.hysteresis_windows %d must be at least 1", cfg.Detector.HysteresisWindows))
	}

	// Video
	if cfg.Video.Path == "" {
		errs = append(errs, errors.New("video.path is required"))
	}

	// Playback
	if cfg.Playback.Tick <= 0 {
		errs = append(errs, fmt.Errorf("playback.tick %s must be positive", cfg.Playback.Tick))
	}
	if cfg.Playback.Tick > 0 && cfg.Detector.Window > 0 && cfg.Playback.Tick > cfg.Detector.Window*10 {
		slog.Warn("playback.tick is much longer than detector.window; activity changes will be observed late",
			"tick", cfg.Playback.Tick,
			"window", cfg.Detector.Window,
		)
	}

	return errors.Join(errs...)
}
