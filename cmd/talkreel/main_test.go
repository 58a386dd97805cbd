package main

import (
	"log/slog"
	"slices"
	"testing"

	"github.com/MrWong99/talkreel/internal/config"
)

func TestRegisterBuiltinBackends(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	if got, want := reg.CaptureNames(), []string{"arecord", "ffmpeg"}; !slices.Equal(got, want) {
		t.Fatalf("CaptureNames() = %v, want %v", got, want)
	}
	for _, name := range []string{"arecord", "ffmpeg"} {
		d, err := reg.CreateCapture(config.AudioConfig{Backend: name, Device: "hw:0"})
		if err != nil {
			t.Errorf("CreateCapture(%q): %v", name, err)
		}
		if d == nil {
			t.Errorf("CreateCapture(%q) returned nil device", name)
		}
	}
}

func TestApplyReload(t *testing.T) {
	var level slog.LevelVar
	level.Set(slog.LevelInfo)

	applyReload(&level, config.ConfigDiff{LogLevelChanged: true, NewLogLevel: config.LogDebug})
	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want debug", got)
	}

	applyReload(&level, config.ConfigDiff{RestartRequired: []string{"video"}})
	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("restart-only diff changed level to %v", got)
	}
}
