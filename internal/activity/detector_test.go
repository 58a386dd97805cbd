package activity

import (
	"math"
	"testing"

	"github.com/MrWong99/talkreel/pkg/audio"
)

// level is the expected outcome of one window: "-" for no emission, "T" or "F"
// for an emitted level.
func level(active, emit bool) string {
	switch {
	case !emit:
		return "-"
	case active:
		return "T"
	default:
		return "F"
	}
}

func TestAverage(t *testing.T) {
	tests := []struct {
		name string
		w    audio.Window
		want int
	}{
		{"empty", nil, 0},
		{"silence", audio.Window{0, 0, 0, 0}, 0},
		{"symmetric", audio.Window{100, -100, 100, -100}, 100},
		{"truncates", audio.Window{1, 2}, 1},
		{"min int16 does not wrap", audio.Window{math.MinInt16, math.MinInt16}, 32768},
		{"mixed", audio.Window{10, -20, 30, -40}, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Average(tt.w); got != tt.want {
				t.Errorf("Average(%v) = %d, want %d", tt.w, got, tt.want)
			}
		})
	}
}

func TestDetector_Hysteresis(t *testing.T) {
	averages := []int{50, 150, 50, 50, 50, 50, 50, 50}

	tests := []struct {
		hysteresis int
		want       []string
	}{
		// The loud window and the next hysteresis-1 quiet windows are active;
		// the window where the countdown is 1 reports the release.
		{5, []string{"-", "T", "T", "T", "T", "T", "F", "-"}},
		{4, []string{"-", "T", "T", "T", "T", "F", "-", "-"}},
		{2, []string{"-", "T", "T", "F", "-", "-", "-", "-"}},
	}
	for _, tt := range tests {
		d := NewDetector(Config{ActiveThreshold: 100, HysteresisWindows: tt.hysteresis})
		for i, avg := range averages {
			if got := level(d.ProcessAverage(avg)); got != tt.want[i] {
				t.Errorf("hysteresis %d, window %d (avg %d): got %s, want %s", tt.hysteresis, i, avg, got, tt.want[i])
			}
		}
	}
}

func TestDetector_ThresholdIsExclusive(t *testing.T) {
	d := NewDetector(Config{ActiveThreshold: 100, HysteresisWindows: 2})
	if got := level(d.ProcessAverage(100)); got != "-" {
		t.Errorf("average equal to threshold: got %s, want -", got)
	}
	if got := level(d.ProcessAverage(101)); got != "T" {
		t.Errorf("average above threshold: got %s, want T", got)
	}
}

func TestDetector_LoudRearms(t *testing.T) {
	d := NewDetector(Config{ActiveThreshold: 100, HysteresisWindows: 3})

	averages := []int{500, 0, 0, 500, 0, 0, 0}
	want := []string{"T", "T", "T", "T", "T", "T", "F"}
	for i, avg := range averages {
		if got := level(d.ProcessAverage(avg)); got != want[i] {
			t.Errorf("window %d: got %s, want %s", i, got, want[i])
		}
	}
}

func TestDetector_HysteresisOne(t *testing.T) {
	d := NewDetector(Config{ActiveThreshold: 100, HysteresisWindows: 1})

	averages := []int{500, 0, 500, 500, 0, 0}
	want := []string{"T", "F", "T", "T", "F", "-"}
	for i, avg := range averages {
		if got := level(d.ProcessAverage(avg)); got != want[i] {
			t.Errorf("window %d: got %s, want %s", i, got, want[i])
		}
	}
}

func TestDetector_CountdownKeepsFalling(t *testing.T) {
	d := NewDetector(Config{ActiveThreshold: 100, HysteresisWindows: 2})

	for range 10 {
		if _, emit := d.ProcessAverage(0); emit {
			t.Fatal("silence from the initial state must not emit")
		}
	}
	if got := d.Countdown(); got != -10 {
		t.Errorf("Countdown() = %d, want -10", got)
	}

	// A single loud window still re-arms fully.
	if got := level(d.ProcessAverage(1000)); got != "T" {
		t.Errorf("after long silence: got %s, want T", got)
	}
	if got := d.Countdown(); got != 2 {
		t.Errorf("Countdown() = %d, want 2", got)
	}
}

func TestDetector_Process(t *testing.T) {
	d := NewDetector(DefaultConfig())

	loud := make(audio.Window, 100)
	for i := range loud {
		loud[i] = 20000
	}
	if active, emit := d.Process(loud); !active || !emit {
		t.Errorf("Process(loud) = (%v, %v), want (true, true)", active, emit)
	}

	quiet := make(audio.Window, 100)
	for range DefaultHysteresisWindows - 1 {
		if active, emit := d.Process(quiet); !active || !emit {
			t.Fatalf("Process(quiet) during hold = (%v, %v), want (true, true)", active, emit)
		}
	}
	if active, emit := d.Process(quiet); active || !emit {
		t.Errorf("Process(quiet) at release = (%v, %v), want (false, true)", active, emit)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero threshold", Config{ActiveThreshold: 0, HysteresisWindows: 1}, false},
		{"full scale", Config{ActiveThreshold: 32768, HysteresisWindows: 1}, false},
		{"negative threshold", Config{ActiveThreshold: -1, HysteresisWindows: 5}, true},
		{"threshold too large", Config{ActiveThreshold: 40000, HysteresisWindows: 5}, true},
		{"zero hysteresis", Config{ActiveThreshold: 100, HysteresisWindows: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ActiveThreshold != 8191 {
		t.Errorf("ActiveThreshold = %d, want 8191", cfg.ActiveThreshold)
	}
	if cfg.HysteresisWindows != 5 {
		t.Errorf("HysteresisWindows = %d, want 5", cfg.HysteresisWindows)
	}
}
