// Package activity reduces audio windows to a voice activity level.
//
// The [Detector] computes the mean absolute amplitude of each window and
// applies a countdown hysteresis: a loud window re-arms the countdown, every
// quiet window decrements it. "Active" is reported as a level on every window
// while the countdown is positive; "inactive" is reported once, on the window
// where the countdown runs out.
package activity

import (
	"fmt"
	"math"

	"github.com/MrWong99/talkreel/pkg/audio"
)

const (
	// DefaultActiveThreshold is a quarter of the int16 full scale.
	DefaultActiveThreshold = math.MaxInt16 / 4

	// DefaultHysteresisWindows is the number of quiet windows tolerated before
	// activity is reported as ended.
	DefaultHysteresisWindows = 5
)

// Config holds the detector parameters.
type Config struct {
	// ActiveThreshold is the mean absolute amplitude a window must exceed to
	// count as voiced.
	ActiveThreshold int

	// HysteresisWindows is the countdown value a voiced window resets to.
	HysteresisWindows int
}

// DefaultConfig returns the default detector parameters.
func DefaultConfig() Config {
	return Config{
		ActiveThreshold:   DefaultActiveThreshold,
		HysteresisWindows: DefaultHysteresisWindows,
	}
}

// Validate reports invalid parameters.
func (c Config) Validate() error {
	if c.ActiveThreshold < 0 || c.ActiveThreshold > -math.MinInt16 {
		return fmt.Errorf("activity: active threshold %d out of range [0, %d]", c.ActiveThreshold, -math.MinInt16)
	}
	if c.HysteresisWindows < 1 {
		return fmt.Errorf("activity: hysteresis windows must be at least 1, got %d", c.HysteresisWindows)
	}
	return nil
}

// Detector turns windows into activity levels. It owns a single countdown and
// is not safe for concurrent use.
type Detector struct {
	cfg       Config
	countdown int
}

// NewDetector creates a detector starting in the inactive state.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Average returns the mean absolute amplitude of w using truncating integer
// division. An empty window averages to zero.
func Average(w audio.Window) int {
	if len(w) == 0 {
		return 0
	}
	var sum int64
	for _, s := range w {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return int(sum / int64(len(w)))
}

// Process consumes one window. It returns the level to publish and whether a
// level should be published at all for this window.
func (d *Detector) Process(w audio.Window) (active, emit bool) {
	return d.ProcessAverage(Average(w))
}

// ProcessAverage applies the hysteresis to a precomputed window average.
func (d *Detector) ProcessAverage(average int) (active, emit bool) {
	if average > d.cfg.ActiveThreshold {
		d.countdown = d.cfg.HysteresisWindows
	} else {
		if d.countdown == 1 {
			emit = true
		}
		// No floor: the countdown keeps falling through sustained silence.
		d.countdown--
	}
	if d.countdown > 0 {
		return true, true
	}
	return false, emit
}

// Countdown returns the current countdown value. Only its sign is meaningful.
func (d *Detector) Countdown() int { return d.countdown }
