// Package audio defines the capture-side types of the talkreel pipeline and
// the [Ring] that turns a realtime sample stream into fixed-size windows.
//
// The capture collaborator is modelled as two narrow interfaces:
//
//   - [Device] opens a capture stream with a requested [CaptureConfig] and
//     returns a [Stream] carrying the negotiated [Spec].
//   - [Stream] delivers every captured sample to a [Sink] from its own
//     goroutine until the context ends or the device fails.
//
// The [Sink] callback is the realtime path. Implementations must not block,
// allocate unboundedly or panic; [Tap] is the implementation used by the
// pipeline.
package audio

import (
	"context"
	"fmt"
	"time"
)

// Sample is one signed 16-bit amplitude value from one channel at one instant.
type Sample = int16

// Window is an immutable copy of one completed detection window. It never
// aliases the [Ring] it was taken from.
type Window []Sample

// CaptureConfig is the requested capture configuration. A zero field means
// "use the device native value".
type CaptureConfig struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int

	// BufferSize is the number of frames delivered per hardware read.
	BufferSize int
}

// Spec is the capture configuration actually negotiated with the device.
// All fields are positive.
type Spec struct {
	SampleRate int
	Channels   int
	BufferSize int
}

// String implements [fmt.Stringer].
func (s Spec) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d frames/buffer", s.SampleRate, s.Channels, s.BufferSize)
}

// WindowSize returns the number of samples covering d of audio at this spec.
// Interleaved channels are counted individually so a window always spans d
// regardless of the channel count. The result is at least 1.
func (s Spec) WindowSize(d time.Duration) int {
	n := int(int64(s.SampleRate) * int64(s.Channels) * int64(d) / int64(time.Second))
	return max(n, 1)
}

// Sink receives captured samples. OnSample is invoked once per sample from the
// capture goroutine.
type Sink interface {
	OnSample(s Sample)
}

// SinkFunc adapts an ordinary function to the [Sink] interface.
type SinkFunc func(Sample)

// OnSample calls f(s).
func (f SinkFunc) OnSample(s Sample) { f(s) }

// Stream is an opened capture stream.
type Stream interface {
	// Spec returns the negotiated capture configuration.
	Spec() Spec

	// Run delivers samples to sink until ctx is cancelled or the device fails.
	// It returns nil when ctx ends and a non-nil error on device failure.
	Run(ctx context.Context, sink Sink) error

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Device opens capture streams.
type Device interface {
	Open(ctx context.Context, cfg CaptureConfig) (Stream, error)
}
