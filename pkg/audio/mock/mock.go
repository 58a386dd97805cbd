// Package mock provides in-memory implementations of [audio.Device] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := &mock.Stream{
//	    SpecResult: audio.Spec{SampleRate: 8000, Channels: 1, BufferSize: 160},
//	    Samples:    []audio.Sample{0, 120, -300},
//	}
//	dev := &mock.Device{OpenResult: stream}
//	s, err := dev.Open(ctx, audio.CaptureConfig{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkreel/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenResult is returned by [Device.Open]. A default Stream is returned
	// when nil.
	OpenResult audio.Stream

	// OpenErr, if non-nil, is returned by [Device.Open].
	OpenErr error

	// OpenCalls records the config of every Open call in order.
	OpenCalls []audio.CaptureConfig
}

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context, cfg audio.CaptureConfig) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, cfg)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.OpenResult != nil {
		return d.OpenResult, nil
	}
	return &Stream{}, nil
}

var _ audio.Device = (*Device)(nil)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Run delivers Samples to
// the sink in order, then either returns RunErr or, when RunErr is nil, blocks
// until the context is cancelled.
type Stream struct {
	mu sync.Mutex

	// SpecResult is returned by [Stream.Spec]. Zero fields default to
	// 8000 Hz, mono, 160 frames.
	SpecResult audio.Spec

	// Samples are delivered by Run.
	Samples []audio.Sample

	// RunErr, if non-nil, is returned by Run after all samples are delivered.
	RunErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountRun records how many times Run was called.
	CallCountRun int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Delivered is closed once Run has handed every sample to the sink.
	Delivered chan struct{}
}

// Spec implements [audio.Stream].
func (s *Stream) Spec() audio.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec := s.SpecResult
	if spec.SampleRate <= 0 {
		spec.SampleRate = 8000
	}
	if spec.Channels <= 0 {
		spec.Channels = 1
	}
	if spec.BufferSize <= 0 {
		spec.BufferSize = 160
	}
	return spec
}

// Run implements [audio.Stream].
func (s *Stream) Run(ctx context.Context, sink audio.Sink) error {
	s.mu.Lock()
	s.CallCountRun++
	samples := s.Samples
	runErr := s.RunErr
	delivered := s.Delivered
	s.mu.Unlock()

	for _, v := range samples {
		if ctx.Err() != nil {
			return nil
		}
		sink.OnSample(v)
	}
	if delivered != nil {
		close(delivered)
	}
	if runErr != nil {
		return runErr
	}
	<-ctx.Done()
	return nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

var _ audio.Stream = (*Stream)(nil)

// ─── Helpers ──────────────────────────────────────────────────────────────────

// Constant returns n samples all equal to v.
func Constant(v audio.Sample, n int) []audio.Sample {
	out := make([]audio.Sample, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Windows concatenates one window of size n per average, each window filled
// with alternating +avg/-avg samples so that its mean absolute amplitude is avg.
func Windows(n int, averages ...audio.Sample) []audio.Sample {
	out := make([]audio.Sample, 0, n*len(averages))
	for _, avg := range averages {
		for i := range n {
			if i%2 == 0 {
				out = append(out, avg)
			} else {
				out = append(out, -avg)
			}
		}
	}
	return out
}
