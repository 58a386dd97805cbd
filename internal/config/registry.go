package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/talkreel/pkg/audio"
	"github.com/MrWong99/talkreel/pkg/video"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// CaptureFactory builds a capture device from the audio section.
type CaptureFactory func(AudioConfig) (audio.Device, error)

// DecoderFactory opens the configured clip.
type DecoderFactory func(context.Context, VideoConfig) (video.Source, error)

// Registry maps backend names to constructors for the capture device and the
// video decoder. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	capture  map[string]CaptureFactory
	decoders map[string]DecoderFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:  make(map[string]CaptureFactory),
		decoders: make(map[string]DecoderFactory),
	}
}

// RegisterCapture registers a capture factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory CaptureFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterDecoder registers a decoder factory under name.
func (r *Registry) RegisterDecoder(name string, factory DecoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[name] = factory
}

// CreateCapture instantiates the capture device named by cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateCapture(cfg AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.capture[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q (known: %v)", ErrBackendNotRegistered, cfg.Backend, r.CaptureNames())
	}
	return factory(cfg)
}

// OpenDecoder opens the clip with the decoder named by cfg.Decoder.
// Returns [ErrBackendNotRegistered] if no factory has been registered for it.
func (r *Registry) OpenDecoder(ctx context.Context, cfg VideoConfig) (video.Source, error) {
	r.mu.RLock()
	factory, ok := r.decoders[cfg.Decoder]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: decoder/%q", ErrBackendNotRegistered, cfg.Decoder)
	}
	return factory(ctx, cfg)
}

// CaptureNames returns the registered capture backend names, sorted.
func (r *Registry) CaptureNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.capture))
	for n := range r.capture {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
