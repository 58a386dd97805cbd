// Package mock provides an in-memory [video.Source] for unit tests.
//
// The mock is safe for concurrent use and records how often it was pulled so
// tests can assert on decoder consumption.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkreel/pkg/video"
)

// Source is a mock implementation of [video.Source]. Next returns Frames in
// order; once they are exhausted it returns Err, or [video.ErrEndOfStream] when
// Err is nil.
type Source struct {
	mu sync.Mutex

	// Frames are returned by Next in order.
	Frames []video.Frame

	// Err is returned after Frames are exhausted. Defaults to
	// [video.ErrEndOfStream].
	Err error

	// CallCountNext records how many times Next was called.
	CallCountNext int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Next implements [video.Source].
func (s *Source) Next(ctx context.Context) (video.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountNext++
	if err := ctx.Err(); err != nil {
		return video.Frame{}, err
	}
	if len(s.Frames) == 0 {
		if s.Err != nil {
			return video.Frame{}, s.Err
		}
		return video.Frame{}, video.ErrEndOfStream
	}
	f := s.Frames[0]
	s.Frames = s.Frames[1:]
	return f, nil
}

// Close implements [video.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Pulls returns CallCountNext under the lock.
func (s *Source) Pulls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountNext
}

var _ video.Source = (*Source)(nil)

// Solid returns a width×height frame filled with one colour.
func Solid(width, height int, r, g, b byte) video.Frame {
	pix := make([]byte, width*height*video.BytesPerPixel)
	for i := 0; i < len(pix); i += video.BytesPerPixel {
		pix[i], pix[i+1], pix[i+2] = r, g, b
	}
	return video.Frame{Width: width, Height: height, Pix: pix}
}

// Numbered returns n frames of the given size whose first byte is the frame
// index, so tests can tell which frame was presented.
func Numbered(n, width, height int) []video.Frame {
	frames := make([]video.Frame, n)
	for i := range frames {
		frames[i] = Solid(width, height, byte(i), 0, 0)
	}
	return frames
}
