// Package video defines the frame type and the sequential decoder interface
// consumed by the playback loop.
package video

import (
	"context"
	"errors"
	"fmt"
)

// BytesPerPixel is the size of one packed RGB24 pixel.
const BytesPerPixel = 3

// ErrEndOfStream is returned by [Source.Next] once the container has no more
// frames. Any other error from Next is a decode failure.
var ErrEndOfStream = errors.New("video: end of stream")

// Frame is one decoded picture in packed RGB24: Pix holds Height rows of
// exactly Width*3 bytes with no padding.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// Stride returns the number of bytes per row.
func (f Frame) Stride() int { return f.Width * BytesPerPixel }

// Validate reports whether Pix matches the frame dimensions exactly.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("video: invalid frame size %dx%d", f.Width, f.Height)
	}
	if want := f.Stride() * f.Height; len(f.Pix) != want {
		return fmt.Errorf("video: frame %dx%d has %d bytes, want %d", f.Width, f.Height, len(f.Pix), want)
	}
	return nil
}

// At returns the RGB triple of the pixel at (x, y).
func (f Frame) At(x, y int) (r, g, b byte) {
	i := y*f.Stride() + x*BytesPerPixel
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Source yields frames sequentially. Implementations are not safe for
// concurrent use.
type Source interface {
	// Next decodes and returns the next frame. The returned Pix is owned by
	// the caller.
	Next(ctx context.Context) (Frame, error)

	// Close releases the decoder.
	Close() error
}
