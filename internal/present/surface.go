// Package present owns the presentation surface the playback loop draws into
// and the HTTP preview that lets a browser watch it.
package present

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/MrWong99/talkreel/pkg/video"
)

// ErrNoFrame is returned when the surface has not been presented to yet.
var ErrNoFrame = errors.New("present: no frame presented yet")

// Presenter accepts frames for display.
type Presenter interface {
	Present(f video.Frame) error
}

// Surface is a double-buffered RGB24 frame store. Present copies the frame
// into the back buffer without holding the lock, then swaps front and back
// under the write lock. Readers hold the read lock while they use the front
// buffer, so they never observe a half-written frame.
//
// Present must be called from a single goroutine. Readers may be concurrent.
type Surface struct {
	// back is touched only by the presenting goroutine.
	back []byte

	mu     sync.RWMutex
	front  []byte
	width  int
	height int
	seq    uint64
	notify chan struct{}
}

var _ Presenter = (*Surface)(nil)

// NewSurface returns an empty surface. Its size is fixed by the first frame.
func NewSurface() *Surface {
	return &Surface{notify: make(chan struct{})}
}

// Present copies f into the surface and makes it the visible frame.
func (s *Surface) Present(f video.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.mu.RLock()
	w, h := s.width, s.height
	s.mu.RUnlock()
	if w != 0 && (f.Width != w || f.Height != h) {
		return fmt.Errorf("present: frame size %dx%d does not match surface %dx%d", f.Width, f.Height, w, h)
	}

	if len(s.back) != len(f.Pix) {
		s.back = make([]byte, len(f.Pix))
	}
	copy(s.back, f.Pix)

	s.mu.Lock()
	s.front, s.back = s.back, s.front
	s.width, s.height = f.Width, f.Height
	s.seq++
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
	return nil
}

// Seq returns the number of frames presented so far.
func (s *Surface) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Size returns the surface dimensions, zero before the first frame.
func (s *Surface) Size() (width, height int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// Changed returns a channel that is closed on the next Present.
func (s *Surface) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notify
}

// Snapshot returns a copy of the visible frame and its sequence number.
func (s *Surface) Snapshot() (video.Frame, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.seq == 0 {
		return video.Frame{}, 0, ErrNoFrame
	}
	pix := make([]byte, len(s.front))
	copy(pix, s.front)
	return video.Frame{Width: s.width, Height: s.height, Pix: pix}, s.seq, nil
}

// EncodePNG writes the visible frame to w as PNG and returns its sequence
// number.
func (s *Surface) EncodePNG(w io.Writer) (uint64, error) {
	s.mu.RLock()
	if s.seq == 0 {
		s.mu.RUnlock()
		return 0, ErrNoFrame
	}
	img := toNRGBA(s.front, s.width, s.height)
	seq := s.seq
	s.mu.RUnlock()

	return seq, png.Encode(w, img)
}

// toNRGBA expands packed RGB24 into an opaque NRGBA image.
func toNRGBA(pix []byte, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(pix); i, j = i+3, j+4 {
		img.Pix[j] = pix[i]
		img.Pix[j+1] = pix[i+1]
		img.Pix[j+2] = pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
