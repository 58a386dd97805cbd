package audio

// Ring accumulates samples into a fixed-capacity circular buffer and produces
// a [Window] each time the write cursor wraps back to zero.
//
// A Ring is owned by a single goroutine (the capture callback) and is not safe
// for concurrent use.
type Ring struct {
	buf []Sample
	pos int
}

// NewRing creates a ring holding size samples. size must be positive.
func NewRing(size int) *Ring {
	if size <= 0 {
		panic("audio: ring size must be positive")
	}
	return &Ring{buf: make([]Sample, size)}
}

// Push writes s at the cursor and advances it modulo the capacity. When the
// cursor wraps to zero the full buffer is copied out and returned with ok set.
func (r *Ring) Push(s Sample) (w Window, ok bool) {
	r.buf[r.pos] = s
	r.pos++
	if r.pos < len(r.buf) {
		return nil, false
	}
	r.pos = 0
	w = make(Window, len(r.buf))
	copy(w, r.buf)
	return w, true
}

// Len returns the ring capacity N.
func (r *Ring) Len() int { return len(r.buf) }

// Pos returns the current write cursor in [0, Len()).
func (r *Ring) Pos() int { return r.pos }
