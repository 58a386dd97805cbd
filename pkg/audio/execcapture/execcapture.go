// Package execcapture implements [audio.Device] on top of a command-line
// capture tool (arecord or ffmpeg) that writes raw signed 16-bit little-endian
// PCM to its standard output.
//
// The subprocess is the hardware boundary: its stdout is read on the stream's
// own goroutine, decoded into a preallocated sample buffer and handed to the
// sink one sample at a time.
package execcapture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/MrWong99/talkreel/pkg/audio"
)

// Backend names a supported capture tool.
type Backend string

const (
	// BackendARecord captures through ALSA's arecord.
	BackendARecord Backend = "arecord"

	// BackendFFmpeg captures through ffmpeg with a configurable input format.
	BackendFFmpeg Backend = "ffmpeg"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	return b == BackendARecord || b == BackendFFmpeg
}

// Native defaults used when the requested config leaves a field at zero.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 1
	DefaultBufferSize = 1024
)

// maxStderr bounds the amount of subprocess diagnostics kept for error messages.
const maxStderr = 4 << 10

var (
	// ErrUnsupportedBackend is returned by [New] for an unknown backend.
	ErrUnsupportedBackend = errors.New("execcapture: unsupported backend")

	// ErrDeviceClosed is returned by Run when the capture process exits.
	ErrDeviceClosed = errors.New("execcapture: capture process exited")
)

// Option configures a [Device].
type Option func(*Device)

// WithBinary overrides the executable path (defaults to the backend name).
func WithBinary(path string) Option {
	return func(d *Device) {
		if path != "" {
			d.binary = path
		}
	}
}

// WithInput selects the capture device (arecord -D, ffmpeg -i). Empty uses the
// tool's default device.
func WithInput(name string) Option {
	return func(d *Device) { d.input = name }
}

// WithInputFormat sets the ffmpeg input format (default "alsa"). Ignored by
// arecord.
func WithInputFormat(format string) Option {
	return func(d *Device) {
		if format != "" {
			d.inputFormat = format
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// withCommand replaces command construction. Used by tests.
func withCommand(fn func(name string, args ...string) *exec.Cmd) Option {
	return func(d *Device) { d.command = fn }
}

// Device launches one capture subprocess per Open call.
type Device struct {
	backend     Backend
	binary      string
	input       string
	inputFormat string
	log         *slog.Logger
	command     func(name string, args ...string) *exec.Cmd
}

// New creates a Device for backend.
func New(backend Backend, opts ...Option) (*Device, error) {
	if !backend.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
	d := &Device{
		backend:     backend,
		binary:      string(backend),
		inputFormat: "alsa",
		log:         slog.Default(),
		command:     exec.Command,
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.With("component", "capture", "backend", string(backend))
	return d, nil
}

var _ audio.Device = (*Device)(nil)

// Negotiate fills zero fields of cfg with the native defaults.
func Negotiate(cfg audio.CaptureConfig) audio.Spec {
	spec := audio.Spec{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		BufferSize: cfg.BufferSize,
	}
	if spec.SampleRate <= 0 {
		spec.SampleRate = DefaultSampleRate
	}
	if spec.Channels <= 0 {
		spec.Channels = DefaultChannels
	}
	if spec.BufferSize <= 0 {
		spec.BufferSize = DefaultBufferSize
	}
	return spec
}

// Args returns the command-line arguments for capturing spec.
func (d *Device) Args(spec audio.Spec) []string {
	rate := strconv.Itoa(spec.SampleRate)
	ch := strconv.Itoa(spec.Channels)

	switch d.backend {
	case BackendFFmpeg:
		input := d.input
		if input == "" {
			input = "default"
		}
		return []string{
			"-hide_banner", "-loglevel", "error", "-nostdin",
			"-f", d.inputFormat, "-i", input,
			"-ac", ch, "-ar", rate,
			"-f", "s16le", "-",
		}
	default:
		args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", ch,
			"--period-size=" + strconv.Itoa(spec.BufferSize)}
		if d.input != "" {
			args = append(args, "-D", d.input)
		}
		return args
	}
}

// Open starts the capture process. The process runs until the stream is
// closed; ctx only bounds the start-up.
func (d *Device) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec := Negotiate(cfg)

	cmd := d.command(d.binary, d.Args(spec)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("execcapture: stdout pipe: %w", err)
	}
	stderr := &boundedBuffer{limit: maxStderr}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("execcapture: start %s: %w", d.binary, err)
	}
	d.log.Info("capture spec", "sample_rate", spec.SampleRate, "channels", spec.Channels, "buffer_size", spec.BufferSize)

	return &stream{
		spec:   spec,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		log:    d.log,
	}, nil
}

// stream is the [audio.Stream] backed by a running subprocess.
type stream struct {
	spec   audio.Spec
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *boundedBuffer
	log    *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *stream) Spec() audio.Spec { return s.spec }

// Run reads the subprocess output until ctx ends or the process exits.
func (s *stream) Run(ctx context.Context, sink audio.Sink) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	buf := make([]byte, s.spec.BufferSize*s.spec.Channels*2)
	samples := make([]audio.Sample, len(buf)/2)
	carry := 0

	for {
		n, err := s.stdout.Read(buf[carry:])
		total := carry + n
		m := audio.DecodeS16LE(samples, buf[:total])
		for _, v := range samples[:m] {
			sink.OnSample(v)
		}
		carry = total - 2*m
		if carry > 0 {
			buf[0] = buf[total-1]
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				err = ErrDeviceClosed
			}
			// Reaping the process flushes its stderr into s.stderr.
			_ = s.Close()
			if msg := s.stderr.String(); msg != "" {
				return fmt.Errorf("execcapture: read: %w (stderr: %s)", err, msg)
			}
			return fmt.Errorf("execcapture: read: %w", err)
		}
	}
}

// Close kills the subprocess and reaps it.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			s.closeErr = fmt.Errorf("execcapture: wait: %w", err)
		}
		s.log.Debug("capture process stopped")
	})
	return s.closeErr
}

// boundedBuffer keeps the first limit bytes written to it. It is written by the
// exec package's stderr copier and read after the process exits.
type boundedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		b.buf.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf.Bytes()))
}
