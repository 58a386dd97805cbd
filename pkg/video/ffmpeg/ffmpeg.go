// Package ffmpeg implements [video.Source] by piping a container through the
// ffmpeg command-line tool.
//
// The stream dimensions are probed with ffprobe first, then ffmpeg decodes the
// first video stream to packed RGB24 on its stdout. Every [Decoder.Next] call
// reads exactly one frame worth of bytes into a freshly allocated buffer.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/MrWong99/talkreel/pkg/video"
)

// maxStderr bounds the amount of subprocess diagnostics kept for error messages.
const maxStderr = 4 << 10

// ErrNoVideoStream is returned by [Open] when the container has no video stream.
var ErrNoVideoStream = errors.New("ffmpeg: no video stream")

// Option configures [Open].
type Option func(*options)

type options struct {
	ffmpeg  string
	ffprobe string
	log     *slog.Logger
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// WithFFmpeg overrides the ffmpeg executable path.
func WithFFmpeg(path string) Option {
	return func(o *options) {
		if path != "" {
			o.ffmpeg = path
		}
	}
}

// WithFFprobe overrides the ffprobe executable path.
func WithFFprobe(path string) Option {
	return func(o *options) {
		if path != "" {
			o.ffprobe = path
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func withCommand(fn func(ctx context.Context, name string, args ...string) *exec.Cmd) Option {
	return func(o *options) { o.command = fn }
}

// Decoder is a running ffmpeg decode of one container.
type Decoder struct {
	width  int
	height int
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *boundedBuffer
	log    *slog.Logger

	frames int

	closeOnce sync.Once
	waitErr   error
}

var _ video.Source = (*Decoder)(nil)

// probeResult is the subset of `ffprobe -of json` output we read.
type probeResult struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
}

// ProbeArgs returns the ffprobe arguments used to read the first video
// stream's dimensions.
func ProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		path,
	}
}

// DecodeArgs returns the ffmpeg arguments that decode path to raw RGB24.
func DecodeArgs(path string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-",
	}
}

// parseProbe extracts the frame size from ffprobe's JSON output.
func parseProbe(out []byte) (width, height int, err error) {
	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, 0, fmt.Errorf("ffmpeg: parse probe output: %w", err)
	}
	if len(res.Streams) == 0 {
		return 0, 0, ErrNoVideoStream
	}
	s := res.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return 0, 0, fmt.Errorf("ffmpeg: invalid stream size %dx%d", s.Width, s.Height)
	}
	return s.Width, s.Height, nil
}

// Open probes path and starts the decoder. The ffmpeg process outlives ctx;
// call [Decoder.Close] to stop it.
func Open(ctx context.Context, path string, opts ...Option) (*Decoder, error) {
	o := options{
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		log:     slog.Default(),
		command: exec.CommandContext,
	}
	for _, fn := range opts {
		fn(&o)
	}
	log := o.log.With("component", "decoder", "path", path)

	probe := o.command(ctx, o.ffprobe, ProbeArgs(path)...)
	var probeErr bytes.Buffer
	probe.Stderr = &probeErr
	out, err := probe.Output()
	if err != nil {
		if msg := bytes.TrimSpace(probeErr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("ffmpeg: probe %s: %w (stderr: %s)", path, err, msg)
		}
		return nil, fmt.Errorf("ffmpeg: probe %s: %w", path, err)
	}
	width, height, err := parseProbe(out)
	if err != nil {
		return nil, err
	}

	cmd := o.command(context.Background(), o.ffmpeg, DecodeArgs(path)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	stderr := &boundedBuffer{limit: maxStderr}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start %s: %w", o.ffmpeg, err)
	}
	log.Info("decoder opened", "width", width, "height", height)

	return &Decoder{
		width:  width,
		height: height,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		log:    log,
	}, nil
}

// Size returns the probed frame dimensions.
func (d *Decoder) Size() (width, height int) { return d.width, d.height }

// Frames returns the number of frames decoded so far.
func (d *Decoder) Frames() int { return d.frames }

// Next reads the next frame. It returns [video.ErrEndOfStream] when ffmpeg
// finished cleanly on a frame boundary and a decode error otherwise.
func (d *Decoder) Next(ctx context.Context) (video.Frame, error) {
	if err := ctx.Err(); err != nil {
		return video.Frame{}, err
	}
	release := context.AfterFunc(ctx, func() { _ = d.Close() })
	defer release()

	pix := make([]byte, d.width*d.height*video.BytesPerPixel)
	_, err := io.ReadFull(d.stdout, pix)
	switch {
	case err == nil:
		d.frames++
		return video.Frame{Width: d.width, Height: d.height, Pix: pix}, nil
	case ctx.Err() != nil:
		return video.Frame{}, ctx.Err()
	case errors.Is(err, io.EOF):
		if werr := d.stop(false); werr != nil {
			return video.Frame{}, d.decodeErr(werr)
		}
		d.log.Debug("end of stream", "frames", d.frames)
		return video.Frame{}, video.ErrEndOfStream
	default:
		_ = d.Close()
		return video.Frame{}, d.decodeErr(err)
	}
}

func (d *Decoder) decodeErr(err error) error {
	if msg := d.stderr.String(); msg != "" {
		return fmt.Errorf("ffmpeg: decode frame %d: %w (stderr: %s)", d.frames, err, msg)
	}
	return fmt.Errorf("ffmpeg: decode frame %d: %w", d.frames, err)
}

// Close stops ffmpeg and reaps it.
func (d *Decoder) Close() error {
	err := d.stop(true)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("ffmpeg: wait: %w", err)
	}
	return nil
}

// stop reaps the process once, killing it first when kill is set. Without kill
// it waits for a process that closed its stdout to exit on its own, so the
// returned status reflects how the decode ended.
func (d *Decoder) stop(kill bool) error {
	d.closeOnce.Do(func() {
		if kill && d.cmd.Process != nil {
			_ = d.cmd.Process.Kill()
		}
		d.waitErr = d.cmd.Wait()
	})
	return d.waitErr
}

// boundedBuffer keeps the first limit bytes written to it.
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
