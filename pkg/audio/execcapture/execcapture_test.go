package execcapture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/talkreel/pkg/audio"
)

// TestHelperProcess is not a real test. It is re-executed by helperCommand to
// stand in for the capture tool.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("TALKREEL_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	switch os.Getenv("TALKREEL_HELPER_MODE") {
	case "pcm":
		// Odd chunking exercises the carried byte across reads.
		pcm := audio.EncodeS16LE(nil, []audio.Sample{1, -2, 300, -32768, 32767})
		os.Stdout.Write(pcm[:3])
		os.Stdout.Sync()
		time.Sleep(20 * time.Millisecond)
		os.Stdout.Write(pcm[3:])
	case "fail":
		fmt.Fprint(os.Stderr, "no such device")
		os.Exit(1)
	case "block":
		time.Sleep(time.Minute)
	}
}

func helperCommand(mode string) func(string, ...string) *exec.Cmd {
	return func(name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = append(os.Environ(),
			"TALKREEL_WANT_HELPER_PROCESS=1",
			"TALKREEL_HELPER_MODE="+mode,
		)
		return cmd
	}
}

type collector struct {
	mu      sync.Mutex
	samples []audio.Sample
}

func (c *collector) OnSample(s audio.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

func TestNew_RejectsUnknownBackend(t *testing.T) {
	_, err := New("portaudio")
	if !errors.Is(err, ErrUnsupportedBackend) {
		t.Fatalf("err = %v, want ErrUnsupportedBackend", err)
	}
}

func TestNegotiate_FillsNativeDefaults(t *testing.T) {
	got := Negotiate(audio.CaptureConfig{Channels: 2})
	want := audio.Spec{SampleRate: DefaultSampleRate, Channels: 2, BufferSize: DefaultBufferSize}
	if got != want {
		t.Errorf("Negotiate = %+v, want %+v", got, want)
	}
}

func TestArgs(t *testing.T) {
	spec := audio.Spec{SampleRate: 16000, Channels: 1, BufferSize: 256}

	ar, _ := New(BackendARecord, WithInput("hw:1"))
	arArgs := strings.Join(ar.Args(spec), " ")
	for _, want := range []string{"-f S16_LE", "-r 16000", "-c 1", "--period-size=256", "-D hw:1", "-t raw"} {
		if !strings.Contains(arArgs, want) {
			t.Errorf("arecord args %q missing %q", arArgs, want)
		}
	}

	ff, _ := New(BackendFFmpeg, WithInputFormat("pulse"))
	ffArgs := ff.Args(spec)
	if !slices.Contains(ffArgs, "pulse") || !slices.Contains(ffArgs, "s16le") {
		t.Errorf("ffmpeg args = %v, want pulse input and s16le output", ffArgs)
	}
	if ffArgs[len(ffArgs)-1] != "-" {
		t.Errorf("ffmpeg must write to stdout, args = %v", ffArgs)
	}
}

func TestStream_DeliversSamplesThenReportsExit(t *testing.T) {
	dev, err := New(BackendARecord, withCommand(helperCommand("pcm")))
	if err != nil {
		t.Fatal(err)
	}
	s, err := dev.Open(context.Background(), audio.CaptureConfig{SampleRate: 8000, Channels: 1, BufferSize: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if got := s.Spec(); got.SampleRate != 8000 || got.BufferSize != 4 {
		t.Errorf("Spec = %+v", got)
	}

	sink := &collector{}
	err = s.Run(context.Background(), sink)
	if !errors.Is(err, ErrDeviceClosed) {
		t.Fatalf("Run err = %v, want ErrDeviceClosed", err)
	}
	want := []audio.Sample{1, -2, 300, -32768, 32767}
	if !slices.Equal(sink.samples, want) {
		t.Errorf("samples = %v, want %v", sink.samples, want)
	}
}

func TestStream_IncludesStderrOnFailure(t *testing.T) {
	dev, _ := New(BackendFFmpeg, withCommand(helperCommand("fail")))
	s, err := dev.Open(context.Background(), audio.CaptureConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	err = s.Run(context.Background(), &collector{})
	if err == nil || !strings.Contains(err.Error(), "no such device") {
		t.Errorf("Run err = %v, want stderr text", err)
	}
}

func TestStream_CancelStopsCleanly(t *testing.T) {
	dev, _ := New(BackendARecord, withCommand(helperCommand("block")))
	s, err := dev.Open(context.Background(), audio.CaptureConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, &collector{}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestOpen_StartFailure(t *testing.T) {
	dev, _ := New(BackendARecord, WithBinary("/nonexistent/talkreel-capture"))
	if _, err := dev.Open(context.Background(), audio.CaptureConfig{}); err == nil {
		t.Fatal("expected start error for missing binary")
	}
}
