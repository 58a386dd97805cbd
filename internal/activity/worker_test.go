package activity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/talkreel/internal/activity"
	"github.com/MrWong99/talkreel/internal/mailbox"
	"github.com/MrWong99/talkreel/internal/observe"
	"github.com/MrWong99/talkreel/pkg/audio"
)

func window(avg audio.Sample) audio.Window {
	return audio.Window{avg, -avg, avg, -avg}
}

func runWorker(t *testing.T, w *activity.Worker) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not return")
		return nil
	}
}

func TestWorker_PublishesLevels(t *testing.T) {
	in := mailbox.New[audio.Window](16)
	out := mailbox.New[bool](16)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	det := activity.NewDetector(activity.Config{ActiveThreshold: 100, HysteresisWindows: 2})
	w := activity.NewWorker(det, in, out, activity.WithMetrics(m))
	cancel, done := runWorker(t, w)

	for _, avg := range []audio.Sample{10, 500, 10, 10, 10} {
		if err := in.Send(window(avg)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	want := []bool{true, true, false}
	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	for i, wantLevel := range want {
		got, err := out.Recv(ctx)
		if err != nil {
			t.Fatalf("level %d: %v", i, err)
		}
		if got != wantLevel {
			t.Errorf("level %d = %v, want %v", i, got, wantLevel)
		}
	}

	cancel()
	if err := wait(t, done); err != nil {
		t.Errorf("Run() after cancel = %v, want nil", err)
	}
	if v, ok := out.TryRecv(); ok {
		t.Errorf("unexpected extra level %v", v)
	}
}

func TestWorker_InputClosed(t *testing.T) {
	in := mailbox.New[audio.Window](4)
	out := mailbox.New[bool](4)
	w := activity.NewWorker(activity.NewDetector(activity.DefaultConfig()), in, out)
	_, done := runWorker(t, w)

	in.Close()
	err := wait(t, done)
	if !errors.Is(err, mailbox.ErrClosed) {
		t.Errorf("Run() = %v, want ErrClosed", err)
	}
}

func TestWorker_OutputClosed(t *testing.T) {
	in := mailbox.New[audio.Window](4)
	out := mailbox.New[bool](4)
	out.Close()

	det := activity.NewDetector(activity.Config{ActiveThreshold: 100, HysteresisWindows: 3})
	w := activity.NewWorker(det, in, out)
	_, done := runWorker(t, w)

	if err := in.Send(window(1000)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	err := wait(t, done)
	if !errors.Is(err, mailbox.ErrClosed) {
		t.Errorf("Run() = %v, want ErrClosed", err)
	}
}

func TestWorker_QuietInputPublishesNothing(t *testing.T) {
	in := mailbox.New[audio.Window](8)
	out := mailbox.New[bool](8)
	w := activity.NewWorker(activity.NewDetector(activity.DefaultConfig()), in, out)
	cancel, done := runWorker(t, w)

	for range 5 {
		_ = in.Send(window(10))
	}
	// Closing after the sends makes Run drain every pending window before it
	// observes the closed mailbox.
	in.Close()
	if err := wait(t, done); !errors.Is(err, mailbox.ErrClosed) {
		t.Errorf("Run() = %v, want ErrClosed", err)
	}
	cancel()

	if v, ok := out.TryRecv(); ok {
		t.Errorf("quiet input published %v", v)
	}
}
