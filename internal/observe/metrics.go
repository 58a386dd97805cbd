// Package observe provides the observability primitives shared by the talkreel
// pipeline: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider] so they can be scraped from /metrics. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all talkreel metrics.
const meterName = "github.com/MrWong99/talkreel"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture ---

	// WindowsCaptured counts windows completed by the capture tap.
	WindowsCaptured metric.Int64Counter

	// SnapshotsDropped counts windows evicted from the snapshot queue because
	// the detector fell behind.
	SnapshotsDropped metric.Int64Counter

	// --- Detection ---

	// WindowsProcessed counts windows run through the detector.
	WindowsProcessed metric.Int64Counter

	// WindowAverage records the mean absolute amplitude per window.
	WindowAverage metric.Int64Histogram

	// DetectDuration tracks the time spent reducing a single window.
	DetectDuration metric.Float64Histogram

	// ActivityEvents counts published activity levels. Use with attribute:
	//   attribute.Bool("active", ...)
	ActivityEvents metric.Int64Counter

	// --- Playback ---

	// Ticks counts playback loop iterations. Use with attribute:
	//   attribute.Bool("active", ...)
	Ticks metric.Int64Counter

	// FramesPresented counts frames pulled from the decoder and presented.
	FramesPresented metric.Int64Counter

	// FrameDuration tracks frame pull plus present latency.
	FrameDuration metric.Float64Histogram

	// DecodeFailures counts decoder errors that ended playback.
	DecodeFailures metric.Int64Counter

	// --- Preview ---

	// PreviewClients tracks the number of connected preview websockets.
	PreviewClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// per-tick work, which must stay well under the playback tick.
var latencyBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// amplitudeBuckets covers the int16 magnitude range.
var amplitudeBuckets = []float64{
	64, 256, 1024, 2048, 4096, 8192, 12288, 16384, 24576, 32768,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.WindowsCaptured, err = m.Int64Counter("talkreel.capture.windows",
		metric.WithDescription("Total audio windows completed by the capture tap."),
	); err != nil {
		return nil, err
	}
	if met.SnapshotsDropped, err = m.Int64Counter("talkreel.capture.snapshots_dropped",
		metric.WithDescription("Total windows evicted before the detector consumed them."),
	); err != nil {
		return nil, err
	}
	if met.WindowsProcessed, err = m.Int64Counter("talkreel.detector.windows",
		metric.WithDescription("Total windows processed by the activity detector."),
	); err != nil {
		return nil, err
	}
	if met.ActivityEvents, err = m.Int64Counter("talkreel.detector.events",
		metric.WithDescription("Total activity levels published, by level."),
	); err != nil {
		return nil, err
	}
	if met.Ticks, err = m.Int64Counter("talkreel.playback.ticks",
		metric.WithDescription("Total playback loop ticks, by activity state."),
	); err != nil {
		return nil, err
	}
	if met.FramesPresented, err = m.Int64Counter("talkreel.playback.frames",
		metric.WithDescription("Total video frames presented."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("talkreel.playback.decode_failures",
		metric.WithDescription("Total decoder failures that ended playback."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.WindowAverage, err = m.Int64Histogram("talkreel.detector.window_average",
		metric.WithDescription("Mean absolute amplitude per window."),
		metric.WithExplicitBucketBoundaries(amplitudeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DetectDuration, err = m.Float64Histogram("talkreel.detector.duration",
		metric.WithDescription("Latency of reducing one window to an activity level."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FrameDuration, err = m.Float64Histogram("talkreel.playback.frame.duration",
		metric.WithDescription("Latency of pulling and presenting one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PreviewClients, err = m.Int64UpDownCounter("talkreel.preview.clients",
		metric.WithDescription("Number of connected preview websocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("talkreel.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordActivity records one published activity level.
func (m *Metrics) RecordActivity(ctx context.Context, active bool) {
	m.ActivityEvents.Add(ctx, 1, metric.WithAttributes(attribute.Bool("active", active)))
}

// RecordTick records one playback tick with the activity state it observed.
func (m *Metrics) RecordTick(ctx context.Context, active bool) {
	m.Ticks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("active", active)))
}

// RecordDecodeFailure records a decoder failure, tagged with its reason
// ("eos" or "error").
func (m *Metrics) RecordDecodeFailure(ctx context.Context, reason string) {
	m.DecodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
