// Package observe provides application-wide observability primitives for
// vocascan: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vocascan metrics.
const meterName = "github.com/MrWong99/vocascan"

// Submission outcomes recorded on [Metrics.Submissions].
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeStale     = "stale"
	OutcomeCancelled = "cancelled"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Tracking engine ---

	// FramesDelivered counts voiced frames handed to the frame callback.
	FramesDelivered metric.Int64Counter

	// PollErrors counts failed frequency-source polls.
	PollErrors metric.Int64Counter

	// StartFailures counts sessions that never reached Running. Use with
	// attribute.String("reason", ...): "acquisition", "provider", "aborted".
	StartFailures metric.Int64Counter

	// StartDuration tracks how long device and provider acquisition took.
	StartDuration metric.Float64Histogram

	// SessionDuration tracks the length of completed sessions.
	SessionDuration metric.Float64Histogram

	// ActiveSessions tracks the number of running tracking sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Submissions ---

	// SubmissionDuration tracks scoring round-trip latency.
	SubmissionDuration metric.Float64Histogram

	// Submissions counts finished submissions. Use with attribute:
	//   attribute.String("outcome", ...)
	Submissions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// acquisition and network round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// sessionBuckets covers sung phrases up to several minutes.
var sessionBuckets = []float64{
	1, 2, 5, 10, 20, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Engine.
	if met.FramesDelivered, err = m.Int64Counter("vocascan.engine.frames",
		metric.WithDescription("Voiced frames delivered to the frame callback."),
	); err != nil {
		return nil, err
	}
	if met.PollErrors, err = m.Int64Counter("vocascan.engine.poll_errors",
		metric.WithDescription("Failed frequency-source polls."),
	); err != nil {
		return nil, err
	}
	if met.StartFailures, err = m.Int64Counter("vocascan.engine.start_failures",
		metric.WithDescription("Sessions that failed or were aborted while starting, by reason."),
	); err != nil {
		return nil, err
	}
	if met.StartDuration, err = m.Float64Histogram("vocascan.engine.start.duration",
		metric.WithDescription("Latency of capture and frequency-source acquisition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("vocascan.engine.session.duration",
		metric.WithDescription("Length of completed tracking sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("vocascan.engine.active_sessions",
		metric.WithDescription("Number of running tracking sessions."),
	); err != nil {
		return nil, err
	}

	// Submissions.
	if met.SubmissionDuration, err = m.Float64Histogram("vocascan.submission.duration",
		metric.WithDescription("Latency of scoring submissions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Submissions, err = m.Int64Counter("vocascan.submission.count",
		metric.WithDescription("Finished scoring submissions by outcome."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocascan.http.request.duration",
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
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordStartFailure increments the start failure counter for reason.
func (m *Metrics) RecordStartFailure(ctx context.Context, reason string) {
	m.StartFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordSubmission records one finished submission with its outcome and
// latency.
func (m *Metrics) RecordSubmission(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Submissions.Add(ctx, 1, attrs)
	m.SubmissionDuration.Record(ctx, d.Seconds(), attrs)
}
