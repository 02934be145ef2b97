// Package observe provides application-wide observability primitives for
// Scribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all Scribe metrics.
const meterName = "github.com/MrWong99/scribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// GenerationDuration tracks note generation latency. Use with attribute:
	//   attribute.String("shape", "audio"|"text")
	GenerationDuration metric.Float64Histogram

	// RecordingDuration tracks the length of submitted recordings.
	RecordingDuration metric.Float64Histogram

	// --- Counters ---

	// GenerationRequests counts generation calls. Use with attributes:
	//   attribute.String("shape", ...), attribute.String("status", ...)
	GenerationRequests metric.Int64Counter

	// GenerationErrors counts failed generation calls by error kind
	// (network_failure, service_error, empty_response).
	GenerationErrors metric.Int64Counter

	// NormalizeFailures counts responses that yielded no note content. Use
	// with attribute:
	//   attribute.String("shape", "string"|"object"|"wrapped")
	NormalizeFailures metric.Int64Counter

	// StaleResults counts generation results dropped because a newer request
	// had started.
	StaleResults metric.Int64Counter

	// VersionConflicts counts template edits rejected by compare-and-swap.
	VersionConflicts metric.Int64Counter

	// DocumentDeliveries counts note hand-offs to the document sink. Use with
	// attributes:
	//   attribute.String("sink", ...), attribute.String("status", ...)
	DocumentDeliveries metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open editor sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// generation round trips, which include transcription and LLM inference.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60,
}

// recordingBuckets defines histogram bucket boundaries (in seconds) for
// dictation length.
var recordingBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GenerationDuration, err = m.Float64Histogram("scribe.generation.duration",
		metric.WithDescription("Latency of note generation requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("scribe.recording.duration",
		metric.WithDescription("Length of submitted dictation recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.GenerationRequests, err = m.Int64Counter("scribe.generation.requests",
		metric.WithDescription("Total generation requests by shape and status."),
	); err != nil {
		return nil, err
	}
	if met.GenerationErrors, err = m.Int64Counter("scribe.generation.errors",
		metric.WithDescription("Total generation errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.NormalizeFailures, err = m.Int64Counter("scribe.normalize.failures",
		metric.WithDescription("Total responses from which no note content could be extracted."),
	); err != nil {
		return nil, err
	}
	if met.StaleResults, err = m.Int64Counter("scribe.generation.stale_results",
		metric.WithDescription("Total generation results discarded as superseded."),
	); err != nil {
		return nil, err
	}
	if met.VersionConflicts, err = m.Int64Counter("scribe.template.version_conflicts",
		metric.WithDescription("Total template edits rejected due to a version conflict."),
	); err != nil {
		return nil, err
	}
	if met.DocumentDeliveries, err = m.Int64Counter("scribe.document.deliveries",
		metric.WithDescription("Total note deliveries to the document sink by sink and status."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("scribe.breaker.transitions",
		metric.WithDescription("Total circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("scribe.active_sessions",
		metric.WithDescription("Number of open editor sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("scribe.http.request.duration",
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

// RecordGeneration records one finished generation call. errKind is empty
// on success.
func (m *Metrics) RecordGeneration(ctx context.Context, shape string, d time.Duration, errKind string) {
	status := "ok"
	if errKind != "" {
		status = "error"
		m.GenerationErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", errKind)))
	}
	m.GenerationRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("shape", shape),
			attribute.String("status", status),
		),
	)
	m.GenerationDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("shape", shape)),
	)
}

// RecordNormalizeFailure records a response that produced no note content.
func (m *Metrics) RecordNormalizeFailure(ctx context.Context, shape string) {
	m.NormalizeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("shape", shape)))
}

// RecordStaleResult records a discarded superseded result.
func (m *Metrics) RecordStaleResult(ctx context.Context) {
	m.StaleResults.Add(ctx, 1)
}

// RecordVersionConflict records a rejected template edit.
func (m *Metrics) RecordVersionConflict(ctx context.Context) {
	m.VersionConflicts.Add(ctx, 1)
}

// RecordDocumentDelivery records a note hand-off to a document sink.
func (m *Metrics) RecordDocumentDelivery(ctx context.Context, sink, status string) {
	m.DocumentDeliveries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition records a circuit breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
