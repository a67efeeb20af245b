// Package observe provides application-wide observability primitives for
// Hark: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the monitor server's /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Hark metrics.
const meterName = "github.com/hark-voice/hark"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognitionDuration tracks speech recognition latency per utterance.
	RecognitionDuration metric.Float64Histogram

	// ClassificationDuration tracks intent classification latency.
	ClassificationDuration metric.Float64Histogram

	// DispatchDuration tracks command execution latency.
	DispatchDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts utterances emitted by the voice gate.
	Utterances metric.Int64Counter

	// Classifications counts classification results. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("task", ...)
	Classifications metric.Int64Counter

	// TurnOutcomes counts completed turns. Use with attribute:
	//   attribute.String("outcome", ...)
	TurnOutcomes metric.Int64Counter

	// EngineRequests counts ASR engine calls. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	EngineRequests metric.Int64Counter

	// LearnerUpdates counts applied correction events. Use with attribute:
	//   attribute.String("reason", ...)
	LearnerUpdates metric.Int64Counter

	// --- Gauges ---

	// PendingUtterances tracks the depth of the gate-to-turn queue.
	PendingUtterances metric.Int64UpDownCounter

	// ContextTurns tracks the number of turns held in the session history.
	ContextTurns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("hark.recognition.duration",
		metric.WithDescription("Latency of speech recognition per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassificationDuration, err = m.Float64Histogram("hark.classification.duration",
		metric.WithDescription("Latency of intent classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("hark.dispatch.duration",
		metric.WithDescription("Latency of command execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("hark.gate.utterances",
		metric.WithDescription("Total utterances emitted by the voice gate."),
	); err != nil {
		return nil, err
	}
	if met.Classifications, err = m.Int64Counter("hark.classifications",
		metric.WithDescription("Total classification results by tier and task."),
	); err != nil {
		return nil, err
	}
	if met.TurnOutcomes, err = m.Int64Counter("hark.turn.outcomes",
		metric.WithDescription("Total completed turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.EngineRequests, err = m.Int64Counter("hark.engine.requests",
		metric.WithDescription("Total ASR engine calls by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.LearnerUpdates, err = m.Int64Counter("hark.learner.updates",
		metric.WithDescription("Total applied correction events by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PendingUtterances, err = m.Int64UpDownCounter("hark.pending_utterances",
		metric.WithDescription("Depth of the gate-to-turn utterance queue."),
	); err != nil {
		return nil, err
	}
	if met.ContextTurns, err = m.Int64UpDownCounter("hark.context.turns",
		metric.WithDescription("Number of turns held in the session history."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hark.http.request.duration",
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

// RecordClassification records a classification counter increment with the
// standard attribute set.
func (m *Metrics) RecordClassification(ctx context.Context, tier, task string) {
	m.Classifications.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("task", task),
		),
	)
}

// RecordTurnOutcome records a completed turn counter increment.
func (m *Metrics) RecordTurnOutcome(ctx context.Context, outcome string) {
	m.TurnOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordEngineRequest records an ASR engine call counter increment with the
// standard attribute set.
func (m *Metrics) RecordEngineRequest(ctx context.Context, engine, status string) {
	m.EngineRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
}

// RecordLearnerUpdate records an applied correction counter increment.
func (m *Metrics) RecordLearnerUpdate(ctx context.Context, reason string) {
	m.LearnerUpdates.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
