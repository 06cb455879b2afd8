// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parleyhq/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ClassificationDuration tracks intent classification latency, heuristic
	// and remote paths alike.
	ClassificationDuration metric.Float64Histogram

	// WarmupDuration tracks conversation channel warmup (connect) latency.
	WarmupDuration metric.Float64Histogram

	// SendDuration tracks transcript delivery latency on the conversation
	// channel.
	SendDuration metric.Float64Histogram

	// ExecutionDuration tracks command execution latency.
	ExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ClassifierRequests counts classification decisions. Use with attributes:
	//   attribute.String("source", ...), attribute.String("verdict", ...)
	ClassifierRequests metric.Int64Counter

	// ClassifierFallbacks counts classification failures resolved by the
	// fallback verdict. Use with attribute:
	//   attribute.String("cause", ...)
	ClassifierFallbacks metric.Int64Counter

	// CommandsExecuted counts executed commands. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	CommandsExecuted metric.Int64Counter

	// ConversationHandoffs counts transitions into the conversing state. Use
	// with attribute:
	//   attribute.String("reason", ...)
	ConversationHandoffs metric.Int64Counter

	// DiscardedResults counts asynchronous results dropped because their
	// utterance cycle was superseded. Use with attribute:
	//   attribute.String("kind", ...)
	DiscardedResults metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

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
	if met.ClassificationDuration, err = m.Float64Histogram("parley.classification.duration",
		metric.WithDescription("Latency of intent classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WarmupDuration, err = m.Float64Histogram("parley.warmup.duration",
		metric.WithDescription("Latency of conversation channel warmup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SendDuration, err = m.Float64Histogram("parley.send.duration",
		metric.WithDescription("Latency of transcript delivery to the conversation channel."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExecutionDuration, err = m.Float64Histogram("parley.execution.duration",
		metric.WithDescription("Latency of command execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ClassifierRequests, err = m.Int64Counter("parley.classifier.requests",
		metric.WithDescription("Total classification decisions by source and verdict."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierFallbacks, err = m.Int64Counter("parley.classifier.fallbacks",
		metric.WithDescription("Total classification failures resolved by the fallback verdict, by cause."),
	); err != nil {
		return nil, err
	}
	if met.CommandsExecuted, err = m.Int64Counter("parley.commands.executed",
		metric.WithDescription("Total executed commands by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ConversationHandoffs, err = m.Int64Counter("parley.conversation.handoffs",
		metric.WithDescription("Total handoffs into conversation by reason."),
	); err != nil {
		return nil, err
	}
	if met.DiscardedResults, err = m.Int64Counter("parley.discarded.results",
		metric.WithDescription("Total async results discarded as superseded, by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// RecordClassification records one classification decision with the standard
// attribute set.
func (m *Metrics) RecordClassification(ctx context.Context, source, verdict string) {
	m.ClassifierRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("verdict", verdict),
		),
	)
}

// RecordFallback records one classification failure resolved by the fallback
// verdict.
func (m *Metrics) RecordFallback(ctx context.Context, cause string) {
	m.ClassifierFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("cause", cause)),
	)
}

// RecordCommand records one executed command.
func (m *Metrics) RecordCommand(ctx context.Context, kind, status string) {
	m.CommandsExecuted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordHandoff records one transition into conversation.
func (m *Metrics) RecordHandoff(ctx context.Context, reason string) {
	m.ConversationHandoffs.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordDiscarded records one superseded async result that was dropped.
func (m *Metrics) RecordDiscarded(ctx context.Context, kind string) {
	m.DiscardedResults.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
