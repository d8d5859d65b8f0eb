// Package observe provides application-wide observability primitives for
// Dialtone: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Dialtone metrics.
const meterName = "github.com/softspoken-ai/dialtone"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech recognition latency per final transcript.
	STTDuration metric.Float64Histogram

	// AgentDuration tracks agent run latency per conversation turn.
	AgentDuration metric.Float64Histogram

	// TTSFirstChunk tracks time from synthesis request to first audio chunk.
	TTSFirstChunk metric.Float64Histogram

	// EOTDuration tracks end-of-turn prediction latency.
	EOTDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts committed caller utterances. Use with attribute:
	//   attribute.String("reason", ...)
	Turns metric.Int64Counter

	// Interrupts counts confirmed barge-ins while the agent was speaking.
	Interrupts metric.Int64Counter

	// FramesDropped counts audio frames discarded by barge-in drains and
	// malformed inbound media. Use with attribute:
	//   attribute.String("direction", "inbound"|"outbound")
	FramesDropped metric.Int64Counter

	// WatchdogPrompts counts no-input re-engagement prompts spoken.
	WatchdogPrompts metric.Int64Counter

	// ProviderErrors counts provider failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live call sessions.
	ActiveCalls metric.Int64UpDownCounter

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
	if met.STTDuration, err = m.Float64Histogram("dialtone.stt.duration",
		metric.WithDescription("Latency of speech recognition per final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentDuration, err = m.Float64Histogram("dialtone.agent.duration",
		metric.WithDescription("Latency of agent runs per conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSFirstChunk, err = m.Float64Histogram("dialtone.tts.first_chunk",
		metric.WithDescription("Time from synthesis request to first audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EOTDuration, err = m.Float64Histogram("dialtone.eot.duration",
		metric.WithDescription("Latency of end-of-turn predictions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("dialtone.turns",
		metric.WithDescription("Committed caller utterances by commit reason."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("dialtone.interrupts",
		metric.WithDescription("Confirmed barge-ins while agent audio was playing."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("dialtone.frames.dropped",
		metric.WithDescription("Audio frames discarded, by direction."),
	); err != nil {
		return nil, err
	}
	if met.WatchdogPrompts, err = m.Int64Counter("dialtone.watchdog.prompts",
		metric.WithDescription("No-input re-engagement prompts spoken."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("dialtone.provider.errors",
		metric.WithDescription("Provider failures by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("dialtone.active_calls",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dialtone.http.request.duration",
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

// RecordTurn records a committed caller utterance with its commit reason.
func (m *Metrics) RecordTurn(ctx context.Context, reason string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordFramesDropped records discarded audio frames for one direction.
func (m *Metrics) RecordFramesDropped(ctx context.Context, direction string, n int64) {
	if n <= 0 {
		return
	}
	m.FramesDropped.Add(ctx, n,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordProviderError records a provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
