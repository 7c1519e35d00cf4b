// Package observe provides application-wide observability primitives for
// chatrelay: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all chatrelay metrics.
const meterName = "github.com/MrWong99/chatrelay"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMFirstFragment tracks the time from request to the first streamed
	// fragment.
	LLMFirstFragment metric.Float64Histogram

	// LLMDuration tracks the time from request until the model stream is
	// fully drained.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// StreamFragments counts non-empty fragments forwarded to clients.
	StreamFragments metric.Int64Counter

	// Turns counts completed conversation turns. Use with attributes:
	//   attribute.String("kind", "stream"|"rpc"|"voice"), attribute.String("status", ...)
	Turns metric.Int64Counter

	// AudioBytesIngested counts PCM bytes received from ingest connections.
	AudioBytesIngested metric.Int64Counter

	// AudioBytesSent counts synthesized audio bytes forwarded to listeners.
	AudioBytesSent metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveAgents tracks the number of per-user agents held in memory.
	ActiveAgents metric.Int64UpDownCounter

	// ActiveConnections tracks open WebSocket connections. Use with
	// attribute.String("role", ...).
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for model
// and speech latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "chatrelay.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMFirstFragment, "chatrelay.llm.first_fragment", "Time from model request to the first streamed fragment."},
		{&met.LLMDuration, "chatrelay.llm.duration", "Time from model request until the stream is drained."},
		{&met.TTSDuration, "chatrelay.tts.duration", "Latency of text-to-speech synthesis."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&met.ProviderRequests, "chatrelay.provider.requests", "Total provider API requests by provider, kind, and status.", ""},
		{&met.StreamFragments, "chatrelay.stream.fragments", "Total streamed fragments forwarded to clients.", ""},
		{&met.Turns, "chatrelay.turns", "Total conversation turns by kind and status.", ""},
		{&met.AudioBytesIngested, "chatrelay.audio.ingested", "PCM bytes received from ingest connections.", "By"},
		{&met.AudioBytesSent, "chatrelay.audio.sent", "Synthesized audio bytes forwarded to listeners.", "By"},
		{&met.ProviderErrors, "chatrelay.provider.errors", "Total provider errors by provider and kind.", ""},
	}
	for _, c := range counters {
		opts := []metric.Int64CounterOption{metric.WithDescription(c.desc)}
		if c.unit != "" {
			opts = append(opts, metric.WithUnit(c.unit))
		}
		if *c.dst, err = m.Int64Counter(c.name, opts...); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.ActiveAgents, err = m.Int64UpDownCounter("chatrelay.active_agents",
		metric.WithDescription("Number of per-user agents held in memory."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("chatrelay.active_connections",
		metric.WithDescription("Number of open WebSocket connections by role."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("chatrelay.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records one finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, kind, status string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// ConnectionOpened increments the open connection gauge for role and returns
// a func that decrements it again.
func (m *Metrics) ConnectionOpened(ctx context.Context, role string) (closed func()) {
	attrs := metric.WithAttributes(attribute.String("role", role))
	m.ActiveConnections.Add(ctx, 1, attrs)
	return func() { m.ActiveConnections.Add(context.WithoutCancel(ctx), -1, attrs) }
}
