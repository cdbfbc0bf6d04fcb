// Package observe holds the telemetry of an interview: OpenTelemetry metric
// instruments for sessions, audio and turns, spans around connecting, trace
// aware logging and the HTTP middleware of the gateway.
//
// [InitProvider] exports metrics through Prometheus, which the gateway serves
// on /metrics. Sessions fall back to [DefaultMetrics]; tests build their own
// with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long it takes to open a live connection,
	// retries included. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// ConnectAttempts counts individual dial attempts. Use with attribute:
	//   attribute.String("status", "ok"|"unavailable"|"error")
	ConnectAttempts metric.Int64Counter

	// FramesSent counts microphone frames handed to the live connection.
	FramesSent metric.Int64Counter

	// FramesDropped counts microphone frames that were not sent. Use with
	// attribute:
	//   attribute.String("reason", "muted"|"paused"|"backpressure")
	FramesDropped metric.Int64Counter

	// ChunksScheduled counts model audio chunks scheduled for playback.
	ChunksScheduled metric.Int64Counter

	// DecodeErrors counts model audio chunks that could not be decoded.
	DecodeErrors metric.Int64Counter

	// TurnsFinalized counts finalized transcript turns. Use with attribute:
	//   attribute.String("source", "user"|"ai")
	TurnsFinalized metric.Int64Counter

	// Interruptions counts model turns cut short. Use with attribute:
	//   attribute.String("cause", "speech"|"text")
	Interruptions metric.Int64Counter

	// SessionErrors counts sessions that ended in the error state. Use with
	// attribute:
	//   attribute.String("kind", "quota"|"generic")
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of started, not yet closed sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, websocket
	// sessions included. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", pattern),
	//   attribute.Int("status", code)
	HTTPRequestDuration metric.Float64Histogram
}

// connectBuckets defines histogram bucket boundaries (in seconds) for
// connection setup, which includes retry backoff.
var connectBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(scope)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("liveinterview.live.connect.duration",
		metric.WithDescription("Time to open a live connection, including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ConnectAttempts, err = m.Int64Counter("liveinterview.live.connect.attempts",
		metric.WithDescription("Total live connection attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("liveinterview.audio.frames_sent",
		metric.WithDescription("Total microphone frames sent to the live endpoint."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("liveinterview.audio.frames_dropped",
		metric.WithDescription("Total microphone frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("liveinterview.audio.chunks_scheduled",
		metric.WithDescription("Total model audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("liveinterview.audio.decode_errors",
		metric.WithDescription("Total model audio chunks dropped because they could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.TurnsFinalized, err = m.Int64Counter("liveinterview.turns.finalized",
		metric.WithDescription("Total finalized transcript turns by source."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("liveinterview.turns.interruptions",
		metric.WithDescription("Total model turns cut short by cause."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("liveinterview.session.errors",
		metric.WithDescription("Total sessions that failed, by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("liveinterview.active_sessions",
		metric.WithDescription("Number of started, not yet closed interview sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("liveinterview.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// RecordConnectAttempt records one dial attempt with its outcome.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, status string) {
	m.ConnectAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordFrameDropped records a microphone frame that was not sent.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTurnFinalized records a finalized turn of source.
func (m *Metrics) RecordTurnFinalized(ctx context.Context, source string) {
	m.TurnsFinalized.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordInterruption records a model turn cut short.
func (m *Metrics) RecordInterruption(ctx context.Context, cause string) {
	m.Interruptions.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

// RecordSessionError records a session that ended in the error state.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
