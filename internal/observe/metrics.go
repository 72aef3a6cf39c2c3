// Package observe provides observability primitives for the voice service:
// OpenTelemetry metrics, tracing, log handler construction, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// through the Prometheus exporter set up by [InitProvider]. [DefaultMetrics]
// is a package-level instance; tests should use [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/medconnect"

// Metrics holds the metric instruments of the service.
type Metrics struct {
	// DialogueDuration tracks dialogue backend call latency by op.
	DialogueDuration metric.Float64Histogram

	// DialogueRequests counts backend calls by op and status
	// (ok, protocol, transport, other).
	DialogueRequests metric.Int64Counter

	// Turns counts processed user utterances by source (voice, text).
	Turns metric.Int64Counter

	// BookingsCompleted counts booking attempts that reached completion.
	BookingsCompleted metric.Int64Counter

	// SessionExpiries counts turns whose failure cleared the session.
	SessionExpiries metric.Int64Counter

	// CaptureErrors counts capture failures by code.
	CaptureErrors metric.Int64Counter

	// ActiveSessions tracks live voice booking sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time by method and
	// path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Backend turns can take
// several seconds while the model interprets the utterance.
var latencyBuckets = []float64{
	0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DialogueDuration, err = m.Float64Histogram("medconnect.dialogue.duration",
		metric.WithDescription("Latency of dialogue backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DialogueRequests, err = m.Int64Counter("medconnect.dialogue.requests",
		metric.WithDescription("Dialogue backend calls by op and status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("medconnect.turns",
		metric.WithDescription("Processed user utterances by source."),
	); err != nil {
		return nil, err
	}
	if met.BookingsCompleted, err = m.Int64Counter("medconnect.bookings.completed",
		metric.WithDescription("Booking attempts that reached completion."),
	); err != nil {
		return nil, err
	}
	if met.SessionExpiries, err = m.Int64Counter("medconnect.session.expiries",
		metric.WithDescription("Turn failures that invalidated the backend session."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("medconnect.capture.errors",
		metric.WithDescription("Speech capture failures by code."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("medconnect.active_sessions",
		metric.WithDescription("Number of live voice booking sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("medconnect.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from [otel.GetMeterProvider].
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDialogueCall records one backend call's latency and outcome.
func (m *Metrics) RecordDialogueCall(ctx context.Context, op, status string, seconds float64) {
	m.DialogueDuration.Record(ctx, seconds, metric.WithAttributes(Attr("op", op)))
	m.DialogueRequests.Add(ctx, 1, metric.WithAttributes(Attr("op", op), Attr("status", status)))
}

// RecordTurn counts one processed utterance.
func (m *Metrics) RecordTurn(ctx context.Context, source string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("source", source)))
}

// RecordCaptureError counts one capture failure.
func (m *Metrics) RecordCaptureError(ctx context.Context, code string) {
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(Attr("code", code)))
}
