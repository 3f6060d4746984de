// Package observe provides the observability primitives of voxpersona:
// OpenTelemetry metrics exported for Prometheus scraping, tracing spans, a
// trace-aware slog logger and the HTTP middleware that ties them together.
//
// Components take a *Metrics explicitly. [DefaultMetrics] serves commands
// that register the global provider through [InitProvider]; tests build their
// own with [NewMetrics] over a ManualReader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every voxpersona instrument.
const meterName = "github.com/voxpersona/voxpersona"

// Pipeline stage names used with [Metrics.RecordStage].
const (
	StageTranscribe = "transcribe"
	StageChat       = "chat"
	StageSynthesis  = "synthesis"
)

// Metrics holds the application's instruments. The OTel types are safe for
// concurrent use.
type Metrics struct {
	// StageDuration is the latency of one collaborator call, by "stage" and
	// "status".
	StageDuration metric.Float64Histogram

	// ProviderRequests counts backend calls by "provider", "kind", "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed backend calls by "provider" and "kind".
	ProviderErrors metric.Int64Counter

	// CircuitTransitions counts breaker state changes by "name" and "to".
	CircuitTransitions metric.Int64Counter

	// TurnOutcomes counts finished turns by "outcome" (completed, failed,
	// superseded, cleared) and "kind" (voice, typed).
	TurnOutcomes metric.Int64Counter

	// StateTransitions counts turn machine edges by "from" and "to".
	StateTransitions metric.Int64Counter

	// ActiveCaptures is the number of open microphone handles (0 or 1).
	ActiveCaptures metric.Int64UpDownCounter

	// ActivePlaybacks is the number of live playback handles (0 or 1).
	ActivePlaybacks metric.Int64UpDownCounter

	// CaptureDuration is the length of finalized recordings.
	CaptureDuration metric.Float64Histogram

	// PlaybackEvents counts lifecycle events by "kind" and "reason".
	PlaybackEvents metric.Int64Counter

	// AvatarAssetErrors counts failed avatar asset loads by "asset".
	AvatarAssetErrors metric.Int64Counter

	// RateLimited counts requests rejected by the API rate limiter.
	RateLimited metric.Int64Counter

	// HTTPRequestDuration is HTTP handling time by "method", "path" and
	// "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are tuned for network collaborator calls (seconds).
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// recordingBuckets cover utterance lengths (seconds).
var recordingBuckets = []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("voxpersona.stage.duration",
		metric.WithDescription("Latency of transcription, chat and synthesis calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxpersona.provider.requests",
		metric.WithDescription("Backend provider requests by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxpersona.provider.errors",
		metric.WithDescription("Backend provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CircuitTransitions, err = m.Int64Counter("voxpersona.circuit.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.TurnOutcomes, err = m.Int64Counter("voxpersona.turn.outcomes",
		metric.WithDescription("Finished conversation turns by outcome and kind."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("voxpersona.turn.transitions",
		metric.WithDescription("Turn state machine transitions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("voxpersona.capture.active",
		metric.WithDescription("Open microphone handles."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlaybacks, err = m.Int64UpDownCounter("voxpersona.playback.active",
		metric.WithDescription("Live playback handles."),
	); err != nil {
		return nil, err
	}
	if met.CaptureDuration, err = m.Float64Histogram("voxpersona.capture.duration",
		metric.WithDescription("Length of finalized recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackEvents, err = m.Int64Counter("voxpersona.playback.events",
		metric.WithDescription("Playback lifecycle events by kind and reason."),
	); err != nil {
		return nil, err
	}
	if met.AvatarAssetErrors, err = m.Int64Counter("voxpersona.avatar.asset_errors",
		metric.WithDescription("Avatar asset load failures."),
	); err != nil {
		return nil, err
	}
	if met.RateLimited, err = m.Int64Counter("voxpersona.api.rate_limited",
		metric.WithDescription("API requests rejected by the rate limiter."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxpersona.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status."),
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

// DefaultMetrics returns the process-wide Metrics built on the global meter
// provider. Panics if instrument creation fails, which cannot happen with a
// valid provider.
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

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, err error) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		Attr("stage", stage),
		Attr("status", status(err)),
	))
}

// RecordProviderRequest counts one backend call and, on failure, one error.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, err error) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status(err)),
	))
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			Attr("provider", provider),
			Attr("kind", kind),
		))
	}
}

// RecordCircuitTransition counts a breaker state change. Its signature fits
// the resilience breaker's OnStateChange hook after binding the target name.
func (m *Metrics) RecordCircuitTransition(name, to string) {
	m.CircuitTransitions.Add(context.Background(), 1, metric.WithAttributes(
		Attr("name", name),
		Attr("to", to),
	))
}

// RecordTurn counts a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome, kind string) {
	m.TurnOutcomes.Add(ctx, 1, metric.WithAttributes(
		Attr("outcome", outcome),
		Attr("kind", kind),
	))
}

// RecordTransition counts a turn machine edge.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("from", from),
		Attr("to", to),
	))
}

// RecordPlaybackEvent counts a playback lifecycle event.
func (m *Metrics) RecordPlaybackEvent(ctx context.Context, kind, reason string) {
	m.PlaybackEvents.Add(ctx, 1, metric.WithAttributes(
		Attr("kind", kind),
		Attr("reason", reason),
	))
}

// RecordAssetError counts a failed avatar asset load.
func (m *Metrics) RecordAssetError(ctx context.Context, asset string) {
	m.AvatarAssetErrors.Add(ctx, 1, metric.WithAttributes(Attr("asset", asset)))
}

// RecordRateLimited counts a request rejected by the API rate limiter.
func (m *Metrics) RecordRateLimited(ctx context.Context, route string) {
	m.RateLimited.Add(ctx, 1, metric.WithAttributes(Attr("route", route)))
}
