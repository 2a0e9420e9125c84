// Package telemetry instruments Mission runs with Prometheus metrics and
// OpenTelemetry spans.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceScope = "novacore.mission"
	spanRun    = "novacore.mission.run"

	attrMissionID = "novacore.mission_id"
	attrUserID    = "novacore.user_id"
	attrRunID     = "novacore.run_id"
	attrOutcome   = "novacore.outcome"
)

// Recorder is what the Mission DAG Executor reports lifecycle events to.
// A nil-safe no-op implementation is provided for tests and callers that
// don't need metrics.
type Recorder interface {
	MissionStarted(missionID, userID string)
	MissionCompleted(missionID string, ok, skipped bool, duration time.Duration)
	MissionFailed(missionID, reason string)
	QueueDepth(lane string, depth int)
	InFlight(lane string, count int)
}

// NoopRecorder discards every event.
type NoopRecorder struct{}

func (NoopRecorder) MissionStarted(string, string)                    {}
func (NoopRecorder) MissionCompleted(string, bool, bool, time.Duration) {}
func (NoopRecorder) MissionFailed(string, string)                     {}
func (NoopRecorder) QueueDepth(string, int)                           {}
func (NoopRecorder) InFlight(string, int)                             {}

// PromRecorder records Mission run metrics to Prometheus.
type PromRecorder struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	queueDepth   *prometheus.GaugeVec
	inFlight     *prometheus.GaugeVec
}

// NewPromRecorder registers the Mission run metrics under namespace.
func NewPromRecorder(namespace string) *PromRecorder {
	if namespace == "" {
		namespace = "novacore"
	}
	return &PromRecorder{
		runsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mission_runs_total",
				Help:      "Total number of mission runs by outcome.",
			},
			[]string{"outcome"},
		),
		runDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mission_run_duration_seconds",
				Help:      "Duration of a mission run from slot acquisition to completion.",
				Buckets:   []float64{.05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_queue_depth",
				Help:      "Number of queued jobs per lane.",
			},
			[]string{"lane"},
		),
		inFlight: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_inflight",
				Help:      "Number of running jobs per lane.",
			},
			[]string{"lane"},
		),
	}
}

func (p *PromRecorder) MissionStarted(missionID, userID string) {}

func (p *PromRecorder) MissionCompleted(missionID string, ok, skipped bool, duration time.Duration) {
	outcome := "success"
	if skipped {
		outcome = "skipped"
	} else if !ok {
		outcome = "failed"
	}
	p.runsTotal.WithLabelValues(outcome).Inc()
	p.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (p *PromRecorder) MissionFailed(missionID, reason string) {
	p.runsTotal.WithLabelValues("failed").Inc()
}

func (p *PromRecorder) QueueDepth(lane string, depth int) {
	p.queueDepth.WithLabelValues(lane).Set(float64(depth))
}

func (p *PromRecorder) InFlight(lane string, count int) {
	p.inFlight.WithLabelValues(lane).Set(float64(count))
}

// StartRunSpan opens an OpenTelemetry span for one mission run.
func StartRunSpan(ctx context.Context, missionID, userID, runID string) (context.Context, trace.Span) {
	return otel.Tracer(traceScope).Start(ctx, spanRun, trace.WithAttributes(
		attribute.String(attrMissionID, missionID),
		attribute.String(attrUserID, userID),
		attribute.String(attrRunID, runID),
	))
}

// EndRunSpan closes span with the run's outcome.
func EndRunSpan(span trace.Span, ok bool, reason string) {
	if span == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failed"
	}
	span.SetAttributes(attribute.String(attrOutcome, outcome))
	if !ok {
		span.SetStatus(codes.Error, reason)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
