package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"schema-mapper/internal/domain"
)

var (
	completionRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_mapper_completion_rounds_total",
			Help: "Total number of completion calls by stage and stop reason.",
		},
		[]string{"stage", "stop_reason"},
	)
	completionLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schema_mapper_completion_latency_seconds",
			Help:    "Latency of a single completion call.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		},
		[]string{"stage"},
	)
	continuationDepth = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schema_mapper_continuation_rounds",
			Help:    "Round index of the call that completed a stage run.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		},
		[]string{"stage"},
	)
	stageOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_mapper_stage_outcomes_total",
			Help: "Total number of stage runs by outcome (ok or a usecase error code).",
		},
		[]string{"stage", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		completionRoundsTotal,
		completionLatencySeconds,
		continuationDepth,
		stageOutcomesTotal,
	)
}

// RoundObserver feeds continuation driver rounds into the completion metrics.
type RoundObserver struct{}

func (RoundObserver) ObserveRound(stage string, round int, completion domain.Completion, elapsed time.Duration) {
	completionRoundsTotal.WithLabelValues(stage, string(completion.StopReason)).Inc()
	completionLatencySeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
	if completion.Complete() {
		continuationDepth.WithLabelValues(stage).Observe(float64(round))
	}
}

func ObserveStageOutcome(stage domain.Stage, outcome string) {
	stageOutcomesTotal.WithLabelValues(string(stage), outcome).Inc()
}
