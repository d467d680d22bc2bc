// Package metrics exposes application-level prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Module provides the shared metrics registry.
var Module = fx.Provide(New)

// Metrics groups the counters the batch engines report into.
type Metrics struct {
	ImportRows        *prometheus.CounterVec
	SweepTransitions  *prometheus.CounterVec
	RolloverRows      *prometheus.CounterVec
	RiskEvaluations   *prometheus.CounterVec
	AnomaliesOpened   *prometheus.CounterVec
	SchedulesBuilt    prometheus.Counter
	ScheduleMismatch  prometheus.Counter
	BestEffortDropped prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		ImportRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scolarium_import_rows_total",
			Help: "Import rows by outcome (valid, rejected, persisted, insert_failed).",
		}, []string{"outcome"}),
		SweepTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scolarium_sweep_transitions_total",
			Help: "Installment status transitions applied by the sweep.",
		}, []string{"transition"}),
		RolloverRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scolarium_rollover_rows_total",
			Help: "Rollover candidate rows by outcome.",
		}, []string{"operation", "outcome"}),
		RiskEvaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scolarium_risk_evaluations_total",
			Help: "Risk evaluations by level.",
		}, []string{"level"}),
		AnomaliesOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scolarium_anomalies_opened_total",
			Help: "Anomalies opened by type.",
		}, []string{"type"}),
		SchedulesBuilt: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scolarium_schedules_built_total",
			Help: "Installment schedules generated.",
		}),
		ScheduleMismatch: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scolarium_schedule_mismatch_total",
			Help: "Schedule generations aborted on a totals mismatch.",
		}),
		BestEffortDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scolarium_best_effort_failures_total",
			Help: "Best-effort follow-up tasks that failed and were dropped.",
		}),
	}
}
