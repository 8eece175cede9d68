package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка. Экспортируются бинарями через promhttp на /metrics.
var (
	// StepsTotal — выполненные шаги по виду миграции.
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "migrata_steps_total",
		Help: "Executed migration steps",
	}, []string{"kind"})

	// StepFailuresTotal — шаги, завершившиеся ошибкой.
	StepFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "migrata_step_failures_total",
		Help: "Migration steps that ended in an error",
	}, []string{"kind"})

	// ThrottledTotal — шаги, отложенные throttle-хуком.
	ThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "migrata_throttled_total",
		Help: "Steps skipped because the throttle hook asked to back off",
	})

	// StuckTotal — миграции, замеченные как застрявшие.
	StuckTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "migrata_stuck_total",
		Help: "Migrations detected as stuck by the scheduler retry pass",
	})

	// StepDuration — длительность одного шага.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "migrata_step_duration_seconds",
		Help:    "Duration of a single migration step",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"kind"})

	// TickDuration — длительность одного прохода Scheduler'а.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "migrata_tick_duration_seconds",
		Help:    "Duration of one scheduler pass",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)
