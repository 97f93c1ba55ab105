package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики выполнения. Регистрируются в prometheus.DefaultRegisterer
// и отдаются сервисами через promhttp.Handler() на /metrics.
var (
	// RunsTotal — завершённые run'ы по итоговому статусу.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_runs_total",
		Help: "Total finished runs by final status",
	}, []string{"status"})

	// JobsTotal — завершённые job'ы по итоговому статусу.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_jobs_total",
		Help: "Total finished jobs by final status",
	}, []string{"status"})

	// StepsTotal — шаги по статусу (включая SKIPPED по guard).
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_steps_total",
		Help: "Total steps by status",
	}, []string{"status"})

	// StepDuration — длительность выполненных шагов.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conveyor_step_duration_seconds",
		Help:    "Duration of executed steps",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"action"})

	// ReportsTotal — попытки отправки артефакта во внешний collector.
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_reports_total",
		Help: "Artifact forwarding attempts by result",
	}, []string{"result"})

	// ActiveRuns — run'ы, выполняющиеся в данный момент.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conveyor_active_runs",
		Help: "Runs currently executing",
	})
)
