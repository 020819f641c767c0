package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsStarted counts formulation jobs started
	jobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rationfit_jobs_started_total",
		Help: "Total formulation jobs started",
	})

	// jobsFinished counts finished jobs by final state
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rationfit_jobs_finished_total",
		Help: "Total formulation jobs finished by state",
	}, []string{"state"})

	// jobsRunning tracks jobs currently searching
	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rationfit_jobs_running",
		Help: "Formulation jobs currently running",
	})

	// searchIterations counts global-search iterations by phase and outcome
	searchIterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rationfit_search_iterations_total",
		Help: "Global-search iterations by phase and whether the candidate was accepted",
	}, []string{"phase", "accepted"})

	// jobDuration tracks wall time per finished job
	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rationfit_job_duration_seconds",
		Help:    "Formulation job duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
	})

	// finalBaseCost tracks the unpenalized cost of completed blends
	finalBaseCost = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rationfit_blend_base_cost",
		Help:    "Base cost per unit of completed formulations",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// checkpointErrors counts failed checkpoint or trace writes
	checkpointErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rationfit_checkpoint_errors_total",
		Help: "Failed persistence operations by kind",
	}, []string{"kind"})

	streamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rationfit_stream_clients",
		Help: "Connected SSE progress subscribers",
	})

	streamDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rationfit_stream_dropped_events_total",
		Help: "Progress frames dropped because a subscriber fell behind",
	})
)

func recordIteration(phase string, accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	searchIterations.WithLabelValues(phase, label).Inc()
}
