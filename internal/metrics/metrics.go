package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgebox_executions_total",
			Help: "Total number of isolation attempts that produced an outcome",
		},
		[]string{"language", "isolation", "outcome"}, // outcome: "ok" or an error kind
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "judgebox_execution_duration_ms",
			Help:    "Wall-clock duration of a single execution in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"language", "isolation"},
	)

	MemoryUsage = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "judgebox_memory_usage_mb",
			Help:    "Reported memory per execution in MB (estimated for containers)",
			Buckets: []float64{16, 32, 64, 128, 256, 512},
		},
		[]string{"language"},
	)

	// FallbacksTotal counts executions downgraded from container isolation to
	// unsandboxed local processes.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgebox_fallbacks_total",
			Help: "Total number of executions that fell back to local process isolation",
		},
		[]string{"language"},
	)

	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgebox_evaluations_total",
			Help: "Total number of submissions evaluated",
		},
		[]string{"language"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "judgebox_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)
