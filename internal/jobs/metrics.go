package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeMinted  = "minted"
	outcomeNoop    = "noop"
	outcomeRevoked = "revoked"
	outcomeFailed  = "failed"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credentials_mint_jobs_total",
		Help: "Mint coordinator jobs by kind and outcome.",
	}, []string{"kind", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credentials_mint_duration_seconds",
		Help:    "Time spent handling one mint coordinator job.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"kind"})

	outboxDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credentials_outbox_dispatched_total",
		Help: "Outbox events published to the job queue.",
	})
)
