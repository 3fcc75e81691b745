package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cycleCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kast_worker_cycles",
	Help: "Number of engagement worker cycles by outcome",
}, []string{"outcome"})

var cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "kast_worker_cycle_duration_sec",
	Help:    "Duration of engagement worker cycles",
	Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
})

var participantOutcomeCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kast_worker_participants",
	Help: "Number of processed participants by status",
}, []string{"status"})

var castUpsertCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kast_cast_upserts",
	Help: "Number of cast upserts by source",
}, []string{"source"})

var rescoreQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kast_rescore_queue_dropped",
	Help: "Number of rescore requests dropped because the queue was full",
})
