package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	broadcastsSubmittedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Name:      "submitted_total",
			Help:      "Total broadcasts accepted, by kind.",
		},
		[]string{"kind"}, // immediate | scheduled
	)

	broadcastsFinalizedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Name:      "finalized_total",
			Help:      "Total broadcasts that reached a terminal status.",
		},
		[]string{"status"},
	)

	dispatchClaimConflictsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Name:      "claim_conflicts_total",
			Help:      "Dispatch attempts that lost the claim to another dispatcher.",
		},
	)

	transmissionOutcomesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Name:      "transmission_outcomes_total",
			Help:      "Per-recipient task outcomes.",
		},
		[]string{"outcome"}, // sent | suppressed | failed
	)

	sendAttemptDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "broadcast",
			Name:      "send_attempt_duration_seconds",
			Help:      "Duration of a single send primitive call.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider_name", "result"},
	)

	pollCyclesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Name:      "poll_cycles_total",
			Help:      "Scheduler poll cycles, by result.",
		},
		[]string{"result"}, // ok | skipped_overlap | skipped_lease | error
	)

	dueBroadcastsFoundCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Name:      "due_found_total",
			Help:      "Due broadcasts found by the poller.",
		},
	)

	workerQueueDepthGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broadcast",
			Name:      "worker_queue_depth",
			Help:      "Transmission tasks waiting in the local worker queue.",
		},
	)
)
