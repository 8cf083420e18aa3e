package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "esroll"
)

var (
	// NodeRestarts counts node restarts by role and outcome
	NodeRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_restarts_total",
			Help:      "Total number of node restarts",
		},
		[]string{"role", "status"}, // status: success/error/skipped
	)

	// NodeRestartDuration measures restart-to-ready time per node
	NodeRestartDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_restart_duration_seconds",
			Help:      "Time from restart command until the node is back and settled",
			Buckets:   []float64{15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"role"},
	)

	// PollAttempts counts readiness and settle polls that were not ready yet
	PollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_retries_total",
			Help:      "Total number of poll attempts that found the node or cluster not ready",
		},
		[]string{"poll"}, // poll: ready/settle
	)

	// FlaggedIndices is the number of indices flagged by the last sync audit
	FlaggedIndices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_flagged_indices",
			Help:      "Number of indices flagged by the most recent sync audit",
		},
	)

	// SyncRepairs counts synced flush attempts by outcome
	SyncRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_repairs_total",
			Help:      "Total number of flush requests issued to repair sync markers",
		},
		[]string{"status"}, // status: synced/failed
	)

	// SequencerState is 1 for the current sequencer state and 0 for the rest
	SequencerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sequencer_state",
			Help:      "Current restart sequencer state",
		},
		[]string{"state"},
	)
)

// RecordRestart records one node restart
func RecordRestart(role string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	NodeRestarts.WithLabelValues(role, status).Inc()
	if success {
		NodeRestartDuration.WithLabelValues(role).Observe(duration.Seconds())
	}
}

// RecordSkip records a host skipped because the ledger already had it
func RecordSkip(role string) {
	NodeRestarts.WithLabelValues(role, "skipped").Inc()
}

// RecordPollRetry records a poll that has to be retried
func RecordPollRetry(poll string) {
	PollAttempts.WithLabelValues(poll).Inc()
}

// RecordRepair records the outcome of a flush request
func RecordRepair(synced bool) {
	status := "synced"
	if !synced {
		status = "failed"
	}
	SyncRepairs.WithLabelValues(status).Inc()
}

// SetState marks state as current and every other known state as inactive
func SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		SequencerState.WithLabelValues(s).Set(v)
	}
}
