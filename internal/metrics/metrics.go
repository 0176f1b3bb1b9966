package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	statusUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uptimewatcher_status_updates_total",
		Help: "Status updates received, partitioned by merge outcome",
	}, []string{"outcome"})
	lockConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uptimewatcher_lock_conflicts_total",
		Help: "Status updates whose monitoring flag was overridden by an active optimistic lock",
	})
	optimisticRevertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uptimewatcher_optimistic_reverts_total",
		Help: "Optimistic monitoring mutations reverted after a remote failure",
	})
	actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uptimewatcher_site_actions_total",
		Help: "Site monitoring actions by name and result",
	}, []string{"action", "result"})
	checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uptimewatcher_checks_total",
		Help: "Monitor checks performed by the backend, by monitor type and resulting status",
	}, []string{"type", "status"})
)

// Merge outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeIgnored   = "ignored"
	OutcomeMalformed = "malformed"
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(statusUpdatesTotal, lockConflictsTotal, optimisticRevertsTotal, actionsTotal, checksTotal)
}

// IncStatusUpdate counts a status update with the given merge outcome.
func IncStatusUpdate(outcome string) { statusUpdatesTotal.WithLabelValues(outcome).Inc() }

// IncLockConflict counts a push update overridden by a monitoring lock.
func IncLockConflict() { lockConflictsTotal.Inc() }

// IncOptimisticRevert counts a reverted optimistic mutation.
func IncOptimisticRevert() { optimisticRevertsTotal.Inc() }

// IncAction counts a finished site action.
func IncAction(action string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	actionsTotal.WithLabelValues(action, result).Inc()
}

// IncCheck counts a backend monitor check.
func IncCheck(monitorType, status string) { checksTotal.WithLabelValues(monitorType, status).Inc() }
