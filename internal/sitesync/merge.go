package sitesync

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/uptimewatcher/backend/internal/logger"
	"github.com/uptimewatcher/backend/internal/metrics"
	"github.com/uptimewatcher/backend/internal/models"
)

type mergeConfig struct {
	locks LockView
	now   time.Time
	log   *logrus.Entry
}

// MergeOption configures ApplyStatusUpdateSnapshot.
type MergeOption func(*mergeConfig)

// WithLocks makes the merge honour active monitoring locks as of now.
func WithLocks(view LockView, now time.Time) MergeOption {
	return func(c *mergeConfig) {
		c.locks = view
		c.now = now
	}
}

// WithMergeLogger overrides the entry used for merge diagnostics.
func WithMergeLogger(entry *logrus.Entry) MergeOption {
	return func(c *mergeConfig) {
		if entry != nil {
			c.log = entry
		}
	}
}

// ApplyStatusUpdateSnapshot folds one status update into sites and returns the
// resulting collection. The input is never modified. When nothing changes the
// input slice itself is returned; otherwise only the affected site and monitor
// are replaced and every other entry keeps its identity.
func ApplyStatusUpdateSnapshot(sites []*models.Site, update models.StatusUpdate, opts ...MergeOption) []*models.Site {
	next, _ := mergeStatusUpdate(sites, update, opts...)
	return next
}

func mergeStatusUpdate(sites []*models.Site, update models.StatusUpdate, opts ...MergeOption) ([]*models.Site, bool) {
	cfg := mergeConfig{log: logger.Component("sitesync")}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.log.WithFields(logrus.Fields{
		"site_identifier": update.SiteIdentifier,
		"monitor_id":      update.MonitorID,
		"status":          update.Status,
	})

	if !update.HasSnapshot() {
		log.Debug("status update arrived without site or monitor snapshot, nothing to apply")
		return sites, false
	}

	site, siteIdx := models.FindSite(sites, update.SiteIdentifier)
	if site == nil {
		log.Debug("status update for unknown site ignored")
		return sites, false
	}
	monitorIdx := site.MonitorIndex(update.MonitorID)
	if monitorIdx < 0 {
		log.Debug("status update for unknown monitor ignored")
		return sites, false
	}

	var lock *MonitoringLock
	if cfg.locks != nil {
		if l, ok := cfg.locks.Lookup(update.SiteIdentifier, update.MonitorID, cfg.now); ok {
			lock = &l
		}
	}

	current := site.Monitors[monitorIdx]
	merged := mergeMonitor(current, update, lock, log)

	nextSite := site.Copy()
	nextSite.Monitors[monitorIdx] = merged
	if update.Site != nil {
		if update.Site.Name != "" {
			nextSite.Name = update.Site.Name
		}
		if lock == nil {
			nextSite.Monitoring = update.Site.Monitoring
		}
	}

	next := make([]*models.Site, len(sites))
	copy(next, sites)
	next[siteIdx] = nextSite
	return next, true
}

func mergeMonitor(current *models.Monitor, update models.StatusUpdate, lock *MonitoringLock, log *logrus.Entry) *models.Monitor {
	next := current.Copy()
	snapshot := update.SnapshotMonitor()

	if snapshot != nil {
		if snapshot.Type != "" {
			next.Type = snapshot.Type
		}
		next.URL = snapshot.URL
		next.Host = snapshot.Host
		next.Port = snapshot.Port
		next.Monitoring = snapshot.Monitoring
		next.ResponseTime = snapshot.ResponseTime
		if snapshot.CheckInterval > 0 {
			next.CheckInterval = snapshot.CheckInterval
		}
		if snapshot.Timeout > 0 {
			next.Timeout = snapshot.Timeout
		}
		next.RetryAttempts = snapshot.RetryAttempts
		if snapshot.LastChecked != nil {
			next.LastChecked = snapshot.LastChecked
		}
	}

	next.Status = update.Status
	if snapshot != nil && len(snapshot.History) > 0 {
		next.History = snapshot.History
	} else {
		next.History = current.History
	}
	if update.ResponseTime != nil {
		next.ResponseTime = *update.ResponseTime
	}

	if t, ok := update.ParseTimestamp(); ok {
		next.LastChecked = &t
	} else if update.Timestamp != "" {
		log.WithField("timestamp", update.Timestamp).Debug("ignoring unparsable status update timestamp")
	}

	if lock != nil {
		if next.Monitoring != lock.TargetMonitoring {
			log.WithField("target_monitoring", lock.TargetMonitoring).
				Debug("monitoring flag held by optimistic lock")
			metrics.IncLockConflict()
			next.Monitoring = lock.TargetMonitoring
		}
		if statusConflictsWithTarget(current.Status, next.Status, lock.TargetMonitoring) {
			next.Status = current.Status
		}
	}

	return next
}

// statusConflictsWithTarget reports whether incoming describes the state the
// lock is moving away from.
func statusConflictsWithTarget(existing, incoming models.MonitorStatus, target bool) bool {
	if target {
		return incoming == models.StatusPaused
	}
	return existing == models.StatusPaused && incoming != models.StatusPaused
}
