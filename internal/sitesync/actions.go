package sitesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/uptimewatcher/backend/internal/logger"
	"github.com/uptimewatcher/backend/internal/metrics"
	"github.com/uptimewatcher/backend/internal/models"
)

// MonitoringService is the backend the actions drive.
type MonitoringService interface {
	CheckSiteNow(ctx context.Context, siteIdentifier, monitorID string) (*models.StatusUpdate, error)
	StartMonitoringForSite(ctx context.Context, siteIdentifier string) error
	StopMonitoringForSite(ctx context.Context, siteIdentifier string) error
	StartMonitoringForMonitor(ctx context.Context, siteIdentifier, monitorID string) error
	StopMonitoringForMonitor(ctx context.Context, siteIdentifier, monitorID string) error
}

// SiteLister provides the authoritative site collection for a full resync.
type SiteLister interface {
	ListSites(ctx context.Context) ([]*models.Site, error)
}

const storeName = "sites"

const (
	DefaultOptimisticDelay = 50 * time.Millisecond
	DefaultLockTTL         = 10 * time.Second
)

// Action names as they appear in logs and metrics.
const (
	ActionCheckSiteNow               = "checkSiteNow"
	ActionStartSiteMonitoring        = "startSiteMonitoring"
	ActionStopSiteMonitoring         = "stopSiteMonitoring"
	ActionStartSiteMonitorMonitoring = "startSiteMonitorMonitoring"
	ActionStopSiteMonitorMonitoring  = "stopSiteMonitorMonitoring"
	ActionSyncSites                  = "syncSites"
)

// Actions reconciles user-initiated monitoring actions and pushed status
// updates into a SiteState.
type Actions struct {
	state     SiteState
	service   MonitoringService
	locks   *LockRegistry
	clock   clockwork.Clock
	delay   time.Duration
	lockTTL time.Duration
	log     *logrus.Entry

	// mu serializes every read-modify-write of state.
	mu sync.Mutex
}

type Option func(*Actions)

// WithClock sets the clock used for lock expiry and the optimistic delay.
func WithClock(c clockwork.Clock) Option {
	return func(a *Actions) {
		if c != nil {
			a.clock = c
		}
	}
}

func WithOptimisticDelay(d time.Duration) Option {
	return func(a *Actions) {
		if d >= 0 {
			a.delay = d
		}
	}
}

func WithLockTTL(d time.Duration) Option {
	return func(a *Actions) {
		if d > 0 {
			a.lockTTL = d
		}
	}
}

func WithLogger(entry *logrus.Entry) Option {
	return func(a *Actions) {
		if entry != nil {
			a.log = entry
		}
	}
}

func WithLockRegistry(r *LockRegistry) Option {
	return func(a *Actions) {
		if r != nil {
			a.locks = r
		}
	}
}

func NewActions(state SiteState, service MonitoringService, opts ...Option) *Actions {
	a := &Actions{
		state:     state,
		service:   service,
		locks:   NewLockRegistry(),
		clock:   clockwork.NewRealClock(),
		delay:   DefaultOptimisticDelay,
		lockTTL: DefaultLockTTL,
		log:     logger.Component("sitesync"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Locks exposes the registry consulted when merging pushed updates.
func (a *Actions) Locks() *LockRegistry { return a.locks }

// CheckSiteNow asks the backend for an immediate check and folds the result
// into state. A result that cannot be merged is logged and dropped; only a
// failed remote call is returned.
func (a *Actions) CheckSiteNow(ctx context.Context, siteIdentifier, monitorID string) error {
	log := a.logAction(ActionCheckSiteNow, logrus.Fields{
		"site_identifier": siteIdentifier,
		"monitor_id":      monitorID,
	})

	update, err := a.service.CheckSiteNow(ctx, siteIdentifier, monitorID)
	if err != nil {
		err = NormalizeError(ActionCheckSiteNow, siteIdentifier, monitorID, err)
		log.WithError(err).Warn("site action failed")
		metrics.IncAction(ActionCheckSiteNow, false)
		return err
	}

	status := models.StatusUnknown
	if update != nil {
		status = update.Status
		if mergeErr := a.applyUpdate(*update); mergeErr != nil {
			log.WithError(mergeErr).Error("could not apply manual check result")
		}
	}
	log.WithField("status", status).Info("site action succeeded")
	metrics.IncAction(ActionCheckSiteNow, true)
	return nil
}

// StartSiteMonitoring starts every monitor of the site.
func (a *Actions) StartSiteMonitoring(ctx context.Context, siteIdentifier string) error {
	return a.toggle(ctx, toggleRequest{
		action:   ActionStartSiteMonitoring,
		site:     siteIdentifier,
		target:   true,
		siteWide: true,
		remote: func(ctx context.Context) error {
			return a.service.StartMonitoringForSite(ctx, siteIdentifier)
		},
	})
}

// StopSiteMonitoring stops every monitor of the site.
func (a *Actions) StopSiteMonitoring(ctx context.Context, siteIdentifier string) error {
	return a.toggle(ctx, toggleRequest{
		action:   ActionStopSiteMonitoring,
		site:     siteIdentifier,
		target:   false,
		siteWide: true,
		remote: func(ctx context.Context) error {
			return a.service.StopMonitoringForSite(ctx, siteIdentifier)
		},
	})
}

func (a *Actions) StartSiteMonitorMonitoring(ctx context.Context, siteIdentifier, monitorID string) error {
	return a.toggle(ctx, toggleRequest{
		action:  ActionStartSiteMonitorMonitoring,
		site:    siteIdentifier,
		monitor: monitorID,
		target:  true,
		remote: func(ctx context.Context) error {
			return a.service.StartMonitoringForMonitor(ctx, siteIdentifier, monitorID)
		},
	})
}

func (a *Actions) StopSiteMonitorMonitoring(ctx context.Context, siteIdentifier, monitorID string) error {
	return a.toggle(ctx, toggleRequest{
		action:  ActionStopSiteMonitorMonitoring,
		site:    siteIdentifier,
		monitor: monitorID,
		target:  false,
		remote: func(ctx context.Context) error {
			return a.service.StopMonitoringForMonitor(ctx, siteIdentifier, monitorID)
		},
	})
}

// ClearOptimisticMonitoringLocks drops the locks held for the listed monitors.
func (a *Actions) ClearOptimisticMonitoringLocks(siteIdentifier string, monitorIDs []string) {
	if len(monitorIDs) == 0 {
		return
	}
	a.locks.Clear(siteIdentifier, monitorIDs)
	a.log.WithFields(logrus.Fields{
		"site_identifier": siteIdentifier,
		"monitor_ids":     monitorIDs,
	}).Debug("cleared optimistic monitoring locks")
}

// releaseOptimisticMonitoringLocks clears only the locks still held under
// token, leaving any a newer action registered in place.
func (a *Actions) releaseOptimisticMonitoringLocks(siteIdentifier string, monitorIDs []string, token uint64) {
	if len(monitorIDs) == 0 {
		return
	}
	released := a.locks.Release(siteIdentifier, monitorIDs, token)
	a.log.WithFields(logrus.Fields{
		"site_identifier": siteIdentifier,
		"monitor_ids":     released,
	}).Debug("cleared optimistic monitoring locks")
}

// ApplyStatusUpdate merges a pushed status update, honouring active locks.
// Updates that cannot be merged are logged and returned; state is left as it was.
func (a *Actions) ApplyStatusUpdate(update models.StatusUpdate) error {
	if err := a.applyUpdate(update); err != nil {
		a.log.WithError(err).WithFields(logrus.Fields{
			"site_identifier": update.SiteIdentifier,
			"monitor_id":      update.MonitorID,
		}).Warn("dropping status update")
		return err
	}
	return nil
}

// SyncSites replaces state with the backend's view of every site.
func (a *Actions) SyncSites(ctx context.Context, lister SiteLister) error {
	log := a.logAction(ActionSyncSites, nil)
	sites, err := lister.ListSites(ctx)
	if err != nil {
		err = NormalizeError(ActionSyncSites, "", "", err)
		log.WithError(err).Warn("site action failed")
		metrics.IncAction(ActionSyncSites, false)
		return err
	}

	valid := make([]*models.Site, 0, len(sites))
	for _, s := range sites {
		if verr := s.Validate(); verr != nil {
			log.WithError(verr).Warn("skipping invalid site from backend")
			continue
		}
		valid = append(valid, s)
	}

	a.mu.Lock()
	a.state.SetSites(valid)
	a.mu.Unlock()

	pruned := a.locks.Prune(a.clock.Now())
	log.WithFields(logrus.Fields{"sites": len(valid), "pruned_locks": pruned}).Info("site action succeeded")
	metrics.IncAction(ActionSyncSites, true)
	return nil
}

func (a *Actions) logAction(action string, fields logrus.Fields) *logrus.Entry {
	entry := a.log.WithFields(logrus.Fields{"store": storeName, "action": action})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Debug("store action started")
	return entry
}

func validateUpdate(u models.StatusUpdate) error {
	switch {
	case u.SiteIdentifier == "":
		return fmt.Errorf("%w: missing site identifier", ErrInvalidStatusUpdate)
	case u.MonitorID == "":
		return fmt.Errorf("%w: missing monitor id", ErrInvalidStatusUpdate)
	case !u.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidStatusUpdate, u.Status)
	case u.Monitor != nil && u.Monitor.ID != "" && u.Monitor.ID != u.MonitorID:
		return fmt.Errorf("%w: monitor snapshot %s does not match %s", ErrInvalidStatusUpdate, u.Monitor.ID, u.MonitorID)
	}
	return nil
}

// applyUpdate never lets a merge failure escape as a panic.
func (a *Actions) applyUpdate(update models.StatusUpdate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: merge panicked: %v", ErrInvalidStatusUpdate, r)
			metrics.IncStatusUpdate(metrics.OutcomeMalformed)
		}
	}()

	if err := validateUpdate(update); err != nil {
		metrics.IncStatusUpdate(metrics.OutcomeMalformed)
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	next, changed := mergeStatusUpdate(a.state.GetSites(), update,
		WithLocks(a.locks, a.clock.Now()), WithMergeLogger(a.log))
	if !changed {
		metrics.IncStatusUpdate(metrics.OutcomeIgnored)
		return nil
	}
	a.state.SetSites(next)
	metrics.IncStatusUpdate(metrics.OutcomeApplied)
	return nil
}
