package sitesync

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/uptimewatcher/backend/internal/metrics"
	"github.com/uptimewatcher/backend/internal/models"
)

type toggleRequest struct {
	action   string
	site     string
	monitor  string
	target   bool
	siteWide bool
	remote   func(ctx context.Context) error
}

// pendingToggle tracks one optimistic mutation. Guarded by Actions.mu.
type pendingToggle struct {
	settled bool
	applied bool
}

// priorState is the monitoring state captured before the action started.
type priorState struct {
	monitors map[string]bool
	site     bool
}

func (p priorState) monitorIDs() []string {
	ids := make([]string, 0, len(p.monitors))
	for id := range p.monitors {
		ids = append(ids, id)
	}
	return ids
}

func (a *Actions) toggle(ctx context.Context, req toggleRequest) error {
	fields := logrus.Fields{
		"site_identifier":   req.site,
		"target_monitoring": req.target,
	}
	if req.monitor != "" {
		fields["monitor_id"] = req.monitor
	}
	log := a.logAction(req.action, fields)

	prior, known := a.capture(req)
	monitorIDs := prior.monitorIDs()

	op := &pendingToggle{}
	var token uint64
	if known {
		token = a.locks.Register(req.site, monitorIDs, req.target, a.clock.Now().Add(a.lockTTL))
	}
	timer := a.clock.AfterFunc(a.delay, func() {
		a.applyOptimistic(req, op, monitorIDs)
	})

	err := req.remote(ctx)
	timer.Stop()

	if err != nil {
		defer a.releaseOptimisticMonitoringLocks(req.site, monitorIDs, token)
		if a.revert(req, op, prior) {
			log.Debug("reverted optimistic monitoring change")
		}
		err = NormalizeError(req.action, req.site, req.monitor, err)
		log.WithError(err).Warn("site action failed")
		metrics.IncAction(req.action, false)
		return err
	}

	a.confirm(req, op, monitorIDs)
	log.Info("site action succeeded")
	metrics.IncAction(req.action, true)
	return nil
}

// capture records the monitoring flags the action is about to change.
func (a *Actions) capture(req toggleRequest) (priorState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prior := priorState{monitors: make(map[string]bool)}
	site, _ := models.FindSite(a.state.GetSites(), req.site)
	if site == nil {
		return prior, false
	}
	prior.site = site.Monitoring
	if req.siteWide {
		for _, m := range site.Monitors {
			prior.monitors[m.ID] = m.Monitoring
		}
		return prior, true
	}
	m := site.FindMonitor(req.monitor)
	if m == nil {
		return prior, false
	}
	prior.monitors[m.ID] = m.Monitoring
	return prior, true
}

func (a *Actions) applyOptimistic(req toggleRequest, op *pendingToggle, monitorIDs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if op.settled {
		return
	}
	a.writeMonitoring(req.site, uniform(monitorIDs, req.target), a.siteFlag(req))
	op.applied = true
}

func (a *Actions) confirm(req toggleRequest, op *pendingToggle, monitorIDs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	op.settled = true
	a.writeMonitoring(req.site, uniform(monitorIDs, req.target), a.siteFlag(req))
}

// revert restores the captured flags if the optimistic change was applied.
func (a *Actions) revert(req toggleRequest, op *pendingToggle, prior priorState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	op.settled = true
	if !op.applied {
		return false
	}
	var siteFlag *bool
	if req.siteWide {
		siteFlag = &prior.site
	}
	a.writeMonitoring(req.site, prior.monitors, siteFlag)
	metrics.IncOptimisticRevert()
	return true
}

func (a *Actions) siteFlag(req toggleRequest) *bool {
	if !req.siteWide {
		return nil
	}
	target := req.target
	return &target
}

func uniform(ids []string, value bool) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = value
	}
	return out
}

// writeMonitoring sets monitoring flags copy-on-write. Callers hold a.mu.
func (a *Actions) writeMonitoring(siteIdentifier string, values map[string]bool, siteFlag *bool) bool {
	sites := a.state.GetSites()
	site, idx := models.FindSite(sites, siteIdentifier)
	if site == nil {
		return false
	}

	var nextSite *models.Site
	for i, m := range site.Monitors {
		want, ok := values[m.ID]
		if !ok || m.Monitoring == want {
			continue
		}
		if nextSite == nil {
			nextSite = site.Copy()
		}
		nm := m.Copy()
		nm.Monitoring = want
		nextSite.Monitors[i] = nm
	}
	if siteFlag != nil && site.Monitoring != *siteFlag {
		if nextSite == nil {
			nextSite = site.Copy()
		}
		nextSite.Monitoring = *siteFlag
	}
	if nextSite == nil {
		return false
	}

	next := make([]*models.Site, len(sites))
	copy(next, sites)
	next[idx] = nextSite
	a.state.SetSites(next)
	return true
}
