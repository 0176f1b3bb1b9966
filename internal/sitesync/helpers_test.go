package sitesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uptimewatcher/backend/internal/models"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newMonitor(id string, monitoring bool, history ...models.StatusHistory) *models.Monitor {
	return &models.Monitor{
		ID:            id,
		Type:          models.MonitorTypeHTTP,
		URL:           "https://example.com/" + id,
		Status:        models.StatusUp,
		Monitoring:    monitoring,
		ResponseTime:  120,
		CheckInterval: 60000,
		Timeout:       10000,
		RetryAttempts: 3,
		History:       history,
	}
}

func newSite(identifier string, monitors ...*models.Monitor) *models.Site {
	for _, m := range monitors {
		m.SiteIdentifier = identifier
	}
	s := &models.Site{Identifier: identifier, Name: "Site " + identifier, Monitors: monitors}
	s.Monitoring = s.MonitoringEnabled()
	return s
}

func entry(status models.MonitorStatus, responseTime int64, ts int64) models.StatusHistory {
	return models.StatusHistory{Status: status, ResponseTime: responseTime, Timestamp: ts}
}

func sameSlice(a, b []*models.Site) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}

// recordingState counts SetSites calls on top of a Store.
type recordingState struct {
	*Store
	mu       sync.Mutex
	setCalls int
	panicOn  bool
}

func newRecordingState(sites ...*models.Site) *recordingState {
	return &recordingState{Store: NewStore(sites)}
}

func (r *recordingState) SetSites(sites []*models.Site) {
	r.mu.Lock()
	r.setCalls++
	shouldPanic := r.panicOn
	r.mu.Unlock()
	if shouldPanic {
		panic("state rejected update")
	}
	r.Store.SetSites(sites)
}

func (r *recordingState) SetCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setCalls
}

func (r *recordingState) monitor(siteID, monitorID string) *models.Monitor {
	site, ok := r.Site(siteID)
	if !ok {
		return nil
	}
	return site.FindMonitor(monitorID)
}

func newTestActions(state SiteState, svc MonitoringService) (*Actions, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(baseTime)
	a := NewActions(state, svc, WithClock(clock), WithLockTTL(5*time.Second))
	return a, clock
}

// elapse advances the clock by d once exactly one optimistic timer is pending.
func elapse(t *testing.T, clock *clockwork.FakeClock, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1), "optimistic timer not scheduled")
	clock.Advance(d)
}

func assertNoPendingTimers(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, clock.BlockUntilContext(ctx, 0), "optimistic timer still pending")
}

func monitoringBecomes(state *recordingState, siteID, monitorID string, want bool) func() bool {
	return func() bool {
		m := state.monitor(siteID, monitorID)
		return m != nil && m.Monitoring == want
	}
}

type fakeService struct {
	mu    sync.Mutex
	calls []string

	checkFn        func(ctx context.Context, site, monitor string) (*models.StatusUpdate, error)
	startSiteFn    func(ctx context.Context, site string) error
	stopSiteFn     func(ctx context.Context, site string) error
	startMonitorFn func(ctx context.Context, site, monitor string) error
	stopMonitorFn  func(ctx context.Context, site, monitor string) error
	sites          []*models.Site
	listErr        error
}

func (f *fakeService) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) CheckSiteNow(ctx context.Context, site, monitor string) (*models.StatusUpdate, error) {
	f.record("check:" + site + "/" + monitor)
	if f.checkFn != nil {
		return f.checkFn(ctx, site, monitor)
	}
	return nil, nil
}

func (f *fakeService) StartMonitoringForSite(ctx context.Context, site string) error {
	f.record("startSite:" + site)
	if f.startSiteFn != nil {
		return f.startSiteFn(ctx, site)
	}
	return nil
}

func (f *fakeService) StopMonitoringForSite(ctx context.Context, site string) error {
	f.record("stopSite:" + site)
	if f.stopSiteFn != nil {
		return f.stopSiteFn(ctx, site)
	}
	return nil
}

func (f *fakeService) StartMonitoringForMonitor(ctx context.Context, site, monitor string) error {
	f.record("startMonitor:" + site + "/" + monitor)
	if f.startMonitorFn != nil {
		return f.startMonitorFn(ctx, site, monitor)
	}
	return nil
}

func (f *fakeService) StopMonitoringForMonitor(ctx context.Context, site, monitor string) error {
	f.record("stopMonitor:" + site + "/" + monitor)
	if f.stopMonitorFn != nil {
		return f.stopMonitorFn(ctx, site, monitor)
	}
	return nil
}

func (f *fakeService) ListSites(ctx context.Context) ([]*models.Site, error) {
	return f.sites, f.listErr
}
