package sitesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uptimewatcher/backend/internal/models"
)

func TestCheckSiteNow_AppliesReturnedUpdate(t *testing.T) {
	state := newRecordingState(newSite("site-edge", newMonitor("monitor-edge", true, entry(models.StatusUp, 90, 1))))
	rt := int64(250)
	svc := &fakeService{checkFn: func(ctx context.Context, site, monitor string) (*models.StatusUpdate, error) {
		snapshot := newMonitor(monitor, true)
		return &models.StatusUpdate{
			SiteIdentifier: site,
			MonitorID:      monitor,
			Status:         models.StatusDown,
			Monitor:        snapshot,
			ResponseTime:   &rt,
			Timestamp:      models.FormatTimestamp(baseTime),
		}, nil
	}}
	a, _ := newTestActions(state, svc)

	require.NoError(t, a.CheckSiteNow(context.Background(), "site-edge", "monitor-edge"))

	m := state.monitor("site-edge", "monitor-edge")
	require.NotNil(t, m)
	assert.Equal(t, models.StatusDown, m.Status)
	assert.Equal(t, rt, m.ResponseTime)
	assert.Len(t, m.History, 1, "empty snapshot history keeps the local samples")
	assert.Equal(t, 1, state.SetCalls())
	assert.Equal(t, []string{"check:site-edge/monitor-edge"}, svc.Calls())
}

func TestCheckSiteNow_RemoteFailureLeavesStateAlone(t *testing.T) {
	state := newRecordingState(newSite("site-edge", newMonitor("monitor-edge", true)))
	remoteErr := errors.New("manual check failed")
	svc := &fakeService{checkFn: func(ctx context.Context, site, monitor string) (*models.StatusUpdate, error) {
		return nil, remoteErr
	}}
	a, _ := newTestActions(state, svc)

	err := a.CheckSiteNow(context.Background(), "site-edge", "monitor-edge")

	require.Error(t, err)
	assert.ErrorIs(t, err, remoteErr)
	assert.Contains(t, err.Error(), "manual check failed")
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, ActionCheckSiteNow, actionErr.Op)
	assert.Equal(t, "monitor-edge", actionErr.MonitorID)
	assert.Equal(t, 0, state.SetCalls())
}

func TestCheckSiteNow_MergeFailureIsSwallowed(t *testing.T) {
	state := newRecordingState(newSite("site-edge", newMonitor("monitor-edge", true)))
	svc := &fakeService{checkFn: func(ctx context.Context, site, monitor string) (*models.StatusUpdate, error) {
		return &models.StatusUpdate{
			SiteIdentifier: site,
			MonitorID:      monitor,
			Status:         "exploded",
			Monitor:        newMonitor(monitor, true),
		}, nil
	}}
	a, _ := newTestActions(state, svc)

	assert.NoError(t, a.CheckSiteNow(context.Background(), "site-edge", "monitor-edge"))
	assert.Equal(t, 0, state.SetCalls())
	assert.Equal(t, models.StatusUp, state.monitor("site-edge", "monitor-edge").Status)
}

func TestCheckSiteNow_PanickingStateIsSwallowed(t *testing.T) {
	state := newRecordingState(newSite("site-edge", newMonitor("monitor-edge", true)))
	state.panicOn = true
	svc := &fakeService{checkFn: func(ctx context.Context, site, monitor string) (*models.StatusUpdate, error) {
		return &models.StatusUpdate{
			SiteIdentifier: site,
			MonitorID:      monitor,
			Status:         models.StatusDown,
			Monitor:        newMonitor(monitor, true),
		}, nil
	}}
	a, _ := newTestActions(state, svc)

	assert.NotPanics(t, func() {
		assert.NoError(t, a.CheckSiteNow(context.Background(), "site-edge", "monitor-edge"))
	})
	assert.Equal(t, 1, state.SetCalls())

	// the actions mutex was released despite the panic
	state.panicOn = false
	require.NoError(t, a.CheckSiteNow(context.Background(), "site-edge", "monitor-edge"))
	assert.Equal(t, models.StatusDown, state.monitor("site-edge", "monitor-edge").Status)
}

func TestCheckSiteNow_NilResultDoesNotTouchState(t *testing.T) {
	state := newRecordingState(newSite("site-edge", newMonitor("monitor-edge", true)))
	a, _ := newTestActions(state, &fakeService{})

	require.NoError(t, a.CheckSiteNow(context.Background(), "site-edge", "monitor-edge"))
	assert.Equal(t, 0, state.SetCalls())
}

func TestStopSiteMonitoring_RevertsOnFailure(t *testing.T) {
	state := newRecordingState(newSite("site-revert", newMonitor("monitor-revert", true)))
	remoteErr := errors.New("stop failed")
	svc := &fakeService{}
	a, clock := newTestActions(state, svc)

	var lockDuringCall MonitoringLock
	var lockedDuringCall, appliedDuringCall bool
	svc.stopSiteFn = func(ctx context.Context, site string) error {
		// debounce elapses before the backend answers
		elapse(t, clock, DefaultOptimisticDelay)
		appliedDuringCall = assert.Eventually(t, monitoringBecomes(state, "site-revert", "monitor-revert", false), time.Second, time.Millisecond)
		lockDuringCall, lockedDuringCall = a.Locks().Lookup("site-revert", "monitor-revert", baseTime)
		return remoteErr
	}

	err := a.StopSiteMonitoring(context.Background(), "site-revert")

	require.Error(t, err)
	assert.ErrorIs(t, err, remoteErr)
	assert.EqualError(t, errors.Unwrap(err), "stop failed")

	assert.True(t, appliedDuringCall, "optimistic stop applied while the call was in flight")
	require.True(t, lockedDuringCall)
	assert.False(t, lockDuringCall.TargetMonitoring)
	assert.Equal(t, baseTime.Add(5*time.Second), lockDuringCall.ExpiresAt)

	_, stillLocked := a.Locks().Lookup("site-revert", "monitor-revert", baseTime)
	assert.False(t, stillLocked, "lock cleared after failure")
	assert.Equal(t, 0, a.Locks().Len())

	site, _ := state.Site("site-revert")
	assert.True(t, site.Monitors[0].Monitoring, "monitor reverted to its pre-call flag")
	assert.True(t, site.Monitoring)
}

func TestStartSiteMonitoring_RevertsOnFailure(t *testing.T) {
	state := newRecordingState(newSite("site-revert", newMonitor("m1", false), newMonitor("m2", true)))
	remoteErr := errors.New("start failed")
	svc := &fakeService{}
	a, clock := newTestActions(state, svc)
	svc.startSiteFn = func(ctx context.Context, site string) error {
		elapse(t, clock, DefaultOptimisticDelay)
		lock, ok := a.Locks().Lookup("site-revert", "m1", baseTime)
		assert.True(t, ok)
		assert.True(t, lock.TargetMonitoring)
		assert.Eventually(t, monitoringBecomes(state, "site-revert", "m1", true), time.Second, time.Millisecond)
		return remoteErr
	}

	err := a.StartSiteMonitoring(context.Background(), "site-revert")

	assert.ErrorIs(t, err, remoteErr)
	assert.False(t, state.monitor("site-revert", "m1").Monitoring)
	assert.True(t, state.monitor("site-revert", "m2").Monitoring)
	assert.Equal(t, 0, a.Locks().Len())
}

func TestStartSiteMonitorMonitoring_ConfirmsOnSuccess(t *testing.T) {
	sibling := newMonitor("m2", false)
	state := newRecordingState(newSite("site-a", newMonitor("m1", false), sibling))
	svc := &fakeService{}
	a, clock := newTestActions(state, svc)
	svc.startMonitorFn = func(ctx context.Context, site, monitor string) error {
		assert.False(t, state.monitor("site-a", "m1").Monitoring, "optimistic change waits for the debounce")
		elapse(t, clock, DefaultOptimisticDelay)
		assert.Eventually(t, monitoringBecomes(state, "site-a", "m1", true), time.Second, time.Millisecond)
		return nil
	}

	require.NoError(t, a.StartSiteMonitorMonitoring(context.Background(), "site-a", "m1"))

	assert.True(t, state.monitor("site-a", "m1").Monitoring)
	assert.Same(t, sibling, state.monitor("site-a", "m2"))
	assert.Equal(t, 1, state.SetCalls(), "confirmation of an applied change is a no-op")

	lock, ok := a.Locks().Lookup("site-a", "m1", baseTime)
	require.True(t, ok, "lock stays informative after success")
	assert.True(t, lock.TargetMonitoring)
	assert.Equal(t, []string{"startMonitor:site-a/m1"}, svc.Calls())
}

func TestStopSiteMonitorMonitoring_FastSuccessSkipsDebounce(t *testing.T) {
	state := newRecordingState(newSite("site-a", newMonitor("m1", true)))
	a, clock := newTestActions(state, &fakeService{})

	require.NoError(t, a.StopSiteMonitorMonitoring(context.Background(), "site-a", "m1"))

	assert.False(t, state.monitor("site-a", "m1").Monitoring)
	assert.Equal(t, 1, state.SetCalls())
	assertNoPendingTimers(t, clock)
	clock.Advance(time.Second)
	assert.Equal(t, 1, state.SetCalls())
}

func TestStopSiteMonitorMonitoring_FastFailureNeverTouchesState(t *testing.T) {
	state := newRecordingState(newSite("site-a", newMonitor("m1", true)))
	remoteErr := errors.New("backend unavailable")
	svc := &fakeService{stopMonitorFn: func(ctx context.Context, site, monitor string) error {
		return remoteErr
	}}
	a, clock := newTestActions(state, svc)

	err := a.StopSiteMonitorMonitoring(context.Background(), "site-a", "m1")

	assert.ErrorIs(t, err, remoteErr)
	assert.Equal(t, 0, state.SetCalls())
	assert.Equal(t, 0, a.Locks().Len())
	assertNoPendingTimers(t, clock)
}

func TestToggle_SchedulesOptimisticDelay(t *testing.T) {
	state := newRecordingState(newSite("site-a", newMonitor("m1", true)))
	svc := &fakeService{}
	clock := clockwork.NewFakeClockAt(baseTime)
	a := NewActions(state, svc, WithClock(clock), WithOptimisticDelay(75*time.Millisecond))
	svc.stopMonitorFn = func(ctx context.Context, site, monitor string) error {
		elapse(t, clock, 74*time.Millisecond)
		assert.Never(t, monitoringBecomes(state, "site-a", "m1", false), 30*time.Millisecond, time.Millisecond)
		clock.Advance(time.Millisecond)
		assert.Eventually(t, monitoringBecomes(state, "site-a", "m1", false), time.Second, time.Millisecond)
		return nil
	}

	require.NoError(t, a.StopSiteMonitorMonitoring(context.Background(), "site-a", "m1"))
}

func TestPushUpdateDuringStopIsHeldByLock(t *testing.T) {
	state := newRecordingState(newSite("site-a", newMonitor("m1", true)))
	svc := &fakeService{}
	a, clock := newTestActions(state, svc)
	svc.stopMonitorFn = func(ctx context.Context, site, monitor string) error {
		elapse(t, clock, DefaultOptimisticDelay)
		require.Eventually(t, monitoringBecomes(state, "site-a", "m1", false), time.Second, time.Millisecond)
		stale := newMonitor("m1", true)
		require.NoError(t, a.ApplyStatusUpdate(models.StatusUpdate{
			SiteIdentifier: "site-a",
			MonitorID:      "m1",
			Status:         models.StatusDown,
			Monitor:        stale,
		}))
		return nil
	}

	require.NoError(t, a.StopSiteMonitorMonitoring(context.Background(), "site-a", "m1"))

	m := state.monitor("site-a", "m1")
	assert.False(t, m.Monitoring)
	assert.Equal(t, models.StatusDown, m.Status)
}

func TestToggle_UnknownSiteStillCallsBackend(t *testing.T) {
	state := newRecordingState()
	svc := &fakeService{}
	a, clock := newTestActions(state, svc)

	require.NoError(t, a.StartSiteMonitoring(context.Background(), "ghost"))

	assert.Equal(t, []string{"startSite:ghost"}, svc.Calls())
	assert.Equal(t, 0, a.Locks().Len())
	assertNoPendingTimers(t, clock)
	assert.Equal(t, 0, state.SetCalls())
}

func TestFailedToggleKeepsNewerOverlappingLock(t *testing.T) {
	state := newRecordingState(newSite("site-a", newMonitor("m1", true)))
	remoteErr := errors.New("stop failed")
	svc := &fakeService{}
	a, _ := newTestActions(state, svc)
	svc.stopMonitorFn = func(ctx context.Context, site, monitor string) error {
		// a start for the same monitor completes while the stop is in flight
		require.NoError(t, a.StartSiteMonitorMonitoring(ctx, site, monitor))
		return remoteErr
	}

	err := a.StopSiteMonitorMonitoring(context.Background(), "site-a", "m1")
	require.ErrorIs(t, err, remoteErr)

	lock, ok := a.Locks().Lookup("site-a", "m1", baseTime)
	require.True(t, ok, "the failed stop leaves the start's lock in place")
	assert.True(t, lock.TargetMonitoring)
	assert.True(t, state.monitor("site-a", "m1").Monitoring)
	assert.Equal(t, []string{"stopMonitor:site-a/m1", "startMonitor:site-a/m1"}, svc.Calls())
}

func TestNewActions_SharedLockRegistry(t *testing.T) {
	locks := NewLockRegistry()
	state := newRecordingState(newSite("site-a", newMonitor("m1", true)))
	svc := &fakeService{}
	a := NewActions(state, svc, WithLockRegistry(locks), WithClock(clockwork.NewFakeClockAt(baseTime)))
	assert.Same(t, locks, a.Locks())

	svc.stopMonitorFn = func(ctx context.Context, site, monitor string) error {
		lock, ok := locks.Lookup("site-a", "m1", baseTime)
		assert.True(t, ok, "toggle registers into the supplied registry")
		assert.False(t, lock.TargetMonitoring)
		return nil
	}
	require.NoError(t, a.StopSiteMonitorMonitoring(context.Background(), "site-a", "m1"))
	assert.Equal(t, 1, locks.Len())
}

func TestApplyStatusUpdate_RejectsMalformedUpdates(t *testing.T) {
	state := newRecordingState(newSite("site-a", newMonitor("m1", true)))
	a, _ := newTestActions(state, &fakeService{})

	cases := []models.StatusUpdate{
		{MonitorID: "m1", Status: models.StatusUp, Monitor: newMonitor("m1", true)},
		{SiteIdentifier: "site-a", Status: models.StatusUp, Monitor: newMonitor("m1", true)},
		{SiteIdentifier: "site-a", MonitorID: "m1", Status: "sideways", Monitor: newMonitor("m1", true)},
		{SiteIdentifier: "site-a", MonitorID: "m1", Status: models.StatusUp, Monitor: newMonitor("m2", true)},
	}
	for _, u := range cases {
		assert.ErrorIs(t, a.ApplyStatusUpdate(u), ErrInvalidStatusUpdate)
	}
	assert.Equal(t, 0, state.SetCalls())
}

func TestApplyStatusUpdate_NoopDoesNotSetState(t *testing.T) {
	state := newRecordingState(newSite("site-a", newMonitor("m1", true)))
	a, _ := newTestActions(state, &fakeService{})

	require.NoError(t, a.ApplyStatusUpdate(models.StatusUpdate{SiteIdentifier: "site-a", MonitorID: "m1", Status: models.StatusDown}))
	require.NoError(t, a.ApplyStatusUpdate(models.StatusUpdate{SiteIdentifier: "nope", MonitorID: "m1", Status: models.StatusDown, Monitor: newMonitor("m1", true)}))
	assert.Equal(t, 0, state.SetCalls())
}

func TestSyncSites(t *testing.T) {
	state := newRecordingState()
	invalid := newSite("dup", newMonitor("x", true), newMonitor("x", false))
	svc := &fakeService{sites: []*models.Site{newSite("site-a", newMonitor("m1", true)), invalid}}
	a, _ := newTestActions(state, svc)
	a.Locks().Register("site-a", []string{"m1"}, true, baseTime.Add(-time.Second))

	require.NoError(t, a.SyncSites(context.Background(), svc))

	sites := state.GetSites()
	require.Len(t, sites, 1)
	assert.Equal(t, "site-a", sites[0].Identifier)
	assert.Equal(t, 0, a.Locks().Len())
}

func TestSyncSites_Failure(t *testing.T) {
	state := newRecordingState(newSite("site-a"))
	svc := &fakeService{listErr: errors.New("db locked")}
	a, _ := newTestActions(state, svc)

	err := a.SyncSites(context.Background(), svc)
	assert.ErrorContains(t, err, "db locked")
	assert.Equal(t, 0, state.SetCalls())
}

func TestStoreSubscribe(t *testing.T) {
	store := NewStore(nil)
	var seen [][]*models.Site
	cancel := store.Subscribe(func(s []*models.Site) { seen = append(seen, s) })

	store.SetSites([]*models.Site{newSite("a")})
	cancel()
	store.SetSites(nil)

	require.Len(t, seen, 1)
	assert.Equal(t, "a", seen[0][0].Identifier)
}
