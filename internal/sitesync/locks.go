package sitesync

import (
	"sync"
	"time"
)

// MonitoringLock records the monitoring state an in-flight optimistic
// mutation is driving a monitor towards.
type MonitoringLock struct {
	SiteIdentifier   string
	MonitorID        string
	TargetMonitoring bool
	ExpiresAt        time.Time
	// Token identifies the registration that created the lock.
	Token uint64
}

// Active reports whether the lock is still inside its validity window.
func (l MonitoringLock) Active(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// LockView is the read side of the registry consulted by the merger.
type LockView interface {
	Lookup(siteIdentifier, monitorID string, now time.Time) (MonitoringLock, bool)
}

type lockKey struct {
	site    string
	monitor string
}

// LockRegistry tracks optimistic monitoring mutations per (site, monitor).
// All methods are synchronous and never fail.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[lockKey]MonitoringLock
	seq   uint64
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[lockKey]MonitoringLock)}
}

// Register locks every listed monitor of the site to target until expiresAt
// and returns the registration's token. A later registration for the same
// monitor replaces the earlier one.
func (r *LockRegistry) Register(siteIdentifier string, monitorIDs []string, target bool, expiresAt time.Time) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	for _, id := range monitorIDs {
		r.locks[lockKey{site: siteIdentifier, monitor: id}] = MonitoringLock{
			SiteIdentifier:   siteIdentifier,
			MonitorID:        id,
			TargetMonitoring: target,
			ExpiresAt:        expiresAt,
			Token:            r.seq,
		}
	}
	return r.seq
}

// Clear drops the locks of the listed monitors. Unknown entries are ignored.
func (r *LockRegistry) Clear(siteIdentifier string, monitorIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range monitorIDs {
		delete(r.locks, lockKey{site: siteIdentifier, monitor: id})
	}
}

// Release drops the listed locks still held under token and returns the
// monitor ids it removed.
func (r *LockRegistry) Release(siteIdentifier string, monitorIDs []string, token uint64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released []string
	for _, id := range monitorIDs {
		key := lockKey{site: siteIdentifier, monitor: id}
		if lock, ok := r.locks[key]; ok && lock.Token == token {
			delete(r.locks, key)
			released = append(released, id)
		}
	}
	return released
}

// Lookup returns the active lock for the monitor. Expired locks are removed and reported absent.
func (r *LockRegistry) Lookup(siteIdentifier, monitorID string, now time.Time) (MonitoringLock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := lockKey{site: siteIdentifier, monitor: monitorID}
	lock, ok := r.locks[key]
	if !ok {
		return MonitoringLock{}, false
	}
	if !lock.Active(now) {
		delete(r.locks, key)
		return MonitoringLock{}, false
	}
	return lock, true
}

// Prune removes expired locks and returns how many were dropped.
func (r *LockRegistry) Prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, lock := range r.locks {
		if !lock.Active(now) {
			delete(r.locks, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked locks, expired or not.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
