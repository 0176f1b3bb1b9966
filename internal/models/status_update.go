package models

import (
	"strconv"
	"strings"
	"time"
)

// StatusUpdate is the push-event envelope describing a monitor's latest check.
// It carries either identifiers only or, additionally, monitor and/or site snapshots.
type StatusUpdate struct {
	SiteIdentifier string        `json:"siteIdentifier"`
	MonitorID      string        `json:"monitorId"`
	Status         MonitorStatus `json:"status"`
	PreviousStatus MonitorStatus `json:"previousStatus,omitempty"`
	Monitor        *Monitor      `json:"monitor,omitempty"`
	Site           *Site         `json:"site,omitempty"`
	Timestamp      string        `json:"timestamp"`
	ResponseTime   *int64        `json:"responseTime,omitempty"`
	Details        string        `json:"details,omitempty"`
}

func (u StatusUpdate) HasMonitor() bool { return u.Monitor != nil }

func (u StatusUpdate) HasSite() bool { return u.Site != nil }

// HasSnapshot reports whether the update carries enough context to be merged.
func (u StatusUpdate) HasSnapshot() bool { return u.HasMonitor() || u.HasSite() }

// SnapshotMonitor returns the monitor snapshot, falling back to the matching
// monitor inside the site snapshot.
func (u StatusUpdate) SnapshotMonitor() *Monitor {
	if u.Monitor != nil {
		return u.Monitor
	}
	if u.Site != nil {
		return u.Site.FindMonitor(u.MonitorID)
	}
	return nil
}

// ParseTimestamp accepts RFC 3339 strings or epoch milliseconds.
func (u StatusUpdate) ParseTimestamp() (time.Time, bool) {
	raw := strings.TrimSpace(u.Timestamp)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way status updates carry it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
