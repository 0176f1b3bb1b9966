package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MonitorStatus is the last known health state of a monitor.
type MonitorStatus string

const (
	StatusUp       MonitorStatus = "up"
	StatusDown     MonitorStatus = "down"
	StatusPending  MonitorStatus = "pending"
	StatusPaused   MonitorStatus = "paused"
	StatusDegraded MonitorStatus = "degraded"
	StatusUnknown  MonitorStatus = "unknown"
)

// Valid reports whether s is one of the known statuses.
func (s MonitorStatus) Valid() bool {
	switch s {
	case StatusUp, StatusDown, StatusPending, StatusPaused, StatusDegraded, StatusUnknown:
		return true
	}
	return false
}

// ParseMonitorStatus normalizes free-form input, returning StatusUnknown for anything unrecognized.
func ParseMonitorStatus(raw string) MonitorStatus {
	s := MonitorStatus(strings.ToLower(strings.TrimSpace(raw)))
	if s.Valid() {
		return s
	}
	return StatusUnknown
}

// Monitor types supported by the checker.
const (
	MonitorTypeHTTP = "http"
	MonitorTypePort = "port"
	MonitorTypePing = "ping"
)

type Monitor struct {
	ID             string        `gorm:"primaryKey" json:"id"`
	SiteIdentifier string        `gorm:"primaryKey" json:"siteIdentifier"`
	Position       int           `json:"-"`
	Type           string        `json:"type"` // http, port, ping
	URL            string        `json:"url,omitempty"`
	Host           string        `json:"host,omitempty"`
	Port           int           `json:"port,omitempty"`
	Status         MonitorStatus `json:"status" gorm:"default:pending"`
	Monitoring     bool          `json:"monitoring"`
	ResponseTime   int64         `json:"responseTime"`  // ms, -1 when the last check never completed
	CheckInterval  int64         `json:"checkInterval"` // ms
	Timeout        int64         `json:"timeout"`       // ms
	RetryAttempts  int           `json:"retryAttempts"`
	LastChecked    *time.Time    `json:"lastChecked,omitempty"`

	History []StatusHistory `gorm:"-" json:"history"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (m *Monitor) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = StatusPending
	}
	return
}

// Copy returns a shallow copy. History is shared because it is never mutated in place.
func (m *Monitor) Copy() *Monitor {
	c := *m
	return &c
}

// StatusHistory is a single completed check.
type StatusHistory struct {
	ID             uint          `gorm:"primaryKey" json:"-"`
	SiteIdentifier string        `gorm:"index:idx_history_monitor" json:"-"`
	MonitorID      string        `gorm:"index:idx_history_monitor" json:"-"`
	Status         MonitorStatus `json:"status"`
	ResponseTime   int64         `json:"responseTime"`
	Timestamp      int64         `json:"timestamp" gorm:"index"` // epoch ms
	Details        string        `json:"details,omitempty"`
}

// NewStatusHistory builds a history entry stamped at t.
func NewStatusHistory(status MonitorStatus, responseTime int64, t time.Time, details string) StatusHistory {
	return StatusHistory{
		Status:       status,
		ResponseTime: responseTime,
		Timestamp:    t.UnixMilli(),
		Details:      details,
	}
}
