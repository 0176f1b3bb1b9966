package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrInvalidSite wraps every Validate failure.
var ErrInvalidSite = errors.New("invalid site")

type Site struct {
	Identifier string     `gorm:"primaryKey" json:"identifier"`
	Name       string     `json:"name"`
	Monitoring bool       `json:"monitoring"`
	Monitors   []*Monitor `gorm:"foreignKey:SiteIdentifier;references:Identifier" json:"monitors"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (s *Site) BeforeCreate(tx *gorm.DB) (err error) {
	if s.Identifier == "" {
		s.Identifier = uuid.New().String()
	}
	return
}

// MonitoringEnabled reports whether any monitor of the site is actively monitored.
func (s *Site) MonitoringEnabled() bool {
	for _, m := range s.Monitors {
		if m.Monitoring {
			return true
		}
	}
	return false
}

// MonitorIndex returns the position of the monitor with the given id, or -1.
func (s *Site) MonitorIndex(monitorID string) int {
	for i, m := range s.Monitors {
		if m.ID == monitorID {
			return i
		}
	}
	return -1
}

// FindMonitor returns the monitor with the given id, or nil.
func (s *Site) FindMonitor(monitorID string) *Monitor {
	if i := s.MonitorIndex(monitorID); i >= 0 {
		return s.Monitors[i]
	}
	return nil
}

// MonitorIDs lists monitor ids in order.
func (s *Site) MonitorIDs() []string {
	ids := make([]string, 0, len(s.Monitors))
	for _, m := range s.Monitors {
		ids = append(ids, m.ID)
	}
	return ids
}

// Copy returns a shallow copy with its own monitor slice; the monitors themselves are shared.
func (s *Site) Copy() *Site {
	c := *s
	c.Monitors = append([]*Monitor(nil), s.Monitors...)
	return &c
}

// Validate checks that monitor ids are present and unique within the site.
func (s *Site) Validate() error {
	if s.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidSite)
	}
	seen := make(map[string]struct{}, len(s.Monitors))
	for _, m := range s.Monitors {
		if m.ID == "" {
			return fmt.Errorf("%w: site %s: monitor id is required", ErrInvalidSite, s.Identifier)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: site %s: duplicate monitor id %s", ErrInvalidSite, s.Identifier, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}

// FindSite returns the site with the given identifier and its index, or nil and -1.
func FindSite(sites []*Site, identifier string) (*Site, int) {
	for i, s := range sites {
		if s.Identifier == identifier {
			return s, i
		}
	}
	return nil, -1
}
