// Package seed loads site definitions from YAML and stores them through the
// monitoring service.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/uptimewatcher/backend/internal/models"
	"github.com/uptimewatcher/backend/internal/sitesync"
)

type File struct {
	Sites []SiteDef `yaml:"sites"`
}

type SiteDef struct {
	Identifier string       `yaml:"identifier"`
	Name       string       `yaml:"name"`
	Monitors   []MonitorDef `yaml:"monitors"`
}

type MonitorDef struct {
	ID            string        `yaml:"id"`
	Type          string        `yaml:"type"`
	URL           string        `yaml:"url"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Interval      time.Duration `yaml:"interval"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	// Paused monitors are stored with monitoring disabled.
	Paused bool `yaml:"paused"`
}

// SiteStore is the subset of the monitoring service the seeder writes to.
type SiteStore interface {
	GetSite(ctx context.Context, identifier string) (*models.Site, error)
	CreateSite(ctx context.Context, site *models.Site) error
}

func LoadFile(path string) (File, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return File{}, fmt.Errorf("open seed file %q: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (File, error) {
	var file File
	data, err := io.ReadAll(r)
	if err != nil {
		return file, fmt.Errorf("read seed file: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse seed file: %w", err)
	}
	return file, nil
}

// Models converts the definitions to models with defaults applied.
func (f File) Models() ([]*models.Site, error) {
	sites := make([]*models.Site, 0, len(f.Sites))
	for _, def := range f.Sites {
		if def.Identifier == "" {
			return nil, fmt.Errorf("%w: site %q has no identifier", models.ErrInvalidSite, def.Name)
		}
		site := &models.Site{Identifier: def.Identifier, Name: def.Name}
		for _, md := range def.Monitors {
			m, err := md.monitor()
			if err != nil {
				return nil, fmt.Errorf("site %s: %w", def.Identifier, err)
			}
			site.Monitors = append(site.Monitors, m)
		}
		if err := site.Validate(); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, nil
}

func (d MonitorDef) monitor() (*models.Monitor, error) {
	switch d.Type {
	case models.MonitorTypeHTTP:
		if d.URL == "" {
			return nil, fmt.Errorf("monitor %s: url is required", d.ID)
		}
	case models.MonitorTypePort:
		if d.Host == "" || d.Port <= 0 {
			return nil, fmt.Errorf("monitor %s: host and port are required", d.ID)
		}
	case models.MonitorTypePing:
		if d.Host == "" {
			return nil, fmt.Errorf("monitor %s: host is required", d.ID)
		}
	default:
		return nil, fmt.Errorf("monitor %s: unsupported type %q", d.ID, d.Type)
	}

	interval, timeout := d.Interval, d.Timeout
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &models.Monitor{
		ID:            d.ID,
		Type:          d.Type,
		URL:           d.URL,
		Host:          d.Host,
		Port:          d.Port,
		Monitoring:    !d.Paused,
		CheckInterval: interval.Milliseconds(),
		Timeout:       timeout.Milliseconds(),
		RetryAttempts: d.RetryAttempts,
	}, nil
}

// Apply creates every site that does not exist yet. Existing sites are left untouched.
func Apply(ctx context.Context, store SiteStore, sites []*models.Site) (created, skipped int, err error) {
	for _, site := range sites {
		_, err := store.GetSite(ctx, site.Identifier)
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, sitesync.ErrSiteNotFound) {
			return created, skipped, err
		}
		if err := store.CreateSite(ctx, site); err != nil {
			return created, skipped, err
		}
		created++
	}
	return created, skipped, nil
}
