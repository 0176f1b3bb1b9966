package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/uptimewatcher/backend/internal/logger"
	"github.com/uptimewatcher/backend/internal/metrics"
	"github.com/uptimewatcher/backend/internal/models"
	"github.com/uptimewatcher/backend/internal/sitesync"
)

var ErrCheckRateLimited = errors.New("manual check rate limited")

var (
	_ sitesync.MonitoringService = (*MonitoringService)(nil)
	_ sitesync.SiteLister        = (*MonitoringService)(nil)
)

// MonitoringService is the local monitoring backend: it persists sites,
// runs checks and publishes every resulting status update.
type MonitoringService struct {
	DB            *gorm.DB
	Checker       MonitorChecker
	Events        *EventBroker
	Notifications *NotificationService

	// HistoryLimit caps stored history entries per monitor.
	HistoryLimit int
	// CheckLimit and CheckBurst throttle manual checks per monitor. Zero disables throttling.
	CheckLimit rate.Limit
	CheckBurst int
	// Concurrency bounds parallel checks in CheckAll.
	Concurrency int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewMonitoringService(db *gorm.DB, checker MonitorChecker, events *EventBroker, ns *NotificationService) *MonitoringService {
	return &MonitoringService{
		DB:            db,
		Checker:       checker,
		Events:        events,
		Notifications: ns,
		HistoryLimit:  500,
		CheckBurst:    1,
		Concurrency:   4,
		limiters:      make(map[string]*rate.Limiter),
		now:           time.Now,
	}
}

func historyOrder(db *gorm.DB) *gorm.DB {
	return db.Order("timestamp DESC").Order("id DESC")
}

// ListSites returns every site with its monitors and recent history, newest history first.
func (s *MonitoringService) ListSites(ctx context.Context) ([]*models.Site, error) {
	var sites []*models.Site
	err := s.DB.WithContext(ctx).
		Preload("Monitors", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("name ASC").
		Find(&sites).Error
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	for _, site := range sites {
		if err := s.loadHistory(ctx, site); err != nil {
			return nil, err
		}
	}
	return sites, nil
}

// GetSite returns one site with monitors and history.
func (s *MonitoringService) GetSite(ctx context.Context, identifier string) (*models.Site, error) {
	var site models.Site
	err := s.DB.WithContext(ctx).
		Preload("Monitors", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&site, "identifier = ?", identifier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, sitesync.ErrSiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get site %s: %w", identifier, err)
	}
	if err := s.loadHistory(ctx, &site); err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *MonitoringService) loadHistory(ctx context.Context, site *models.Site) error {
	var rows []models.StatusHistory
	if err := historyOrder(s.DB.WithContext(ctx)).
		Where("site_identifier = ?", site.Identifier).
		Find(&rows).Error; err != nil {
		return fmt.Errorf("load history for %s: %w", site.Identifier, err)
	}
	byMonitor := make(map[string][]models.StatusHistory)
	for _, h := range rows {
		byMonitor[h.MonitorID] = append(byMonitor[h.MonitorID], h)
	}
	for _, m := range site.Monitors {
		m.History = byMonitor[m.ID]
	}
	return nil
}

// CreateSite stores a new site and its monitors. Missing ids are generated.
func (s *MonitoringService) CreateSite(ctx context.Context, site *models.Site) error {
	if site.Identifier == "" {
		if err := site.BeforeCreate(nil); err != nil {
			return err
		}
	}
	for i, m := range site.Monitors {
		if err := m.BeforeCreate(nil); err != nil {
			return err
		}
		m.SiteIdentifier = site.Identifier
		m.Position = i
	}
	if err := site.Validate(); err != nil {
		return err
	}
	site.Monitoring = site.MonitoringEnabled()
	if err := s.DB.WithContext(ctx).Create(site).Error; err != nil {
		return fmt.Errorf("create site %s: %w", site.Identifier, err)
	}
	return nil
}

// DeleteSite removes the site, its monitors and their history.
func (s *MonitoringService) DeleteSite(ctx context.Context, identifier string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("identifier = ?", identifier).Delete(&models.Site{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return sitesync.ErrSiteNotFound
		}
		if err := tx.Where("site_identifier = ?", identifier).Delete(&models.Monitor{}).Error; err != nil {
			return err
		}
		return tx.Where("site_identifier = ?", identifier).Delete(&models.StatusHistory{}).Error
	})
}

func (s *MonitoringService) getMonitor(ctx context.Context, siteIdentifier, monitorID string) (*models.Monitor, error) {
	var monitor models.Monitor
	err := s.DB.WithContext(ctx).
		First(&monitor, "site_identifier = ? AND id = ?", siteIdentifier, monitorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if _, siteErr := s.siteRow(ctx, siteIdentifier); siteErr != nil {
			return nil, siteErr
		}
		return nil, sitesync.ErrMonitorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &monitor, nil
}

func (s *MonitoringService) siteRow(ctx context.Context, identifier string) (*models.Site, error) {
	var site models.Site
	err := s.DB.WithContext(ctx).First(&site, "identifier = ?", identifier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, sitesync.ErrSiteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *MonitoringService) allowManualCheck(siteIdentifier, monitorID string) bool {
	if s.CheckLimit <= 0 {
		return true
	}
	key := siteIdentifier + "/" + monitorID
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		burst := s.CheckBurst
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(s.CheckLimit, burst)
		s.limiters[key] = l
	}
	return l.Allow()
}

// CheckSiteNow runs an immediate check of one monitor.
func (s *MonitoringService) CheckSiteNow(ctx context.Context, siteIdentifier, monitorID string) (*models.StatusUpdate, error) {
	if !s.allowManualCheck(siteIdentifier, monitorID) {
		return nil, ErrCheckRateLimited
	}
	monitor, err := s.getMonitor(ctx, siteIdentifier, monitorID)
	if err != nil {
		return nil, err
	}
	update, err := s.runCheck(ctx, monitor)
	if err != nil {
		return nil, err
	}
	return &update, nil
}

func (s *MonitoringService) runCheck(ctx context.Context, monitor *models.Monitor) (models.StatusUpdate, error) {
	res := s.Checker.Check(ctx, monitor)
	if res.CheckedAt.IsZero() {
		res.CheckedAt = s.now()
	}
	oldStatus := monitor.Status
	metrics.IncCheck(monitor.Type, string(res.Status))

	entry := models.NewStatusHistory(res.Status, res.ResponseTime, res.CheckedAt, res.Details)
	entry.SiteIdentifier = monitor.SiteIdentifier
	entry.MonitorID = monitor.ID

	var history []models.StatusHistory
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Monitor{}).
			Where("site_identifier = ? AND id = ?", monitor.SiteIdentifier, monitor.ID).
			Updates(map[string]interface{}{
				"status":        res.Status,
				"response_time": res.ResponseTime,
				"last_checked":  res.CheckedAt,
			}).Error; err != nil {
			return err
		}
		if err := s.pruneHistory(tx, monitor); err != nil {
			return err
		}
		return historyOrder(tx).
			Where("site_identifier = ? AND monitor_id = ?", monitor.SiteIdentifier, monitor.ID).
			Find(&history).Error
	})
	if err != nil {
		return models.StatusUpdate{}, fmt.Errorf("record check for %s/%s: %w", monitor.SiteIdentifier, monitor.ID, err)
	}

	checkedAt := res.CheckedAt
	monitor.Status = res.Status
	monitor.ResponseTime = res.ResponseTime
	monitor.LastChecked = &checkedAt
	monitor.History = history

	rt := res.ResponseTime
	update := models.StatusUpdate{
		SiteIdentifier: monitor.SiteIdentifier,
		MonitorID:      monitor.ID,
		Status:         res.Status,
		PreviousStatus: oldStatus,
		Monitor:        monitor,
		Timestamp:      models.FormatTimestamp(res.CheckedAt),
		ResponseTime:   &rt,
		Details:        res.Details,
	}
	s.publish(update)

	if oldStatus != res.Status {
		logger.Component("monitoring").WithFields(logrus.Fields{
			"site_identifier": monitor.SiteIdentifier,
			"monitor_id":      monitor.ID,
			"old_status":      oldStatus,
			"status":          res.Status,
		}).Info("monitor status changed")
		if site, err := s.siteRow(ctx, monitor.SiteIdentifier); err == nil {
			s.Notifications.NotifyStatusChange(site, monitor, oldStatus, res.Status, res.Details)
		}
	}
	return update, nil
}

func (s *MonitoringService) pruneHistory(tx *gorm.DB, monitor *models.Monitor) error {
	if s.HistoryLimit <= 0 {
		return nil
	}
	keep := historyOrder(tx.Model(&models.StatusHistory{}).Select("id")).
		Where("site_identifier = ? AND monitor_id = ?", monitor.SiteIdentifier, monitor.ID).
		Limit(s.HistoryLimit)
	return tx.Where("site_identifier = ? AND monitor_id = ? AND id NOT IN (?)", monitor.SiteIdentifier, monitor.ID, keep).
		Delete(&models.StatusHistory{}).Error
}

func (s *MonitoringService) publish(update models.StatusUpdate) {
	if s.Events != nil {
		s.Events.Publish(update)
	}
}

func (s *MonitoringService) StartMonitoringForSite(ctx context.Context, siteIdentifier string) error {
	return s.setMonitoring(ctx, siteIdentifier, "", true)
}

func (s *MonitoringService) StopMonitoringForSite(ctx context.Context, siteIdentifier string) error {
	return s.setMonitoring(ctx, siteIdentifier, "", false)
}

func (s *MonitoringService) StartMonitoringForMonitor(ctx context.Context, siteIdentifier, monitorID string) error {
	return s.setMonitoring(ctx, siteIdentifier, monitorID, true)
}

func (s *MonitoringService) StopMonitoringForMonitor(ctx context.Context, siteIdentifier, monitorID string) error {
	return s.setMonitoring(ctx, siteIdentifier, monitorID, false)
}

// setMonitoring flips the monitoring flag of one monitor, or all monitors when
// monitorID is empty. Started monitors go back to pending, stopped ones are paused.
func (s *MonitoringService) setMonitoring(ctx context.Context, siteIdentifier, monitorID string, enabled bool) error {
	status := models.StatusPaused
	if enabled {
		status = models.StatusPending
	}

	var changed []*models.Monitor
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var site models.Site
		if err := tx.First(&site, "identifier = ?", siteIdentifier).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return sitesync.ErrSiteNotFound
			}
			return err
		}

		q := tx.Where("site_identifier = ?", siteIdentifier)
		if monitorID != "" {
			q = q.Where("id = ?", monitorID)
		}
		if err := q.Order("position ASC").Find(&changed).Error; err != nil {
			return err
		}
		if monitorID != "" && len(changed) == 0 {
			return sitesync.ErrMonitorNotFound
		}

		upd := tx.Model(&models.Monitor{}).Where("site_identifier = ?", siteIdentifier)
		if monitorID != "" {
			upd = upd.Where("id = ?", monitorID)
		}
		if err := upd.Updates(map[string]interface{}{"monitoring": enabled, "status": status}).Error; err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&models.Monitor{}).
			Where("site_identifier = ? AND monitoring = ?", siteIdentifier, true).
			Count(&active).Error; err != nil {
			return err
		}
		return tx.Model(&models.Site{}).Where("identifier = ?", siteIdentifier).
			Update("monitoring", active > 0).Error
	})
	if err != nil {
		return err
	}

	now := models.FormatTimestamp(s.now())
	for _, m := range changed {
		previous := m.Status
		m.Monitoring = enabled
		m.Status = status
		s.publish(models.StatusUpdate{
			SiteIdentifier: siteIdentifier,
			MonitorID:      m.ID,
			Status:         status,
			PreviousStatus: previous,
			Monitor:        m,
			Timestamp:      now,
		})
	}
	logger.Component("monitoring").WithFields(logrus.Fields{
		"site_identifier": siteIdentifier,
		"monitor_id":      monitorID,
		"monitoring":      enabled,
		"monitors":        len(changed),
	}).Info("monitoring state updated")
	return nil
}

// dueMonitors returns monitored monitors whose check interval has elapsed.
func (s *MonitoringService) dueMonitors(ctx context.Context) ([]*models.Monitor, error) {
	var monitors []*models.Monitor
	if err := s.DB.WithContext(ctx).Where("monitoring = ?", true).Find(&monitors).Error; err != nil {
		return nil, fmt.Errorf("fetch monitors: %w", err)
	}
	now := s.now()
	due := monitors[:0]
	for _, m := range monitors {
		interval := time.Duration(m.CheckInterval) * time.Millisecond
		if m.LastChecked == nil || interval <= 0 || now.Sub(*m.LastChecked) >= interval {
			due = append(due, m)
		}
	}
	return due, nil
}

// CheckAll checks every due monitor, at most Concurrency at a time. Each
// monitor runs independently; failures are joined into the returned error.
func (s *MonitoringService) CheckAll(ctx context.Context) error {
	monitors, err := s.dueMonitors(ctx)
	if err != nil {
		return err
	}

	// A failing monitor must not cancel the rest of the tick.
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if s.Concurrency > 0 {
		g.SetLimit(s.Concurrency)
	}
	for _, m := range monitors {
		m := m
		g.Go(func() error {
			if _, err := s.runCheck(ctx, m); err != nil {
				logger.Component("monitoring").WithError(err).WithFields(logrus.Fields{
					"site_identifier": m.SiteIdentifier,
					"monitor_id":      m.ID,
				}).Error("scheduled check failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
