package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/uptimewatcher/backend/internal/logger"
)

// CheckScheduler runs CheckAll on a cron schedule.
type CheckScheduler struct {
	service *MonitoringService
	cron    *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewCheckScheduler registers the periodic check job. schedule accepts standard
// five-field expressions and descriptors such as "@every 30s".
func NewCheckScheduler(service *MonitoringService, schedule string) (*CheckScheduler, error) {
	s := &CheckScheduler{
		service: service,
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid check schedule %q: %w", schedule, err)
	}
	return s, nil
}

// runOnce skips a tick while the previous run is still in progress.
func (s *CheckScheduler) runOnce() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logger.Component("scheduler").Debug("previous check run still in progress, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if err := s.service.CheckAll(context.Background()); err != nil {
		logger.Component("scheduler").WithError(err).Error("scheduled check run failed")
	}
}

// Run starts the scheduler and blocks until ctx is done, then waits for the running job.
func (s *CheckScheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
