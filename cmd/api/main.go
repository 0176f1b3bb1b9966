package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/uptimewatcher/backend/internal/api/routes"
	"github.com/uptimewatcher/backend/internal/config"
	"github.com/uptimewatcher/backend/internal/database"
	"github.com/uptimewatcher/backend/internal/logger"
	"github.com/uptimewatcher/backend/internal/metrics"
	"github.com/uptimewatcher/backend/internal/server"
	"github.com/uptimewatcher/backend/internal/services"
	"github.com/uptimewatcher/backend/internal/sitesync"
	"github.com/uptimewatcher/backend/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log().WithError(err).Fatal("load config")
	}

	// Log to both stdout and a rotated file
	var out io.Writer = os.Stdout
	if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "uptimewatcher.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	logger.Init(cfg.Debug, out)
	log := logger.Component("main")
	log.WithFields(logrus.Fields{"version": version.Full(), "env": cfg.Environment}).Infof("starting %s", version.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("server stopped with error")
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	broker := services.NewEventBroker(64)
	notifications := services.NewNotificationService(cfg.NotificationURLs)
	defer notifications.Flush()

	svc := services.NewMonitoringService(db, services.NewChecker(), broker, notifications)
	if cfg.ManualCheckRate > 0 {
		svc.CheckLimit = rate.Limit(cfg.ManualCheckRate / 60)
	}

	store := sitesync.NewStore(nil)
	actions := sitesync.NewActions(store, svc,
		sitesync.WithOptimisticDelay(cfg.OptimisticDelay),
		sitesync.WithLockTTL(cfg.LockTTL),
	)
	if err := actions.SyncSites(ctx, svc); err != nil {
		return err
	}

	scheduler, err := services.NewCheckScheduler(svc, cfg.CheckSchedule)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, routes.Dependencies{
		DB:       db,
		Service:  svc,
		Events:   broker,
		Store:    store,
		Actions:  actions,
		Gatherer: registry,
	})
	if err != nil {
		return err
	}

	updates, unsubscribe := broker.Subscribe()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		unsubscribe()
		return nil
	})
	g.Go(func() error {
		for update := range updates {
			// Merge failures are logged by Actions.
			_ = actions.ApplyStatusUpdate(update)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.LockTTL)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				actions.Locks().Prune(now)
			}
		}
	})
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	return g.Wait()
}
