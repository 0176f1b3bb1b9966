package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/uptimewatcher/backend/internal/database"
	"github.com/uptimewatcher/backend/internal/logger"
	"github.com/uptimewatcher/backend/internal/seed"
	"github.com/uptimewatcher/backend/internal/services"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var filePath, dbPath string
	var debug bool
	flagSet := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	flagSet.StringVarP(&filePath, "file", "f", "sites.yaml", "YAML file with site definitions")
	flagSet.StringVar(&dbPath, "db", filepath.Join("data", "uptime.db"), "path to the SQLite database")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logging")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	logger.Init(debug, os.Stdout)

	file, err := seed.LoadFile(filePath)
	if err != nil {
		return err
	}
	sites, err := file.Models()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("ensure data directory: %w", err)
	}
	db, err := database.Open(dbPath)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	svc := services.NewMonitoringService(db, services.NewChecker(), nil, nil)
	created, skipped, err := seed.Apply(context.Background(), svc, sites)
	if err != nil {
		return err
	}
	logger.Component("seed").WithField("created", created).WithField("skipped", skipped).Info("seeded sites")
	return nil
}
