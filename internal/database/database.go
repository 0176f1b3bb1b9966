package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/uptimewatcher/backend/internal/models"
)

// Open bootstraps a SQLite database using the provided filesystem path.
// A busy timeout and WAL journal are applied so concurrent checks do not trip over SQLITE_BUSY.
func Open(dbPath string) (*gorm.DB, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the monitoring tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Site{},
		&models.Monitor{},
		&models.StatusHistory{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
