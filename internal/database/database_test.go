package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uptimewatcher/backend/internal/models"
)

func TestOpenAndMigrate(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "uptime.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	site := models.Site{Name: "example", Monitors: []*models.Monitor{{ID: "m1", Type: models.MonitorTypeHTTP}}}
	require.NoError(t, db.Create(&site).Error)
	assert.NotEmpty(t, site.Identifier)

	var loaded models.Site
	require.NoError(t, db.Preload("Monitors").First(&loaded, "identifier = ?", site.Identifier).Error)
	require.Len(t, loaded.Monitors, 1)
	assert.Equal(t, models.StatusPending, loaded.Monitors[0].Status)
	assert.Equal(t, site.Identifier, loaded.Monitors[0].SiteIdentifier)
}

func TestOpenKeepsExplicitQuery(t *testing.T) {
	db, err := Open("file:explicit?mode=memory&cache=shared")
	require.NoError(t, err)
	assert.NoError(t, Migrate(db))
}
