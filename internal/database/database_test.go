package database

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat/server/internal/models"
)

func TestNewDatabaseSQLite(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db, err := NewDatabase("sqlite", filepath.Join(t.TempDir(), "habitat.db"), logger, false)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.RunMigrations())

	var fk int
	require.NoError(t, db.GetDB().Raw("PRAGMA foreign_keys").Scan(&fk).Error)
	assert.Equal(t, 1, fk)

	for _, table := range []string{"users", "properties", "property_images", "contacts", "site_settings", "team_members"} {
		assert.True(t, db.GetDB().Migrator().HasTable(table), table)
	}
}

func TestNewDatabaseUnsupportedDriver(t *testing.T) {
	_, err := NewDatabase("oracle", "whatever", logrus.New(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestMigrateSchemaIsRepeatable(t *testing.T) {
	db, err := NewTestDB()
	require.NoError(t, err)

	require.NoError(t, MigrateSchema(db))
	require.NoError(t, MigrateSchema(db))

	property := models.Property{Title: "Casa", Status: models.PropertyStatusAvailable}
	require.NoError(t, db.Create(&property).Error)
	assert.NotZero(t, property.ID)
	assert.False(t, property.CreatedAt.IsZero())
	assert.Nil(t, property.UpdatedAt)
}

func TestNewTestDBIsolated(t *testing.T) {
	first, err := NewTestDB()
	require.NoError(t, err)
	second, err := NewTestDB()
	require.NoError(t, err)

	require.NoError(t, MigrateSchema(first))
	assert.True(t, first.Migrator().HasTable("users"))
	assert.False(t, second.Migrator().HasTable("users"))
}
