package db

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestGetGormLogLevel(t *testing.T) {
	tests := []struct {
		name           string
		logLevel       slog.Level
		expectedResult logger.LogLevel
	}{
		{name: "debug level returns info", logLevel: slog.LevelDebug, expectedResult: logger.Info},
		{name: "info level returns warn", logLevel: slog.LevelInfo, expectedResult: logger.Warn},
		{name: "warn level returns warn", logLevel: slog.LevelWarn, expectedResult: logger.Warn},
		{name: "error level returns error", logLevel: slog.LevelError, expectedResult: logger.Error},
		{name: "silent returns silent", logLevel: slog.Level(1000), expectedResult: logger.Silent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: tt.logLevel})
			originalLogger := slog.Default()
			slog.SetDefault(slog.New(handler))
			defer slog.SetDefault(originalLogger)

			assert.Equal(t, tt.expectedResult, getGormLogLevel())
		})
	}
}

func TestInitDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "moor.db")

	database, err := InitDB(dbPath)
	require.NoError(t, err)
	require.NotNil(t, database)

	assert.FileExists(t, dbPath)
	for _, model := range AllModels() {
		assert.True(t, database.Migrator().HasTable(model), "table for %T should exist", model)
	}

	var journalMode string
	require.NoError(t, database.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)
}

func TestInitDatabase_Memory(t *testing.T) {
	database, err := InitDatabase(DBConfig{Path: ":memory:", LogLevel: logger.Silent})
	require.NoError(t, err)

	var foreignKeys int
	require.NoError(t, database.Raw("PRAGMA foreign_keys").Scan(&foreignKeys).Error)
	assert.Equal(t, 1, foreignKeys)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}
