package db

import (
	"context"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the database at dbPath and brings its schema up to date
func InitDB(dbPath string) (*gorm.DB, error) {
	slog.Debug("Initializing database", "path", dbPath)

	db, err := InitDatabase(DBConfig{
		Path:     dbPath,
		LogLevel: getGormLogLevel(),
	})
	if err != nil {
		return nil, err
	}

	if err := AutoMigrateAll(db); err != nil {
		slog.Error("Database operation failed",
			"layer", "db",
			"operation", "migrate",
			"error", err)
		return nil, err
	}

	return db, nil
}

// getGormLogLevel maps application log level to corresponding GORM log level
func getGormLogLevel() logger.LogLevel {
	l := slog.Default()
	ctx := context.Background()

	switch {
	case l.Enabled(ctx, slog.LevelDebug):
		return logger.Info // SQL queries only when debug logging is enabled
	case l.Enabled(ctx, slog.LevelWarn):
		return logger.Warn
	case l.Enabled(ctx, slog.LevelError):
		return logger.Error
	default:
		return logger.Silent
	}
}
