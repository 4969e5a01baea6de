package store

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewSQLiteStore opens a file (or ":memory:") database. SQLite has no row
// locks; writers are serialized by the single connection.
func NewSQLiteStore(config Config, logger *zap.Logger, meter metric.Meter) (*GormStore, error) {
	sqliteLogger := logger.Named("sqlite")

	connStr, err := config.connString()
	if err != nil {
		return nil, err
	}

	gormDB, err := gorm.Open(sqlite.Open(connStr), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	s, err := openGormStore(gormDB, config, "SQLiteDB", sqliteLogger, meter, nil)
	if err != nil {
		return nil, err
	}

	sqliteLogger.Info("SQLite store initialized successfully", zap.String("path", connStr))
	return s, nil
}
