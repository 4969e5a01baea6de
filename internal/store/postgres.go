package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewPostgresStore opens a lib/pq connection pool and hands it to gorm
func NewPostgresStore(config Config, logger *zap.Logger, meter metric.Meter) (*GormStore, error) {
	pgLogger := logger.Named("postgres")

	connStr, err := config.connString()
	if err != nil {
		return nil, err
	}
	pgLogger.Info("initializing Postgres store")

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		pgLogger.Error("failed to open Postgres connection", zap.Error(err))
		return nil, fmt.Errorf("failed to open Postgres connection: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		pgLogger.Error("failed to ping Postgres", zap.Error(err))
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	s, err := openGormStore(gormDB, config, "PostgresDB", pgLogger, meter, isTransientPostgresError)
	if err != nil {
		pgLogger.Error("failed to initialize Postgres store", zap.Error(err))
		return nil, err
	}

	pgLogger.Info("Postgres store initialized successfully")
	return s, nil
}

// isTransientPostgresError matches connection loss, serialization failures
// and deadlocks. Anything else is a bug or a data error and is not retried.
func isTransientPostgresError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exception
			"40", // transaction rollback
			"57": // operator intervention
			return true
		}
		return false
	}
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF)
}
