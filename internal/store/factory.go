package store

import (
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Factory builds a Store from its JSON configuration
type Factory struct {
	logger *zap.Logger
	meter  metric.Meter
}

func NewFactory(logger *zap.Logger, meter metric.Meter) *Factory {
	return &Factory{
		logger: logger.Named("store"),
		meter:  meter,
	}
}

func (f *Factory) CreateStore(configJSON string) (Store, error) {
	var config Config
	if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
		return nil, fmt.Errorf("failed to parse store configuration JSON: %w", err)
	}

	if !config.DbType.IsValid() {
		return nil, fmt.Errorf("unsupported store type: %q", config.DbType)
	}
	f.logger.Info("creating store", zap.String("db_type", config.DbType.String()))

	switch config.DbType {
	case DbTypePostgres:
		return NewPostgresStore(config, f.logger, f.meter)
	case DbTypeSQLite:
		return NewSQLiteStore(config, f.logger, f.meter)
	default:
		return NewInMemoryStore(), nil
	}
}
