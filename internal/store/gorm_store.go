package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/shaibs3/pricewatch/internal/alerting"
	"github.com/shaibs3/pricewatch/internal/model"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the relational Store shared by the postgres and sqlite
// backends. Writes run through a circuit breaker; whole transactions are
// retried on connection-class errors, each retry in a fresh transaction.
type GormStore struct {
	db        *gorm.DB
	logger    *zap.Logger
	cb        *gobreaker.CircuitBreaker
	retryable func(error) bool
	attempts  uint

	retries metric.Int64Counter
}

func newGormStore(db *gorm.DB, name string, logger *zap.Logger, meter metric.Meter, retryable func(error) bool) (*GormStore, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("store")
	}
	retries, err := meter.Int64Counter("pricewatch_store_retries_total",
		metric.WithDescription("Store operations retried after a transient database error"))
	if err != nil {
		return nil, err
	}
	if retryable == nil {
		retryable = func(error) bool { return false }
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		// only infrastructure failures count against the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlertNotPending) || errors.Is(err, model.ErrNegativeTarget)
		},
	})

	return &GormStore{
		db:        db,
		logger:    logger,
		cb:        cb,
		retryable: retryable,
		attempts:  3,
		retries:   retries,
	}, nil
}

// openGormStore wraps an open gorm handle and migrates it when the config
// asks for it. The connection pool is closed on any failure.
func openGormStore(db *gorm.DB, config Config, name string, logger *zap.Logger, meter metric.Meter, retryable func(error) bool) (*GormStore, error) {
	s, err := newGormStore(db, name, logger, meter, retryable)
	if err == nil && config.autoMigrate() {
		if err = s.migrate(); err != nil {
			err = fmt.Errorf("failed to auto-migrate: %w", err)
		}
	}
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return s, nil
}

func (s *GormStore) migrate() error {
	return s.db.AutoMigrate(&model.TrackedProduct{}, &model.PriceObservation{}, &model.AlertRecord{})
}

// run executes op behind the breaker, retrying transient database errors
func (s *GormStore) run(ctx context.Context, name string, op func(db *gorm.DB) error) error {
	return retry.Do(
		func() error {
			_, err := s.cb.Execute(func() (interface{}, error) {
				return nil, op(s.db.WithContext(ctx))
			})
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(50*time.Millisecond),
		retry.RetryIf(s.retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", name)))
			s.logger.Warn("retrying store operation", zap.String("op", name), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

func (s *GormStore) ListProducts(ctx context.Context) ([]model.TrackedProduct, error) {
	var products []model.TrackedProduct
	err := s.run(ctx, "list_products", func(db *gorm.DB) error {
		return db.Order("id").Find(&products).Error
	})
	return products, err
}

func (s *GormStore) ListProductsByUser(ctx context.Context, userID uint64) ([]model.TrackedProduct, error) {
	var products []model.TrackedProduct
	err := s.run(ctx, "list_products_by_user", func(db *gorm.DB) error {
		return db.Where("user_id = ?", userID).Order("id").Find(&products).Error
	})
	return products, err
}

func (s *GormStore) GetProduct(ctx context.Context, id uint64) (model.TrackedProduct, error) {
	var p model.TrackedProduct
	err := s.run(ctx, "get_product", func(db *gorm.DB) error {
		return notFound(db.First(&p, id).Error, "product", id)
	})
	return p, err
}

func (s *GormStore) AddProduct(ctx context.Context, p *model.TrackedProduct, initial *model.PriceObservation) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.run(ctx, "add_product", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			row := *p
			if initial != nil {
				row.CurrentPrice = decimal.NewNullDecimal(initial.Price)
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert product: %w", err)
			}
			if initial != nil {
				obs := *initial
				obs.ProductID = row.ID
				if err := tx.Create(&obs).Error; err != nil {
					return fmt.Errorf("insert initial observation: %w", err)
				}
				*initial = obs
			}
			*p = row
			return nil
		})
	})
}

func (s *GormStore) RecordObservation(ctx context.Context, obs model.PriceObservation, decide DecideFunc) (alerting.Outcome, error) {
	var out alerting.Outcome
	err := s.run(ctx, "record_observation", func(db *gorm.DB) error {
		out = alerting.Outcome{}
		return db.Transaction(func(tx *gorm.DB) error {
			var p model.TrackedProduct
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, obs.ProductID).Error
			if err := notFound(err, "product", obs.ProductID); err != nil {
				return err
			}

			row := obs
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("append observation: %w", err)
			}
			p.CurrentPrice = decimal.NewNullDecimal(obs.Price)
			if err := tx.Model(&model.TrackedProduct{}).Where("id = ?", p.ID).
				Update("current_price", p.CurrentPrice).Error; err != nil {
				return fmt.Errorf("update current price: %w", err)
			}

			if decide == nil {
				return nil
			}
			var pending []model.AlertRecord
			if err := tx.Where("product_id = ? AND status = ?", p.ID, model.AlertPending).
				Find(&pending).Error; err != nil {
				return fmt.Errorf("load pending alerts: %w", err)
			}

			decision := decide(p, pending)
			if decision.Clear != nil {
				cleared := *decision.Clear
				res := tx.Model(&model.AlertRecord{}).
					Where("id = ? AND status = ?", cleared.ID, model.AlertPending).
					Update("status", model.AlertCleared)
				if res.Error != nil {
					return fmt.Errorf("clear alert: %w", res.Error)
				}
				cleared.Status = model.AlertCleared
				out.Clear = &cleared
			}
			if decision.Raise != nil {
				rec := *decision.Raise
				if err := tx.Create(&rec).Error; err != nil {
					return fmt.Errorf("insert alert: %w", err)
				}
				out.Raise = &rec
			}
			return nil
		})
	})
	if err != nil {
		return alerting.Outcome{}, err
	}
	return out, nil
}

func (s *GormStore) AppendObservation(ctx context.Context, obs *model.PriceObservation) error {
	return s.run(ctx, "append_observation", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&model.TrackedProduct{}).Where("id = ?", obs.ProductID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("product %d: %w", obs.ProductID, ErrNotFound)
			}
			row := *obs
			row.ID = 0
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			*obs = row
			return nil
		})
	})
}

func (s *GormStore) History(ctx context.Context, productID uint64) ([]model.PriceObservation, error) {
	var history []model.PriceObservation
	err := s.run(ctx, "history", func(db *gorm.DB) error {
		return db.Where("product_id = ?", productID).
			Order("observed_at ASC").Order("id ASC").
			Find(&history).Error
	})
	return history, err
}

func (s *GormStore) Alerts(ctx context.Context, productID uint64) ([]model.AlertRecord, error) {
	var alerts []model.AlertRecord
	err := s.run(ctx, "alerts", func(db *gorm.DB) error {
		return db.Where("product_id = ?", productID).Order("id").Find(&alerts).Error
	})
	return alerts, err
}

func (s *GormStore) MarkAlertSent(ctx context.Context, alertID uint64) (model.AlertRecord, error) {
	var rec model.AlertRecord
	err := s.run(ctx, "mark_alert_sent", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, alertID).Error
			if err := notFound(err, "alert", alertID); err != nil {
				return err
			}
			if rec.Status != model.AlertPending {
				return fmt.Errorf("alert %d is %s: %w", alertID, rec.Status, ErrAlertNotPending)
			}
			rec.Status = model.AlertSent
			return tx.Model(&model.AlertRecord{}).Where("id = ?", alertID).Update("status", model.AlertSent).Error
		})
	})
	return rec, err
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, what string, id uint64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return err
}
