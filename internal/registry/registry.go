// Package registry owns the set of tracked products and their last known
// price.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/shaibs3/pricewatch/internal/alerting"
	"github.com/shaibs3/pricewatch/internal/model"
	"github.com/shaibs3/pricewatch/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Registry struct {
	products store.ProductStore
	dedup    *alerting.Deduplicator
	logger   *zap.Logger
}

func New(products store.ProductStore, dedup *alerting.Deduplicator, logger *zap.Logger) *Registry {
	return &Registry{
		products: products,
		dedup:    dedup,
		logger:   logger.Named("registry"),
	}
}

func (r *Registry) ListAll(ctx context.Context) ([]model.TrackedProduct, error) {
	return r.products.ListProducts(ctx)
}

func (r *Registry) ListByUser(ctx context.Context, userID uint64) ([]model.TrackedProduct, error) {
	return r.products.ListProductsByUser(ctx, userID)
}

func (r *Registry) Get(ctx context.Context, id uint64) (model.TrackedProduct, error) {
	return r.products.GetProduct(ctx, id)
}

// Add registers a product. A non-nil initialPrice becomes the current price
// and the first observation.
func (r *Registry) Add(ctx context.Context, p *model.TrackedProduct, initialPrice *decimal.Decimal, at time.Time) error {
	var initial *model.PriceObservation
	if initialPrice != nil {
		initial = &model.PriceObservation{Price: *initialPrice, ObservedAt: at}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = at
	}
	if err := r.products.AddProduct(ctx, p, initial); err != nil {
		return fmt.Errorf("add product: %w", err)
	}
	r.logger.Info("product registered",
		zap.Uint64("product_id", p.ID),
		zap.Uint64("user_id", p.UserID),
		zap.Bool("has_price", initialPrice != nil))
	return nil
}

// RecordObservation appends the observation, updates the current price and
// runs the pending gate in one transaction. A non-nil alert is the newly
// raised pending alert.
func (r *Registry) RecordObservation(ctx context.Context, productID uint64, price decimal.Decimal, at time.Time) (*model.AlertRecord, error) {
	obs := model.PriceObservation{ProductID: productID, Price: price, ObservedAt: at}
	out, err := r.products.RecordObservation(ctx, obs, func(p model.TrackedProduct, pending []model.AlertRecord) alerting.Outcome {
		return r.dedup.Evaluate(p, price, pending, at)
	})
	if err != nil {
		return nil, fmt.Errorf("record observation for product %d: %w", productID, err)
	}

	if out.Clear != nil {
		r.logger.Info("pending alert cleared, price recovered",
			zap.Uint64("product_id", productID),
			zap.Uint64("alert_id", out.Clear.ID),
			zap.String("price", price.String()))
	}
	if out.Raise != nil {
		r.logger.Info("price alert raised",
			zap.Uint64("product_id", productID),
			zap.Uint64("alert_id", out.Raise.ID),
			zap.String("price", price.String()))
	}
	return out.Raise, nil
}
