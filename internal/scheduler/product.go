package scheduler

import (
	"context"
	"fmt"

	"github.com/shaibs3/pricewatch/internal/model"
	"github.com/shaibs3/pricewatch/internal/normalize"
	"go.uber.org/zap"
)

type outcome string

const (
	outcomeUpdated             outcome = "updated"
	outcomeExtractionFailed    outcome = "extraction_failed"
	outcomeNormalizationFailed outcome = "normalization_failed"
	outcomePersistenceFailed   outcome = "persistence_failed"
	outcomePanicked            outcome = "panicked"
)

type productResult struct {
	outcome outcome
	alert   *model.AlertRecord
}

// processProduct runs fetch, normalize, persist and evaluate for a single
// product. Evaluation happens inside the persist transaction, after the
// observation row is written.
func (p *Poller) processProduct(ctx context.Context, product model.TrackedProduct, cycleLogger *zap.Logger) (res productResult) {
	logger := cycleLogger.With(zap.Uint64("product_id", product.ID))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing product", zap.Any("panic", r), zap.Stack("stack"))
			res = productResult{outcome: outcomePanicked}
		}
	}()

	logger.Debug("fetching", zap.String("url", product.URL))
	result := p.fetcher.Fetch(ctx, product.URL)
	if !result.Succeeded {
		logger.Warn("no extraction result this cycle", zap.String("url", product.URL))
		return productResult{outcome: outcomeExtractionFailed}
	}

	logger.Debug("normalizing", zap.String("raw_price", result.PriceText))
	price, ok := normalize.Price(result.PriceText)
	if !ok {
		logger.Warn("could not parse price", zap.String("raw_price", result.PriceText))
		return productResult{outcome: outcomeNormalizationFailed}
	}

	logger.Debug("persisting", zap.String("price", price.String()))
	alert, err := p.registry.RecordObservation(ctx, product.ID, price, p.clock.Now())
	if err != nil {
		logger.Error("failed to persist observation, skipping alert evaluation",
			zap.String("price", price.String()),
			zap.Error(fmt.Errorf("persist: %w", err)))
		return productResult{outcome: outcomePersistenceFailed}
	}

	logger.Info("price updated",
		zap.String("name", product.Name),
		zap.String("price", price.String()),
		zap.String("target", product.TargetPrice.String()),
		zap.Bool("alert_raised", alert != nil))
	return productResult{outcome: outcomeUpdated, alert: alert}
}
