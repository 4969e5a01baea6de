// Package alerting decides when a price observation should raise an alert.
// A product has at most one pending alert at a time; further crossings are
// ignored until that alert is sent or cleared.
package alerting

import (
	"time"

	"github.com/shaibs3/pricewatch/internal/model"
	"github.com/shopspring/decimal"
)

// Outcome is what the store must apply after an observation
type Outcome struct {
	// Raise is a new pending alert to insert, or nil
	Raise *model.AlertRecord
	// Clear is the pending alert to mark cleared, or nil
	Clear *model.AlertRecord
}

func (o Outcome) IsZero() bool {
	return o.Raise == nil && o.Clear == nil
}

type Deduplicator struct {
	clearOnRecovery bool
}

// NewDeduplicator returns a deduplicator. With clearOnRecovery set, a
// pending alert is withdrawn once the price rises back above target.
func NewDeduplicator(clearOnRecovery bool) *Deduplicator {
	return &Deduplicator{clearOnRecovery: clearOnRecovery}
}

// Evaluate applies the pending gate to a fresh price. alerts are the
// product's existing alert records in any order.
func (d *Deduplicator) Evaluate(product model.TrackedProduct, newPrice decimal.Decimal, alerts []model.AlertRecord, at time.Time) Outcome {
	pending := findPending(alerts)

	if newPrice.LessThanOrEqual(product.TargetPrice) {
		if pending != nil {
			return Outcome{}
		}
		return Outcome{Raise: &model.AlertRecord{
			ProductID:    product.ID,
			PriceAtAlert: newPrice,
			RaisedAt:     at,
			Status:       model.AlertPending,
		}}
	}

	if d.clearOnRecovery && pending != nil {
		return Outcome{Clear: pending}
	}
	return Outcome{}
}

func findPending(alerts []model.AlertRecord) *model.AlertRecord {
	for i := range alerts {
		if alerts[i].Status == model.AlertPending {
			return &alerts[i]
		}
	}
	return nil
}
