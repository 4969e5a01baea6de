package store

import (
	"context"
	"errors"

	"github.com/shaibs3/pricewatch/internal/alerting"
	"github.com/shaibs3/pricewatch/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlertNotPending = errors.New("alert is not pending")
)

// DecideFunc runs inside the observation transaction, after the
// observation row is written. product already carries the new price.
// pending holds the product's pending alerts (zero or one).
type DecideFunc func(product model.TrackedProduct, pending []model.AlertRecord) alerting.Outcome

type ProductStore interface {
	ListProducts(ctx context.Context) ([]model.TrackedProduct, error)
	ListProductsByUser(ctx context.Context, userID uint64) ([]model.TrackedProduct, error)
	GetProduct(ctx context.Context, id uint64) (model.TrackedProduct, error)
	// AddProduct inserts p and, when initial is not nil, its first
	// observation. IDs are written back into p and initial.
	AddProduct(ctx context.Context, p *model.TrackedProduct, initial *model.PriceObservation) error
	// RecordObservation appends obs, moves the product's current price and
	// applies decide as one unit. The returned outcome carries stored IDs.
	RecordObservation(ctx context.Context, obs model.PriceObservation, decide DecideFunc) (alerting.Outcome, error)
}

// HistoryStore is the append-only price ledger
type HistoryStore interface {
	AppendObservation(ctx context.Context, obs *model.PriceObservation) error
	// History returns observations ordered by time, then insertion
	History(ctx context.Context, productID uint64) ([]model.PriceObservation, error)
}

type AlertStore interface {
	Alerts(ctx context.Context, productID uint64) ([]model.AlertRecord, error)
	// MarkAlertSent is the notifier's acknowledgement; the poller never calls it
	MarkAlertSent(ctx context.Context, alertID uint64) (model.AlertRecord, error)
}

type Store interface {
	ProductStore
	HistoryStore
	AlertStore
	Close() error
}
