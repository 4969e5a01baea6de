package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNegativeTarget = errors.New("target price must not be negative")

// TrackedProduct is a product under periodic price monitoring
type TrackedProduct struct {
	ID           uint64              `gorm:"primaryKey" json:"id"`
	UserID       uint64              `gorm:"not null;index" json:"user_id"`
	URL          string              `gorm:"type:text;not null" json:"url"`
	Name         string              `gorm:"size:255" json:"name"`
	TargetPrice  decimal.Decimal     `gorm:"type:numeric;not null" json:"target_price"`
	CurrentPrice decimal.NullDecimal `gorm:"type:numeric" json:"current_price"`
	CreatedAt    time.Time           `json:"created_at"`
}

func (TrackedProduct) TableName() string {
	return "products"
}

// Validate checks the invariants that hold for every stored product
func (p TrackedProduct) Validate() error {
	if p.TargetPrice.IsNegative() {
		return ErrNegativeTarget
	}
	return nil
}

// PriceObservation is one durable price reading. Rows are never updated.
type PriceObservation struct {
	ID         uint64          `gorm:"primaryKey" json:"id"`
	ProductID  uint64          `gorm:"not null;index:idx_observation_product_time" json:"product_id"`
	Price      decimal.Decimal `gorm:"type:numeric;not null" json:"price"`
	ObservedAt time.Time       `gorm:"not null;index:idx_observation_product_time" json:"observed_at"`
}

func (PriceObservation) TableName() string {
	return "price_history"
}

// AlertRecord is raised when a product's price crosses its target
type AlertRecord struct {
	ID           uint64          `gorm:"primaryKey" json:"id"`
	ProductID    uint64          `gorm:"not null;index;uniqueIndex:idx_alert_one_pending,where:status = 'pending'" json:"product_id"`
	PriceAtAlert decimal.Decimal `gorm:"type:numeric;not null" json:"price_at_alert"`
	RaisedAt     time.Time       `gorm:"not null" json:"raised_at"`
	Status       AlertStatus     `gorm:"type:varchar(16);not null" json:"status"`
}

func (AlertRecord) TableName() string {
	return "alerts"
}

// ExtractionResult is the outcome of one extraction call. PriceText is the
// raw text as found on the page; the caller normalizes it.
type ExtractionResult struct {
	Title     string
	PriceText string
	SourceURL string
	Succeeded bool
}

// HasDetails reports whether anything usable was extracted
func (r ExtractionResult) HasDetails() bool {
	return r.Succeeded && (r.Title != "" || r.PriceText != "")
}
