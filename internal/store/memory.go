package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaibs3/pricewatch/internal/alerting"
	"github.com/shaibs3/pricewatch/internal/model"
	"github.com/shopspring/decimal"
)

// InMemoryStore keeps everything in process memory. One lock guards all
// tables, so every method is a transaction.
type InMemoryStore struct {
	mu           sync.RWMutex
	products     map[uint64]model.TrackedProduct
	observations []model.PriceObservation
	alerts       []model.AlertRecord
	nextID       uint64
	now          func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		products: make(map[uint64]model.TrackedProduct),
		nextID:   1,
		now:      time.Now,
	}
}

func (m *InMemoryStore) id() uint64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *InMemoryStore) ListProducts(ctx context.Context) ([]model.TrackedProduct, error) {
	return m.listProducts(func(model.TrackedProduct) bool { return true }), nil
}

func (m *InMemoryStore) ListProductsByUser(ctx context.Context, userID uint64) ([]model.TrackedProduct, error) {
	return m.listProducts(func(p model.TrackedProduct) bool { return p.UserID == userID }), nil
}

func (m *InMemoryStore) listProducts(keep func(model.TrackedProduct) bool) []model.TrackedProduct {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.TrackedProduct, 0, len(m.products))
	for _, p := range m.products {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *InMemoryStore) GetProduct(ctx context.Context, id uint64) (model.TrackedProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return model.TrackedProduct{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *InMemoryStore) AddProduct(ctx context.Context, p *model.TrackedProduct, initial *model.PriceObservation) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p.ID = m.id()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	if initial != nil {
		initial.ID = m.id()
		initial.ProductID = p.ID
		m.observations = append(m.observations, *initial)
		p.CurrentPrice = decimal.NewNullDecimal(initial.Price)
	}
	m.products[p.ID] = *p
	return nil
}

func (m *InMemoryStore) RecordObservation(ctx context.Context, obs model.PriceObservation, decide DecideFunc) (alerting.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[obs.ProductID]
	if !ok {
		return alerting.Outcome{}, fmt.Errorf("product %d: %w", obs.ProductID, ErrNotFound)
	}

	obs.ID = m.id()
	m.observations = append(m.observations, obs)
	p.CurrentPrice = decimal.NewNullDecimal(obs.Price)
	m.products[p.ID] = p

	if decide == nil {
		return alerting.Outcome{}, nil
	}
	var pending []model.AlertRecord
	for _, a := range m.alerts {
		if a.ProductID == p.ID && a.Status == model.AlertPending {
			pending = append(pending, a)
		}
	}

	out := decide(p, pending)
	if out.Clear != nil {
		for i := range m.alerts {
			if m.alerts[i].ID == out.Clear.ID && m.alerts[i].Status == model.AlertPending {
				m.alerts[i].Status = model.AlertCleared
				cleared := m.alerts[i]
				out.Clear = &cleared
			}
		}
	}
	if out.Raise != nil {
		rec := *out.Raise
		rec.ID = m.id()
		m.alerts = append(m.alerts, rec)
		out.Raise = &rec
	}
	return out, nil
}

func (m *InMemoryStore) AppendObservation(ctx context.Context, obs *model.PriceObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[obs.ProductID]; !ok {
		return fmt.Errorf("product %d: %w", obs.ProductID, ErrNotFound)
	}
	obs.ID = m.id()
	m.observations = append(m.observations, *obs)
	return nil
}

func (m *InMemoryStore) History(ctx context.Context, productID uint64) ([]model.PriceObservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.PriceObservation
	for _, o := range m.observations {
		if o.ProductID == productID {
			out = append(out, o)
		}
	}
	// stable keeps insertion order for equal timestamps
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

func (m *InMemoryStore) Alerts(ctx context.Context, productID uint64) ([]model.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AlertRecord
	for _, a := range m.alerts {
		if a.ProductID == productID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *InMemoryStore) MarkAlertSent(ctx context.Context, alertID uint64) (model.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID != alertID {
			continue
		}
		if m.alerts[i].Status != model.AlertPending {
			return m.alerts[i], fmt.Errorf("alert %d is %s: %w", alertID, m.alerts[i].Status, ErrAlertNotPending)
		}
		m.alerts[i].Status = model.AlertSent
		return m.alerts[i], nil
	}
	return model.AlertRecord{}, fmt.Errorf("alert %d: %w", alertID, ErrNotFound)
}

func (m *InMemoryStore) Close() error {
	return nil
}
