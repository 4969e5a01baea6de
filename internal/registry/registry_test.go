package registry

import (
	"context"
	"testing"
	"time"

	"github.com/shaibs3/pricewatch/internal/alerting"
	"github.com/shaibs3/pricewatch/internal/model"
	"github.com/shaibs3/pricewatch/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_AddAndRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	r := New(s, alerting.NewDeduplicator(false), zap.NewNop())
	at := time.Date(2025, 9, 25, 0, 0, 0, 0, time.UTC)

	initial := decimal.NewFromInt(30000)
	p := &model.TrackedProduct{UserID: 3, URL: "https://shop.example/watch", Name: "Watch", TargetPrice: decimal.NewFromInt(25000)}
	require.NoError(t, r.Add(ctx, p, &initial, at))
	require.Equal(t, at, p.CreatedAt)

	var alerts []*model.AlertRecord
	for i, price := range []int64{27000, 24000, 23000} {
		alert, err := r.RecordObservation(ctx, p.ID, decimal.NewFromInt(price), at.Add(time.Duration(i+1)*time.Hour))
		require.NoError(t, err)
		if alert != nil {
			alerts = append(alerts, alert)
		}
	}
	require.Len(t, alerts, 1)
	require.True(t, alerts[0].PriceAtAlert.Equal(decimal.NewFromInt(24000)))

	got, err := r.Get(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.CurrentPrice.Decimal.Equal(decimal.NewFromInt(23000)))

	history, err := s.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)

	mine, err := r.ListByUser(ctx, 3)
	require.NoError(t, err)
	require.Len(t, mine, 1)
}

func TestRegistry_RecordObservation_UnknownProduct(t *testing.T) {
	r := New(store.NewInMemoryStore(), alerting.NewDeduplicator(false), zap.NewNop())
	_, err := r.RecordObservation(context.Background(), 42, decimal.NewFromInt(1), time.Now())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegistry_Add_RejectsNegativeTarget(t *testing.T) {
	r := New(store.NewInMemoryStore(), alerting.NewDeduplicator(false), zap.NewNop())
	p := &model.TrackedProduct{UserID: 1, URL: "https://shop.example", TargetPrice: decimal.NewFromInt(-5)}
	require.ErrorIs(t, r.Add(context.Background(), p, nil, time.Now()), model.ErrNegativeTarget)
}
