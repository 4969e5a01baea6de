package scheduler

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type pollMetrics struct {
	cycles              metric.Int64Counter
	skipped             metric.Int64Counter
	products            metric.Int64Counter
	alerts              metric.Int64Counter
	persistenceFailures metric.Int64Counter
	duration            metric.Float64Histogram
}

func newPollMetrics(meter metric.Meter) (*pollMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("scheduler")
	}
	var (
		m   pollMetrics
		err error
	)
	if m.cycles, err = meter.Int64Counter("pricewatch_poll_cycles_total",
		metric.WithDescription("Poll cycles run, by result")); err != nil {
		return nil, err
	}
	if m.skipped, err = meter.Int64Counter("pricewatch_poll_cycles_skipped_total",
		metric.WithDescription("Ticks skipped because a cycle was still running")); err != nil {
		return nil, err
	}
	if m.products, err = meter.Int64Counter("pricewatch_products_polled_total",
		metric.WithDescription("Products processed, by outcome")); err != nil {
		return nil, err
	}
	if m.alerts, err = meter.Int64Counter("pricewatch_alerts_raised_total",
		metric.WithDescription("Pending alerts created")); err != nil {
		return nil, err
	}
	if m.persistenceFailures, err = meter.Int64Counter("pricewatch_persistence_failures_total",
		metric.WithDescription("Observations that could not be stored")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("pricewatch_poll_cycle_duration_seconds",
		metric.WithDescription("Wall time of a poll cycle"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *pollMetrics) record(ctx context.Context, res productResult) {
	m.products.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.outcome))))
	if res.outcome == outcomePersistenceFailed {
		m.persistenceFailures.Add(ctx, 1)
	}
	if res.alert != nil {
		m.alerts.Add(ctx, 1)
	}
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String("result", result)
}
