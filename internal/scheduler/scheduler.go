// Package scheduler runs poll cycles over every tracked product: fetch,
// normalize, persist and evaluate, with each product isolated from the
// failures of the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shaibs3/pricewatch/internal/model"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrCycleInProgress = errors.New("poll cycle already in progress")
	ErrAlreadyStarted  = errors.New("poller already started")
	ErrPollerStopped   = errors.New("poller stopped")
)

// Fetcher is the extraction client as seen by the poller
type Fetcher interface {
	Fetch(ctx context.Context, locator string) model.ExtractionResult
}

// Registry is the product registry as seen by the poller
type Registry interface {
	ListAll(ctx context.Context) ([]model.TrackedProduct, error)
	RecordObservation(ctx context.Context, productID uint64, price decimal.Decimal, at time.Time) (*model.AlertRecord, error)
}

type Config struct {
	Interval    time.Duration
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		Interval:    10 * time.Minute,
		Concurrency: 4,
	}
}

// CycleReport summarizes one poll cycle
type CycleReport struct {
	ID                    string        `json:"id"`
	StartedAt             time.Time     `json:"started_at"`
	Duration              time.Duration `json:"duration"`
	Products              int           `json:"products"`
	Updated               int           `json:"updated"`
	ExtractionFailures    int           `json:"extraction_failures"`
	NormalizationFailures int           `json:"normalization_failures"`
	PersistenceFailures   int           `json:"persistence_failures"`
	AlertsRaised          int           `json:"alerts_raised"`
	Panics                int           `json:"panics"`
}

// Poller owns the poll loop. Start it once; Stop lets the in-flight cycle
// finish unless the stop context expires first.
type Poller struct {
	fetcher  Fetcher
	registry Registry
	clock    clockwork.Clock
	cfg      Config
	logger   *zap.Logger
	metrics  *pollMetrics

	running atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
	// cycles counts RunCycle calls in flight, scheduled or manual
	cycles sync.WaitGroup

	// every cycle runs under workCtx so that Stop can abort it
	workCtx    context.Context
	cancelWork context.CancelFunc
}

func NewPoller(fetcher Fetcher, registry Registry, cfg Config, clock clockwork.Clock, logger *zap.Logger, meter metric.Meter) (*Poller, error) {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m, err := newPollMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("init poller metrics: %w", err)
	}

	workCtx, cancel := context.WithCancel(context.Background())
	return &Poller{
		fetcher:    fetcher,
		registry:   registry,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.Named("scheduler"),
		metrics:    m,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		workCtx:    workCtx,
		cancelWork: cancel,
	}, nil
}

// Start runs one cycle right away and then one per interval until ctx is
// cancelled or Stop is called. It does not block.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPollerStopped
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	ticker := p.clock.NewTicker(p.cfg.Interval)
	p.logger.Info("poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("concurrency", p.cfg.Concurrency))

	go p.loop(ctx, ticker)
	return nil
}

// loop ends when ctx is cancelled or Stop is called. Cycles it starts are
// not bound to ctx; only Stop aborts them.
func (p *Poller) loop(ctx context.Context, ticker clockwork.Ticker) {
	defer close(p.done)
	defer ticker.Stop()

	p.scheduled(context.Background())
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping, context cancelled")
			return
		case <-p.stopCh:
			p.logger.Info("poller stopping")
			return
		case <-ticker.Chan():
			p.scheduled(context.Background())
		}
	}
}

func (p *Poller) scheduled(ctx context.Context) {
	_, err := p.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		p.metrics.skipped.Add(ctx, 1)
		p.logger.Warn("previous poll cycle still running, skipping tick")
	case errors.Is(err, ErrPollerStopped):
	case err != nil:
		p.logger.Error("poll cycle failed", zap.Error(err))
	}
}

// Stop prevents new cycles and waits for the loop and any in-flight cycle,
// including one started through RunCycle, to finish. If ctx expires first
// the in-flight cycle is cancelled; Stop still waits for it to unwind and
// then returns ctx's error.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()
	defer p.cancelWork()

	idle := make(chan struct{})
	go func() {
		if started {
			<-p.done
		}
		p.cycles.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("grace period over, aborting in-flight poll cycle")
		p.cancelWork()
		<-idle
		return ctx.Err()
	}
}

// track registers a cycle with Stop. It fails once Stop has been called.
func (p *Poller) track() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.cycles.Add(1)
	return true
}

// RunCycle polls every tracked product once. It returns ErrCycleInProgress
// if another cycle has not finished yet. Per-product failures are counted
// in the report, never returned.
func (p *Poller) RunCycle(ctx context.Context) (CycleReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleInProgress
	}
	defer p.running.Store(false)

	if !p.track() {
		return CycleReport{}, ErrPollerStopped
	}
	defer p.cycles.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAbort := context.AfterFunc(p.workCtx, cancel)
	defer stopAbort()

	report := CycleReport{ID: uuid.NewString(), StartedAt: p.clock.Now()}
	logger := p.logger.With(zap.String("cycle_id", report.ID))

	products, err := p.registry.ListAll(ctx)
	if err != nil {
		p.metrics.cycles.Add(ctx, 1, metric.WithAttributes(resultAttr("list_failed")))
		return report, fmt.Errorf("list tracked products: %w", err)
	}
	report.Products = len(products)
	logger.Info("poll cycle started", zap.Int("products", len(products)))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, product := range products {
		if ctx.Err() != nil {
			logger.Warn("poll cycle interrupted", zap.Error(ctx.Err()))
			break
		}
		g.Go(func() error {
			res := p.processProduct(ctx, product, logger)
			p.metrics.record(ctx, res)

			mu.Lock()
			defer mu.Unlock()
			report.add(res)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = p.clock.Since(report.StartedAt)
	p.metrics.cycles.Add(ctx, 1, metric.WithAttributes(resultAttr("completed")))
	p.metrics.duration.Record(ctx, report.Duration.Seconds())
	logger.Info("poll cycle finished",
		zap.Duration("duration", report.Duration),
		zap.Int("updated", report.Updated),
		zap.Int("extraction_failures", report.ExtractionFailures),
		zap.Int("normalization_failures", report.NormalizationFailures),
		zap.Int("persistence_failures", report.PersistenceFailures),
		zap.Int("alerts_raised", report.AlertsRaised))
	return report, nil
}

func (r *CycleReport) add(res productResult) {
	switch res.outcome {
	case outcomeUpdated:
		r.Updated++
	case outcomeExtractionFailed:
		r.ExtractionFailures++
	case outcomeNormalizationFailed:
		r.NormalizationFailures++
	case outcomePersistenceFailed:
		r.PersistenceFailures++
	case outcomePanicked:
		r.Panics++
	}
	if res.alert != nil {
		r.AlertsRaised++
	}
}
