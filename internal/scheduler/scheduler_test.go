package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shaibs3/pricewatch/internal/alerting"
	"github.com/shaibs3/pricewatch/internal/extraction"
	"github.com/shaibs3/pricewatch/internal/model"
	"github.com/shaibs3/pricewatch/internal/registry"
	"github.com/shaibs3/pricewatch/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fetchFunc func(ctx context.Context, locator string) model.ExtractionResult

func (f fetchFunc) Fetch(ctx context.Context, locator string) model.ExtractionResult {
	return f(ctx, locator)
}

func priced(locator, price string) model.ExtractionResult {
	return model.ExtractionResult{Title: "Product", PriceText: price, SourceURL: locator, Succeeded: true}
}

// scriptedFetcher returns the next price for each URL on every call
type scriptedFetcher struct {
	mu     sync.Mutex
	prices map[string][]string
	calls  map[string]int
}

func newScriptedFetcher(prices map[string][]string) *scriptedFetcher {
	return &scriptedFetcher{prices: prices, calls: make(map[string]int)}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, locator string) model.ExtractionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.prices[locator]
	n := f.calls[locator]
	f.calls[locator]++
	if len(seq) == 0 {
		return model.ExtractionResult{SourceURL: locator}
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return priced(locator, seq[n])
}

func (f *scriptedFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// countingRegistry wraps a registry and can fail writes for chosen products
type countingRegistry struct {
	*registry.Registry
	mu      sync.Mutex
	records map[uint64]int
	failFor map[uint64]bool
}

func (r *countingRegistry) RecordObservation(ctx context.Context, productID uint64, price decimal.Decimal, at time.Time) (*model.AlertRecord, error) {
	r.mu.Lock()
	r.records[productID]++
	fail := r.failFor[productID]
	r.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	return r.Registry.RecordObservation(ctx, productID, price, at)
}

func (r *countingRegistry) recorded(id uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}

type fixture struct {
	store    *store.InMemoryStore
	registry *countingRegistry
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewInMemoryStore()
	return &fixture{
		store: s,
		registry: &countingRegistry{
			Registry: registry.New(s, alerting.NewDeduplicator(false), zap.NewNop()),
			records:  make(map[uint64]int),
			failFor:  make(map[uint64]bool),
		},
		clock: clockwork.NewFakeClockAt(time.Date(2025, 9, 25, 0, 0, 0, 0, time.UTC)),
	}
}

func (f *fixture) add(t *testing.T, url string, target int64) model.TrackedProduct {
	t.Helper()
	p := &model.TrackedProduct{UserID: 1, URL: url, Name: url, TargetPrice: decimal.NewFromInt(target)}
	require.NoError(t, f.registry.Add(context.Background(), p, nil, f.clock.Now()))
	return *p
}

func (f *fixture) poller(t *testing.T, fetcher Fetcher, cfg Config) *Poller {
	t.Helper()
	p, err := NewPoller(fetcher, f.registry, cfg, f.clock, zap.NewNop(), nil)
	require.NoError(t, err)
	return p
}

func TestRunCycle_AlertOnceAtCrossing(t *testing.T) {
	f := newFixture(t)
	watch := f.add(t, "https://shop.example/watch", 25000)
	fetcher := newScriptedFetcher(map[string][]string{
		watch.URL: {"₹30,000", "₹27,000", "₹24,000", "₹24,000", "₹23,500"},
	})
	p := f.poller(t, fetcher, Config{Interval: time.Minute, Concurrency: 2})

	raised := 0
	for i := 0; i < 5; i++ {
		report, err := p.RunCycle(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, report.Updated)
		raised += report.AlertsRaised
		f.clock.Advance(time.Minute)
	}
	require.Equal(t, 1, raised)

	alerts, err := f.store.Alerts(context.Background(), watch.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.True(t, alerts[0].PriceAtAlert.Equal(decimal.NewFromInt(24000)))
	require.Equal(t, model.AlertPending, alerts[0].Status)

	history, err := f.store.History(context.Background(), watch.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)
}

func TestRunCycle_ExhaustedRetriesIsolated(t *testing.T) {
	f := newFixture(t)
	good := f.add(t, "https://shop.example/good", 100)
	bad := f.add(t, "https://shop.example/bad", 100)

	var badCalls atomic.Int32
	backend := extraction.BackendFunc(func(ctx context.Context, target extraction.Target) (extraction.RawProduct, error) {
		if target.URL == bad.URL {
			badCalls.Add(1)
			return extraction.RawProduct{}, errors.New("navigation timeout")
		}
		return extraction.RawProduct{Title: "Good", Price: "₹95.00"}, nil
	})
	client, err := extraction.NewClient(backend, extraction.Config{
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		AttemptTimeout: time.Second,
	}, zap.NewNop(), nil)
	require.NoError(t, err)

	p := f.poller(t, client, Config{Interval: time.Minute, Concurrency: 2})
	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, report.Products)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 1, report.ExtractionFailures)
	require.Equal(t, 1, report.AlertsRaised)
	require.Equal(t, int32(3), badCalls.Load())

	require.Equal(t, 0, f.registry.recorded(bad.ID))
	badNow, err := f.store.GetProduct(context.Background(), bad.ID)
	require.NoError(t, err)
	require.False(t, badNow.CurrentPrice.Valid)
	history, err := f.store.History(context.Background(), bad.ID)
	require.NoError(t, err)
	require.Empty(t, history)

	goodNow, err := f.store.GetProduct(context.Background(), good.ID)
	require.NoError(t, err)
	require.True(t, goodNow.CurrentPrice.Decimal.Equal(decimal.NewFromInt(95)))
	alerts, err := f.store.Alerts(context.Background(), good.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
}

func TestRunCycle_NormalizationFailureSkipsPersistence(t *testing.T) {
	f := newFixture(t)
	na := f.add(t, "https://shop.example/na", 100)
	fetcher := newScriptedFetcher(map[string][]string{na.URL: {"N/A"}})
	p := f.poller(t, fetcher, Config{Interval: time.Minute, Concurrency: 1})

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.NormalizationFailures)
	require.Equal(t, 0, f.registry.recorded(na.ID))
}

func TestRunCycle_PersistenceFailureIsolated(t *testing.T) {
	f := newFixture(t)
	broken := f.add(t, "https://shop.example/broken", 100)
	ok := f.add(t, "https://shop.example/ok", 100)
	f.registry.failFor[broken.ID] = true

	fetcher := newScriptedFetcher(map[string][]string{
		broken.URL: {"50"},
		ok.URL:     {"50"},
	})
	p := f.poller(t, fetcher, Config{Interval: time.Minute, Concurrency: 1})

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.PersistenceFailures)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 1, report.AlertsRaised)

	alerts, err := f.store.Alerts(context.Background(), broken.ID)
	require.NoError(t, err)
	require.Empty(t, alerts)
}

func TestRunCycle_PanicIsolated(t *testing.T) {
	f := newFixture(t)
	boom := f.add(t, "https://shop.example/boom", 100)
	fine := f.add(t, "https://shop.example/fine", 100)

	fetcher := fetchFunc(func(ctx context.Context, locator string) model.ExtractionResult {
		if locator == boom.URL {
			panic("backend exploded")
		}
		return priced(locator, "150")
	})
	p := f.poller(t, fetcher, Config{Interval: time.Minute, Concurrency: 2})

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Panics)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 1, f.registry.recorded(fine.ID))
}

func TestRunCycle_RejectsOverlap(t *testing.T) {
	f := newFixture(t)
	f.add(t, "https://shop.example/slow", 100)

	entered := make(chan struct{})
	release := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, locator string) model.ExtractionResult {
		close(entered)
		<-release
		return priced(locator, "120")
	})
	p := f.poller(t, fetcher, Config{Interval: time.Minute, Concurrency: 1})

	done := make(chan error, 1)
	go func() {
		_, err := p.RunCycle(context.Background())
		done <- err
	}()
	<-entered

	_, err := p.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrCycleInProgress)

	close(release)
	require.NoError(t, <-done)

	// the guard is released once the cycle is over
	_, err = p.RunCycle(context.Background())
	require.NotErrorIs(t, err, ErrCycleInProgress)
}

func TestRunCycle_BoundedConcurrency(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 6; i++ {
		f.add(t, "https://shop.example/item/"+string(rune('a'+i)), 1)
	}

	var inFlight, peak atomic.Int32
	fetcher := fetchFunc(func(ctx context.Context, locator string) model.ExtractionResult {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return priced(locator, "10")
	})
	p := f.poller(t, fetcher, Config{Interval: time.Minute, Concurrency: 2})

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, report.Updated)
	require.LessOrEqual(t, peak.Load(), int32(2))
	require.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestPoller_StartRunsOnInterval(t *testing.T) {
	f := newFixture(t)
	watch := f.add(t, "https://shop.example/watch", 100)
	fetcher := newScriptedFetcher(map[string][]string{watch.URL: {"200"}})
	p := f.poller(t, fetcher, Config{Interval: 10 * time.Minute, Concurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	require.ErrorIs(t, p.Start(ctx), ErrAlreadyStarted)

	// immediate first cycle
	require.Eventually(t, func() bool { return fetcher.total() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool { return fetcher.total() == 2 }, time.Second, time.Millisecond)

	f.clock.Advance(5 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, fetcher.total(), "no cycle before the interval elapses")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, p.Stop(stopCtx))

	f.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, fetcher.total(), "no cycles after stop")
}

func TestPoller_StopWaitsForInFlightCycle(t *testing.T) {
	f := newFixture(t)
	slow := f.add(t, "https://shop.example/slow", 100)

	entered := make(chan struct{})
	release := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, locator string) model.ExtractionResult {
		close(entered)
		<-release
		return priced(locator, "80")
	})
	p := f.poller(t, fetcher, Config{Interval: time.Minute, Concurrency: 1})
	require.NoError(t, p.Start(context.Background()))
	<-entered

	stopped := make(chan error, 1)
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- p.Stop(stopCtx)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while a cycle was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-stopped)

	// the in-flight product completed its update
	require.Equal(t, 1, f.registry.recorded(slow.ID))
}

func TestPoller_StopAbortsAfterGrace(t *testing.T) {
	f := newFixture(t)
	stuck := f.add(t, "https://shop.example/stuck", 100)

	entered := make(chan struct{})
	var sawCancel atomic.Bool
	fetcher := fetchFunc(func(ctx context.Context, locator string) model.ExtractionResult {
		close(entered)
		<-ctx.Done()
		sawCancel.Store(true)
		return model.ExtractionResult{SourceURL: locator}
	})
	p := f.poller(t, fetcher, Config{Interval: time.Minute, Concurrency: 1})
	require.NoError(t, p.Start(context.Background()))
	<-entered

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Stop(stopCtx), context.DeadlineExceeded)
	require.True(t, sawCancel.Load())
	require.Equal(t, 0, f.registry.recorded(stuck.ID))
}

func TestPoller_StopBeforeStart(t *testing.T) {
	f := newFixture(t)
	p := f.poller(t, newScriptedFetcher(nil), Config{})
	require.NoError(t, p.Stop(context.Background()))
}

func TestPoller_StopAbortsManualCycle(t *testing.T) {
	f := newFixture(t)
	stuck := f.add(t, "https://shop.example/stuck", 100)

	var calls atomic.Int32
	entered := make(chan struct{})
	var sawCancel atomic.Bool
	fetcher := fetchFunc(func(ctx context.Context, locator string) model.ExtractionResult {
		if calls.Add(1) == 1 {
			return priced(locator, "150")
		}
		close(entered)
		<-ctx.Done()
		sawCancel.Store(true)
		return model.ExtractionResult{SourceURL: locator}
	})
	p := f.poller(t, fetcher, Config{Interval: time.Hour, Concurrency: 1})
	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return f.registry.recorded(stuck.ID) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !p.running.Load() }, time.Second, time.Millisecond)

	manual := make(chan error, 1)
	go func() {
		// an operator-triggered cycle is not bound to any shutdown signal
		_, err := p.RunCycle(context.WithoutCancel(context.Background()))
		manual <- err
	}()
	<-entered

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Stop(stopCtx), context.DeadlineExceeded)
	require.True(t, sawCancel.Load(), "stop must cancel the manual cycle's extraction")
	require.NoError(t, <-manual)
	require.Equal(t, 1, f.registry.recorded(stuck.ID))

	_, err := p.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrPollerStopped)
}

func TestPoller_StopWaitsForManualCycle(t *testing.T) {
	f := newFixture(t)
	slow := f.add(t, "https://shop.example/slow", 100)

	entered := make(chan struct{})
	release := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, locator string) model.ExtractionResult {
		close(entered)
		<-release
		return priced(locator, "80")
	})
	p := f.poller(t, fetcher, Config{Interval: time.Minute, Concurrency: 1})

	manual := make(chan error, 1)
	go func() {
		_, err := p.RunCycle(context.Background())
		manual <- err
	}()
	<-entered

	stopped := make(chan error, 1)
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- p.Stop(stopCtx)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while a manual cycle was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-stopped)
	require.NoError(t, <-manual)
	require.Equal(t, 1, f.registry.recorded(slow.ID))
}
