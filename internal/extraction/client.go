package extraction

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/avast/retry-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls retries and pacing of extraction calls
type Config struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
	// RatePerSecond caps outbound extraction calls; 0 disables the cap.
	RatePerSecond float64
	// AllowPrivateHosts permits loopback and private network locators.
	AllowPrivateHosts bool
	Region            *Region
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BackoffBase:    time.Second,
		AttemptTimeout: 60 * time.Second,
	}
}

// Client wraps a Backend with validation, per-attempt timeouts, rate
// limiting and jittered exponential backoff. Fetch never returns an error;
// failure is reported through ExtractionResult.Succeeded.
type Client struct {
	backend Backend
	cfg     Config
	limiter *rate.Limiter
	jitter  func() float64
	// backoff maps a failed attempt (1-based) to the sleep before the next
	backoff func(attempt int) time.Duration
	logger  *zap.Logger

	attempts metric.Int64Counter
	failures metric.Int64Counter
}

func NewClient(backend Backend, cfg Config, logger *zap.Logger, meter metric.Meter) (*Client, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffBase < 0 {
		cfg.BackoffBase = 0
	}
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("extraction")
	}

	attempts, err := meter.Int64Counter("pricewatch_extraction_attempts_total",
		metric.WithDescription("Extraction attempts made against the backend"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("pricewatch_extraction_failures_total",
		metric.WithDescription("Extractions that ended without a result"))
	if err != nil {
		return nil, err
	}

	c := &Client{
		backend:  backend,
		cfg:      cfg,
		jitter:   rand.Float64,
		logger:   logger.Named("extraction"),
		attempts: attempts,
		failures: failures,
	}
	c.backoff = func(attempt int) time.Duration {
		return Backoff(c.cfg.BackoffBase, attempt, c.jitter())
	}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return c, nil
}

// Backoff returns the delay after the given failed attempt (1-based):
// base * 2^(attempt-1) * (1 + jitter/2), with jitter in [0, 1).
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := math.Pow(2, float64(attempt-1)) * (1 + jitter*0.5)
	return time.Duration(float64(base) * factor)
}

// Fetch extracts title and raw price text for the locator
func (c *Client) Fetch(ctx context.Context, locator string) ExtractionResult {
	result := ExtractionResult{SourceURL: locator}
	logger := c.logger.With(zap.String("url", locator))

	if _, err := ValidateLocator(locator, c.cfg.AllowPrivateHosts); err != nil {
		logger.Warn("rejecting locator", zap.Error(err))
		c.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invalid_locator")))
		return result
	}

	var raw RawProduct
	err := retry.Do(
		func() error {
			var attemptErr error
			raw, attemptErr = c.attempt(ctx, locator)
			return attemptErr
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxAttempts)),
		// retry-go counts retries from 0; the first sleep follows attempt 1
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return c.backoff(int(n) + 1)
		}),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("extraction attempt failed",
				zap.Uint("attempt", n+1),
				zap.Int("max_attempts", c.cfg.MaxAttempts),
				zap.Error(err))
		}),
	)
	if err != nil {
		reason := "exhausted"
		switch {
		case errors.Is(err, context.Canceled):
			reason = "cancelled"
		case !IsTransient(err):
			reason = "permanent"
		}
		logger.Warn("extraction failed", zap.String("reason", reason), zap.Error(err))
		c.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		return result
	}

	result.Title = raw.Title
	result.PriceText = raw.Price
	result.Succeeded = true
	return result
}

func (c *Client) attempt(ctx context.Context, locator string) (RawProduct, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return RawProduct{}, err
		}
	}
	c.attempts.Add(ctx, 1)

	attemptCtx := ctx
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}
	return c.backend.Extract(attemptCtx, Target{URL: locator, Region: c.cfg.Region})
}
