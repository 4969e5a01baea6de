package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shaibs3/pricewatch/internal/alerting"
	"github.com/shaibs3/pricewatch/internal/config"
	"github.com/shaibs3/pricewatch/internal/extraction"
	"github.com/shaibs3/pricewatch/internal/handlers"
	"github.com/shaibs3/pricewatch/internal/registry"
	"github.com/shaibs3/pricewatch/internal/router"
	"github.com/shaibs3/pricewatch/internal/scheduler"
	"github.com/shaibs3/pricewatch/internal/store"
	"github.com/shaibs3/pricewatch/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// App represents the main application
type App struct {
	config    *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	store     store.Store
	poller    *scheduler.Poller
	server    *http.Server
}

func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.NewTelemetry(logger)
	if err != nil {
		return nil, err
	}

	st, err := store.NewFactory(logger, tel.Meter).CreateStore(cfg.StoreConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	client, err := newExtractionClient(cfg, logger, tel)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	clock := clockwork.NewRealClock()
	reg := registry.New(st, alerting.NewDeduplicator(cfg.AlertClearOnRecovery), logger)

	poller, err := scheduler.NewPoller(client, reg, scheduler.Config{
		Interval:    cfg.PollInterval,
		Concurrency: cfg.PollConcurrency,
	}, clock, logger, tel.Meter)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RPSLimit), cfg.RPSBurst)
	handlerList := []router.Handler{
		handlers.NewProductHandler(reg, st, st, client, clock, cfg.AllowPrivateHosts, logger),
		handlers.NewAlertHandler(st, logger),
		handlers.NewPollHandler(poller, logger),
	}
	appRouter := router.NewRouter(limiter, tel, logger, handlerList)

	return &App{
		config:    cfg,
		logger:    logger,
		telemetry: tel,
		store:     st,
		poller:    poller,
		server:    appRouter.CreateServer(":" + cfg.Port),
	}, nil
}

func newExtractionClient(cfg *config.Config, logger *zap.Logger, tel *telemetry.Telemetry) (*extraction.Client, error) {
	region, err := extraction.ParseRegion(cfg.ExtractRegion)
	if err != nil {
		return nil, fmt.Errorf("invalid EXTRACT_REGION: %w", err)
	}

	var backend extraction.Backend
	switch cfg.ExtractorBackend {
	case "service":
		backend = extraction.NewServiceBackend(cfg.ExtractorURL, logger, cfg.ExtractAttemptTimeout)
	default:
		backend = extraction.NewPageBackend(logger, cfg.ExtractAttemptTimeout, cfg.AllowPrivateHosts)
	}

	return extraction.NewClient(backend, extraction.Config{
		MaxAttempts:       cfg.ExtractMaxAttempts,
		BackoffBase:       cfg.ExtractBackoffBase,
		AttemptTimeout:    cfg.ExtractAttemptTimeout,
		RatePerSecond:     cfg.ExtractRPS,
		AllowPrivateHosts: cfg.AllowPrivateHosts,
		Region:            region,
	}, logger, tel.Meter)
}

// start launches the poller and the HTTP server
func (app *App) start(ctx context.Context) error {
	if err := app.poller.Start(ctx); err != nil {
		return err
	}

	app.logger.Info("starting server", zap.String("port", app.config.Port))
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("server failed to start", zap.Error(err))
		}
	}()
	return nil
}

// stop drains HTTP traffic, lets the in-flight poll cycle finish within the
// grace period and closes the store
func (app *App) stop() error {
	app.logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownGrace)
	defer cancel()

	var errs []error
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server forced to shutdown", zap.Error(err))
		errs = append(errs, err)
	}
	if err := app.poller.Stop(shutdownCtx); err != nil {
		app.logger.Error("poll cycle aborted at shutdown", zap.Error(err))
		errs = append(errs, err)
	}
	app.close()

	if len(errs) == 0 {
		app.logger.Info("exited gracefully")
	}
	return errors.Join(errs...)
}

func (app *App) close() {
	if err := app.store.Close(); err != nil {
		app.logger.Error("failed to close store", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.telemetry.Shutdown(ctx); err != nil {
		app.logger.Warn("failed to shut down telemetry", zap.Error(err))
	}
}

// Run starts the application and waits for shutdown signals
func (app *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.start(ctx); err != nil {
		app.close()
		return err
	}

	<-ctx.Done()
	return app.stop()
}

// PollOnce runs a single poll cycle without serving HTTP
func (app *App) PollOnce() (scheduler.CycleReport, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer app.close()

	return app.poller.RunCycle(ctx)
}
