package main

import (
	"log"

	"github.com/alecthomas/kong"
	"github.com/shaibs3/pricewatch/internal/app"
	"github.com/shaibs3/pricewatch/internal/config"
	"github.com/shaibs3/pricewatch/internal/logger"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cli struct {
	Version kong.VersionFlag `help:"Print version and exit."`

	Serve    struct{} `cmd:"" default:"1" help:"Serve the HTTP API and poll tracked products on an interval."`
	PollOnce struct{} `cmd:"" help:"Run a single poll cycle and exit."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("pricewatch"),
		kong.Description("Tracks product prices and raises alerts when they drop to target."),
		kong.Vars{"version": version},
	)

	// Initialize logger first (for configuration loading)
	initialLogger, err := logger.NewLogger("production", "info")
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer func() {
		_ = initialLogger.Sync()
	}()

	cfg := config.Load(initialLogger)

	appLogger, err := logger.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		initialLogger.Fatal("failed to create application logger", zap.Error(err))
	}
	defer func() {
		_ = appLogger.Sync()
	}()

	appLogger.Info("Build info",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
		zap.String("command", ctx.Command()),
	)

	application, err := app.NewApp(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("failed to initialize application", zap.Error(err))
	}

	switch ctx.Command() {
	case "poll-once":
		report, err := application.PollOnce()
		if err != nil {
			appLogger.Fatal("poll cycle failed", zap.Error(err))
		}
		appLogger.Info("poll cycle report", zap.Any("report", report))
	default:
		if err := application.Run(); err != nil {
			appLogger.Fatal("application stopped with error", zap.Error(err))
		}
	}
}
