package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const defaultStoreConfig = `{"db_type":"memory","extra_details":{}}`

type Config struct {
	Environment string
	LogLevel    string
	Port        string
	RPSLimit    float64
	RPSBurst    int

	// StoreConfig is the JSON store description, see store.Config
	StoreConfig string

	PollInterval    time.Duration
	PollConcurrency int
	ShutdownGrace   time.Duration

	ExtractorBackend      string
	ExtractorURL          string
	ExtractMaxAttempts    int
	ExtractBackoffBase    time.Duration
	ExtractAttemptTimeout time.Duration
	ExtractRPS            float64
	ExtractRegion         string
	AllowPrivateHosts     bool

	AlertClearOnRecovery bool
}

// Load reads .env (if present) and the environment. Invalid values fall
// back to their defaults with a warning.
func Load(logger *zap.Logger) *Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}
	env := envReader{logger: logger}

	cfg := &Config{
		Environment: env.str("ENVIRONMENT", "production"),
		LogLevel:    env.str("LOG_LEVEL", "info"),
		Port:        env.str("PORT", "8080"),
		RPSLimit:    env.float("RPS_LIMIT", 10),
		RPSBurst:    env.int("RPS_BURST", 20),

		StoreConfig: env.str("STORE_CONFIG", defaultStoreConfig),

		PollInterval:    env.duration("POLL_INTERVAL", 10*time.Minute),
		PollConcurrency: env.int("POLL_CONCURRENCY", 4),
		ShutdownGrace:   env.duration("SHUTDOWN_GRACE", 30*time.Second),

		ExtractorBackend:      strings.ToLower(env.str("EXTRACTOR_BACKEND", "page")),
		ExtractorURL:          env.str("EXTRACTOR_URL", ""),
		ExtractMaxAttempts:    env.int("EXTRACT_MAX_ATTEMPTS", 3),
		ExtractBackoffBase:    env.duration("EXTRACT_BACKOFF_BASE", time.Second),
		ExtractAttemptTimeout: env.duration("EXTRACT_ATTEMPT_TIMEOUT", 60*time.Second),
		ExtractRPS:            env.float("EXTRACT_RPS", 0),
		ExtractRegion:         env.str("EXTRACT_REGION", ""),
		AllowPrivateHosts:     env.bool("ALLOW_PRIVATE_HOSTS", false),

		AlertClearOnRecovery: env.bool("ALERT_CLEAR_ON_RECOVERY", false),
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Port),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("poll_concurrency", cfg.PollConcurrency),
		zap.String("extractor_backend", cfg.ExtractorBackend),
		zap.Int("extract_max_attempts", cfg.ExtractMaxAttempts),
		zap.Duration("extract_backoff_base", cfg.ExtractBackoffBase),
		zap.Bool("alert_clear_on_recovery", cfg.AlertClearOnRecovery),
	)
	return cfg
}

// Validate reports settings that cannot be defaulted away
func (c *Config) Validate() error {
	switch c.ExtractorBackend {
	case "page":
	case "service":
		if c.ExtractorURL == "" {
			return fmt.Errorf("EXTRACTOR_URL is required when EXTRACTOR_BACKEND=service")
		}
	default:
		return fmt.Errorf("unsupported EXTRACTOR_BACKEND %q (page or service)", c.ExtractorBackend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.PollConcurrency < 1 {
		return fmt.Errorf("POLL_CONCURRENCY must be at least 1, got %d", c.PollConcurrency)
	}
	if c.ExtractMaxAttempts < 1 {
		return fmt.Errorf("EXTRACT_MAX_ATTEMPTS must be at least 1, got %d", c.ExtractMaxAttempts)
	}
	if c.ExtractBackoffBase < 0 {
		return fmt.Errorf("EXTRACT_BACKOFF_BASE must not be negative, got %s", c.ExtractBackoffBase)
	}
	return nil
}

type envReader struct {
	logger *zap.Logger
}

func (e envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (e envReader) invalid(key, value string, err error) {
	e.logger.Warn("invalid configuration value, using default",
		zap.String("key", key), zap.String("value", value), zap.Error(err))
}

func (e envReader) int(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.invalid(key, v, err)
		return def
	}
	return n
}

func (e envReader) float(key string, def float64) float64 {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.invalid(key, v, err)
		return def
	}
	return f
}

func (e envReader) bool(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.invalid(key, v, err)
		return def
	}
	return b
}

// duration takes Go duration syntax with a unit ("90s", "10m"). A bare
// number is rejected since the keys differ in their natural unit.
func (e envReader) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.invalid(key, v, err)
		return def
	}
	return d
}
