package app

import (
	"testing"
	"time"

	"github.com/shaibs3/pricewatch/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:           "development",
		LogLevel:              "debug",
		Port:                  "0",
		RPSLimit:              10,
		RPSBurst:              20,
		StoreConfig:           `{"db_type":"memory","extra_details":{}}`,
		PollInterval:          time.Minute,
		PollConcurrency:       2,
		ShutdownGrace:         time.Second,
		ExtractorBackend:      "page",
		ExtractMaxAttempts:    1,
		ExtractBackoffBase:    time.Millisecond,
		ExtractAttemptTimeout: time.Second,
	}
}

func TestNewApp_PollOnceOnEmptyStore(t *testing.T) {
	a, err := NewApp(testConfig(), zap.NewNop())
	require.NoError(t, err)

	report, err := a.PollOnce()
	require.NoError(t, err)
	require.Zero(t, report.Products)
	require.NotEmpty(t, report.ID)
}

func TestNewApp_RejectsBadConfig(t *testing.T) {
	cases := map[string]func(*config.Config){
		"unknown backend":     func(c *config.Config) { c.ExtractorBackend = "browser" },
		"service without url": func(c *config.Config) { c.ExtractorBackend = "service" },
		"bad store config":    func(c *config.Config) { c.StoreConfig = `{"db_type":"oracle"}` },
		"bad region":          func(c *config.Config) { c.ExtractRegion = "1,2" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(cfg)
			_, err := NewApp(cfg, zap.NewNop())
			require.Error(t, err)
		})
	}
}
