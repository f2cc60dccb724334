package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WALLEX_API_KEY", "")
	t.Setenv("JOURNAL_DSN", "")
	t.Setenv("TELEGRAM_TOKEN", "")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		clearEnv(t)
		cfg, err := Load(nil)
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("YAML file", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, `
symbol: ETHUSDT
venue: Binance
depth_limit: 500
fetch_timeout: 3s
max_buffered_events: 0
kafka:
  brokers: ["k1:9092", "k2:9092"]
  topic: depth.ethusdt
telegram:
  token: abc
  chat_id: "42"
`)
		cfg, err := Load([]string{"-config", path})
		require.NoError(t, err)

		assert.Equal(t, "ETHUSDT", cfg.Symbol)
		assert.Equal(t, "binance", cfg.Venue)
		assert.Equal(t, 500, cfg.DepthLimit)
		assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
		assert.Equal(t, 0, cfg.MaxBufferedEvents)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
		assert.True(t, cfg.TelegramEnabled())
		// untouched keys keep their defaults
		assert.Equal(t, 20, cfg.ViewDepth)
		assert.Equal(t, ":8080", cfg.HTTP.Addr)
		assert.Equal(t, 24*time.Hour, cfg.Journal.Retention)
	})

	t.Run("Flags override file", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "symbol: ETHUSDT\nview_depth: 5\n")
		cfg, err := Load([]string{
			"-config", path,
			"-symbol", "SOLUSDT",
			"-kafka-brokers", "a:1, b:2",
			"-kafka-topic", "t",
			"-refresh-interval", "1m",
			"-journal-retention", "2h",
		})
		require.NoError(t, err)

		assert.Equal(t, "SOLUSDT", cfg.Symbol)
		assert.Equal(t, 5, cfg.ViewDepth)
		assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
		assert.Equal(t, time.Minute, cfg.RefreshInterval)
		assert.Equal(t, 2*time.Hour, cfg.Journal.Retention)
	})

	t.Run("Secrets from environment", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("WALLEX_API_KEY", "wallex-key")
		t.Setenv("JOURNAL_DSN", "postgres://localhost/depth")

		cfg, err := Load([]string{"-venue", "wallex", "-symbol", "BTCIRT"})
		require.NoError(t, err)
		assert.Equal(t, "wallex-key", cfg.Wallex.APIKey)
		assert.Equal(t, "postgres://localhost/depth", cfg.Journal.DSN)
	})

	t.Run("Errors", func(t *testing.T) {
		clearEnv(t)
		_, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
		assert.Error(t, err)

		_, err = Load([]string{"-config", writeConfig(t, "symbol: [")})
		assert.Error(t, err)

		_, err = Load([]string{"-unknown-flag"})
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"Empty symbol":        func(c *Config) { c.Symbol = " " },
		"Unknown venue":       func(c *Config) { c.Venue = "kraken" },
		"Zero depth limit":    func(c *Config) { c.DepthLimit = 0 },
		"Negative view depth": func(c *Config) { c.ViewDepth = -1 },
		"Zero fetch timeout":  func(c *Config) { c.FetchTimeout = 0 },
		"Backoff cap below":   func(c *Config) { c.MaxRetryDelay = c.RetryDelay / 2 },
		"Negative buffer":     func(c *Config) { c.MaxBufferedEvents = -1 },
		"Negative refresh":    func(c *Config) { c.RefreshInterval = -time.Second },
		"Negative retention":  func(c *Config) { c.Journal.Retention = -time.Hour },
		"Kafka without topic": func(c *Config) { c.Kafka.Brokers = []string{"k:9092"} },
		"Half telegram":       func(c *Config) { c.Telegram.Token = "abc" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
