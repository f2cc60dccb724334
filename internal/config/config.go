// Package config
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/amirphl/depth-sync/internal/utils"
	"gopkg.in/yaml.v3"
)

/*
YAML config example:
symbol: "BTCUSDT"
venue: "binance"
depth_limit: 1000
view_depth: 20
fetch_timeout: 10s
retry_delay: 1s
max_retry_delay: 60s
alert_after_failures: 5
max_buffered_events: 10000
refresh_interval: 0s
book_log_interval: 30s
binance:
  rest_url: "https://api.binance.com"
  ws_url: "wss://stream.binance.com:9443/ws"
wallex:
  api_key: "..."
log: { level: "info", format: "text" }
http: { addr: ":8080" }
journal: { dsn: "postgres://...", max_open: 10, max_idle: 5, migrate: true, retention: 24h }
kafka: { brokers: ["localhost:9092"], topic: "depth.btcusdt", buffer: 256 }
telegram: { token: "...", chat_id: "...", retries: 3, retry_delay: 5s }
*/

type Config struct {
	Symbol             string        `yaml:"symbol"`
	Venue              string        `yaml:"venue"`
	DepthLimit         int           `yaml:"depth_limit"`
	ViewDepth          int           `yaml:"view_depth"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay"`
	AlertAfterFailures int           `yaml:"alert_after_failures"`
	MaxBufferedEvents  int           `yaml:"max_buffered_events"`
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
	BookLogInterval    time.Duration `yaml:"book_log_interval"`

	Binance  BinanceConfig  `yaml:"binance"`
	Wallex   WallexConfig   `yaml:"wallex"`
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Journal  JournalConfig  `yaml:"journal"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type BinanceConfig struct {
	RESTURL string `yaml:"rest_url"`
	WSURL   string `yaml:"ws_url"`
}

type WallexConfig struct {
	APIKey string `yaml:"api_key"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// JournalConfig selects the sync journal backend. An empty DSN keeps the
// journal in memory.
type JournalConfig struct {
	DSN     string `yaml:"dsn"`
	MaxOpen int    `yaml:"max_open"`
	MaxIdle int    `yaml:"max_idle"`
	// Migrate applies scripts/schema.sql on startup.
	Migrate bool `yaml:"migrate"`
	// Retention is how long events are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// KafkaConfig enables book publication when Brokers is not empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Buffer  int      `yaml:"buffer"`
}

// TelegramConfig enables alerts when both Token and ChatID are set.
type TelegramConfig struct {
	Token      string        `yaml:"token"`
	ChatID     string        `yaml:"chat_id"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Default returns the configuration used for anything not set elsewhere.
func Default() Config {
	return Config{
		Symbol:             "BTCUSDT",
		Venue:              "binance",
		DepthLimit:         1000,
		ViewDepth:          20,
		FetchTimeout:       10 * time.Second,
		RetryDelay:         time.Second,
		MaxRetryDelay:      60 * time.Second,
		AlertAfterFailures: 5,
		MaxBufferedEvents:  10000,
		BookLogInterval:    30 * time.Second,
		Binance: BinanceConfig{
			RESTURL: "https://api.binance.com",
			WSURL:   "wss://stream.binance.com:9443/ws",
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Journal: JournalConfig{MaxOpen: 10, MaxIdle: 5, Retention: 24 * time.Hour},
		Kafka:   KafkaConfig{Buffer: 256},
		Telegram: TelegramConfig{
			Retries:    3,
			RetryDelay: 5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// -config, then explicitly passed flags. Secrets fall back to WALLEX_API_KEY,
// JOURNAL_DSN and TELEGRAM_TOKEN when still empty.
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("depth-sync", flag.ContinueOnError)
	configFile := fs.String("config", "", "Path to YAML config file")
	symbol := fs.String("symbol", cfg.Symbol, "Trading symbol")
	venue := fs.String("venue", cfg.Venue, "Venue: binance or wallex")
	depthLimit := fs.Int("depth-limit", cfg.DepthLimit, "Snapshot depth requested from the venue")
	viewDepth := fs.Int("view-depth", cfg.ViewDepth, "Levels per side handed to subscribers (0 for all)")
	fetchTimeout := fs.Duration("fetch-timeout", cfg.FetchTimeout, "Timeout of one snapshot fetch attempt")
	retryDelay := fs.Duration("retry-delay", cfg.RetryDelay, "First retry backoff step")
	maxRetryDelay := fs.Duration("max-retry-delay", cfg.MaxRetryDelay, "Retry backoff cap")
	alertAfter := fs.Int("alert-after-failures", cfg.AlertAfterFailures, "Consecutive fetch failures before alerting (0 disables)")
	maxBuffered := fs.Int("max-buffered-events", cfg.MaxBufferedEvents, "Diffs buffered while resyncing (0 drops them)")
	refresh := fs.Duration("refresh-interval", cfg.RefreshInterval, "Forced resync period (0 disables)")
	bookLog := fs.Duration("book-log-interval", cfg.BookLogInterval, "Top of book log period (0 disables)")
	restURL := fs.String("binance-rest-url", cfg.Binance.RESTURL, "Binance REST base URL")
	wsURL := fs.String("binance-ws-url", cfg.Binance.WSURL, "Binance websocket base URL")
	logLevel := fs.String("log-level", cfg.Log.Level, "Log level")
	logFormat := fs.String("log-format", cfg.Log.Format, "Log format: text or json")
	httpAddr := fs.String("http-addr", cfg.HTTP.Addr, "HTTP listen address (empty disables)")
	journalDSN := fs.String("journal-dsn", "", "Postgres DSN of the sync journal")
	journalMigrate := fs.Bool("journal-migrate", false, "Apply scripts/schema.sql before starting")
	journalRetention := fs.Duration("journal-retention", cfg.Journal.Retention, "How long sync events are kept (0 keeps them)")
	kafkaBrokers := fs.String("kafka-brokers", "", "Comma-separated Kafka brokers")
	kafkaTopic := fs.String("kafka-topic", "", "Kafka topic for book views")
	telegramToken := fs.String("telegram-token", "", "Telegram bot token for alerts")
	telegramChatID := fs.String("telegram-chat", "", "Telegram chat ID for alerts")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "symbol":
			cfg.Symbol = *symbol
		case "venue":
			cfg.Venue = *venue
		case "depth-limit":
			cfg.DepthLimit = *depthLimit
		case "view-depth":
			cfg.ViewDepth = *viewDepth
		case "fetch-timeout":
			cfg.FetchTimeout = *fetchTimeout
		case "retry-delay":
			cfg.RetryDelay = *retryDelay
		case "max-retry-delay":
			cfg.MaxRetryDelay = *maxRetryDelay
		case "alert-after-failures":
			cfg.AlertAfterFailures = *alertAfter
		case "max-buffered-events":
			cfg.MaxBufferedEvents = *maxBuffered
		case "refresh-interval":
			cfg.RefreshInterval = *refresh
		case "book-log-interval":
			cfg.BookLogInterval = *bookLog
		case "binance-rest-url":
			cfg.Binance.RESTURL = *restURL
		case "binance-ws-url":
			cfg.Binance.WSURL = *wsURL
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		case "http-addr":
			cfg.HTTP.Addr = *httpAddr
		case "journal-dsn":
			cfg.Journal.DSN = *journalDSN
		case "journal-migrate":
			cfg.Journal.Migrate = *journalMigrate
		case "journal-retention":
			cfg.Journal.Retention = *journalRetention
		case "kafka-brokers":
			cfg.Kafka.Brokers = splitList(*kafkaBrokers)
		case "kafka-topic":
			cfg.Kafka.Topic = *kafkaTopic
		case "telegram-token":
			cfg.Telegram.Token = *telegramToken
		case "telegram-chat":
			cfg.Telegram.ChatID = *telegramChatID
		}
	})

	cfg.Venue = strings.ToLower(strings.TrimSpace(cfg.Venue))
	if cfg.Wallex.APIKey == "" {
		cfg.Wallex.APIKey = os.Getenv("WALLEX_API_KEY")
	}
	if cfg.Journal.DSN == "" {
		cfg.Journal.DSN = os.Getenv("JOURNAL_DSN")
	}
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoadConfig loads the configuration from the command line or exits.
func MustLoadConfig() Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		utils.GetLogger().Fatalf("Config | %v", err)
	}
	return cfg
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Symbol) == "":
		return errors.New("symbol is required")
	case c.Venue != "binance" && c.Venue != "wallex":
		return fmt.Errorf("unsupported venue %q", c.Venue)
	case c.DepthLimit <= 0:
		return fmt.Errorf("depth_limit must be positive, got %d", c.DepthLimit)
	case c.ViewDepth < 0:
		return fmt.Errorf("view_depth must not be negative, got %d", c.ViewDepth)
	case c.FetchTimeout <= 0:
		return errors.New("fetch_timeout must be positive")
	case c.RetryDelay <= 0:
		return errors.New("retry_delay must be positive")
	case c.MaxRetryDelay < c.RetryDelay:
		return errors.New("max_retry_delay must not be below retry_delay")
	case c.AlertAfterFailures < 0:
		return errors.New("alert_after_failures must not be negative")
	case c.MaxBufferedEvents < 0:
		return errors.New("max_buffered_events must not be negative")
	case c.RefreshInterval < 0 || c.BookLogInterval < 0 || c.Journal.Retention < 0:
		return errors.New("intervals must not be negative")
	case len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "":
		return errors.New("kafka.topic is required when kafka.brokers is set")
	case (c.Telegram.Token == "") != (c.Telegram.ChatID == ""):
		return errors.New("telegram.token and telegram.chat_id must be set together")
	}
	return nil
}

// TelegramEnabled reports whether alerts can be sent.
func (c Config) TelegramEnabled() bool {
	return c.Telegram.Token != "" && c.Telegram.ChatID != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
