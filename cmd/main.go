package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/amirphl/depth-sync/internal/api"
	"github.com/amirphl/depth-sync/internal/config"
	"github.com/amirphl/depth-sync/internal/db"
	"github.com/amirphl/depth-sync/internal/exchange"
	"github.com/amirphl/depth-sync/internal/journal"
	"github.com/amirphl/depth-sync/internal/metrics"
	"github.com/amirphl/depth-sync/internal/notifier"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/amirphl/depth-sync/internal/publisher"
	"github.com/amirphl/depth-sync/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	journalBuffer = 1024
	pruneInterval = 10 * time.Minute
)

func main() {
	cfg := config.MustLoadConfig()

	logger := utils.GetLogger()
	if err := utils.ConfigureLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
		logger.Fatalf("Main | %v", err)
	}
	log := logger.WithFields(logrus.Fields{"venue": cfg.Venue, "symbol": cfg.Symbol})
	log.Info("Main | Starting depth sync")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.Init(logger)

	store, err := openJournal(ctx, cfg.Journal, log)
	if err != nil {
		log.WithError(err).Fatal("Main | Failed to open journal")
	}

	venue, err := exchange.NewVenue(cfg.Venue, cfg.Symbol, exchange.Options{
		Binance: exchange.BinanceOptions{
			RESTURL:       cfg.Binance.RESTURL,
			WSURL:         cfg.Binance.WSURL,
			DepthLimit:    cfg.DepthLimit,
			RetryDelay:    cfg.RetryDelay,
			MaxRetryDelay: cfg.MaxRetryDelay,
		},
		WallexAPIKey:    cfg.Wallex.APIKey,
		RefreshInterval: cfg.RefreshInterval,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("Main | Failed to create venue")
	}

	engine := orderbook.NewEngine(venue.Symbol,
		orderbook.WithViewDepth(cfg.ViewDepth),
		orderbook.WithBufferLimit(cfg.MaxBufferedEvents),
		orderbook.WithLogger(log),
	)
	engine.Subscribe(metrics.TopOfBook())

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	recorder := journal.NewRecorder(store, journalBuffer, log)
	spawn(func() { recorder.Run(ctx) })
	if cfg.Journal.Retention > 0 {
		interval := min(cfg.Journal.Retention, pruneInterval)
		spawn(func() { db.Prune(ctx, store, cfg.Journal.Retention, interval, log) })
	}

	var alertNotifier notifier.Notifier = notifier.NopNotifier{}
	if cfg.TelegramEnabled() {
		alertNotifier = notifier.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.Retries, cfg.Telegram.RetryDelay)
	}
	alerter := notifier.NewFetchAlerter(alertNotifier, cfg.AlertAfterFailures, log)

	var pub *publisher.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		pub = publisher.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Buffer, log)
		engine.Subscribe(pub.Subscriber())
		spawn(func() { pub.Run(ctx) })
		log.WithField("topic", cfg.Kafka.Topic).Info("Main | Publishing book views to Kafka")
	}

	if cfg.HTTP.Addr != "" {
		handler := api.NewHandler(engine, cfg.ViewDepth, metrics.Handler(reg))
		spawn(func() {
			if err := api.Serve(ctx, cfg.HTTP.Addr, handler, log); err != nil {
				log.WithError(err).Error("Main | HTTP server failed, shutting down")
				stop()
			}
		})
	}

	if cfg.BookLogInterval > 0 {
		spawn(func() { logTopOfBook(ctx, engine, cfg.BookLogInterval, log) })
	}

	syncer := orderbook.NewSyncer(engine, venue.Source, venue.Stream, orderbook.SyncerConfig{
		FetchTimeout:    cfg.FetchTimeout,
		RetryDelay:      cfg.RetryDelay,
		MaxRetryDelay:   cfg.MaxRetryDelay,
		RefreshInterval: venue.RefreshInterval,
	}, log, metrics.Observer{}, recorder, alerter)

	_ = syncer.Run(ctx)
	log.Info("Main | Graceful shutdown initiated...")

	venue.Close()
	wg.Wait()
	alerter.Wait()
	if pub != nil {
		if err := pub.Close(); err != nil {
			log.WithError(err).Warn("Main | Failed to close Kafka writer")
		}
	}
	if err := store.Close(); err != nil {
		log.WithError(err).Warn("Main | Failed to close journal")
	}

	stats := engine.Stats()
	log.WithFields(logrus.Fields{
		"applied":   stats.Applied,
		"gaps":      stats.Gaps,
		"snapshots": stats.Snapshots,
	}).Info("Main | Shutdown complete")
}

// openJournal connects to Postgres when a DSN is configured and falls back to
// an in-memory journal otherwise.
func openJournal(ctx context.Context, c config.JournalConfig, log *logrus.Entry) (db.Storage, error) {
	if c.DSN == "" {
		log.Info("Main | No journal DSN, keeping sync events in memory")
		return db.NewMemory(), nil
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := db.Open(openCtx, c.DSN, c.MaxOpen, c.MaxIdle)
	if err != nil {
		return nil, err
	}
	if c.Migrate {
		schema, err := os.ReadFile("scripts/schema.sql")
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to read schema.sql: %w", err)
		}
		if err := store.Migrate(openCtx, string(schema)); err != nil {
			store.Close()
			return nil, err
		}
		log.Info("Main | Database migrations completed successfully")
	}
	log.Info("Main | Connected to Postgres journal")
	return store, nil
}

// logTopOfBook prints the best levels periodically.
func logTopOfBook(ctx context.Context, engine *orderbook.Engine, interval time.Duration, log *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fields := logrus.Fields{
				"state":  engine.State().String(),
				"cursor": engine.Cursor(),
			}
			bid, ask := engine.TopOfBook()
			if bid != nil {
				fields["bid"] = bid.String()
			}
			if ask != nil {
				fields["ask"] = ask.String()
			}
			if spread, ok := engine.Spread(); ok {
				fields["spread"] = spread.String()
			}
			log.WithFields(fields).Info("Main | Top of book")
		}
	}
}
