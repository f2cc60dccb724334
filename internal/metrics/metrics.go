// Package metrics exposes the Prometheus collectors of the sync pipeline.
package metrics

import (
	"net/http"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	DepthUpdatesTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "depth_updates_total", Help: "Diff events by symbol and outcome"}, []string{"symbol", "outcome"})
	BookRebuildsTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "book_rebuilds_total", Help: "Snapshot rebuilds by symbol and reason"}, []string{"symbol", "reason"})
	SnapshotFetchErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "snapshot_fetch_errors_total", Help: "Failed snapshot fetch attempts"}, []string{"symbol"})
	MalformedMessagesTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "malformed_messages_total", Help: "Dropped malformed messages"}, []string{"symbol"})
	StreamErrorsTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "stream_errors_total", Help: "Update stream transport errors, one per reconnect"}, []string{"symbol"})
	PublishDropsTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "publish_drops_total", Help: "Book views dropped by a full publisher queue"}, []string{"symbol"})
	PublishErrorsTotal       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "publish_errors_total", Help: "Book views the broker rejected"}, []string{"symbol"})

	BookCursor  = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "book_cursor", Help: "Last applied sequence id"}, []string{"symbol"})
	BookLive    = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "book_live", Help: "1 while the replica is live"}, []string{"symbol"})
	BookBestBid = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "book_best_bid", Help: "Best bid price"}, []string{"symbol"})
	BookBestAsk = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "book_best_ask", Help: "Best ask price"}, []string{"symbol"})
	BookSpread  = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "book_spread", Help: "Best ask minus best bid"}, []string{"symbol"})
)

// Init registers every collector with a fresh registry.
func Init(log *logrus.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		DepthUpdatesTotal, BookRebuildsTotal, SnapshotFetchErrorsTotal, MalformedMessagesTotal,
		StreamErrorsTotal, PublishDropsTotal, PublishErrorsTotal,
		BookCursor, BookLive, BookBestBid, BookBestAsk, BookSpread,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		if err := reg.Register(c); err != nil {
			log.WithError(err).Warn("Metrics | Collector not registered")
		}
	}
	log.Info("Metrics | Prometheus metrics initialized")
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observer feeds the sync counters from a Syncer.
type Observer struct{}

var _ orderbook.Observer = Observer{}

func (Observer) OnUpdate(symbol string, out orderbook.Outcome, cursor int64) {
	DepthUpdatesTotal.WithLabelValues(symbol, out.String()).Inc()
	BookCursor.WithLabelValues(symbol).Set(float64(cursor))
	if out.NeedsResync() {
		BookLive.WithLabelValues(symbol).Set(0)
	}
}

func (Observer) OnSnapshot(symbol string, reason orderbook.ResyncReason, snap market.Snapshot, out orderbook.Outcome) {
	BookRebuildsTotal.WithLabelValues(symbol, string(reason)).Inc()
	if out == orderbook.Applied {
		BookLive.WithLabelValues(symbol).Set(1)
	} else {
		BookLive.WithLabelValues(symbol).Set(0)
	}
}

func (Observer) OnFetchError(symbol string, _ int, _ error) {
	SnapshotFetchErrorsTotal.WithLabelValues(symbol).Inc()
}

func (Observer) OnMalformed(symbol string, _ error) {
	MalformedMessagesTotal.WithLabelValues(symbol).Inc()
}

func (Observer) OnStreamError(symbol string, _ error) {
	StreamErrorsTotal.WithLabelValues(symbol).Inc()
}

func (Observer) OnResync(symbol string, _ orderbook.ResyncReason) {
	BookLive.WithLabelValues(symbol).Set(0)
}

// TopOfBook returns a subscriber that keeps the price gauges current.
func TopOfBook() orderbook.Subscriber {
	return func(v orderbook.BookView) {
		BookCursor.WithLabelValues(v.Symbol).Set(float64(v.Cursor))
		bid, hasBid := v.BestBid()
		ask, hasAsk := v.BestAsk()
		if hasBid {
			BookBestBid.WithLabelValues(v.Symbol).Set(bid.Price.InexactFloat64())
		}
		if hasAsk {
			BookBestAsk.WithLabelValues(v.Symbol).Set(ask.Price.InexactFloat64())
		}
		if spread, ok := v.Spread(); ok {
			BookSpread.WithLabelValues(v.Symbol).Set(spread.InexactFloat64())
		}
	}
}
