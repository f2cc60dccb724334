package notifier

import (
	"fmt"
	"sync"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/sirupsen/logrus"
)

// FetchAlerter is a sync Observer that alerts once a symbol has failed
// Threshold snapshot fetches in a row, and again when it recovers. Messages
// are sent off the sync loop.
type FetchAlerter struct {
	orderbook.NopObserver

	notifier  Notifier
	threshold int
	log       *logrus.Entry

	mu       sync.Mutex
	failures map[string]int
	alerted  map[string]bool
	wg       sync.WaitGroup
}

// NewFetchAlerter returns an alerter. A threshold of zero or less disables it.
func NewFetchAlerter(n Notifier, threshold int, log *logrus.Entry) *FetchAlerter {
	return &FetchAlerter{
		notifier:  n,
		threshold: threshold,
		log:       log.WithField("component", "alerter"),
		failures:  make(map[string]int),
		alerted:   make(map[string]bool),
	}
}

func (a *FetchAlerter) OnFetchError(symbol string, attempt int, err error) {
	if a.threshold <= 0 {
		return
	}
	a.mu.Lock()
	a.failures[symbol]++
	fire := a.failures[symbol] >= a.threshold && !a.alerted[symbol]
	if fire {
		a.alerted[symbol] = true
	}
	count := a.failures[symbol]
	a.mu.Unlock()

	if fire {
		a.send(fmt.Sprintf("⚠️ %s: snapshot fetch failed %d times in a row, book is not live.\nLast error: %v", symbol, count, err))
	}
}

func (a *FetchAlerter) OnSnapshot(symbol string, _ orderbook.ResyncReason, snap market.Snapshot, _ orderbook.Outcome) {
	a.mu.Lock()
	recovered := a.alerted[symbol]
	delete(a.failures, symbol)
	delete(a.alerted, symbol)
	a.mu.Unlock()

	if recovered {
		a.send(fmt.Sprintf("✅ %s: snapshot fetched again at sequence %d.", symbol, snap.SequenceID))
	}
}

func (a *FetchAlerter) send(msg string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.notifier.SendWithRetry(msg); err != nil {
			a.log.WithError(err).Error("Alerter | Failed to send alert")
		}
	}()
}

// Wait blocks until every alert in flight has been sent or has failed.
func (a *FetchAlerter) Wait() {
	a.wg.Wait()
}
