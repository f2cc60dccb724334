package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceJournal struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *sliceJournal) LogEvent(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *sliceJournal) GetEvents(_ context.Context, eventType string, _, _ time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestRecorder(j Journaler, buffer int) (*Recorder, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	r := NewRecorder(j, buffer, logrus.NewEntry(logger))
	r.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return r, hook
}

func runRecorder(r *Recorder) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestRecorder(t *testing.T) {
	j := &sliceJournal{}
	r, _ := newTestRecorder(j, 16)
	var _ orderbook.Observer = r

	r.OnSnapshot("BTCUSDT", orderbook.ReasonInitial, market.Snapshot{SequenceID: 1000, Bids: make([]market.PriceLevel, 2)}, orderbook.Applied)
	r.OnUpdate("BTCUSDT", orderbook.Applied, 1001)
	r.OnUpdate("BTCUSDT", orderbook.Stale, 1001)
	r.OnUpdate("BTCUSDT", orderbook.Gap, 1001)
	r.OnUpdate("BTCUSDT", orderbook.Crossed, 1003)
	r.OnFetchError("BTCUSDT", 2, errors.New("transport error: EOF"))
	r.OnStreamError("BTCUSDT", errors.New("transport error: reset"))
	r.OnMalformed("BTCUSDT", errors.New("ignored"))

	stop := runRecorder(r)
	stop()

	events, _ := j.GetEvents(context.Background(), "", time.Time{}, time.Time{})
	require.Len(t, events, 5)

	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
		assert.Equal(t, "BTCUSDT", e.Symbol)
		assert.False(t, e.Time.IsZero())
	}
	assert.Equal(t, []string{TypeSnapshot, TypeGap, TypeCrossed, TypeFetchFailed, TypeStreamError}, types)

	snap := events[0]
	assert.Equal(t, "initial", snap.Data["reason"])
	assert.Equal(t, int64(1000), snap.Data["sequence_id"])
	assert.Equal(t, "applied", snap.Data["outcome"])
	assert.Equal(t, 2, snap.Data["bids"])
	assert.Equal(t, int64(1001), events[1].Data["cursor"])
	assert.Equal(t, 2, events[3].Data["attempt"])
}

func TestRecorder_QueueFullDrops(t *testing.T) {
	j := &sliceJournal{}
	r, hook := newTestRecorder(j, 2)

	for i := 0; i < 5; i++ {
		r.OnUpdate("BTCUSDT", orderbook.Gap, int64(i))
	}
	stop := runRecorder(r)
	stop()

	events, _ := j.GetEvents(context.Background(), TypeGap, time.Time{}, time.Time{})
	assert.Len(t, events, 2)

	dropped := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "Journal | Queue full, dropping event" {
			dropped++
		}
	}
	assert.Equal(t, 3, dropped)
}

func TestRecorder_WriteErrorIsLogged(t *testing.T) {
	j := &sliceJournal{err: errors.New("connection refused")}
	r, hook := newTestRecorder(j, 4)

	stop := runRecorder(r)
	r.OnUpdate("BTCUSDT", orderbook.Gap, 1)
	require.Eventually(t, func() bool {
		e := hook.LastEntry()
		return e != nil && e.Message == "Journal | Failed to write event"
	}, time.Second, time.Millisecond)
	stop()
}
