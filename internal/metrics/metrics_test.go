package metrics

import (
	"context"
	"errors"
	"go/format"
	"io"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserver(t *testing.T) {
	const sym = "OBSUSDT"
	var o Observer

	o.OnSnapshot(sym, orderbook.ReasonInitial, market.Snapshot{}, orderbook.Applied)
	assert.Equal(t, 1.0, testutil.ToFloat64(BookRebuildsTotal.WithLabelValues(sym, "initial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(BookLive.WithLabelValues(sym)))

	o.OnUpdate(sym, orderbook.Applied, 1001)
	o.OnUpdate(sym, orderbook.Applied, 1002)
	o.OnUpdate(sym, orderbook.Stale, 1002)
	assert.Equal(t, 2.0, testutil.ToFloat64(DepthUpdatesTotal.WithLabelValues(sym, "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(DepthUpdatesTotal.WithLabelValues(sym, "stale")))
	assert.Equal(t, 1002.0, testutil.ToFloat64(BookCursor.WithLabelValues(sym)))

	o.OnUpdate(sym, orderbook.Gap, 1002)
	assert.Equal(t, 0.0, testutil.ToFloat64(BookLive.WithLabelValues(sym)))

	o.OnSnapshot(sym, orderbook.ReasonGap, market.Snapshot{}, orderbook.Applied)
	o.OnResync(sym, orderbook.ReasonRefresh)
	assert.Equal(t, 0.0, testutil.ToFloat64(BookLive.WithLabelValues(sym)))

	o.OnFetchError(sym, 1, errors.New("timeout"))
	o.OnMalformed(sym, errors.New("bad"))
	o.OnMalformed(sym, errors.New("bad"))
	o.OnStreamError(sym, errors.New("eof"))
	assert.Equal(t, 1.0, testutil.ToFloat64(SnapshotFetchErrorsTotal.WithLabelValues(sym)))
	assert.Equal(t, 2.0, testutil.ToFloat64(MalformedMessagesTotal.WithLabelValues(sym)))
	assert.Equal(t, 1.0, testutil.ToFloat64(StreamErrorsTotal.WithLabelValues(sym)))
}

type snapshotFunc func(ctx context.Context) (market.Snapshot, error)

func (f snapshotFunc) FetchSnapshot(ctx context.Context) (market.Snapshot, error) { return f(ctx) }

type idleStream struct{}

func (idleStream) Next(ctx context.Context) (market.DiffEvent, error) {
	<-ctx.Done()
	return market.DiffEvent{}, ctx.Err()
}

func TestObserver_RefreshClearsLive(t *testing.T) {
	const sym = "REFUSDT"
	logger, _ := logtest.NewNullLogger()
	log := logrus.NewEntry(logger)

	var calls int32
	src := snapshotFunc(func(ctx context.Context) (market.Snapshot, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return market.Snapshot{
				SequenceID: 10,
				Bids:       []market.PriceLevel{market.NewPriceLevel("100", "1")},
				Asks:       []market.PriceLevel{market.NewPriceLevel("101", "1")},
			}, nil
		}
		<-ctx.Done()
		return market.Snapshot{}, ctx.Err()
	})

	e := orderbook.NewEngine(sym, orderbook.WithLogger(log))
	s := orderbook.NewSyncer(e, src, idleStream{}, orderbook.SyncerConfig{
		FetchTimeout:    time.Hour,
		RetryDelay:      time.Millisecond,
		MaxRetryDelay:   time.Millisecond,
		RefreshInterval: 50 * time.Millisecond,
	}, log, Observer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(BookLive.WithLabelValues(sym)) == 1
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return e.State() == orderbook.Syncing && testutil.ToFloat64(BookLive.WithLabelValues(sym)) == 0
	}, time.Second, time.Millisecond)
}

func TestTopOfBook(t *testing.T) {
	const sym = "TOPUSDT"
	TopOfBook()(orderbook.BookView{
		Symbol: sym,
		Cursor: 7,
		Bids:   []market.PriceLevel{market.NewPriceLevel("100", "5")},
		Asks:   []market.PriceLevel{market.NewPriceLevel("101.5", "2")},
	})

	assert.Equal(t, 100.0, testutil.ToFloat64(BookBestBid.WithLabelValues(sym)))
	assert.Equal(t, 101.5, testutil.ToFloat64(BookBestAsk.WithLabelValues(sym)))
	assert.Equal(t, 1.5, testutil.ToFloat64(BookSpread.WithLabelValues(sym)))
	assert.Equal(t, 7.0, testutil.ToFloat64(BookCursor.WithLabelValues(sym)))
}

func TestInitAndHandler(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	reg := Init(logger)
	DepthUpdatesTotal.WithLabelValues("HANDLERUSDT", "applied").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `depth_updates_total{outcome="applied",symbol="HANDLERUSDT"}`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestSourceIsFormatted(t *testing.T) {
	src, err := os.ReadFile("metrics.go")
	require.NoError(t, err)
	formatted, err := format.Source(src)
	require.NoError(t, err)
	assert.Equal(t, string(formatted), string(src))
}
