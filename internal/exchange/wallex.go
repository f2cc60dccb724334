package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/shopspring/decimal"
	wallex "github.com/wallexchange/wallex-go"
)

// DefaultWallexRefresh is the snapshot period used for Wallex when none is set.
const DefaultWallexRefresh = 5 * time.Second

// marketOrdersClient is the part of the Wallex client the source needs.
type marketOrdersClient interface {
	MarketOrders(symbol string) (asks, bids []*wallex.MarketOrder, err error)
}

// WallexSnapshotSource polls the Wallex depth endpoint. Wallex has no update
// ids, so each successful fetch is stamped with a local counter that only
// grows.
type WallexSnapshotSource struct {
	client marketOrdersClient
	symbol string

	mu  sync.Mutex
	seq int64
}

func NewWallexSnapshotSource(symbol, apiKey string) *WallexSnapshotSource {
	return newWallexSnapshotSource(symbol, wallex.New(wallex.ClientOptions{APIKey: apiKey}))
}

func newWallexSnapshotSource(symbol string, client marketOrdersClient) *WallexSnapshotSource {
	return &WallexSnapshotSource{client: client, symbol: market.NormalizeSymbol(symbol)}
}

type marketOrdersResult struct {
	asks, bids []*wallex.MarketOrder
	err        error
}

// FetchSnapshot calls MarketOrders. The client takes no context, so a
// cancelled call returns at once and its result is discarded.
func (w *WallexSnapshotSource) FetchSnapshot(ctx context.Context) (market.Snapshot, error) {
	res := make(chan marketOrdersResult, 1)
	go func() {
		asks, bids, err := w.client.MarketOrders(w.symbol)
		res <- marketOrdersResult{asks: asks, bids: bids, err: err}
	}()

	var r marketOrdersResult
	select {
	case <-ctx.Done():
		return market.Snapshot{}, fmt.Errorf("%w: %w", orderbook.ErrTransport, ctx.Err())
	case r = <-res:
	}
	if r.err != nil {
		return market.Snapshot{}, fmt.Errorf("%w: fetching orderbook: %w", orderbook.ErrTransport, r.err)
	}

	bids, err := wallexLevels("bid", r.bids)
	if err != nil {
		return market.Snapshot{}, err
	}
	asks, err := wallexLevels("ask", r.asks)
	if err != nil {
		return market.Snapshot{}, err
	}

	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.mu.Unlock()

	return market.Snapshot{Symbol: w.symbol, SequenceID: seq, Bids: bids, Asks: asks}, nil
}

func wallexLevels(side string, orders []*wallex.MarketOrder) ([]market.PriceLevel, error) {
	out := make([]market.PriceLevel, 0, len(orders))
	for i, o := range orders {
		if o == nil {
			continue
		}
		price, err := decimal.NewFromString(string(o.Price))
		if err != nil {
			return nil, malformed("%s order %d price %q: %v", side, i, o.Price, err)
		}
		qty, err := decimal.NewFromString(string(o.Quantity))
		if err != nil {
			return nil, malformed("%s order %d quantity %q: %v", side, i, o.Quantity, err)
		}
		out = append(out, market.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}
