// Package exchange adapter
package exchange

import (
	"encoding/json"
	"fmt"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/shopspring/decimal"
)

// wireLevels is a list of [price, quantity] pairs. decimal.Decimal accepts
// both JSON strings and numbers.
type wireLevels [][]decimal.Decimal

type binanceDepth struct {
	LastUpdateID *int64     `json:"lastUpdateId"`
	Bids         wireLevels `json:"bids"`
	Asks         wireLevels `json:"asks"`
}

type binanceDepthUpdate struct {
	Event     string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	FirstID   *int64     `json:"U"`
	LastID    *int64     `json:"u"`
	Bids      wireLevels `json:"b"`
	Asks      wireLevels `json:"a"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{orderbook.ErrMalformedMessage}, args...)...)
}

func (w wireLevels) toLevels(side string) ([]market.PriceLevel, error) {
	out := make([]market.PriceLevel, 0, len(w))
	for i, pair := range w {
		if len(pair) != 2 {
			return nil, malformed("%s level %d has %d fields, want 2", side, i, len(pair))
		}
		out = append(out, market.PriceLevel{Price: pair[0], Quantity: pair[1]})
	}
	return out, nil
}

// DecodeBinanceSnapshot converts a /api/v3/depth response body.
func DecodeBinanceSnapshot(symbol string, data []byte) (market.Snapshot, error) {
	var raw binanceDepth
	if err := json.Unmarshal(data, &raw); err != nil {
		return market.Snapshot{}, malformed("depth snapshot: %v", err)
	}
	if raw.LastUpdateID == nil {
		return market.Snapshot{}, malformed("depth snapshot: missing lastUpdateId")
	}
	bids, err := raw.Bids.toLevels("bid")
	if err != nil {
		return market.Snapshot{}, err
	}
	asks, err := raw.Asks.toLevels("ask")
	if err != nil {
		return market.Snapshot{}, err
	}
	snap := market.Snapshot{Symbol: symbol, SequenceID: *raw.LastUpdateID, Bids: bids, Asks: asks}
	if err := snap.Validate(); err != nil {
		return market.Snapshot{}, malformed("depth snapshot: %v", err)
	}
	return snap, nil
}

// DecodeBinanceDepthUpdate converts one depthUpdate stream message. Messages
// for another symbol or of another event type are malformed.
func DecodeBinanceDepthUpdate(symbol string, data []byte) (market.DiffEvent, error) {
	var raw binanceDepthUpdate
	if err := json.Unmarshal(data, &raw); err != nil {
		return market.DiffEvent{}, malformed("depth update: %v", err)
	}
	if raw.Event != "depthUpdate" {
		return market.DiffEvent{}, malformed("unexpected event type %q", raw.Event)
	}
	if raw.Symbol != symbol {
		return market.DiffEvent{}, malformed("depth update for %q, want %q", raw.Symbol, symbol)
	}
	if raw.FirstID == nil || raw.LastID == nil {
		return market.DiffEvent{}, malformed("depth update: missing update ids")
	}
	bids, err := raw.Bids.toLevels("bid")
	if err != nil {
		return market.DiffEvent{}, err
	}
	asks, err := raw.Asks.toLevels("ask")
	if err != nil {
		return market.DiffEvent{}, err
	}
	ev := market.DiffEvent{
		Symbol:     symbol,
		FirstID:    *raw.FirstID,
		LastID:     *raw.LastID,
		BidChanges: bids,
		AskChanges: asks,
	}
	if err := ev.Validate(); err != nil {
		return market.DiffEvent{}, malformed("depth update: %v", err)
	}
	return ev, nil
}
