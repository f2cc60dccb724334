package orderbook

import (
	"github.com/amirphl/depth-sync/internal/market"
	"github.com/shopspring/decimal"
)

// BookView is a read-only copy of the replica handed to subscribers and read
// surfaces. Bids are best (highest) first, asks best (lowest) first.
type BookView struct {
	Symbol string              `json:"symbol"`
	Cursor int64               `json:"cursor"`
	State  SyncState           `json:"-"`
	Bids   []market.PriceLevel `json:"bids"`
	Asks   []market.PriceLevel `json:"asks"`
}

// BestBid returns the first bid level.
func (v BookView) BestBid() (market.PriceLevel, bool) {
	if len(v.Bids) == 0 {
		return market.PriceLevel{}, false
	}
	return v.Bids[0], true
}

// BestAsk returns the first ask level.
func (v BookView) BestAsk() (market.PriceLevel, bool) {
	if len(v.Asks) == 0 {
		return market.PriceLevel{}, false
	}
	return v.Asks[0], true
}

// Spread returns best ask minus best bid when both sides are present.
func (v BookView) Spread() (decimal.Decimal, bool) {
	bid, ok := v.BestBid()
	if !ok {
		return decimal.Decimal{}, false
	}
	ask, ok := v.BestAsk()
	if !ok {
		return decimal.Decimal{}, false
	}
	return ask.Price.Sub(bid.Price), true
}
