// Package market
package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceLevel is one aggregated level of an order book side.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// NewPriceLevel builds a level from decimal strings. It panics on bad input and
// is meant for fixtures and constants.
func NewPriceLevel(price, quantity string) PriceLevel {
	return PriceLevel{
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.RequireFromString(quantity),
	}
}

func (l PriceLevel) String() string {
	return fmt.Sprintf("(%s,%s)", l.Price.String(), l.Quantity.String())
}

// Snapshot is a full point-in-time dump of the book at SequenceID.
type Snapshot struct {
	Symbol     string       `json:"symbol"`
	SequenceID int64        `json:"sequence_id"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
}

// DiffEvent describes the level changes covering sequence ids FirstID..LastID
// (inclusive). A zero quantity removes the level.
type DiffEvent struct {
	Symbol     string       `json:"symbol"`
	FirstID    int64        `json:"first_id"`
	LastID     int64        `json:"last_id"`
	BidChanges []PriceLevel `json:"bid_changes"`
	AskChanges []PriceLevel `json:"ask_changes"`
}

// Validate checks the shape of a diff event.
func (e DiffEvent) Validate() error {
	if e.FirstID > e.LastID {
		return fmt.Errorf("first_id %d is greater than last_id %d", e.FirstID, e.LastID)
	}
	if err := validateLevels("bid", e.BidChanges); err != nil {
		return err
	}
	return validateLevels("ask", e.AskChanges)
}

// Validate checks the shape of a snapshot.
func (s Snapshot) Validate() error {
	if s.SequenceID < 0 {
		return fmt.Errorf("negative sequence id %d", s.SequenceID)
	}
	if err := validateLevels("bid", s.Bids); err != nil {
		return err
	}
	return validateLevels("ask", s.Asks)
}

func validateLevels(side string, levels []PriceLevel) error {
	for i, l := range levels {
		if l.Price.Sign() <= 0 {
			return fmt.Errorf("%s level %d: non-positive price %s", side, i, l.Price)
		}
		if l.Quantity.Sign() < 0 {
			return fmt.Errorf("%s level %d: negative quantity %s", side, i, l.Quantity)
		}
	}
	return nil
}

// NormalizeSymbol converts e.g. " btc-usdt " to BTCUSDT.
func NormalizeSymbol(symbol string) string {
	s := strings.TrimSpace(symbol)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	return strings.ToUpper(s)
}
