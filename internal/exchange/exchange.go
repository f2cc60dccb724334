// Package exchange adapts venue APIs to the orderbook SnapshotSource and
// UpdateStream interfaces.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/sirupsen/logrus"
)

const (
	VenueBinance = "binance"
	VenueWallex  = "wallex"
)

// Venue bundles the collaborators a Syncer needs for one symbol.
type Venue struct {
	Name   string
	Symbol string
	Source orderbook.SnapshotSource
	Stream orderbook.UpdateStream
	// RefreshInterval is the forced resync period the venue needs. Venues
	// without sequenced diffs set it so the book does not go stale.
	RefreshInterval time.Duration

	closers []func()
}

// Close releases the venue connections.
func (v *Venue) Close() {
	for _, c := range v.closers {
		c()
	}
}

// Options configures NewVenue.
type Options struct {
	Binance         BinanceOptions
	WallexAPIKey    string
	RefreshInterval time.Duration
}

// NewVenue builds the adapters of the named venue.
func NewVenue(name, symbol string, opts Options, log *logrus.Entry) (*Venue, error) {
	switch strings.ToLower(name) {
	case VenueBinance:
		stream := NewBinanceStream(symbol, opts.Binance, log)
		return &Venue{
			Name:            VenueBinance,
			Symbol:          stream.symbol,
			Source:          NewBinanceSnapshotSource(symbol, opts.Binance),
			Stream:          stream,
			RefreshInterval: opts.RefreshInterval,
			closers:         []func(){stream.Close},
		}, nil

	case VenueWallex:
		src := NewWallexSnapshotSource(symbol, opts.WallexAPIKey)
		refresh := opts.RefreshInterval
		if refresh <= 0 {
			refresh = DefaultWallexRefresh
		}
		return &Venue{
			Name:            VenueWallex,
			Symbol:          src.symbol,
			Source:          src,
			Stream:          IdleStream{},
			RefreshInterval: refresh,
		}, nil
	}
	return nil, fmt.Errorf("unsupported venue %q", name)
}

// IdleStream never yields a diff. It serves venues that only offer snapshots.
type IdleStream struct{}

func (IdleStream) Next(ctx context.Context) (market.DiffEvent, error) {
	<-ctx.Done()
	return market.DiffEvent{}, ctx.Err()
}
