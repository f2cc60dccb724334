package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/orderbook"
)

const (
	DefaultBinanceRESTURL = "https://api.binance.com"
	DefaultBinanceWSURL   = "wss://stream.binance.com:9443/ws"
	DefaultDepthLimit     = 1000
)

// BinanceOptions configures the Binance adapters. Zero fields take defaults.
type BinanceOptions struct {
	RESTURL    string
	WSURL      string
	DepthLimit int
	HTTPClient *http.Client
	// RetryDelay is the first reconnect backoff step of the stream.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func (o BinanceOptions) withDefaults() BinanceOptions {
	if o.RESTURL == "" {
		o.RESTURL = DefaultBinanceRESTURL
	}
	if o.WSURL == "" {
		o.WSURL = DefaultBinanceWSURL
	}
	if o.DepthLimit <= 0 {
		o.DepthLimit = DefaultDepthLimit
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = max(60*time.Second, o.RetryDelay)
	}
	o.RESTURL = strings.TrimRight(o.RESTURL, "/")
	o.WSURL = strings.TrimRight(o.WSURL, "/")
	return o
}

// BinanceSnapshotSource fetches depth snapshots from the Binance REST API.
type BinanceSnapshotSource struct {
	symbol string
	opts   BinanceOptions
}

func NewBinanceSnapshotSource(symbol string, opts BinanceOptions) *BinanceSnapshotSource {
	return &BinanceSnapshotSource{symbol: market.NormalizeSymbol(symbol), opts: opts.withDefaults()}
}

// URL returns the depth endpoint queried by FetchSnapshot.
func (b *BinanceSnapshotSource) URL() string {
	q := url.Values{}
	q.Set("symbol", b.symbol)
	q.Set("limit", strconv.Itoa(b.opts.DepthLimit))
	return b.opts.RESTURL + "/api/v3/depth?" + q.Encode()
}

func (b *BinanceSnapshotSource) FetchSnapshot(ctx context.Context) (market.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL(), nil)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("%w: building request: %w", orderbook.ErrTransport, err)
	}
	resp, err := b.opts.HTTPClient.Do(req)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("%w: %w", orderbook.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("%w: reading body: %w", orderbook.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return market.Snapshot{}, fmt.Errorf("%w: depth request returned %d: %s",
			orderbook.ErrTransport, resp.StatusCode, truncate(string(body), 200))
	}
	return DecodeBinanceSnapshot(b.symbol, body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
