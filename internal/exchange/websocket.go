// Package exchange
//
// Stream notes:
//   - The websocket is read by one goroutine that reconnects with a doubling
//     backoff capped at MaxRetryDelay, the way every watcher here does.
//   - Raw frames are queued and decoded lazily in Next, so a malformed frame
//     only costs that frame.
//   - A disconnect is reported through Next as a transport error. Diffs lost
//     while reconnecting show up as a sequence gap on the next event.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 20 * time.Second
	readTimeout  = 30 * time.Second
	frameBuffer  = 1024
)

// ConnectionState represents the state of the websocket connection
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

type frame struct {
	data []byte
	err  error
}

// BinanceStream is an UpdateStream over the Binance <symbol>@depth@100ms
// websocket. The connection is opened by the first Next call and lives until
// that call's context is done or Close is called.
type BinanceStream struct {
	symbol string
	url    string
	opts   BinanceOptions
	dialer *websocket.Dialer
	log    *logrus.Entry
	frames chan frame

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.RWMutex
	conn      *websocket.Conn
	connState ConnectionState
	healthErr error
	closed    bool
}

func NewBinanceStream(symbol string, opts BinanceOptions, log *logrus.Entry) *BinanceStream {
	opts = opts.withDefaults()
	symbol = market.NormalizeSymbol(symbol)
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BinanceStream{
		symbol: symbol,
		url:    fmt.Sprintf("%s/%s@depth@100ms", opts.WSURL, strings.ToLower(symbol)),
		opts:   opts,
		dialer: websocket.DefaultDialer,
		log:    log.WithFields(logrus.Fields{"component": "binance_stream", "symbol": symbol}),
		frames: make(chan frame, frameBuffer),
		done:   make(chan struct{}),
	}
}

// URL returns the stream endpoint.
func (b *BinanceStream) URL() string { return b.url }

// Next returns the next decoded diff event.
func (b *BinanceStream) Next(ctx context.Context) (market.DiffEvent, error) {
	b.start(ctx)
	select {
	case <-ctx.Done():
		return market.DiffEvent{}, ctx.Err()
	case f, ok := <-b.frames:
		if !ok {
			return market.DiffEvent{}, fmt.Errorf("%w: stream closed", orderbook.ErrTransport)
		}
		if f.err != nil {
			return market.DiffEvent{}, f.err
		}
		return DecodeBinanceDepthUpdate(b.symbol, f.data)
	}
}

func (b *BinanceStream) start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		b.mu.Lock()
		b.cancel = cancel
		closed := b.closed
		b.mu.Unlock()
		if closed {
			cancel()
		}
		go b.run(ctx)
	})
}

// IsConnected returns true if the websocket is currently connected
func (b *BinanceStream) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connState == Connected
}

// State returns the connection state.
func (b *BinanceStream) State() ConnectionState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connState
}

// Health returns the last connection error, if any.
func (b *BinanceStream) Health() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthErr
}

// Close stops the reader and waits for it to exit.
func (b *BinanceStream) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	cancel := b.cancel
	if b.conn != nil {
		b.conn.Close()
	}
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-b.done
	b.log.Info("BinanceStream | Closed")
}

func (b *BinanceStream) run(ctx context.Context) {
	defer close(b.done)
	defer b.setConnState(Disconnected)

	retryDelay := b.opts.RetryDelay
	for {
		connected, err := b.connectAndStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			retryDelay = b.opts.RetryDelay
		}
		b.setHealthErr(err)
		b.setConnState(Reconnecting)
		b.log.WithError(err).WithField("backoff", retryDelay.String()).Warn("BinanceStream | Disconnected, retrying")
		b.emit(ctx, frame{err: fmt.Errorf("%w: %w", orderbook.ErrTransport, err)})

		t := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		retryDelay *= 2
		if retryDelay > b.opts.MaxRetryDelay {
			retryDelay = b.opts.MaxRetryDelay
		}
	}
}

// connectAndStream reads frames until the connection fails. It reports whether
// the dial succeeded so the backoff can be reset.
func (b *BinanceStream) connectAndStream(ctx context.Context) (bool, error) {
	b.setConnState(Connecting)

	c, _, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", b.url, err)
	}
	b.setConn(c)
	b.setConnState(Connected)
	b.setHealthErr(nil)
	b.log.Info("BinanceStream | Connection established")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(stop)
		c.Close()
		wg.Wait()
		b.setConn(nil)
	}()

	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})
	c.SetPingHandler(func(data string) error {
		c.SetReadDeadline(time.Now().Add(readTimeout))
		err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				c.Close()
				return
			case <-ticker.C:
				if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					b.log.WithError(err).Debug("BinanceStream | Ping failed")
				}
			}
		}
	}()

	for {
		c.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := c.ReadMessage()
		if err != nil {
			return true, err
		}
		if !b.emit(ctx, frame{data: data}) {
			return true, ctx.Err()
		}
	}
}

func (b *BinanceStream) emit(ctx context.Context, f frame) bool {
	select {
	case b.frames <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *BinanceStream) setConn(c *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = c
}

func (b *BinanceStream) setConnState(state ConnectionState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connState = state
}

func (b *BinanceStream) setHealthErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthErr = err
}
