// Package orderbook keeps an in-memory replica of one exchange order book in
// sync from a snapshot plus a stream of sequenced diff events.
//
// The Engine applies snapshots and diffs and owns the sync state machine:
//
//	Unsynced --BeginFetch--> Syncing --ApplySnapshot--> Live
//	Live --gap / crossed book / RequestResync--> Syncing
//
// Diffs that arrive while not Live are buffered (bounded) and replayed after the
// next snapshot lands. Only events whose last id is past the snapshot id are
// replayed. The last committed book stays readable while Syncing; callers that
// must not act on a possibly stale or crossed book should check State.
//
// The Syncer drives an Engine from a SnapshotSource and an UpdateStream.
package orderbook

import (
	"sync"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SyncState is the replica's synchronization state.
type SyncState int

const (
	Unsynced SyncState = iota
	Syncing
	Live
)

func (s SyncState) String() string {
	switch s {
	case Unsynced:
		return "unsynced"
	case Syncing:
		return "syncing"
	case Live:
		return "live"
	default:
		return "unknown"
	}
}

// Outcome is the result of feeding one diff event to the engine.
type Outcome int

const (
	Applied  Outcome = iota // applied and delivered to subscribers
	Stale                   // already covered by the cursor, ignored
	Gap                     // missed updates, discarded and resync requested
	Crossed                 // applied, but the book crossed; resync requested
	Buffered                // held until the next snapshot
	Dropped                 // not live and buffering is disabled
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Gap:
		return "gap"
	case Crossed:
		return "crossed"
	case Buffered:
		return "buffered"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// NeedsResync reports whether the outcome put the engine back into Syncing.
func (o Outcome) NeedsResync() bool {
	return o == Gap || o == Crossed
}

// ResyncReason explains why a snapshot fetch was scheduled.
type ResyncReason string

const (
	ReasonInitial ResyncReason = "initial"
	ReasonGap     ResyncReason = "gap"
	ReasonCrossed ResyncReason = "crossed"
	ReasonRefresh ResyncReason = "refresh"
)

// Stats counts engine activity since creation.
type Stats struct {
	Applied   uint64
	Stale     uint64
	Gaps      uint64
	Crossed   uint64
	Buffered  uint64
	Dropped   uint64
	Overflow  uint64
	Replayed  uint64
	Snapshots uint64
}

// DefaultBufferLimit bounds the diffs held while a snapshot is outstanding.
const DefaultBufferLimit = 10000

// Option configures an Engine.
type Option func(*Engine)

// WithViewDepth limits the levels per side handed to subscribers. n <= 0 hands
// over the full book.
func WithViewDepth(n int) Option {
	return func(e *Engine) { e.viewDepth = n }
}

// WithBufferLimit bounds the diffs buffered while not Live. 0 disables
// buffering: such diffs are dropped and gap detection takes over after the
// snapshot lands.
func WithBufferLimit(n int) Option {
	return func(e *Engine) {
		if n < 0 {
			n = 0
		}
		e.bufferLimit = n
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) { e.log = l }
}

// Engine owns one replica. Diffs and snapshots must be fed from a single
// goroutine in arrival order; read methods are safe from any goroutine.
type Engine struct {
	symbol      string
	viewDepth   int
	bufferLimit int
	log         *logrus.Entry
	subs        SubscriberRegistry

	// writeMu serializes mutations together with their notification so that
	// subscribers see updates in commit order.
	writeMu sync.Mutex

	mu       sync.RWMutex
	bids     *PriceLevelMap
	asks     *PriceLevelMap
	cursor   int64
	state    SyncState
	fetching bool
	reason   ResyncReason
	pending  []market.DiffEvent
	stats    Stats
}

// NewEngine returns an empty Unsynced engine for symbol.
func NewEngine(symbol string, opts ...Option) *Engine {
	e := &Engine{
		symbol:      market.NormalizeSymbol(symbol),
		bufferLimit: DefaultBufferLimit,
		bids:        NewPriceLevelMap(Descending),
		asks:        NewPriceLevelMap(Ascending),
		state:       Unsynced,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logrus.NewEntry(logrus.StandardLogger())
	}
	e.log = e.log.WithFields(logrus.Fields{"component": "engine", "symbol": e.symbol})
	return e
}

// Symbol returns the normalized trading pair.
func (e *Engine) Symbol() string { return e.symbol }

// Subscribe registers fn to be called after each committed update.
func (e *Engine) Subscribe(fn Subscriber) Handle { return e.subs.Add(fn) }

// Unsubscribe removes a registration. It reports whether h was registered.
func (e *Engine) Unsubscribe(h Handle) bool { return e.subs.Remove(h) }

// State returns the current sync state.
func (e *Engine) State() SyncState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Cursor returns the id of the last applied event or snapshot.
func (e *Engine) Cursor() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cursor
}

// Stats returns a copy of the activity counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Reason returns why the engine last entered Syncing. Triggers coalesced into
// a pending resync do not change it.
func (e *Engine) Reason() ResyncReason {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reason
}

// Pending returns the number of buffered diffs.
func (e *Engine) Pending() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.pending)
}

// TopOfBook returns the best bid and best ask. Either is nil when its side is
// empty.
func (e *Engine) TopOfBook() (bid, ask *market.PriceLevel) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if b, ok := e.bids.Best(); ok {
		bid = &b
	}
	if a, ok := e.asks.Best(); ok {
		ask = &a
	}
	return bid, ask
}

// Spread returns best ask minus best bid when both sides are non-empty. The
// value is not clamped: a crossed book yields a negative spread.
func (e *Engine) Spread() (decimal.Decimal, bool) {
	bid, ask := e.TopOfBook()
	if bid == nil || ask == nil {
		return decimal.Decimal{}, false
	}
	return ask.Price.Sub(bid.Price), true
}

// View returns a copy of the replica with up to depth levels per side.
func (e *Engine) View(depth int) BookView {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.viewLocked(depth)
}

func (e *Engine) viewLocked(depth int) BookView {
	return BookView{
		Symbol: e.symbol,
		Cursor: e.cursor,
		State:  e.state,
		Bids:   e.bids.Levels(depth),
		Asks:   e.asks.Levels(depth),
	}
}

// RequestResync moves a Live engine to Syncing. Triggers while a resync is
// already pending are coalesced. It reports whether the state changed.
func (e *Engine) RequestResync(reason ResyncReason) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enterSyncingLocked(reason)
}

// BeginFetch hands out the single snapshot fetch ticket. It succeeds only when
// the engine is not Live and no fetch is in flight; the caller must then either
// ApplySnapshot or AbortFetch.
func (e *Engine) BeginFetch() (ResyncReason, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Live || e.fetching {
		return "", false
	}
	if e.state == Unsynced {
		e.state = Syncing
		e.reason = ReasonInitial
	}
	e.fetching = true
	return e.reason, true
}

// AbortFetch returns the fetch ticket without a snapshot. The engine stays
// Syncing so the next BeginFetch succeeds.
func (e *Engine) AbortFetch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetching = false
}

// Fetching reports whether a snapshot fetch ticket is out.
func (e *Engine) Fetching() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fetching
}

// ApplySnapshot replaces the whole replica with s, enters Live and replays the
// buffered diffs that are newer than s. Readers see either the old book or the
// new one, never a mix.
//
// The result is Applied when the engine ends Live (subscribers are notified
// once), or Gap/Crossed when the snapshot or the replay forced another resync.
func (e *Engine) ApplySnapshot(s market.Snapshot) Outcome {
	bids := NewPriceLevelMap(Descending)
	asks := NewPriceLevelMap(Ascending)
	for _, l := range s.Bids {
		if !l.Quantity.IsZero() {
			bids.Upsert(l.Price, l.Quantity)
		}
	}
	for _, l := range s.Asks {
		if !l.Quantity.IsZero() {
			asks.Upsert(l.Price, l.Quantity)
		}
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	e.bids, e.asks = bids, asks
	e.cursor = s.SequenceID
	e.state = Live
	e.fetching = false
	e.stats.Snapshots++

	out := Applied
	if e.crossedLocked() {
		e.stats.Crossed++
		e.enterSyncingLocked(ReasonCrossed)
		out = Crossed
	}

	pending := e.pending
	e.pending = nil
	replayed := 0
	for _, ev := range pending {
		if e.state != Live {
			// a resync is pending again: keep the rest for the next snapshot
			e.bufferLocked(ev)
			continue
		}
		if ev.LastID <= s.SequenceID {
			continue
		}
		replayed++
		if r := e.processLocked(ev); r.NeedsResync() {
			out = r
		}
	}
	e.stats.Replayed += uint64(replayed)

	var view BookView
	if out == Applied {
		view = e.viewLocked(e.viewDepth)
	}
	cursor := e.cursor
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"sequence_id": s.SequenceID,
		"cursor":      cursor,
		"bids":        bids.Len(),
		"asks":        asks.Len(),
		"buffered":    len(pending),
		"replayed":    replayed,
		"outcome":     out.String(),
	}).Info("Engine | Snapshot applied")

	if out == Applied {
		e.subs.Notify(view)
	}
	return out
}

// ProcessUpdate feeds one diff event to the engine:
//
//   - not Live: buffered (or dropped when buffering is disabled)
//   - LastID <= cursor: Stale, no change
//   - FirstID > cursor+1: Gap, discarded, engine enters Syncing
//   - otherwise applied and cursor = LastID; if the book then crosses the
//     mutation is kept, the engine enters Syncing and subscribers are not
//     notified (Crossed); else subscribers are notified (Applied)
func (e *Engine) ProcessUpdate(ev market.DiffEvent) Outcome {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	out := e.processLocked(ev)
	var view BookView
	if out == Applied {
		view = e.viewLocked(e.viewDepth)
	}
	cursor := e.cursor
	e.mu.Unlock()

	switch out {
	case Applied:
		e.subs.Notify(view)
	case Gap:
		e.log.WithFields(logrus.Fields{
			"first_id": ev.FirstID,
			"last_id":  ev.LastID,
			"cursor":   cursor,
		}).Warn("Engine | Sequence gap detected, resyncing")
	case Crossed:
		e.log.WithFields(logrus.Fields{
			"first_id": ev.FirstID,
			"last_id":  ev.LastID,
		}).Warn("Engine | Crossed book detected, resyncing")
	}
	return out
}

func (e *Engine) processLocked(ev market.DiffEvent) Outcome {
	if e.state != Live {
		return e.bufferLocked(ev)
	}
	if ev.LastID <= e.cursor {
		e.stats.Stale++
		return Stale
	}
	if ev.FirstID > e.cursor+1 {
		e.stats.Gaps++
		e.enterSyncingLocked(ReasonGap)
		return Gap
	}

	for _, c := range ev.BidChanges {
		e.bids.Upsert(c.Price, c.Quantity)
	}
	for _, c := range ev.AskChanges {
		e.asks.Upsert(c.Price, c.Quantity)
	}
	e.cursor = ev.LastID

	if e.crossedLocked() {
		e.stats.Crossed++
		e.enterSyncingLocked(ReasonCrossed)
		return Crossed
	}
	e.stats.Applied++
	return Applied
}

func (e *Engine) bufferLocked(ev market.DiffEvent) Outcome {
	if e.bufferLimit <= 0 {
		e.stats.Dropped++
		return Dropped
	}
	if len(e.pending) >= e.bufferLimit {
		// oldest first: the next snapshot is more likely to cover it
		e.pending = e.pending[1:]
		e.stats.Overflow++
	}
	e.pending = append(e.pending, ev)
	e.stats.Buffered++
	return Buffered
}

func (e *Engine) enterSyncingLocked(reason ResyncReason) bool {
	if e.state == Syncing {
		return false
	}
	e.state = Syncing
	e.reason = reason
	return true
}

func (e *Engine) crossedLocked() bool {
	bid, ok := e.bids.Best()
	if !ok {
		return false
	}
	ask, ok := e.asks.Best()
	if !ok {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}
