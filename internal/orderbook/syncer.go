package orderbook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/sirupsen/logrus"
)

// SnapshotSource supplies a full book snapshot on demand.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) (market.Snapshot, error)
}

// UpdateStream supplies diff events in arrival order. Next blocks until an
// event is available or ctx is done. Errors wrapping ErrMalformedMessage drop a
// single message; other errors are treated as transport errors.
type UpdateStream interface {
	Next(ctx context.Context) (market.DiffEvent, error)
}

// Observer is told about everything the Syncer does. Implementations must not
// block: they run on the update path.
type Observer interface {
	OnUpdate(symbol string, out Outcome, cursor int64)
	OnSnapshot(symbol string, reason ResyncReason, snap market.Snapshot, out Outcome)
	OnFetchError(symbol string, attempt int, err error)
	OnMalformed(symbol string, err error)
	OnStreamError(symbol string, err error)
	// OnResync reports a resync the Syncer scheduled without a faulty update.
	OnResync(symbol string, reason ResyncReason)
}

// NopObserver implements Observer with no-ops. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnUpdate(string, Outcome, int64)                           {}
func (NopObserver) OnSnapshot(string, ResyncReason, market.Snapshot, Outcome) {}
func (NopObserver) OnFetchError(string, int, error)                           {}
func (NopObserver) OnMalformed(string, error)                                 {}
func (NopObserver) OnStreamError(string, error)                               {}
func (NopObserver) OnResync(string, ResyncReason)                             {}

// SyncerConfig holds the retry and refresh policy of a Syncer.
type SyncerConfig struct {
	FetchTimeout    time.Duration // per snapshot attempt
	RetryDelay      time.Duration // first backoff step, also the stream error pause
	MaxRetryDelay   time.Duration
	RefreshInterval time.Duration // forced resync period, 0 disables
}

// DefaultSyncerConfig returns the policy used when fields are left zero.
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		FetchTimeout:  10 * time.Second,
		RetryDelay:    time.Second,
		MaxRetryDelay: 60 * time.Second,
	}
}

// Syncer is the single consumption loop for one Engine: it pulls diffs from
// the stream, applies them in order and runs at most one snapshot fetch at a
// time, retrying failed fetches with capped exponential backoff.
type Syncer struct {
	engine    *Engine
	source    SnapshotSource
	stream    UpdateStream
	cfg       SyncerConfig
	observers []Observer
	log       *logrus.Entry
}

// NewSyncer wires an engine to its collaborators. Zero config fields take
// their DefaultSyncerConfig value.
func NewSyncer(engine *Engine, source SnapshotSource, stream UpdateStream, cfg SyncerConfig, log *logrus.Entry, observers ...Observer) *Syncer {
	def := DefaultSyncerConfig()
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = max(def.MaxRetryDelay, cfg.RetryDelay)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Syncer{
		engine:    engine,
		source:    source,
		stream:    stream,
		cfg:       cfg,
		observers: observers,
		log:       log.WithFields(logrus.Fields{"component": "syncer", "symbol": engine.Symbol()}),
	}
}

// Engine returns the driven engine.
func (s *Syncer) Engine() *Engine { return s.engine }

// Run consumes the stream until ctx is done. It always returns ctx.Err(): no
// stream or fetch error is fatal. On return the in-flight fetch, if any, has
// been cancelled and no goroutine started by Run is left.
func (s *Syncer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	events := make(chan market.DiffEvent, 256)
	snapshots := make(chan market.Snapshot, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pump(ctx, events)
	}()

	var refresh <-chan time.Time
	if s.cfg.RefreshInterval > 0 {
		t := time.NewTicker(s.cfg.RefreshInterval)
		defer t.Stop()
		refresh = t.C
	}

	// rebuildDelay grows while rebuilds keep failing: a snapshot that does not
	// bring the book live, or a resync soon after the last rebuild.
	var (
		rebuildDelay time.Duration
		liveSince    time.Time
	)

	s.log.Info("Syncer | Starting")
	s.maybeFetch(ctx, &wg, snapshots, 0)

	for {
		select {
		case <-ctx.Done():
			cancel()
			wg.Wait()
			s.engine.AbortFetch()
			s.log.Info("Syncer | Stopped")
			return ctx.Err()

		case ev := <-events:
			out := s.engine.ProcessUpdate(ev)
			cursor := s.engine.Cursor()
			for _, o := range s.observers {
				o.OnUpdate(s.engine.Symbol(), out, cursor)
			}
			if out.NeedsResync() {
				if time.Since(liveSince) >= s.cfg.MaxRetryDelay {
					rebuildDelay = 0
				} else {
					rebuildDelay = s.nextDelay(rebuildDelay)
				}
				s.maybeFetch(ctx, &wg, snapshots, rebuildDelay)
			}

		case snap := <-snapshots:
			reason := s.engine.Reason()
			out := s.engine.ApplySnapshot(snap)
			for _, o := range s.observers {
				o.OnSnapshot(s.engine.Symbol(), reason, snap, out)
			}
			if out.NeedsResync() {
				rebuildDelay = s.nextDelay(rebuildDelay)
				s.log.WithFields(logrus.Fields{
					"outcome": out.String(),
					"backoff": rebuildDelay.String(),
				}).Warn("Syncer | Snapshot did not bring the book live")
			} else {
				liveSince = time.Now()
			}
			s.maybeFetch(ctx, &wg, snapshots, rebuildDelay)

		case <-refresh:
			if s.engine.RequestResync(ReasonRefresh) {
				s.log.Debug("Syncer | Scheduled refresh")
				rebuildDelay = 0
				for _, o := range s.observers {
					o.OnResync(s.engine.Symbol(), ReasonRefresh)
				}
			}
			s.maybeFetch(ctx, &wg, snapshots, rebuildDelay)
		}
	}
}

// maybeFetch takes the fetch ticket and starts a fetch after wait.
func (s *Syncer) maybeFetch(ctx context.Context, wg *sync.WaitGroup, out chan<- market.Snapshot, wait time.Duration) {
	reason, ok := s.engine.BeginFetch()
	if !ok {
		return
	}
	s.log.WithFields(logrus.Fields{
		"reason": string(reason),
		"wait":   wait.String(),
	}).Info("Syncer | Fetching snapshot")
	wg.Add(1)
	go func() {
		defer wg.Done()
		if wait > 0 && !sleepCtx(ctx, wait) {
			return
		}
		s.fetch(ctx, out)
	}()
}

// nextDelay doubles d within [RetryDelay, MaxRetryDelay].
func (s *Syncer) nextDelay(d time.Duration) time.Duration {
	if d < s.cfg.RetryDelay {
		return s.cfg.RetryDelay
	}
	return min(d*2, s.cfg.MaxRetryDelay)
}

func (s *Syncer) fetch(ctx context.Context, out chan<- market.Snapshot) {
	delay := s.cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		snap, err := s.fetchOnce(ctx)
		if err == nil {
			select {
			case out <- snap:
			case <-ctx.Done():
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		s.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": delay.String(),
		}).Warn("Syncer | Snapshot fetch failed")
		for _, o := range s.observers {
			o.OnFetchError(s.engine.Symbol(), attempt, err)
		}

		if !sleepCtx(ctx, delay) {
			return
		}
		delay = s.nextDelay(delay)
	}
}

func (s *Syncer) fetchOnce(ctx context.Context) (market.Snapshot, error) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	snap, err := s.source.FetchSnapshot(fctx)
	if err != nil {
		if errors.Is(err, ErrTransport) || errors.Is(err, ErrMalformedMessage) {
			return market.Snapshot{}, err
		}
		return market.Snapshot{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := snap.Validate(); err != nil {
		return market.Snapshot{}, fmt.Errorf("%w: snapshot: %w", ErrMalformedMessage, err)
	}
	return snap, nil
}

func (s *Syncer) pump(ctx context.Context, events chan<- market.DiffEvent) {
	for {
		ev, err := s.stream.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			if verr := ev.Validate(); verr != nil {
				err = fmt.Errorf("%w: %w", ErrMalformedMessage, verr)
			}
		}
		if err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				s.log.WithError(err).Warn("Syncer | Dropping malformed message")
				for _, o := range s.observers {
					o.OnMalformed(s.engine.Symbol(), err)
				}
				continue
			}
			s.log.WithError(err).Warn("Syncer | Update stream error")
			for _, o := range s.observers {
				o.OnStreamError(s.engine.Symbol(), err)
			}
			if !sleepCtx(ctx, s.cfg.RetryDelay) {
				return
			}
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
