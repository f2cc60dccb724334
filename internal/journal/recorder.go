package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// Recorder is a sync Observer that journals resyncs, gaps, crossed books and
// transport failures. Events are queued and written by Run so the sync loop
// never waits on storage; when the queue is full the event is dropped.
type Recorder struct {
	orderbook.NopObserver

	j     Journaler
	queue chan Event
	log   *logrus.Entry
	now   func() time.Time
}

func NewRecorder(j Journaler, buffer int, log *logrus.Entry) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		j:     j,
		queue: make(chan Event, buffer),
		log:   log.WithField("component", "journal"),
		now:   time.Now,
	}
}

// Run writes queued events until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.queue:
					r.write(ev)
				default:
					return
				}
			}
		case ev := <-r.queue:
			r.write(ev)
		}
	}
}

func (r *Recorder) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.j.LogEvent(ctx, ev); err != nil {
		r.log.WithError(err).WithField("type", ev.Type).Warn("Journal | Failed to write event")
	}
}

func (r *Recorder) enqueue(ev Event) {
	ev.Time = r.now()
	select {
	case r.queue <- ev:
	default:
		r.log.WithField("type", ev.Type).Warn("Journal | Queue full, dropping event")
	}
}

func (r *Recorder) OnUpdate(symbol string, out orderbook.Outcome, cursor int64) {
	switch out {
	case orderbook.Gap:
		r.enqueue(Event{
			Symbol:      symbol,
			Type:        TypeGap,
			Description: fmt.Sprintf("sequence gap after %d, resyncing", cursor),
			Data:        map[string]any{"cursor": cursor},
		})
	case orderbook.Crossed:
		r.enqueue(Event{
			Symbol:      symbol,
			Type:        TypeCrossed,
			Description: fmt.Sprintf("book crossed at %d, resyncing", cursor),
			Data:        map[string]any{"cursor": cursor},
		})
	}
}

func (r *Recorder) OnSnapshot(symbol string, reason orderbook.ResyncReason, snap market.Snapshot, out orderbook.Outcome) {
	r.enqueue(Event{
		Symbol:      symbol,
		Type:        TypeSnapshot,
		Description: fmt.Sprintf("snapshot %d applied (%s): %s", snap.SequenceID, reason, out),
		Data: map[string]any{
			"reason":      string(reason),
			"sequence_id": snap.SequenceID,
			"outcome":     out.String(),
			"bids":        len(snap.Bids),
			"asks":        len(snap.Asks),
		},
	})
}

func (r *Recorder) OnFetchError(symbol string, attempt int, err error) {
	r.enqueue(Event{
		Symbol:      symbol,
		Type:        TypeFetchFailed,
		Description: err.Error(),
		Data:        map[string]any{"attempt": attempt},
	})
}

func (r *Recorder) OnStreamError(symbol string, err error) {
	r.enqueue(Event{
		Symbol:      symbol,
		Type:        TypeStreamError,
		Description: err.Error(),
	})
}
