// Package publisher forwards committed book views to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/amirphl/depth-sync/internal/market"
	"github.com/amirphl/depth-sync/internal/metrics"
	"github.com/amirphl/depth-sync/internal/orderbook"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const defaultDrainTimeout = 5 * time.Second

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BookMessage is the JSON value of a published record. The record key is the
// symbol so one partition keeps a symbol's views in cursor order.
type BookMessage struct {
	Symbol      string              `json:"symbol"`
	Cursor      int64               `json:"cursor"`
	Bids        []market.PriceLevel `json:"bids"`
	Asks        []market.PriceLevel `json:"asks"`
	PublishedAt time.Time           `json:"published_at"`
}

// Publisher queues views from the engine and writes them from Run. The
// subscriber side never blocks: a full queue drops the view.
type Publisher struct {
	w       MessageWriter
	queue   chan orderbook.BookView
	log     *logrus.Entry
	dropped atomic.Uint64
	now     func() time.Time

	drainTimeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string, buffer int, log *logrus.Entry) *Publisher {
	return New(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, buffer, log)
}

func New(w MessageWriter, buffer int, log *logrus.Entry) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		w:     w,
		queue: make(chan orderbook.BookView, buffer),
		log:   log.WithField("component", "publisher"),
		now:   time.Now,

		drainTimeout: defaultDrainTimeout,
	}
}

// Subscriber returns the callback to register on the engine.
func (p *Publisher) Subscriber() orderbook.Subscriber {
	return func(v orderbook.BookView) {
		select {
		case p.queue <- v:
		default:
			if p.dropped.Add(1)%1000 == 1 {
				p.log.WithField("dropped", p.dropped.Load()).Warn("Publisher | Queue full, dropping book view")
			}
			metrics.PublishDropsTotal.WithLabelValues(v.Symbol).Inc()
		}
	}
}

// Dropped returns how many views were dropped so far.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Run writes queued views until ctx is done, then flushes what is left
// within drainTimeout.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drain(nil)
			return
		case v := <-p.queue:
			if ctx.Err() != nil {
				p.drain(&v)
				return
			}
			p.publish(ctx, v)
		}
	}
}

// drain publishes first, if set, and then the queued views until the queue is
// empty or drainTimeout passes.
func (p *Publisher) drain(first *orderbook.BookView) {
	ctx, cancel := context.WithTimeout(context.Background(), p.drainTimeout)
	defer cancel()

	flushed := 0
	next := first
	for {
		if next == nil {
			select {
			case v := <-p.queue:
				next = &v
			default:
				if flushed > 0 {
					p.log.WithField("flushed", flushed).Info("Publisher | Flushed queued views")
				}
				return
			}
		}
		if ctx.Err() != nil {
			p.log.WithField("flushed", flushed).Warn("Publisher | Drain deadline passed, dropping queued views")
			return
		}
		p.publish(ctx, *next)
		flushed++
		next = nil
	}
}

func (p *Publisher) publish(ctx context.Context, v orderbook.BookView) {
	value, err := json.Marshal(BookMessage{
		Symbol:      v.Symbol,
		Cursor:      v.Cursor,
		Bids:        v.Bids,
		Asks:        v.Asks,
		PublishedAt: p.now().UTC(),
	})
	if err != nil {
		p.log.WithError(err).Error("Publisher | Failed to encode book view")
		return
	}
	err = p.w.WriteMessages(ctx, kafka.Message{Key: []byte(v.Symbol), Value: value})
	if err != nil && ctx.Err() == nil {
		p.log.WithError(err).WithField("cursor", v.Cursor).Warn("Publisher | Failed to write book view")
		metrics.PublishErrorsTotal.WithLabelValues(v.Symbol).Inc()
	}
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
