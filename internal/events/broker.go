package events

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/safar/go-storefront/internal/models"
	"github.com/sirupsen/logrus"
)

// Filter selects the events a subscriber receives. An empty UserID matches
// every user; events without a user (products) match every filter. An empty
// Tables list matches every table.
type Filter struct {
	UserID string
	Tables []string

	// OnDrop runs, under the broker's read lock, each time an event for this
	// subscriber is dropped.
	OnDrop func()
}

func (f Filter) Match(ev models.ChangeEvent) bool {
	if len(f.Tables) > 0 && !slices.Contains(f.Tables, ev.Table) {
		return false
	}
	return f.UserID == "" || ev.UserID == "" || ev.UserID == f.UserID
}

type subscriber struct {
	filter Filter
	ch     chan models.ChangeEvent
}

// Broker fans change events out to in-process subscribers. A subscriber
// that falls behind loses events rather than stalling publishers.
type Broker struct {
	log    logrus.FieldLogger
	buffer int

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool

	dropped atomic.Int64
}

func NewBroker(buffer int, log logrus.FieldLogger) *Broker {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broker{
		log:    log,
		buffer: buffer,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Subscribe returns a channel of matching events and a cancel func that
// unsubscribes and closes the channel.
func (b *Broker) Subscribe(filter Filter) (<-chan models.ChangeEvent, func()) {
	s := &subscriber{filter: filter, ch: make(chan models.ChangeEvent, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
}

func (b *Broker) Publish(_ context.Context, ev models.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for s := range b.subs {
		if !s.filter.Match(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
			b.log.WithFields(logrus.Fields{
				"event_id": ev.ID,
				"table":    ev.Table,
				"user_id":  s.filter.UserID,
			}).Warn("Subscriber full, dropping change event")
			if s.filter.OnDrop != nil {
				s.filter.OnDrop()
			}
		}
	}
	return nil
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}
