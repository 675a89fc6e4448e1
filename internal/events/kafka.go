package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/safar/go-storefront/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes change events to Kafka from a background loop. Publish only
// enqueues, so a slow broker never holds up a database write.
type Producer struct {
	w   messageWriter
	log logrus.FieldLogger

	inbox   chan kafka.Message
	mu      sync.RWMutex
	closed  bool
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int, log logrus.FieldLogger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}, buf, log)
}

func newProducer(w messageWriter, buf int, log logrus.FieldLogger) *Producer {
	if buf <= 0 {
		buf = 1
	}
	return &Producer{
		w:       w,
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the write loop until Close. Messages still queued at Close are
// flushed before the writer is closed.
func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			p.write(m)
		}
		if err := p.w.Close(); err != nil {
			p.log.WithError(err).Warn("Kafka writer close failed")
		}
	}()
}

func (p *Producer) Publish(ctx context.Context, ev models.ChangeEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}

	msg := kafka.Message{
		Key:     []byte(partitionKey(ev)),
		Value:   value,
		Time:    ev.OccurredAt,
		Headers: injectHeaders(ctx, nil),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the queue to drain.
func (p *Producer) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()

	<-p.closeCh
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.WithError(err).WithField("key", string(m.Key)).Error("Kafka write failed, change event lost")
	}
}

// Events for one user's cart, or one product, share a partition so they are
// consumed in write order.
func partitionKey(ev models.ChangeEvent) string {
	if ev.UserID != "" {
		return ev.UserID
	}
	return ev.RowID
}

// Consumer reads change events from Kafka and hands them to a sink, usually
// the in-process Broker.
type Consumer struct {
	r     messageReader
	dedup *Dedup
	log   logrus.FieldLogger
}

func NewConsumer(brokers []string, group, topic string, dedup *Dedup, log logrus.FieldLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  group,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(r, dedup, log)
}

func newConsumer(r messageReader, dedup *Dedup, log logrus.FieldLogger) *Consumer {
	return &Consumer{r: r, dedup: dedup, log: log}
}

type Sink interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

// Run consumes until ctx is done. Offsets are committed after the sink
// accepted the event; malformed messages are committed and skipped.
func (c *Consumer) Run(ctx context.Context, sink Sink) error {
	defer c.r.Close()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch change event: %w", err)
		}

		if err := c.handle(ctx, m, sink); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			c.log.WithError(err).WithFields(logrus.Fields{
				"partition": m.Partition,
				"offset":    m.Offset,
			}).Warn("Change event not delivered")
		}

		if err := c.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).Warn("Kafka commit failed")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message, sink Sink) error {
	ctx = extractHeaders(ctx, m.Headers)
	ctx, span := tracer.Start(ctx, "events.consume", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination", m.Topic), attribute.Int64("messaging.offset", m.Offset)))
	defer span.End()

	ev, err := decodeEvent(m.Value)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("event.table", ev.Table))

	if c.dedup != nil {
		seen, err := c.dedup.Seen(ctx, ev.ID)
		if err != nil {
			// deliver anyway; applying an event twice only costs a re-read
			c.log.WithError(err).Warn("Dedup check failed")
		} else if seen {
			c.log.WithField("event_id", ev.ID).Debug("Duplicate change event skipped")
			return nil
		}
	}

	return sink.Publish(ctx, ev)
}

func decodeEvent(b []byte) (models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if ev.ID == "" || ev.Table == "" || ev.RowID == "" {
		return ev, fmt.Errorf("%w: missing id, table or row id", ErrMalformed)
	}
	return ev, nil
}
