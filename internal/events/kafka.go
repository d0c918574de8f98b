package events

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/foodcart/internal/domain/cart"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer for topic on a comma-separated broker list.
// Messages are partitioned by key, so events of one session stay ordered.
func NewKafkaWriter(brokersCSV, topic string) *kafka.Writer {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// KafkaPublisher publishes cart events asynchronously. Publish never blocks:
// when the queue is full the event is dropped and logged.
type KafkaPublisher struct {
	w     MessageWriter
	lg    *zap.Logger
	queue chan kafka.Message
	now   func() time.Time

	flushTimeout time.Duration
}

// NewKafkaPublisher creates a publisher with a queue of queueSize events.
func NewKafkaPublisher(w MessageWriter, lg *zap.Logger, queueSize int) *KafkaPublisher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &KafkaPublisher{
		w:            w,
		lg:           lg,
		queue:        make(chan kafka.Message, queueSize),
		now:          time.Now,
		flushTimeout: 5 * time.Second,
	}
}

// Publish enqueues ev of sessionID.
func (p *KafkaPublisher) Publish(sessionID string, ev cart.Event) {
	at := p.now().UTC()
	msg := kafka.Message{
		Key:   []byte(sessionID),
		Value: EncodeEvent(sessionID, ev, at),
		Time:  at,
	}
	select {
	case p.queue <- msg:
	default:
		p.lg.Warn("Cart event queue is full, dropping event",
			zap.String("session", sessionID),
			zap.String("kind", string(ev.Kind)),
		)
	}
}

// Run writes queued events until ctx is done, then flushes what is left
// within a bounded time and closes the writer.
func (p *KafkaPublisher) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-p.queue:
			p.write(ctx, msg)
		case <-ctx.Done():
			p.flush(context.WithoutCancel(ctx))
			if err := p.w.Close(); err != nil {
				return errors.Wrap(err, "close kafka writer")
			}
			return nil
		}
	}
}

func (p *KafkaPublisher) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.flushTimeout)
	defer cancel()

	var msgs []kafka.Message
drain:
	for {
		select {
		case msg := <-p.queue:
			msgs = append(msgs, msg)
		default:
			break drain
		}
	}
	if len(msgs) == 0 {
		return
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		p.lg.Error("Flush cart events", zap.Int("count", len(msgs)), zap.Error(err))
	}
}

func (p *KafkaPublisher) write(ctx context.Context, msg kafka.Message) {
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.lg.Error("Publish cart event", zap.ByteString("session", msg.Key), zap.Error(err))
	}
}

// EncodeEvent renders the JSON payload of a published cart event.
func EncodeEvent(sessionID string, ev cart.Event, at time.Time) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("session")
	e.Str(sessionID)
	e.FieldStart("seq")
	e.UInt64(ev.Seq)
	e.FieldStart("kind")
	e.Str(string(ev.Kind))
	if ev.Message != "" {
		e.FieldStart("message")
		e.Str(ev.Message)
	}
	if r := ev.Snapshot.Restaurant; r != nil {
		e.FieldStart("restaurant_id")
		e.Str(r.ID)
	}
	e.FieldStart("item_count")
	e.Int(ev.Snapshot.Totals.ItemCount)
	e.FieldStart("total")
	e.RawStr(ev.Snapshot.Totals.Total.StringFixed(2))
	e.FieldStart("at")
	e.Str(at.Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}
