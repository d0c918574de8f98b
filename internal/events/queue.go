package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/foodcart/internal/domain/cart"
)

// Sink handles a cart event outside the request path.
type Sink func(ctx context.Context, sessionID string, ev cart.Event) error

type queued struct {
	session string
	ev      cart.Event
}

// Queue feeds cart events to a Sink on its own goroutine. Publish never
// blocks; events are dropped with a warning while the queue is full.
type Queue struct {
	name    string
	sink    Sink
	lg      *zap.Logger
	ch      chan queued
	timeout time.Duration
}

// NewQueue creates a Queue of size events. Each sink call gets timeout.
func NewQueue(name string, sink Sink, lg *zap.Logger, size int, timeout time.Duration) *Queue {
	if size <= 0 {
		size = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Queue{
		name:    name,
		sink:    sink,
		lg:      lg.Named(name),
		ch:      make(chan queued, size),
		timeout: timeout,
	}
}

// Publish enqueues ev of sessionID.
func (q *Queue) Publish(sessionID string, ev cart.Event) {
	select {
	case q.ch <- queued{session: sessionID, ev: ev}:
	default:
		q.lg.Warn("Event queue is full, dropping event",
			zap.String("session", sessionID),
			zap.String("kind", string(ev.Kind)),
		)
	}
}

// Run delivers queued events until ctx is done, then drains what is left.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case it := <-q.ch:
			q.deliver(ctx, it)
		case <-ctx.Done():
			drainCtx := context.WithoutCancel(ctx)
			for {
				select {
				case it := <-q.ch:
					q.deliver(drainCtx, it)
				default:
					return nil
				}
			}
		}
	}
}

func (q *Queue) deliver(ctx context.Context, it queued) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if err := q.sink(ctx, it.session, it.ev); err != nil {
		q.lg.Error("Deliver cart event",
			zap.String("session", it.session),
			zap.String("kind", string(it.ev.Kind)),
			zap.Error(err),
		)
	}
}
