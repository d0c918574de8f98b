package handler

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/foodcart/internal/domain/cart"
	"github.com/xenking/foodcart/internal/session"
)

// Broker fans cart events out to the event streams of each session.
type Broker struct {
	buffer int

	mu   sync.Mutex
	subs map[string]map[chan cart.Event]struct{}
}

// NewBroker creates a Broker whose subscribers buffer up to buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{buffer: buffer, subs: make(map[string]map[chan cart.Event]struct{})}
}

// Publish delivers ev to the streams of sessionID; it fits session.Listener.
// Slow streams miss events instead of blocking the cart.
func (b *Broker) Publish(sessionID string, ev cart.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[sessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Broker) subscribe(sessionID string) (<-chan cart.Event, func()) {
	ch := make(chan cart.Event, b.buffer)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan cart.Event]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[sessionID], ch)
		if len(b.subs[sessionID]) == 0 {
			delete(b.subs, sessionID)
		}
	}
}

// Subscribers returns the number of open streams of sessionID.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

// StreamEvents streams the cart events of the session as server-sent
// events. The first event is a "snapshot" of the current cart.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	_, m, release, ok := h.openCart(w, r)
	if !ok {
		return
	}
	defer release()
	if h.broker == nil {
		http.NotFound(w, r)
		return
	}

	events, unsubscribe := h.broker.subscribe(w.Header().Get(session.Header))
	defer unsubscribe()

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	lg := zctx.From(r.Context())
	send := func(ev cart.Event) bool {
		if err := writeEvent(w, ev); err != nil {
			return false
		}
		if err := rc.Flush(); err != nil {
			lg.Debug("Flush event stream", zap.Error(err))
			return false
		}
		return true
	}

	if !send(cart.Event{Kind: "snapshot", Snapshot: m.Snapshot()}) {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if !send(ev) {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// writeEvent writes ev as one SSE frame. jx output has no newlines, so the
// payload fits a single data line.
func writeEvent(w io.Writer, ev cart.Event) error {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		if ev.Message != "" {
			e.Field("message", func(e *jx.Encoder) { e.Str(ev.Message) })
		}
		e.Field("cart", func(e *jx.Encoder) { encodeSnapshot(e, ev.Snapshot) })
	})

	buf := make([]byte, 0, len(e.Bytes())+len(ev.Kind)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, string(ev.Kind)...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, e.Bytes()...)
	buf = append(buf, "\n\n"...)
	_, err := w.Write(buf)
	return err
}
