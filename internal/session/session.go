// Package session keeps one loaded cart manager per cart session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/foodcart/internal/domain/cart"
)

// Header carries the cart session id.
const Header = "X-Cart-Session"

// ErrInvalidID is returned for session ids that are not UUIDs.
var ErrInvalidID = errors.New("invalid cart session id")

// Storage hands out the store bucket of a session.
type Storage interface {
	Bucket(sessionID string) cart.Store
}

// Listener receives the events of every session.
type Listener func(sessionID string, ev cart.Event)

// NewID returns a fresh session id.
func NewID() string {
	return uuid.New().String()
}

// ValidID reports whether id is a well-formed session id.
func ValidID(id string) bool {
	return uuid.Validate(id) == nil
}

// Options configures Registry.
type Options struct {
	// IdleTTL evicts managers not used for this long. Zero disables
	// eviction.
	IdleTTL time.Duration
	// CartOptions are passed to every cart.Load.
	CartOptions []cart.Option
	Logger      *zap.Logger
}

type entry struct {
	m        *cart.Manager
	lastUsed time.Time
	unsub    func()
	// inUse counts requests holding m. Busy entries are never evicted.
	inUse int
}

// Registry loads cart managers on first use and keeps them in memory while
// they are in use.
type Registry struct {
	storage Storage
	opts    Options
	lg      *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	sessions  map[string]*entry
	listeners []Listener
	swept     time.Time
}

// NewRegistry creates a Registry over storage.
func NewRegistry(storage Storage, opts Options) *Registry {
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Registry{
		storage:  storage,
		opts:     opts,
		lg:       lg,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Subscribe registers l for events of all sessions. It must be called before
// the registry serves requests.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Get returns the manager of sessionID, loading it from storage when needed.
// The manager may be evicted while the caller still uses it; request
// handlers use Acquire.
func (r *Registry) Get(ctx context.Context, sessionID string) (*cart.Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.m, nil
}

// Acquire is Get that keeps the manager loaded until release is called.
// Mutations made through an acquired manager land on the manager that later
// requests of the session see.
func (r *Registry) Acquire(ctx context.Context, sessionID string) (_ *cart.Manager, release func(), _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	e.inUse++

	var once sync.Once
	release = func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			e.inUse--
			e.lastUsed = r.now()
		})
	}
	return e.m, release, nil
}

// load returns the entry of sessionID. Requires r.mu.
func (r *Registry) load(ctx context.Context, sessionID string) (*entry, error) {
	if !ValidID(sessionID) {
		return nil, ErrInvalidID
	}

	if e, ok := r.sessions[sessionID]; ok {
		e.lastUsed = r.now()
		return e, nil
	}

	opts := append([]cart.Option{cart.WithLogger(r.lg.With(zap.String("session", sessionID)))}, r.opts.CartOptions...)
	m, err := cart.Load(ctx, r.storage.Bucket(sessionID), opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "load cart %s", sessionID)
	}

	listeners := r.listeners
	unsub := m.Subscribe(func(ev cart.Event) {
		for _, l := range listeners {
			l(sessionID, ev)
		}
	})
	e := &entry{m: m, lastUsed: r.now(), unsub: unsub}
	r.sessions[sessionID] = e
	return e, nil
}

// Len is the number of loaded sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict drops managers idle for longer than IdleTTL and returns how many
// were dropped. Acquired managers are kept. Their state remains in storage.
func (r *Registry) Evict() int {
	if r.opts.IdleTTL <= 0 {
		return 0
	}
	deadline := r.now().Add(-r.opts.IdleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.swept = r.now()
	var n int
	for id, e := range r.sessions {
		if e.inUse == 0 && e.lastUsed.Before(deadline) {
			e.unsub()
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// LastSweep is the time of the last Evict pass, zero before the first.
func (r *Registry) LastSweep() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.swept
}

// Run evicts idle sessions periodically until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	if r.opts.IdleTTL <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.opts.IdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Evict(); n > 0 {
				r.lg.Debug("Evicted idle carts", zap.Int("count", n), zap.Int("active", r.Len()))
			}
		}
	}
}
