// Package memory implements an in-process cart store. State is lost on
// restart; it backs tests and single-instance development setups.
package memory

import (
	"context"
	"sync"

	"github.com/xenking/foodcart/internal/domain/cart"
)

// Storage holds the cart buckets of every session.
type Storage struct {
	mu      sync.RWMutex
	buckets map[string]map[string]string
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{buckets: make(map[string]map[string]string)}
}

// Ping always succeeds.
func (s *Storage) Ping(context.Context) error { return nil }

// Bucket returns the store of a single cart session.
func (s *Storage) Bucket(sessionID string) cart.Store {
	return &Bucket{s: s, session: sessionID}
}

var (
	_ cart.Store       = (*Bucket)(nil)
	_ cart.BatchWriter = (*Bucket)(nil)
)

// Bucket is the key space of one session.
type Bucket struct {
	s       *Storage
	session string
}

// Get implements cart.Store.
func (b *Bucket) Get(_ context.Context, key string) (string, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	v, ok := b.s.buckets[b.session][key]
	if !ok {
		return "", cart.ErrNotFound
	}
	return v, nil
}

// Set implements cart.Store.
func (b *Bucket) Set(ctx context.Context, key, value string) error {
	return b.WriteBatch(ctx, cart.Batch{Set: map[string]string{key: value}})
}

// Remove implements cart.Store.
func (b *Bucket) Remove(ctx context.Context, key string) error {
	return b.WriteBatch(ctx, cart.Batch{Remove: []string{key}})
}

// WriteBatch implements cart.BatchWriter.
func (b *Bucket) WriteBatch(_ context.Context, batch cart.Batch) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	m := b.s.buckets[b.session]
	if m == nil {
		m = make(map[string]string, len(batch.Set))
		b.s.buckets[b.session] = m
	}
	for k, v := range batch.Set {
		m[k] = v
	}
	for _, k := range batch.Remove {
		delete(m, k)
	}
	if len(m) == 0 {
		delete(b.s.buckets, b.session)
	}
	return nil
}
