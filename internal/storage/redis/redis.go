// Package redis implements the cart store on Redis. Each session owns one
// key per cart key, namespaced as <prefix>:<session>:<key>, with a sliding
// TTL refreshed on every write.
package redis

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/foodcart/internal/domain/cart"
)

// DefaultPrefix namespaces cart keys.
const DefaultPrefix = "cart"

// Options configures Storage.
type Options struct {
	// Prefix namespaces keys, DefaultPrefix when empty.
	Prefix string
	// TTL expires idle carts. Zero keeps them forever.
	TTL time.Duration
}

// Storage holds cart buckets in Redis.
type Storage struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewClient parses a redis:// URL and verifies connectivity.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// New returns a Storage on client.
func New(client redis.UniversalClient, opts Options) *Storage {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &Storage{client: client, prefix: opts.Prefix, ttl: opts.TTL}
}

// Ping checks the connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Bucket returns the store of a single cart session.
func (s *Storage) Bucket(sessionID string) cart.Store {
	return &Bucket{s: s, session: sessionID}
}

func (s *Storage) key(session, key string) string {
	return strings.Join([]string{s.prefix, session, key}, ":")
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
func (b *Bucket) Get(ctx context.Context, key string) (string, error) {
	v, err := b.s.client.Get(ctx, b.s.key(b.session, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", cart.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "get %s", key)
	}
	return v, nil
}

// Set implements cart.Store.
func (b *Bucket) Set(ctx context.Context, key, value string) error {
	if err := b.s.client.Set(ctx, b.s.key(b.session, key), value, b.s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

// Remove implements cart.Store.
func (b *Bucket) Remove(ctx context.Context, key string) error {
	if err := b.s.client.Del(ctx, b.s.key(b.session, key)).Err(); err != nil {
		return errors.Wrapf(err, "del %s", key)
	}
	return nil
}

// WriteBatch applies b in a single MULTI/EXEC transaction.
func (b *Bucket) WriteBatch(ctx context.Context, batch cart.Batch) error {
	_, err := b.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range batch.Set {
			pipe.Set(ctx, b.s.key(b.session, k), v, b.s.ttl)
		}
		if len(batch.Remove) > 0 {
			keys := make([]string, 0, len(batch.Remove))
			for _, k := range batch.Remove {
				keys = append(keys, b.s.key(b.session, k))
			}
			pipe.Del(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "write batch")
	}
	return nil
}
