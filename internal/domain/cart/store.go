package cart

import (
	"context"

	"github.com/go-faster/errors"
)

// Persisted keys. Values are JSON documents.
const (
	KeyItems      = "cart"
	KeyRestaurant = "cart_restaurant"
	KeyPromotion  = "promo_code"
)

// Keys lists every key owned by a cart.
var Keys = []string{KeyItems, KeyRestaurant, KeyPromotion}

// ErrNotFound is returned by Store.Get when the key holds no value.
var ErrNotFound = errors.New("key not found")

// Store is a durable string key-value bucket holding a single cart.
type Store interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Batch is a set of writes applied together.
type Batch struct {
	Set    map[string]string
	Remove []string
}

// BatchWriter is implemented by stores able to apply a Batch atomically.
// The manager prefers it over individual Set/Remove calls.
type BatchWriter interface {
	WriteBatch(ctx context.Context, b Batch) error
}

func writeBatch(ctx context.Context, s Store, b Batch) error {
	if bw, ok := s.(BatchWriter); ok {
		return bw.WriteBatch(ctx, b)
	}
	for key, value := range b.Set {
		if err := s.Set(ctx, key, value); err != nil {
			return errors.Wrapf(err, "set %s", key)
		}
	}
	for _, key := range b.Remove {
		if err := s.Remove(ctx, key); err != nil {
			return errors.Wrapf(err, "remove %s", key)
		}
	}
	return nil
}
