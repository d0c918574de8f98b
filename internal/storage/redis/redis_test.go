package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/foodcart/internal/domain/cart"
)

func newTestStorage(t *testing.T, opts Options) (*Storage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, opts), mr
}

func TestBucket(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStorage(t, Options{TTL: time.Hour})
	b := s.Bucket("sess-1")

	_, err := b.Get(ctx, cart.KeyItems)
	require.ErrorIs(t, err, cart.ErrNotFound)

	require.NoError(t, b.Set(ctx, cart.KeyItems, `[]`))
	v, err := b.Get(ctx, cart.KeyItems)
	require.NoError(t, err)
	assert.Equal(t, `[]`, v)

	assert.True(t, mr.Exists("cart:sess-1:cart"))
	assert.Equal(t, time.Hour, mr.TTL("cart:sess-1:cart"))

	require.NoError(t, b.Remove(ctx, cart.KeyItems))
	assert.False(t, mr.Exists("cart:sess-1:cart"))
}

func TestBucket_WriteBatch(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStorage(t, Options{Prefix: "fc"})
	b := s.Bucket("x").(*Bucket)

	require.NoError(t, b.WriteBatch(ctx, cart.Batch{
		Set: map[string]string{cart.KeyItems: `[1]`, cart.KeyPromotion: `{}`},
	}))
	got, err := mr.Get("fc:x:promo_code")
	require.NoError(t, err)
	assert.Equal(t, `{}`, got)

	require.NoError(t, b.WriteBatch(ctx, cart.Batch{Remove: cart.Keys}))
	assert.Empty(t, mr.Keys())
}

func TestBucket_ManagerReload(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStorage(t, Options{})

	m, err := cart.Load(ctx, s.Bucket("sess"))
	require.NoError(t, err)
	_, err = m.AddItem(ctx,
		cart.Item{ID: "1", Name: "Ramen", Price: 1350},
		cart.RestaurantRef{ID: "r9", Name: "Noodle House", DeliveryFee: 250},
	)
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 2)

	reloaded, err := cart.Load(ctx, s.Bucket("sess"))
	require.NoError(t, err)
	assert.Equal(t, m.Snapshot(), reloaded.Snapshot())
}

func TestBucket_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStorage(t, Options{})
	mr.Close()

	require.Error(t, s.Ping(ctx))
	_, err := cart.Load(ctx, s.Bucket("sess"))
	require.Error(t, err)
}
