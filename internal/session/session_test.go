package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/foodcart/internal/domain/cart"
	"github.com/xenking/foodcart/internal/storage/memory"
)

var (
	soup  = cart.Item{ID: "1", Name: "Soup", Price: 500}
	diner = cart.RestaurantRef{ID: "r1", Name: "Diner"}
)

func TestRegistry_Get(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(memory.New(), Options{})

	_, err := reg.Get(ctx, "not-a-uuid")
	require.ErrorIs(t, err, ErrInvalidID)

	id := NewID()
	m1, err := reg.Get(ctx, id)
	require.NoError(t, err)
	m2, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Same(t, m1, m2)

	other, err := reg.Get(ctx, NewID())
	require.NoError(t, err)
	assert.NotSame(t, m1, other)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_Listeners(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(memory.New(), Options{})

	type got struct {
		session string
		kind    cart.EventKind
	}
	var events []got
	reg.Subscribe(func(sessionID string, ev cart.Event) {
		events = append(events, got{sessionID, ev.Kind})
	})

	a, b := NewID(), NewID()
	ma, err := reg.Get(ctx, a)
	require.NoError(t, err)
	mb, err := reg.Get(ctx, b)
	require.NoError(t, err)

	_, err = ma.AddItem(ctx, soup, diner)
	require.NoError(t, err)
	require.NoError(t, mb.ClearCart(ctx))

	assert.Equal(t, []got{
		{a, cart.EventItemAdded},
		{b, cart.EventCartCleared},
	}, events)
}

func TestRegistry_Evict(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	reg := NewRegistry(storage, Options{IdleTTL: time.Minute})

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	var events int
	reg.Subscribe(func(string, cart.Event) { events++ })

	idle, busy := NewID(), NewID()
	m, err := reg.Get(ctx, idle)
	require.NoError(t, err)
	_, err = m.AddItem(ctx, soup, diner)
	require.NoError(t, err)
	_, err = reg.Get(ctx, busy)
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	_, err = reg.Get(ctx, busy)
	require.NoError(t, err)

	now = now.Add(20 * time.Second)
	assert.True(t, reg.LastSweep().IsZero())
	assert.Equal(t, 1, reg.Evict())
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, now, reg.LastSweep())

	// Evicted managers no longer notify.
	_, err = m.AddItem(ctx, soup, diner)
	require.NoError(t, err)
	assert.Equal(t, 1, events)

	reloaded, err := reg.Get(ctx, idle)
	require.NoError(t, err)
	assert.NotSame(t, m, reloaded)
	assert.Equal(t, 2, reloaded.ItemCount())
}

func TestRegistry_Acquire(t *testing.T) {
	ctx := context.Background()
	storage := memory.New()
	reg := NewRegistry(storage, Options{IdleTTL: time.Minute})

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	_, _, err := reg.Acquire(ctx, "not-a-uuid")
	require.ErrorIs(t, err, ErrInvalidID)

	id := NewID()
	m, release, err := reg.Acquire(ctx, id)
	require.NoError(t, err)

	// A request outliving the idle TTL keeps its manager loaded.
	now = now.Add(2 * time.Minute)
	assert.Zero(t, reg.Evict())
	_, err = m.AddItem(ctx, soup, diner)
	require.NoError(t, err)

	same, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Same(t, m, same)
	assert.Equal(t, 1, same.ItemCount())

	release()
	release()
	assert.Zero(t, reg.Evict(), "release refreshes last use")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, reg.Evict())
	assert.Zero(t, reg.Len())

	reloaded, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.ItemCount())
}

func TestRegistry_Run(t *testing.T) {
	reg := NewRegistry(memory.New(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, reg.Run(ctx))
}
