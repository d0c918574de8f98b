package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/foodcart/internal/domain/cart"
)

const (
	getValueSQL = `SELECT value FROM cart_kv WHERE session_id = $1 AND key = $2`

	upsertValueSQL = `INSERT INTO cart_kv (session_id, key, value, updated_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	deleteValueSQL = `DELETE FROM cart_kv WHERE session_id = $1 AND key = $2`

	deleteStaleSQL = `DELETE FROM cart_kv WHERE session_id IN (
		SELECT session_id FROM cart_kv GROUP BY session_id HAVING max(updated_at) < $1
	)`
)

// Storage keeps cart buckets in the cart_kv table.
type Storage struct {
	pool *pgxpool.Pool
}

// NewStorage returns a Storage that uses the given pool.
func NewStorage(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

// Ping checks the connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Bucket returns the store of a single cart session.
func (s *Storage) Bucket(sessionID string) cart.Store {
	return &Bucket{pool: s.pool, session: sessionID}
}

// DeleteStale removes carts not written since before. It returns the number
// of deleted rows.
func (s *Storage) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, deleteStaleSQL, before)
	if err != nil {
		return 0, errors.Wrap(err, "delete stale carts")
	}
	return tag.RowsAffected(), nil
}

var (
	_ cart.Store       = (*Bucket)(nil)
	_ cart.BatchWriter = (*Bucket)(nil)
)

// Bucket is the key space of one session.
type Bucket struct {
	pool    *pgxpool.Pool
	session string
}

// Get implements cart.Store.
func (b *Bucket) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := b.pool.QueryRow(ctx, getValueSQL, b.session, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", cart.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "get %s", key)
	}
	return v, nil
}

// Set implements cart.Store.
func (b *Bucket) Set(ctx context.Context, key, value string) error {
	if _, err := b.pool.Exec(ctx, upsertValueSQL, b.session, key, value); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

// Remove implements cart.Store.
func (b *Bucket) Remove(ctx context.Context, key string) error {
	if _, err := b.pool.Exec(ctx, deleteValueSQL, b.session, key); err != nil {
		return errors.Wrapf(err, "remove %s", key)
	}
	return nil
}

// WriteBatch applies batch in one transaction.
func (b *Bucket) WriteBatch(ctx context.Context, batch cart.Batch) error {
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		var qb pgx.Batch
		for k, v := range batch.Set {
			qb.Queue(upsertValueSQL, b.session, k, v)
		}
		for _, k := range batch.Remove {
			qb.Queue(deleteValueSQL, b.session, k)
		}
		return tx.SendBatch(ctx, &qb).Close()
	})
	if err != nil {
		return errors.Wrap(err, "write batch")
	}
	return nil
}
