package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/foodcart/internal/domain/cart"
)

const upsertSnapshotSQL = `INSERT INTO cart_snapshots (
		session_id, restaurant_id, promo_code, item_count,
		subtotal, tax, delivery_fee, discount, total, last_event, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
	ON CONFLICT (session_id) DO UPDATE SET
		restaurant_id = EXCLUDED.restaurant_id,
		promo_code    = EXCLUDED.promo_code,
		item_count    = EXCLUDED.item_count,
		subtotal      = EXCLUDED.subtotal,
		tax           = EXCLUDED.tax,
		delivery_fee  = EXCLUDED.delivery_fee,
		discount      = EXCLUDED.discount,
		total         = EXCLUDED.total,
		last_event    = EXCLUDED.last_event,
		updated_at    = now()`

const getSnapshotSQL = `SELECT restaurant_id, promo_code, item_count,
	subtotal, tax, delivery_fee, discount, total, last_event
	FROM cart_snapshots WHERE session_id = $1`

// SnapshotRecord is a row of cart_snapshots: the latest totals of a session.
type SnapshotRecord struct {
	SessionID    string
	RestaurantID *string
	PromoCode    *string
	LastEvent    string
	Totals       cart.Totals
}

// SnapshotWriter records cart totals after every cart event, for reporting
// on abandoned and active carts.
type SnapshotWriter struct {
	pool *pgxpool.Pool
}

// NewSnapshotWriter returns a SnapshotWriter that uses the given pool.
func NewSnapshotWriter(pool *pgxpool.Pool) *SnapshotWriter {
	return &SnapshotWriter{pool: pool}
}

// Write upserts the snapshot row of a session.
func (w *SnapshotWriter) Write(ctx context.Context, sessionID string, ev cart.Event) error {
	var restaurantID, promoCode *string
	if r := ev.Snapshot.Restaurant; r != nil {
		restaurantID = &r.ID
	}
	if p := ev.Snapshot.Promotion; p != nil {
		promoCode = &p.Code
	}
	t := ev.Snapshot.Totals

	_, err := w.pool.Exec(ctx, upsertSnapshotSQL,
		sessionID, restaurantID, promoCode, t.ItemCount,
		t.Subtotal, t.Tax, t.DeliveryFee, t.Discount, t.Total, string(ev.Kind),
	)
	if err != nil {
		return errors.Wrapf(err, "write snapshot of %s", sessionID)
	}
	return nil
}

// Get returns the recorded snapshot of a session or cart.ErrNotFound.
func (w *SnapshotWriter) Get(ctx context.Context, sessionID string) (*SnapshotRecord, error) {
	rec := SnapshotRecord{SessionID: sessionID}
	t := &rec.Totals
	err := w.pool.QueryRow(ctx, getSnapshotSQL, sessionID).Scan(
		&rec.RestaurantID, &rec.PromoCode, &t.ItemCount,
		&t.Subtotal, &t.Tax, &t.DeliveryFee, &t.Discount, &t.Total, &rec.LastEvent,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cart.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get snapshot of %s", sessionID)
	}
	return &rec, nil
}
