// Package cart implements the per-session shopping cart state container:
// line items of a single restaurant, an optional promotion code, totals
// derived on every read, and persistence of each mutation into a Store.
package cart

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validation errors returned by mutating operations.
var (
	// ErrInvalidItem is returned when an item has no id or a negative price.
	ErrInvalidItem = errors.New("invalid cart item")
	// ErrInvalidRestaurant is returned when a restaurant reference has no id
	// or a negative delivery fee.
	ErrInvalidRestaurant = errors.New("invalid restaurant reference")
	// ErrInvalidPromotion is returned for an empty promotion code or a
	// negative discount.
	ErrInvalidPromotion = errors.New("invalid promotion")
	// ErrEmptyCart is returned when a promotion is applied to an empty cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrUnknownSwitch is returned when resolving a restaurant switch that is
	// not pending (already resolved or replaced by a newer request).
	ErrUnknownSwitch = errors.New("restaurant switch is not pending")
)

// Item is a menu item as offered to AddItem. Price is in minor currency
// units (cents), as the menu API returns it.
type Item struct {
	ID    string
	Name  string
	Price int64
	Image string
}

// LineItem is an Item held in the cart with its quantity. Quantity is at
// least 1 while the line item is present.
type LineItem struct {
	Item
	Quantity int
}

// RestaurantRef identifies the restaurant all line items belong to.
// DeliveryFee is in minor currency units.
type RestaurantRef struct {
	ID          string
	Name        string
	Slug        string
	DeliveryFee int64
}

// Promotion is an applied promotion code. Discount is in major currency
// units, exactly as the promotions API reports discount_amount.
type Promotion struct {
	Code     string
	Discount decimal.Decimal
}

// Snapshot is an immutable copy of the cart state together with its totals.
type Snapshot struct {
	Items      []LineItem
	Restaurant *RestaurantRef
	Promotion  *Promotion
	Totals     Totals
}

// Empty reports whether the cart is in the EMPTY macro-state.
func (s Snapshot) Empty() bool {
	return len(s.Items) == 0
}

func (i Item) validate() error {
	if i.ID == "" {
		return errors.Wrap(ErrInvalidItem, "id is required")
	}
	if i.Price < 0 {
		return errors.Wrapf(ErrInvalidItem, "negative price %d for item %s", i.Price, i.ID)
	}
	return nil
}

func (r RestaurantRef) validate() error {
	if r.ID == "" {
		return errors.Wrap(ErrInvalidRestaurant, "id is required")
	}
	if r.DeliveryFee < 0 {
		return errors.Wrapf(ErrInvalidRestaurant, "negative delivery fee for restaurant %s", r.ID)
	}
	return nil
}

// state is the mutable part of the manager. Values are replaced wholesale on
// every mutation so snapshots handed out earlier are never aliased.
type state struct {
	items      []LineItem
	restaurant *RestaurantRef
	promotion  *Promotion
}

func (s state) clone() state {
	out := state{items: make([]LineItem, len(s.items))}
	copy(out.items, s.items)
	if s.restaurant != nil {
		r := *s.restaurant
		out.restaurant = &r
	}
	if s.promotion != nil {
		p := *s.promotion
		out.promotion = &p
	}
	return out
}

func (s state) indexOf(itemID string) int {
	for i, li := range s.items {
		if li.ID == itemID {
			return i
		}
	}
	return -1
}

// normalize enforces the EMPTY invariant: a cart is either empty or holds
// line items of a known restaurant. Items without a restaurant are dropped.
func (s state) normalize() state {
	if len(s.items) == 0 || s.restaurant == nil {
		return state{}
	}
	return s
}
