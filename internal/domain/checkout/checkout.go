// Package checkout applies promotion codes to a cart and turns a cart into an
// order through the restaurant backend.
package checkout

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/foodcart/internal/domain/cart"
)

// Sentinel errors for checkout validation.
var (
	ErrEmptyPromoCode       = errors.New("promo code is required")
	ErrInvalidOrderType     = errors.New("order type must be one of DELIVERY, PICKUP, DINE_IN")
	ErrInvalidPaymentMethod = errors.New("payment method must be one of CARD, CASH")
	ErrAddressRequired      = errors.New("delivery address is required for delivery orders")
	ErrPaymentIntentMissing = errors.New("payment intent id is required for card payments")
)

// DefaultRejectionMessage is shown when the backend rejects a code without
// an explanation.
const DefaultRejectionMessage = "Invalid promo code"

// PromotionRejectedError indicates the promotion code was not accepted.
type PromotionRejectedError struct {
	Code    string
	Message string
}

func (e *PromotionRejectedError) Error() string {
	return fmt.Sprintf("promo code %s rejected: %s", e.Code, e.Message)
}

// OrderType is how the order reaches the customer.
type OrderType string

// Order types.
const (
	OrderTypeDelivery OrderType = "DELIVERY"
	OrderTypePickup   OrderType = "PICKUP"
	OrderTypeDineIn   OrderType = "DINE_IN"
)

func (t OrderType) valid() bool {
	switch t {
	case OrderTypeDelivery, OrderTypePickup, OrderTypeDineIn:
		return true
	default:
		return false
	}
}

// PaymentMethod is how the order is paid.
type PaymentMethod string

// Payment methods.
const (
	PaymentCard PaymentMethod = "CARD"
	PaymentCash PaymentMethod = "CASH"
)

func (m PaymentMethod) valid() bool {
	return m == PaymentCard || m == PaymentCash
}

// PromotionQuery is the order context sent along with a code to validate.
type PromotionQuery struct {
	Code         string
	RestaurantID string
	Subtotal     decimal.Decimal
}

// PromotionResult is the backend verdict on a promotion code.
type PromotionResult struct {
	Valid          bool
	DiscountAmount decimal.Decimal
	Message        string
}

// OrderItem is a line of an order payload. Price is in minor units, as held
// by the cart.
type OrderItem struct {
	MenuItem string
	Quantity int
	Price    int64
}

// OrderPayload is the order submitted to the backend. Amounts are in major
// units.
type OrderPayload struct {
	RestaurantID    string
	OrderType       OrderType
	PaymentMethod   PaymentMethod
	Items           []OrderItem
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	DeliveryFee     decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	PromoCode       string
	DeliveryAddress string
	PaymentIntentID string
}

// Order is the order as created by the backend.
type Order struct {
	ID          string
	OrderNumber string
	Status      string
	Total       decimal.Decimal
}

// PromotionValidator validates promotion codes.
type PromotionValidator interface {
	ValidatePromotion(ctx context.Context, q PromotionQuery) (*PromotionResult, error)
}

// OrderCreator submits orders.
type OrderCreator interface {
	CreateOrder(ctx context.Context, p OrderPayload) (*Order, error)
}

// PromoFilter rules out unknown promotion codes locally.
type PromoFilter interface {
	MayContain(code string) bool
}

// Cart is the subset of *cart.Manager used by the checkout service.
type Cart interface {
	Snapshot() cart.Snapshot
	ApplyPromotion(ctx context.Context, code string, discount decimal.Decimal) error
	ClearCart(ctx context.Context) error
}

var _ Cart = (*cart.Manager)(nil)
