package checkout

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/foodcart/internal/domain/cart"
)

// Service encapsulates promo code and order placement logic.
type Service struct {
	promotions PromotionValidator
	orders     OrderCreator
	filter     PromoFilter
}

// NewService creates a checkout Service. filter may be nil.
func NewService(promotions PromotionValidator, orders OrderCreator, filter PromoFilter) *Service {
	return &Service{
		promotions: promotions,
		orders:     orders,
		filter:     filter,
	}
}

// ApplyPromoCode validates code against the current cart and applies the
// granted discount.
func (s *Service) ApplyPromoCode(ctx context.Context, c Cart, code string) (*PromotionResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrEmptyPromoCode
	}

	snap := c.Snapshot()
	if snap.Empty() {
		return nil, cart.ErrEmptyCart
	}

	if s.filter != nil && !s.filter.MayContain(code) {
		zctx.From(ctx).Debug("Promo code rejected by local filter", zap.String("code", code))
		return nil, &PromotionRejectedError{Code: code, Message: DefaultRejectionMessage}
	}

	q := PromotionQuery{Code: code, Subtotal: snap.Totals.Subtotal}
	if snap.Restaurant != nil {
		q.RestaurantID = snap.Restaurant.ID
	}
	res, err := s.promotions.ValidatePromotion(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "validate promotion")
	}
	if !res.Valid {
		msg := res.Message
		if msg == "" {
			msg = DefaultRejectionMessage
		}
		return nil, &PromotionRejectedError{Code: code, Message: msg}
	}

	if err := c.ApplyPromotion(ctx, code, res.DiscountAmount); err != nil {
		return nil, errors.Wrap(err, "apply promotion")
	}
	return res, nil
}

// PlaceOrderRequest holds the checkout choices of the customer.
type PlaceOrderRequest struct {
	OrderType       OrderType
	PaymentMethod   PaymentMethod
	DeliveryAddress string
	PaymentIntentID string
}

func (r PlaceOrderRequest) validate() error {
	if !r.OrderType.valid() {
		return ErrInvalidOrderType
	}
	if !r.PaymentMethod.valid() {
		return ErrInvalidPaymentMethod
	}
	if r.OrderType == OrderTypeDelivery && r.DeliveryAddress == "" {
		return ErrAddressRequired
	}
	if r.PaymentMethod == PaymentCard && r.PaymentIntentID == "" {
		return ErrPaymentIntentMissing
	}
	return nil
}

// PlaceOrder submits the cart as an order and clears the cart once the
// backend accepted it. The cart is untouched when submission fails.
func (s *Service) PlaceOrder(ctx context.Context, c Cart, req PlaceOrderRequest) (*Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	snap := c.Snapshot()
	if snap.Empty() {
		return nil, cart.ErrEmptyCart
	}

	payload := BuildPayload(snap, req)
	o, err := s.orders.CreateOrder(ctx, payload)
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	lg := zctx.From(ctx)
	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("restaurant_id", payload.RestaurantID),
		zap.Stringer("total", payload.Total),
	)

	if err := c.ClearCart(ctx); err != nil {
		lg.Error("Clear cart after order", zap.String("order_id", o.ID), zap.Error(err))
	}
	return o, nil
}

// BuildPayload maps a cart snapshot and checkout choices to an order payload.
func BuildPayload(snap cart.Snapshot, req PlaceOrderRequest) OrderPayload {
	items := make([]OrderItem, len(snap.Items))
	for i, li := range snap.Items {
		items[i] = OrderItem{MenuItem: li.ID, Quantity: li.Quantity, Price: li.Price}
	}

	p := OrderPayload{
		OrderType:       req.OrderType,
		PaymentMethod:   req.PaymentMethod,
		Items:           items,
		Subtotal:        snap.Totals.Subtotal,
		Tax:             snap.Totals.Tax,
		DeliveryFee:     snap.Totals.DeliveryFee,
		Discount:        snap.Totals.Discount,
		Total:           snap.Totals.Total,
		PaymentIntentID: req.PaymentIntentID,
	}
	if snap.Restaurant != nil {
		p.RestaurantID = snap.Restaurant.ID
	}
	if snap.Promotion != nil {
		p.PromoCode = snap.Promotion.Code
	}
	if req.OrderType == OrderTypeDelivery {
		p.DeliveryAddress = req.DeliveryAddress
	}
	return p
}
