// Package handler serves the cart HTTP API on a net/http ServeMux.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/xenking/foodcart/internal/domain/cart"
	"github.com/xenking/foodcart/internal/domain/checkout"
)

// Sessions resolves the cart manager of a cart session. The manager stays
// loaded until release is called.
type Sessions interface {
	Acquire(ctx context.Context, sessionID string) (m *cart.Manager, release func(), err error)
}

// Checkout applies promotion codes and places orders.
type Checkout interface {
	ApplyPromoCode(ctx context.Context, c checkout.Cart, code string) (*checkout.PromotionResult, error)
	PlaceOrder(ctx context.Context, c checkout.Cart, req checkout.PlaceOrderRequest) (*checkout.Order, error)
}

// Restaurants looks up restaurants by slug.
type Restaurants interface {
	GetRestaurant(ctx context.Context, slug string) (cart.RestaurantRef, error)
}

var _ Checkout = (*checkout.Service)(nil)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// MaxBodyBytes limits request bodies. Defaults to 64 KiB.
	MaxBodyBytes int64
	// KeepAlive is the interval of comment lines on idle event streams.
	// Defaults to 15s.
	KeepAlive time.Duration
}

// Handler serves the cart API.
type Handler struct {
	sessions    Sessions
	checkout    Checkout
	restaurants Restaurants
	broker      *Broker

	maxBody   int64
	keepAlive time.Duration
}

// NewHandler constructs a Handler. restaurants may be nil, in which case
// items must be added with a full restaurant object.
func NewHandler(
	cfg HandlerConfig,
	sessions Sessions,
	co Checkout,
	restaurants Restaurants,
	broker *Broker,
) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}
	return &Handler{
		sessions:    sessions,
		checkout:    co,
		restaurants: restaurants,
		broker:      broker,
		maxBody:     cfg.MaxBodyBytes,
		keepAlive:   cfg.KeepAlive,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cart", h.GetCart)
	mux.HandleFunc("DELETE /api/cart", h.ClearCart)
	mux.HandleFunc("POST /api/cart/items", h.AddItem)
	mux.HandleFunc("PATCH /api/cart/items/{id}", h.UpdateQuantity)
	mux.HandleFunc("DELETE /api/cart/items/{id}", h.RemoveItem)
	mux.HandleFunc("POST /api/cart/switches/{id}", h.ResolveSwitch)
	mux.HandleFunc("POST /api/cart/promotion", h.ApplyPromotion)
	mux.HandleFunc("DELETE /api/cart/promotion", h.RemovePromotion)
	mux.HandleFunc("POST /api/checkout", h.PlaceOrder)
	mux.HandleFunc("GET /api/cart/events", h.StreamEvents)
}
