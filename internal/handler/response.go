package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/foodcart/internal/backend"
	"github.com/xenking/foodcart/internal/domain/cart"
	"github.com/xenking/foodcart/internal/domain/checkout"
	"github.com/xenking/foodcart/internal/session"
	"github.com/xenking/foodcart/pkg/httpmiddleware"
)

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(e.Bytes())))
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeCart responds with the cart and an optional confirmation message.
func writeCart(w http.ResponseWriter, message string, snap cart.Snapshot) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			if message != "" {
				e.Field("message", func(e *jx.Encoder) { e.Str(message) })
			}
			e.Field("cart", func(e *jx.Encoder) { encodeSnapshot(e, snap) })
		})
	})
}

// money encodes an amount in major units as a number with two decimals.
func money(e *jx.Encoder, v decimal.Decimal) {
	e.RawStr(v.StringFixed(2))
}

func encodeSnapshot(e *jx.Encoder, s cart.Snapshot) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) { e.RawStr(cart.EncodeItems(s.Items)) })
		e.Field("restaurant", func(e *jx.Encoder) {
			if s.Restaurant == nil {
				e.Null()
				return
			}
			e.RawStr(cart.EncodeRestaurant(*s.Restaurant))
		})
		e.Field("promotion", func(e *jx.Encoder) {
			if s.Promotion == nil {
				e.Null()
				return
			}
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Str(s.Promotion.Code) })
				e.Field("discount", func(e *jx.Encoder) { money(e, s.Promotion.Discount) })
			})
		})
		t := s.Totals
		e.Field("subtotal", func(e *jx.Encoder) { money(e, t.Subtotal) })
		e.Field("tax", func(e *jx.Encoder) { money(e, t.Tax) })
		e.Field("delivery_fee", func(e *jx.Encoder) { money(e, t.DeliveryFee) })
		e.Field("discount", func(e *jx.Encoder) { money(e, t.Discount) })
		e.Field("total", func(e *jx.Encoder) { money(e, t.Total) })
		e.Field("item_count", func(e *jx.Encoder) { e.Int(t.ItemCount) })
	})
}

// writeAddResult responds 200 for added or incremented items and 409 with
// the pending confirmation when the restaurant differs.
func writeAddResult(w http.ResponseWriter, res cart.AddResult) {
	status := http.StatusOK
	if res.Status == cart.AddStatusPendingConfirmation {
		status = http.StatusConflict
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str(string(res.Status)) })
			if res.Message != "" {
				e.Field("message", func(e *jx.Encoder) { e.Str(res.Message) })
			}
			if p := res.Pending; p != nil {
				e.Field("confirmation", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
						e.Field("current", func(e *jx.Encoder) { e.RawStr(cart.EncodeRestaurant(p.Current)) })
						e.Field("requested", func(e *jx.Encoder) { e.RawStr(cart.EncodeRestaurant(p.Requested)) })
					})
				})
			}
			e.Field("cart", func(e *jx.Encoder) { encodeSnapshot(e, res.Snapshot) })
		})
	})
}

func encodeOrder(e *jx.Encoder, o *checkout.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		if o.OrderNumber != "" {
			e.Field("order_number", func(e *jx.Encoder) { e.Str(o.OrderNumber) })
		}
		if o.Status != "" {
			e.Field("status", func(e *jx.Encoder) { e.Str(o.Status) })
		}
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
	})
}

// writeError maps err to an HTTP status and writes a {code, message} body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	lg := zctx.From(r.Context())
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	httpmiddleware.WriteError(w, status, msg)
}

func classify(err error) (int, string) {
	var (
		reqErr   *requestError
		rejected *checkout.PromotionRejectedError
		be       *backend.Error
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.msg
	case errors.Is(err, session.ErrInvalidID),
		errors.Is(err, cart.ErrInvalidItem),
		errors.Is(err, cart.ErrInvalidRestaurant),
		errors.Is(err, cart.ErrInvalidPromotion),
		errors.Is(err, checkout.ErrEmptyPromoCode),
		errors.Is(err, checkout.ErrInvalidOrderType),
		errors.Is(err, checkout.ErrInvalidPaymentMethod),
		errors.Is(err, checkout.ErrAddressRequired),
		errors.Is(err, checkout.ErrPaymentIntentMissing):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, cart.ErrUnknownSwitch):
		return http.StatusNotFound, cart.ErrUnknownSwitch.Error()
	case errors.Is(err, cart.ErrEmptyCart):
		return http.StatusUnprocessableEntity, cart.ErrEmptyCart.Error()
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity, rejected.Message
	case errors.As(err, &be):
		if be.Temporary() {
			return http.StatusBadGateway, "backend unavailable"
		}
		if be.Detail != "" {
			return http.StatusUnprocessableEntity, be.Detail
		}
		return http.StatusUnprocessableEntity, http.StatusText(be.StatusCode)
	case errors.Is(err, backend.ErrUnavailable):
		return http.StatusBadGateway, "backend unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
