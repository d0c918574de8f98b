package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// ApplyPromotion validates a promotion code with the backend and applies it.
func (h *Handler) ApplyPromotion(w http.ResponseWriter, r *http.Request) {
	ctx, m, release, ok := h.openCart(w, r)
	if !ok {
		return
	}
	defer release()

	var req promotionRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.checkout.ApplyPromoCode(ctx, m, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	snap := m.Snapshot()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("message", func(e *jx.Encoder) { e.Str("Promo code applied!") })
			e.Field("discount", func(e *jx.Encoder) { money(e, res.DiscountAmount) })
			e.Field("cart", func(e *jx.Encoder) { encodeSnapshot(e, snap) })
		})
	})
}

// RemovePromotion drops the applied promotion code.
func (h *Handler) RemovePromotion(w http.ResponseWriter, r *http.Request) {
	ctx, m, release, ok := h.openCart(w, r)
	if !ok {
		return
	}
	defer release()
	if err := m.RemovePromotion(ctx); err != nil {
		writeError(w, r, err)
		return
	}
	writeCart(w, "", m.Snapshot())
}

// PlaceOrder submits the cart as an order. The cart is cleared on success.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx, m, release, ok := h.openCart(w, r)
	if !ok {
		return
	}
	defer release()

	var req checkoutRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.checkout.PlaceOrder(ctx, m, req.domain())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, o) })
			e.Field("cart", func(e *jx.Encoder) { encodeSnapshot(e, m.Snapshot()) })
		})
	})
}
