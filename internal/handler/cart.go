package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/foodcart/internal/domain/cart"
)

// GetCart returns the cart of the session.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	_, m, release, ok := h.openCart(w, r)
	if !ok {
		return
	}
	defer release()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSnapshot(e, m.Snapshot()) })
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, m, release, ok := h.openCart(w, r)
	if !ok {
		return
	}
	defer release()
	if err := m.ClearCart(ctx); err != nil {
		writeError(w, r, err)
		return
	}
	writeCart(w, "Cart cleared", m.Snapshot())
}

// AddItem adds one unit of an item. The restaurant is given inline or as a
// slug looked up through the backend.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, m, release, ok := h.openCart(w, r)
	if !ok {
		return
	}
	defer release()

	var req addItemRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var restaurant cart.RestaurantRef
	switch {
	case req.Restaurant != nil:
		restaurant = cart.RestaurantRef{
			ID:          req.Restaurant.ID,
			Name:        req.Restaurant.Name,
			Slug:        req.Restaurant.Slug,
			DeliveryFee: req.Restaurant.DeliveryFee,
		}
	case h.restaurants == nil:
		writeError(w, r, &requestError{msg: "restaurant is required"})
		return
	default:
		var err error
		restaurant, err = h.restaurants.GetRestaurant(ctx, req.RestaurantSlug)
		if err != nil {
			writeError(w, r, errors.Wrap(err, "resolve restaurant"))
			return
		}
	}

	res, err := m.AddItem(ctx, req.Item.item(), restaurant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeAddResult(w, res)
}

// ResolveSwitch accepts or declines a pending restaurant switch.
func (h *Handler) ResolveSwitch(w http.ResponseWriter, r *http.Request) {
	ctx, m, release, ok := h.openCart(w, r)
	if !ok {
		return
	}
	defer release()

	var req switchRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := m.ResolveSwitch(ctx, r.PathValue("id"), *req.Accept)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeAddResult(w, res)
}

// UpdateQuantity sets the quantity of a line item; zero or less removes it.
func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, m, release, ok := h.openCart(w, r)
	if !ok {
		return
	}
	defer release()

	var req quantityRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := m.UpdateQuantity(ctx, r.PathValue("id"), *req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	writeCart(w, "", m.Snapshot())
}

// RemoveItem deletes a line item.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, m, release, ok := h.openCart(w, r)
	if !ok {
		return
	}
	defer release()
	if err := m.RemoveItem(ctx, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeCart(w, "", m.Snapshot())
}
