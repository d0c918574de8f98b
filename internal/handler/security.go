package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/xenking/foodcart/internal/backend"
	"github.com/xenking/foodcart/internal/domain/cart"
	"github.com/xenking/foodcart/internal/session"
)

// openCart resolves the cart of the request. A missing X-Cart-Session header
// starts a new session; the id is always echoed back. The returned context
// carries the bearer token of the caller for backend requests. Callers must
// call release once done with the manager.
func (h *Handler) openCart(w http.ResponseWriter, r *http.Request) (_ context.Context, _ *cart.Manager, release func(), ok bool) {
	id := r.Header.Get(session.Header)
	if id == "" {
		id = session.NewID()
	}
	w.Header().Set(session.Header, id)

	ctx := r.Context()
	if token := bearerToken(r); token != "" {
		ctx = backend.WithToken(ctx, token)
	}

	m, release, err := h.sessions.Acquire(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return nil, nil, nil, false
	}
	return ctx, m, release, true
}

// bearerToken returns the token of an "Authorization: Bearer" header. The
// token is forwarded as is; the backend authenticates it.
func bearerToken(r *http.Request) string {
	const prefix = "bearer "
	v := r.Header.Get("Authorization")
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}
