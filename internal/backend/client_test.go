package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/foodcart/internal/domain/checkout"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/api", Options{Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestClient_ValidatePromotion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/promotions/validate/", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"code":"SAVE5","restaurant":"42","subtotal":34.50}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"valid":true,"discount_amount":"5.00","message":null,"promotion":{"id":3}}`)
	})

	ctx := WithToken(context.Background(), "tok")
	res, err := c.ValidatePromotion(ctx, checkout.PromotionQuery{
		Code:         "SAVE5",
		RestaurantID: "42",
		Subtotal:     decimal.RequireFromString("34.5"),
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "5", res.DiscountAmount.String())
	assert.Empty(t, res.Message)
}

func TestClient_CreateOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/orders/", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"restaurant": "42",
			"order_type": "DELIVERY",
			"payment_method": "CARD",
			"items": [{"menu_item": "7", "quantity": 2, "price": 1400}],
			"subtotal": 28.00,
			"tax": 2.24,
			"delivery_fee": 2.50,
			"discount": 0.00,
			"total_amount": 32.74,
			"delivery_address": "3",
			"payment_intent_id": "pi_1"
		}`, string(body))

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":1001,"order_number":"ORD-1001","status":"PENDING","total_amount":"32.74"}`)
	})

	o, err := c.CreateOrder(context.Background(), checkout.OrderPayload{
		RestaurantID:    "42",
		OrderType:       checkout.OrderTypeDelivery,
		PaymentMethod:   checkout.PaymentCard,
		Items:           []checkout.OrderItem{{MenuItem: "7", Quantity: 2, Price: 1400}},
		Subtotal:        decimal.RequireFromString("28"),
		Tax:             decimal.RequireFromString("2.24"),
		DeliveryFee:     decimal.RequireFromString("2.5"),
		Total:           decimal.RequireFromString("32.74"),
		DeliveryAddress: "3",
		PaymentIntentID: "pi_1",
	})
	require.NoError(t, err)
	assert.Equal(t, &checkout.Order{
		ID:          "1001",
		OrderNumber: "ORD-1001",
		Status:      "PENDING",
		Total:       decimal.RequireFromString("32.74"),
	}, o)
}

func TestClient_GetRestaurant(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/restaurants/pizza-place/", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":5,"name":"Pizza Place","delivery_fee":199,"cuisine":"italian"}`)
	})

	r, err := c.GetRestaurant(context.Background(), "pizza-place")
	require.NoError(t, err)
	assert.Equal(t, "5", r.ID)
	assert.Equal(t, "Pizza Place", r.Name)
	assert.Equal(t, "pizza-place", r.Slug)
	assert.EqualValues(t, 199, r.DeliveryFee)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		detail string
	}{
		{name: "detail", status: http.StatusBadRequest, body: `{"detail":"Restaurant is closed"}`, detail: "Restaurant is closed"},
		{name: "message", status: http.StatusNotFound, body: `{"message":"Not found"}`, detail: "Not found"},
		{name: "no body", status: http.StatusBadGateway},
		{name: "html", status: http.StatusInternalServerError, body: `<html>oops</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.GetRestaurant(context.Background(), "x")
			var be *Error
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.status, be.StatusCode)
			assert.Equal(t, tt.detail, be.Detail)
			assert.Equal(t, tt.status >= 500, be.Temporary())
		})
	}
}

func TestClient_Transport(t *testing.T) {
	c, err := New("http://127.0.0.1:1", Options{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.GetRestaurant(context.Background(), "x")
	require.Error(t, err)
	var be *Error
	assert.False(t, errors.As(err, &be))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "backend unavailable: ")
	var ue *url.Error
	assert.True(t, errors.As(err, &ue), "transport error is kept")

	_, err = New("/relative", Options{})
	assert.Error(t, err)
}
