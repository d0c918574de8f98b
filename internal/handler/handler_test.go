package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/foodcart/internal/backend"
	"github.com/xenking/foodcart/internal/domain/cart"
	"github.com/xenking/foodcart/internal/domain/checkout"
	"github.com/xenking/foodcart/internal/session"
	"github.com/xenking/foodcart/internal/storage/memory"
)

// --- Mock backend ---

type mockBackend struct {
	mu          sync.Mutex
	promo       *checkout.PromotionResult
	promoErr    error
	order       *checkout.Order
	orderErr    error
	restaurants map[string]cart.RestaurantRef
	payloads    []checkout.OrderPayload
	tokens      []string
}

func (b *mockBackend) ValidatePromotion(ctx context.Context, _ checkout.PromotionQuery) (*checkout.PromotionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, backend.TokenFrom(ctx))
	return b.promo, b.promoErr
}

func (b *mockBackend) CreateOrder(_ context.Context, p checkout.OrderPayload) (*checkout.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, p)
	return b.order, b.orderErr
}

func (b *mockBackend) GetRestaurant(_ context.Context, slug string) (cart.RestaurantRef, error) {
	r, ok := b.restaurants[slug]
	if !ok {
		return cart.RestaurantRef{}, &backend.Error{StatusCode: http.StatusNotFound, Detail: "Not found."}
	}
	return r, nil
}

// --- Test server ---

const (
	addPizza = `{"item":{"id":10,"name":"Margherita","price":1200,"image":null},` +
		`"restaurant":{"id":1,"name":"Pizzeria","slug":"pizzeria","delivery_fee":299}}`
	addSushi = `{"item":{"id":"20","name":"Salmon Roll","price":850},"restaurant_slug":"sushi-bar"}`
)

type testAPI struct {
	t       *testing.T
	mux     *http.ServeMux
	backend *mockBackend
	broker  *Broker
	session string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	be := &mockBackend{
		restaurants: map[string]cart.RestaurantRef{
			"sushi-bar": {ID: "2", Name: "Sushi Bar", Slug: "sushi-bar"},
		},
	}
	reg := session.NewRegistry(memory.New(), session.Options{})
	broker := NewBroker(8)
	reg.Subscribe(broker.Publish)

	h := NewHandler(HandlerConfig{KeepAlive: 10 * time.Millisecond}, reg, checkout.NewService(be, be, nil), be, broker)
	mux := http.NewServeMux()
	h.Register(mux)
	return &testAPI{t: t, mux: mux, backend: be, broker: broker}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	if a.session != "" {
		req.Header.Set(session.Header, a.session)
	}
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, req)
	if a.session == "" {
		a.session = w.Header().Get(session.Header)
	}
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func cartOf(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	c, ok := decode(t, w)["cart"].(map[string]any)
	require.True(t, ok, w.Body.String())
	return c
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	assert.Equal(t, status, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, status, body["code"])
	assert.Equal(t, message, body["message"])
}

// --- Tests ---

func TestCart_Lifecycle(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, session.ValidID(api.session))
	assert.JSONEq(t, `{"items":[],"restaurant":null,"promotion":null,"subtotal":0.00,"tax":0.00,`+
		`"delivery_fee":0.00,"discount":0.00,"total":0.00,"item_count":0}`, w.Body.String())

	w = api.do(http.MethodPost, "/api/cart/items", addPizza)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "added", body["status"])
	assert.Equal(t, "Margherita added to cart!", body["message"])

	w = api.do(http.MethodPost, "/api/cart/items", addPizza)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "incremented", body["status"])
	assert.Equal(t, "Margherita quantity updated!", body["message"])
	assert.Contains(t, w.Body.String(), `"subtotal":24.00,"tax":1.92,"delivery_fee":2.99,"discount":0.00,"total":28.91,"item_count":2`)

	w = api.do(http.MethodPatch, "/api/cart/items/10", `{"quantity":5}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 5, cartOf(t, w)["item_count"])

	w = api.do(http.MethodPatch, "/api/cart/items/unknown", `{"quantity":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 5, cartOf(t, w)["item_count"])

	w = api.do(http.MethodPatch, "/api/cart/items/10", `{"quantity":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	c := cartOf(t, w)
	assert.Empty(t, c["items"])
	assert.Nil(t, c["restaurant"])

	api.do(http.MethodPost, "/api/cart/items", addPizza)
	w = api.do(http.MethodDelete, "/api/cart/items/10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, cartOf(t, w)["item_count"])

	api.do(http.MethodPost, "/api/cart/items", addPizza)
	w = api.do(http.MethodDelete, "/api/cart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Cart cleared", decode(t, w)["message"])
	assert.EqualValues(t, 0, cartOf(t, w)["item_count"])
}

func TestAddItem_RestaurantSwitch(t *testing.T) {
	api := newTestAPI(t)
	api.do(http.MethodPost, "/api/cart/items", addPizza)

	w := api.do(http.MethodPost, "/api/cart/items", addSushi)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "confirmation_required", body["status"])
	conf := body["confirmation"].(map[string]any)
	assert.Equal(t, "Pizzeria", conf["current"].(map[string]any)["name"])
	assert.Equal(t, "Sushi Bar", conf["requested"].(map[string]any)["name"])
	first := conf["id"].(string)

	w = api.do(http.MethodPost, "/api/cart/switches/"+first, `{"accept":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "declined", decode(t, w)["status"])
	assert.Equal(t, "Pizzeria", cartOf(t, w)["restaurant"].(map[string]any)["name"])

	w = api.do(http.MethodPost, "/api/cart/switches/"+first, `{"accept":true}`)
	assertError(t, w, http.StatusNotFound, "restaurant switch is not pending")

	w = api.do(http.MethodPost, "/api/cart/items", addSushi)
	require.Equal(t, http.StatusConflict, w.Code)
	second := decode(t, w)["confirmation"].(map[string]any)["id"].(string)

	w = api.do(http.MethodPost, "/api/cart/switches/"+second, `{"accept":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Salmon Roll added to cart!", decode(t, w)["message"])
	c := cartOf(t, w)
	assert.Equal(t, "Sushi Bar", c["restaurant"].(map[string]any)["name"])
	assert.EqualValues(t, 1, c["item_count"])
}

func TestAddItem_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{name: "empty body", body: ``, status: http.StatusBadRequest},
		{name: "not an object", body: `[1]`, status: http.StatusBadRequest},
		{
			name:    "missing item id",
			body:    `{"item":{"name":"x","price":1},"restaurant_slug":"sushi-bar"}`,
			status:  http.StatusBadRequest,
			message: "item.id is required",
		},
		{
			name:    "negative price",
			body:    `{"item":{"id":1,"price":-5},"restaurant_slug":"sushi-bar"}`,
			status:  http.StatusBadRequest,
			message: "item.price must be at least 0",
		},
		{
			name:    "no restaurant",
			body:    `{"item":{"id":1,"price":5}}`,
			status:  http.StatusBadRequest,
			message: "restaurant is required",
		},
		{
			name:    "unknown slug",
			body:    `{"item":{"id":1,"price":5},"restaurant_slug":"closed"}`,
			status:  http.StatusUnprocessableEntity,
			message: "Not found.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestAPI(t).do(http.MethodPost, "/api/cart/items", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.message != "" {
				assertError(t, w, tt.status, tt.message)
			}
		})
	}
}

func TestSession_Header(t *testing.T) {
	api := newTestAPI(t)
	api.session = "not-a-uuid"
	w := api.do(http.MethodGet, "/api/cart", "")
	assertError(t, w, http.StatusBadRequest, "invalid cart session id")

	api.session = session.NewID()
	w = api.do(http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.session, w.Header().Get(session.Header))
}

func TestUpdateQuantity_Validation(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(http.MethodPatch, "/api/cart/items/10", `{}`)
	assertError(t, w, http.StatusBadRequest, "quantity is required")

	w = api.do(http.MethodPatch, "/api/cart/items/10", `{"quantity":"two"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPost, "/api/cart/switches/x", `{}`)
	assertError(t, w, http.StatusBadRequest, "accept is required")
}

func TestPromotion(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/cart/promotion", `{"code":"SAVE5"}`)
	assertError(t, w, http.StatusUnprocessableEntity, "cart is empty")

	api.do(http.MethodPost, "/api/cart/items", addPizza)

	api.backend.promo = &checkout.PromotionResult{Valid: false, Message: "Code expired"}
	w = api.do(http.MethodPost, "/api/cart/promotion", `{"code":"old"}`)
	assertError(t, w, http.StatusUnprocessableEntity, "Code expired")

	api.backend.promo, api.backend.promoErr = nil, &backend.Error{StatusCode: http.StatusServiceUnavailable}
	w = api.do(http.MethodPost, "/api/cart/promotion", `{"code":"save5"}`)
	assertError(t, w, http.StatusBadGateway, "backend unavailable")

	api.backend.promoErr = nil
	api.backend.promo = &checkout.PromotionResult{Valid: true, DiscountAmount: decimal.RequireFromString("5")}
	w = api.do(http.MethodPost, "/api/cart/promotion", `{"code":" save5 "}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"message":"Promo code applied!","discount":5.00`)
	assert.Contains(t, w.Body.String(), `"promotion":{"code":"SAVE5","discount":5.00}`)
	assert.Contains(t, w.Body.String(), `"total":10.95`)
	assert.Equal(t, []string{"tok", "tok", "tok"}, api.backend.tokens)

	w = api.do(http.MethodDelete, "/api/cart/promotion", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, cartOf(t, w)["promotion"])

	w = api.do(http.MethodPost, "/api/cart/promotion", `{"code":"   "}`)
	assertError(t, w, http.StatusBadRequest, "promo code is required")
}

func TestCheckout(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/checkout", `{"order_type":"PICKUP","payment_method":"CASH"}`)
	assertError(t, w, http.StatusUnprocessableEntity, "cart is empty")

	api.do(http.MethodPost, "/api/cart/items", addPizza)

	w = api.do(http.MethodPost, "/api/checkout", `{"order_type":"DELIVERY","payment_method":"CASH"}`)
	assertError(t, w, http.StatusBadRequest, "delivery_address is required")

	w = api.do(http.MethodPost, "/api/checkout", `{"order_type":"TAKEAWAY","payment_method":"CARD"}`)
	assertError(t, w, http.StatusBadRequest,
		"order_type must be one of DELIVERY PICKUP DINE_IN; payment_intent_id is required")

	api.backend.orderErr = &backend.Error{StatusCode: http.StatusBadRequest, Detail: "Restaurant is closed"}
	w = api.do(http.MethodPost, "/api/checkout", `{"order_type":"PICKUP","payment_method":"CASH"}`)
	assertError(t, w, http.StatusUnprocessableEntity, "Restaurant is closed")

	w = api.do(http.MethodGet, "/api/cart", "")
	assert.Contains(t, w.Body.String(), `"item_count":1`)

	api.backend.orderErr = nil
	api.backend.order = &checkout.Order{ID: "77", OrderNumber: "A-77", Status: "PENDING", Total: decimal.RequireFromString("15.95")}
	w = api.do(http.MethodPost, "/api/checkout",
		`{"order_type":"DELIVERY","payment_method":"CARD","delivery_address":12,"payment_intent_id":"pi_1"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"order":{"id":"77","order_number":"A-77","status":"PENDING","total":15.95}`)
	assert.EqualValues(t, 0, cartOf(t, w)["item_count"])

	require.Len(t, api.backend.payloads, 2)
	p := api.backend.payloads[1]
	assert.Equal(t, "1", p.RestaurantID)
	assert.Equal(t, "12", p.DeliveryAddress)
	assert.Equal(t, "pi_1", p.PaymentIntentID)
	assert.Equal(t, []checkout.OrderItem{{MenuItem: "10", Quantity: 1, Price: 1200}}, p.Items)
}

func TestStreamEvents(t *testing.T) {
	api := newTestAPI(t)
	api.session = session.NewID()

	srv := httptest.NewServer(api.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/cart/events", nil)
	require.NoError(t, err)
	req.Header.Set(session.Header, api.session)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	next := func() (kind string, data map[string]any) {
		t.Helper()
		for {
			line, err := rd.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimSuffix(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				kind = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data))
			case line == "" && kind != "":
				return kind, data
			}
		}
	}

	kind, data := next()
	assert.Equal(t, "snapshot", kind)
	assert.NotNil(t, data["cart"])
	assert.Equal(t, 1, api.broker.Subscribers(api.session))

	api.do(http.MethodPost, "/api/cart/items", addPizza)
	kind, data = next()
	assert.Equal(t, string(cart.EventItemAdded), kind)
	assert.Equal(t, "Margherita added to cart!", data["message"])

	api.do(http.MethodDelete, "/api/cart", "")
	kind, _ = next()
	assert.Equal(t, string(cart.EventCartCleared), kind)

	cancel()
	assert.Eventually(t, func() bool { return api.broker.Subscribers(api.session) == 0 }, time.Second, 10*time.Millisecond)
}

func TestBroker_DropsWhenFull(t *testing.T) {
	b := NewBroker(1)
	ch, unsubscribe := b.subscribe("s")

	b.Publish("s", cart.Event{Kind: cart.EventItemAdded})
	b.Publish("s", cart.Event{Kind: cart.EventItemRemoved})
	b.Publish("other", cart.Event{Kind: cart.EventCartCleared})

	assert.Equal(t, cart.EventItemAdded, (<-ch).Kind)
	assert.Empty(t, ch)

	unsubscribe()
	assert.Zero(t, b.Subscribers("s"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{errors.Wrap(cart.ErrInvalidItem, "id is required"), http.StatusBadRequest},
		{errors.Wrap(&backend.Error{StatusCode: 502}, "create order"), http.StatusBadGateway},
		{errors.Wrap(backend.ErrUnavailable, "validate promotion"), http.StatusBadGateway},
		{errors.Wrap(cart.ErrEmptyCart, "apply"), http.StatusUnprocessableEntity},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}

func TestBearerToken(t *testing.T) {
	for header, want := range map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer ":      "",
		"":             "",
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", header)
		assert.Equal(t, want, bearerToken(r), header)
	}
}
