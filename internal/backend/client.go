// Package backend is a client of the restaurant platform REST API: promotion
// validation, order creation and restaurant lookup.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/foodcart/internal/domain/cart"
	"github.com/xenking/foodcart/internal/domain/checkout"
)

const maxErrorBody = 64 << 10

// ErrUnavailable wraps failures to reach the backend at all.
var ErrUnavailable = errors.New("backend unavailable")

// unavailableError is a transport failure. It matches ErrUnavailable and
// unwraps to the transport error.
type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string { return ErrUnavailable.Error() + ": " + e.err.Error() }

func (e *unavailableError) Unwrap() error { return e.err }

func (e *unavailableError) Is(target error) bool { return target == ErrUnavailable }

// Error is a non-2xx response of the backend.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("backend: %d: %s", e.StatusCode, e.Detail)
}

// Temporary reports whether the request may succeed when retried.
func (e *Error) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type tokenKey struct{}

// WithToken returns a context carrying the bearer token of the end user.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the bearer token stored by WithToken.
func TokenFrom(ctx context.Context) string {
	v, _ := ctx.Value(tokenKey{}).(string)
	return v
}

// Options configures Client.
type Options struct {
	Timeout        time.Duration
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	// Transport is the base round tripper, http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// Client calls the backend API.
type Client struct {
	base *url.URL
	http *http.Client
}

var (
	_ checkout.PromotionValidator = (*Client)(nil)
	_ checkout.OrderCreator       = (*Client)(nil)
)

// New returns a Client for the API rooted at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("base url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	rt := opts.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}

	return &Client{
		base: u,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(rt, otelOpts...),
		},
	}, nil
}

// ValidatePromotion implements checkout.PromotionValidator.
func (c *Client) ValidatePromotion(ctx context.Context, q checkout.PromotionQuery) (*checkout.PromotionResult, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Str(q.Code)
	if q.RestaurantID != "" {
		e.FieldStart("restaurant")
		e.Str(q.RestaurantID)
	}
	e.FieldStart("subtotal")
	e.RawStr(q.Subtotal.StringFixed(2))
	e.ObjEnd()

	var res checkout.PromotionResult
	err := c.do(ctx, http.MethodPost, "promotions/validate/", e.Bytes(), func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "valid":
				res.Valid, err = d.Bool()
			case "discount_amount":
				res.DiscountAmount, err = cart.DecodeDecimal(d)
			case "message":
				res.Message, err = cart.DecodeOptStr(d)
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrapf(err, "field %q", key)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "validate promotion")
	}
	return &res, nil
}

// CreateOrder implements checkout.OrderCreator.
func (c *Client) CreateOrder(ctx context.Context, p checkout.OrderPayload) (*checkout.Order, error) {
	var o checkout.Order
	err := c.do(ctx, http.MethodPost, "orders/", EncodeOrder(p), func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				o.ID, err = cart.DecodeID(d)
			case "order_number":
				o.OrderNumber, err = cart.DecodeOptStr(d)
			case "status":
				o.Status, err = cart.DecodeOptStr(d)
			case "total_amount":
				o.Total, err = cart.DecodeDecimal(d)
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrapf(err, "field %q", key)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return &o, nil
}

// GetRestaurant returns the restaurant with the given slug.
func (c *Client) GetRestaurant(ctx context.Context, slug string) (cart.RestaurantRef, error) {
	var r cart.RestaurantRef
	err := c.do(ctx, http.MethodGet, "restaurants/"+url.PathEscape(slug)+"/", nil, func(d *jx.Decoder) error {
		var err error
		r, err = cart.DecodeRestaurantFrom(d)
		return err
	})
	if err != nil {
		return cart.RestaurantRef{}, errors.Wrapf(err, "get restaurant %s", slug)
	}
	if r.Slug == "" {
		r.Slug = slug
	}
	return r, nil
}

// EncodeOrder renders the order payload.
func EncodeOrder(p checkout.OrderPayload) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("restaurant", func(e *jx.Encoder) { e.Str(p.RestaurantID) })
		e.Field("order_type", func(e *jx.Encoder) { e.Str(string(p.OrderType)) })
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(string(p.PaymentMethod)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range p.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("menu_item", func(e *jx.Encoder) { e.Str(it.MenuItem) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price", func(e *jx.Encoder) { e.Int64(it.Price) })
					})
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { e.RawStr(p.Subtotal.StringFixed(2)) })
		e.Field("tax", func(e *jx.Encoder) { e.RawStr(p.Tax.StringFixed(2)) })
		e.Field("delivery_fee", func(e *jx.Encoder) { e.RawStr(p.DeliveryFee.StringFixed(2)) })
		e.Field("discount", func(e *jx.Encoder) { e.RawStr(p.Discount.StringFixed(2)) })
		e.Field("total_amount", func(e *jx.Encoder) { e.RawStr(p.Total.StringFixed(2)) })
		if p.PromoCode != "" {
			e.Field("promo_code", func(e *jx.Encoder) { e.Str(p.PromoCode) })
		}
		if p.DeliveryAddress != "" {
			e.Field("delivery_address", func(e *jx.Encoder) { e.Str(p.DeliveryAddress) })
		}
		if p.PaymentIntentID != "" {
			e.Field("payment_intent_id", func(e *jx.Encoder) { e.Str(p.PaymentIntentID) })
		}
	})
	return e.Bytes()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, decode func(d *jx.Decoder) error) error {
	u := c.base.ResolveReference(&url.URL{Path: path})

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := TokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &unavailableError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := decode(jx.Decode(resp.Body, 4096)); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func decodeError(resp *http.Response) error {
	e := &Error{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return e
	}

	var detail, message string
	_ = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "detail":
			if d.Next() == jx.String {
				v, err := d.Str()
				detail = v
				return err
			}
		case "message":
			if d.Next() == jx.String {
				v, err := d.Str()
				message = v
				return err
			}
		}
		return d.Skip()
	})
	e.Detail = detail
	if e.Detail == "" {
		e.Detail = message
	}
	return e
}
