package handler

import (
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/foodcart/internal/domain/cart"
	"github.com/xenking/foodcart/internal/domain/checkout"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// requestError is a malformed or invalid request body.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

type decodable interface {
	decode(d *jx.Decoder) error
}

// decodeBody reads, decodes and validates the JSON body of r into dst.
func (h *Handler) decodeBody(r *http.Request, dst decodable) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		return &requestError{msg: "read request body"}
	}
	if int64(len(data)) > h.maxBody {
		return &requestError{msg: "request body too large"}
	}
	if err := dst.decode(jx.DecodeBytes(data)); err != nil {
		return &requestError{msg: "invalid request body: " + err.Error()}
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return &requestError{msg: "validation failed: " + err.Error()}
	}
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		msgs = append(msgs, field+" "+validationMessage(fe))
	}
	return &requestError{msg: strings.Join(msgs, "; ")}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return "is invalid"
}

type itemBody struct {
	ID    string `json:"id" validate:"required,max=64"`
	Name  string `json:"name" validate:"max=200"`
	Price int64  `json:"price" validate:"gte=0"`
	Image string `json:"image" validate:"max=2048"`
}

func (b *itemBody) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			b.ID, err = cart.DecodeID(d)
		case "name":
			b.Name, err = cart.DecodeOptStr(d)
		case "price":
			b.Price, err = cart.DecodeMinor(d)
		case "image":
			b.Image, err = cart.DecodeOptStr(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "item.%s", key)
		}
		return nil
	})
}

func (b itemBody) item() cart.Item {
	return cart.Item{ID: b.ID, Name: b.Name, Price: b.Price, Image: b.Image}
}

type restaurantBody struct {
	ID          string `json:"id" validate:"required,max=64"`
	Name        string `json:"name" validate:"max=200"`
	Slug        string `json:"slug" validate:"max=128"`
	DeliveryFee int64  `json:"delivery_fee" validate:"gte=0"`
}

type addItemRequest struct {
	Item           itemBody        `json:"item"`
	Restaurant     *restaurantBody `json:"restaurant" validate:"required_without=RestaurantSlug"`
	RestaurantSlug string          `json:"restaurant_slug" validate:"max=128"`
}

func (req *addItemRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "item":
			return req.Item.decode(d)
		case "restaurant":
			if d.Next() == jx.Null {
				return d.Null()
			}
			r, err := cart.DecodeRestaurantFrom(d)
			if err != nil {
				return err
			}
			req.Restaurant = &restaurantBody{ID: r.ID, Name: r.Name, Slug: r.Slug, DeliveryFee: r.DeliveryFee}
			return nil
		case "restaurant_slug":
			v, err := cart.DecodeOptStr(d)
			req.RestaurantSlug = v
			return err
		default:
			return d.Skip()
		}
	})
}

type quantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

func (req *quantityRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		n, err := d.Int()
		if err != nil {
			return errors.Wrap(err, "quantity")
		}
		req.Quantity = &n
		return nil
	})
}

type switchRequest struct {
	Accept *bool `json:"accept" validate:"required"`
}

func (req *switchRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if key != "accept" {
			return d.Skip()
		}
		v, err := d.Bool()
		if err != nil {
			return errors.Wrap(err, "accept")
		}
		req.Accept = &v
		return nil
	})
}

type promotionRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

func (req *promotionRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		v, err := cart.DecodeOptStr(d)
		req.Code = v
		return err
	})
}

type checkoutRequest struct {
	OrderType       string `json:"order_type" validate:"required,oneof=DELIVERY PICKUP DINE_IN"`
	PaymentMethod   string `json:"payment_method" validate:"required,oneof=CARD CASH"`
	DeliveryAddress string `json:"delivery_address" validate:"required_if=OrderType DELIVERY"`
	PaymentIntentID string `json:"payment_intent_id" validate:"required_if=PaymentMethod CARD"`
}

func (req *checkoutRequest) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order_type":
			req.OrderType, err = cart.DecodeOptStr(d)
		case "payment_method":
			req.PaymentMethod, err = cart.DecodeOptStr(d)
		case "delivery_address":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.DeliveryAddress, err = cart.DecodeID(d)
		case "payment_intent_id":
			req.PaymentIntentID, err = cart.DecodeOptStr(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

func (req checkoutRequest) domain() checkout.PlaceOrderRequest {
	return checkout.PlaceOrderRequest{
		OrderType:       checkout.OrderType(req.OrderType),
		PaymentMethod:   checkout.PaymentMethod(req.PaymentMethod),
		DeliveryAddress: req.DeliveryAddress,
		PaymentIntentID: req.PaymentIntentID,
	}
}
