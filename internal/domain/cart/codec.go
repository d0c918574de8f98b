package cart

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// EncodeItems serializes line items as stored under KeyItems.
func EncodeItems(items []LineItem) string {
	var e jx.Encoder
	e.ArrStart()
	for _, li := range items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(li.ID)
		e.FieldStart("name")
		e.Str(li.Name)
		e.FieldStart("price")
		e.Int64(li.Price)
		e.FieldStart("quantity")
		e.Int(li.Quantity)
		if li.Image != "" {
			e.FieldStart("image")
			e.Str(li.Image)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.String()
}

// DecodeItems parses the value stored under KeyItems. Line items with a
// non-positive quantity or without an id are dropped.
func DecodeItems(raw string) ([]LineItem, error) {
	var items []LineItem
	d := jx.DecodeStr(raw)
	if err := d.Arr(func(d *jx.Decoder) error {
		var li LineItem
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				li.ID, err = DecodeID(d)
			case "name":
				li.Name, err = DecodeOptStr(d)
			case "price":
				li.Price, err = DecodeMinor(d)
			case "quantity":
				li.Quantity, err = d.Int()
			case "image":
				li.Image, err = DecodeOptStr(d)
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrapf(err, "field %q", key)
			}
			return nil
		}); err != nil {
			return err
		}
		if li.ID == "" || li.Quantity < 1 {
			return nil
		}
		items = append(items, li)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode items")
	}
	return items, nil
}

// EncodeRestaurant serializes a restaurant reference as stored under
// KeyRestaurant.
func EncodeRestaurant(r RestaurantRef) string {
	var e jx.Encoder
	encodeRestaurant(&e, r)
	return e.String()
}

func encodeRestaurant(e *jx.Encoder, r RestaurantRef) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(r.ID)
	e.FieldStart("name")
	e.Str(r.Name)
	e.FieldStart("slug")
	e.Str(r.Slug)
	e.FieldStart("delivery_fee")
	e.Int64(r.DeliveryFee)
	e.ObjEnd()
}

// DecodeRestaurant parses the value stored under KeyRestaurant. A JSON null
// yields a nil reference.
func DecodeRestaurant(raw string) (*RestaurantRef, error) {
	d := jx.DecodeStr(raw)
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	r, err := DecodeRestaurantFrom(d)
	if err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, errors.Wrap(ErrInvalidRestaurant, "id is required")
	}
	return &r, nil
}

// DecodeRestaurantFrom reads a restaurant object from d. It understands the
// backend representation as well, where delivery_fee may be a string.
func DecodeRestaurantFrom(d *jx.Decoder) (RestaurantRef, error) {
	var r RestaurantRef
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			r.ID, err = DecodeID(d)
		case "name":
			r.Name, err = DecodeOptStr(d)
		case "slug":
			r.Slug, err = DecodeOptStr(d)
		case "delivery_fee":
			r.DeliveryFee, err = DecodeMinor(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return RestaurantRef{}, errors.Wrap(err, "decode restaurant")
	}
	return r, nil
}

// EncodePromotion serializes a promotion as stored under KeyPromotion.
func EncodePromotion(p Promotion) string {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Str(p.Code)
	e.FieldStart("discount")
	e.RawStr(p.Discount.String())
	e.ObjEnd()
	return e.String()
}

// DecodePromotion parses the value stored under KeyPromotion.
func DecodePromotion(raw string) (*Promotion, error) {
	d := jx.DecodeStr(raw)
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var p Promotion
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			p.Code, err = DecodeOptStr(d)
		case "discount":
			p.Discount, err = DecodeDecimal(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode promotion")
	}
	if p.Code == "" || p.Discount.IsNegative() {
		return nil, ErrInvalidPromotion
	}
	return &p, nil
}

// DecodeDecimal reads a JSON number or a numeric string as a decimal.
func DecodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch tt := d.Next(); tt {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Zero, errors.Errorf("unexpected %v, expected number", tt)
	}
}

// DecodeMinor reads an amount in minor units, dropping any fraction.
func DecodeMinor(d *jx.Decoder) (int64, error) {
	v, err := DecodeDecimal(d)
	if err != nil {
		return 0, err
	}
	return v.IntPart(), nil
}

// DecodeID reads a string or numeric identifier.
func DecodeID(d *jx.Decoder) (string, error) {
	switch tt := d.Next(); tt {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", errors.Errorf("unexpected %v, expected id", tt)
	}
}

// DecodeOptStr reads a string, treating null as empty.
func DecodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
