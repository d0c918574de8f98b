package cart

import "github.com/shopspring/decimal"

// DefaultTaxRate is the flat sales tax applied to the subtotal.
var DefaultTaxRate = decimal.RequireFromString("0.08")

var hundred = decimal.NewFromInt(100)

// Totals holds the derived amounts of a cart, in major currency units.
type Totals struct {
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	DeliveryFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	ItemCount   int
}

// FromMinor converts an amount in minor currency units to major units.
func FromMinor(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(hundred)
}

// ComputeTotals derives totals from line items, restaurant and promotion.
//
// Tax is rounded to cents before it is added. Total = subtotal + tax +
// delivery fee - discount, floored at zero and rounded to 2 decimal places.
func ComputeTotals(items []LineItem, restaurant *RestaurantRef, promo *Promotion, taxRate decimal.Decimal) Totals {
	var t Totals

	subtotal := decimal.Zero
	for _, li := range items {
		subtotal = subtotal.Add(FromMinor(li.Price).Mul(decimal.NewFromInt(int64(li.Quantity))))
		t.ItemCount += li.Quantity
	}
	t.Subtotal = subtotal.Round(2)
	t.Tax = subtotal.Mul(taxRate).Round(2)

	t.DeliveryFee = decimal.Zero
	if restaurant != nil {
		t.DeliveryFee = FromMinor(restaurant.DeliveryFee)
	}

	t.Discount = decimal.Zero
	if promo != nil {
		t.Discount = promo.Discount.Round(2)
	}

	total := t.Subtotal.Add(t.Tax).Add(t.DeliveryFee).Sub(t.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	t.Total = total.Round(2)

	return t
}
