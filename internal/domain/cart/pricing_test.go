package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name       string
		items      []LineItem
		restaurant *RestaurantRef
		promo      *Promotion
		subtotal   string
		tax        string
		fee        string
		total      string
		count      int
	}{
		{
			name:     "empty",
			subtotal: "0",
			tax:      "0",
			fee:      "0",
			total:    "0",
		},
		{
			name: "two lines",
			items: []LineItem{
				{Item: Item{ID: "a", Price: 800}, Quantity: 2},
				{Item: Item{ID: "b", Price: 1200}, Quantity: 1},
			},
			subtotal: "28",
			tax:      "2.24",
			fee:      "0",
			total:    "30.24",
			count:    3,
		},
		{
			name:       "delivery fee and discount",
			items:      []LineItem{{Item: Item{ID: "a", Price: 1099}, Quantity: 3}},
			restaurant: &RestaurantRef{ID: "r", DeliveryFee: 499},
			promo:      &Promotion{Code: "TEN", Discount: dec("10")},
			subtotal:   "32.97",
			tax:        "2.64",
			fee:        "4.99",
			total:      "30.6",
			count:      3,
		},
		{
			name:     "tax rounds half up to cents",
			items:    []LineItem{{Item: Item{ID: "a", Price: 1231}, Quantity: 1}},
			subtotal: "12.31",
			tax:      "0.98",
			fee:      "0",
			total:    "13.29",
			count:    1,
		},
		{
			name:       "discount larger than cart floors at zero",
			items:      []LineItem{{Item: Item{ID: "a", Price: 500}, Quantity: 1}},
			restaurant: &RestaurantRef{ID: "r", DeliveryFee: 100},
			promo:      &Promotion{Code: "FREE", Discount: dec("50")},
			subtotal:   "5",
			tax:        "0.4",
			fee:        "1",
			total:      "0",
			count:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals(tt.items, tt.restaurant, tt.promo, DefaultTaxRate)
			assert.Equal(t, tt.subtotal, got.Subtotal.String(), "subtotal")
			assert.Equal(t, tt.tax, got.Tax.String(), "tax")
			assert.Equal(t, tt.fee, got.DeliveryFee.String(), "delivery fee")
			assert.Equal(t, tt.total, got.Total.String(), "total")
			assert.Equal(t, tt.count, got.ItemCount)
		})
	}
}

func TestFromMinor(t *testing.T) {
	assert.Equal(t, "12.5", FromMinor(1250).String())
	assert.Equal(t, "0.01", FromMinor(1).String())
	assert.Equal(t, "0", FromMinor(0).String())
}
