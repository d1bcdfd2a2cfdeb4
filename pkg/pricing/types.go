package pricing

import (
	"fmt"
	"time"
)

type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
	ShippingPickup   ShippingMethod = "pickup"
)

func (m ShippingMethod) Valid() bool {
	switch m {
	case ShippingStandard, ShippingExpress, ShippingPickup:
		return true
	default:
		return false
	}
}

// LineItem is one product entry with a quantity. Prices are minor currency units.
type LineItem struct {
	ProductID string `json:"product_id" bson:"product_id"`
	Name      string `json:"name" bson:"name"`
	SKU       string `json:"sku" bson:"sku"`
	UnitPrice int64  `json:"unit_price" bson:"unit_price"`
	Quantity  int    `json:"quantity" bson:"quantity"`
}

func (li LineItem) LineTotal() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// Context is everything besides the items that influences a breakdown.
type Context struct {
	ShippingMethod ShippingMethod `json:"shipping_method" bson:"shipping_method"`
	DiscountCode   string         `json:"discount_code,omitempty" bson:"discount_code,omitempty"`
	Locale         string         `json:"locale" bson:"locale"`
	// At is the instant discount validity windows are evaluated against.
	At time.Time `json:"-" bson:"-"`
}

type Breakdown struct {
	Currency string `json:"currency"`
	Subtotal int64  `json:"subtotal"`
	Shipping int64  `json:"shipping"`
	Tax      int64  `json:"tax"`
	Discount int64  `json:"discount"`
	Total    int64  `json:"total"`
}

// Consistent reports whether the breakdown satisfies the total identity and bounds.
func (b Breakdown) Consistent() bool {
	if b.Subtotal < 0 || b.Shipping < 0 || b.Tax < 0 || b.Discount < 0 || b.Total < 0 {
		return false
	}
	if b.Discount > b.Subtotal+b.Shipping {
		return false
	}
	return b.Total == b.Subtotal+b.Shipping-b.Discount+b.Tax
}

// FormatMinor renders a minor-unit amount with two decimals.
func FormatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
