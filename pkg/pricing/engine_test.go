package pricing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fjod/storefront/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Discounts = []Discount{
		{Code: "WELCOME10", Kind: DiscountPercent, Value: 1000},
		{Code: "BIGFIX", Kind: DiscountFixed, Value: 50000},
		{Code: "MIN50", Kind: DiscountFixed, Value: 1000, MinSubtotal: 5000},
		{Code: "EXPIRED", Kind: DiscountPercent, Value: 500, ExpiresAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	return cfg
}

func newTestEngine() *Engine {
	return NewEngine(testConfig(), nil)
}

func sampleItems() []LineItem {
	return []LineItem{
		{ProductID: "whey-1kg", Name: "Whey 1kg", SKU: "WH-1", UnitPrice: 4599, Quantity: 2},
		{ProductID: "creatine", Name: "Creatine", SKU: "CR-1", UnitPrice: 5802, Quantity: 1},
	}
}

func at() Context {
	return Context{ShippingMethod: ShippingStandard, Locale: "es-MX", At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCompute_EndToEndBelowThreshold(t *testing.T) {
	b, err := newTestEngine().Compute(sampleItems(), at())
	require.NoError(t, err)

	assert.Equal(t, int64(15000), b.Subtotal)
	assert.Equal(t, int64(9900), b.Shipping)
	assert.Equal(t, int64(2400), b.Tax)
	assert.Equal(t, int64(0), b.Discount)
	assert.Equal(t, int64(15000+9900+2400), b.Total)
	assert.Equal(t, "MXN", b.Currency)
	assert.True(t, b.Consistent())
}

func TestCompute_LocaleRate(t *testing.T) {
	pc := at()
	pc.Locale = "es-CO"
	b, err := newTestEngine().Compute(sampleItems(), pc)
	require.NoError(t, err)
	assert.Equal(t, int64(2850), b.Tax)

	pc.Locale = "fr-FR"
	b, err = newTestEngine().Compute(sampleItems(), pc)
	require.NoError(t, err)
	assert.Equal(t, int64(2400), b.Tax, "unknown locale uses the default rate")
}

func TestCompute_FreeShippingThresholdBoundary(t *testing.T) {
	e := newTestEngine()
	threshold := e.Config().FreeShippingThreshold

	atThreshold := []LineItem{{ProductID: "p", UnitPrice: threshold, Quantity: 1}}
	b, err := e.Compute(atThreshold, at())
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Shipping)

	below := []LineItem{{ProductID: "p", UnitPrice: threshold - 1, Quantity: 1}}
	b, err = e.Compute(below, at())
	require.NoError(t, err)
	assert.Equal(t, int64(9900), b.Shipping)
}

func TestCompute_ShippingMethods(t *testing.T) {
	e := newTestEngine()
	tests := []struct {
		method ShippingMethod
		want   int64
	}{
		{ShippingStandard, 9900},
		{ShippingExpress, 19900},
		{ShippingPickup, 0},
		{"", 9900},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			pc := at()
			pc.ShippingMethod = tt.method
			b, err := e.Compute(sampleItems(), pc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Shipping)
		})
	}
}

func TestCompute_UnknownShippingMethod(t *testing.T) {
	pc := at()
	pc.ShippingMethod = "drone"
	_, err := newTestEngine().Compute(sampleItems(), pc)
	assert.ErrorIs(t, err, ErrInvalidShippingMethod)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCompute_EmptyCart(t *testing.T) {
	b, err := newTestEngine().Compute(nil, at())
	require.NoError(t, err)
	assert.Equal(t, Breakdown{Currency: "MXN"}, b)
}

func TestCompute_TaxRoundsHalfUpOnce(t *testing.T) {
	// 50 * 19% = 9.5 -> 10
	pc := at()
	pc.Locale = "es-CO"
	b, err := newTestEngine().Compute([]LineItem{{ProductID: "p", UnitPrice: 25, Quantity: 2}}, pc)
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Tax)

	// per-line rounding would give 0 for each line, the whole subtotal gives 9*16% = 1.44 -> 1
	items := []LineItem{
		{ProductID: "a", UnitPrice: 3, Quantity: 1},
		{ProductID: "b", UnitPrice: 3, Quantity: 1},
		{ProductID: "c", UnitPrice: 3, Quantity: 1},
	}
	b, err = newTestEngine().Compute(items, at())
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Tax)
}

func TestCompute_PercentDiscountReducesTotalExactly(t *testing.T) {
	e := newTestEngine()
	plain, err := e.Compute(sampleItems(), at())
	require.NoError(t, err)

	pc := at()
	pc.DiscountCode = "welcome10"
	discounted, err := e.Compute(sampleItems(), pc)
	require.NoError(t, err)

	assert.Equal(t, int64(1500), discounted.Discount)
	assert.LessOrEqual(t, discounted.Discount, discounted.Subtotal)
	assert.Equal(t, plain.Total-discounted.Discount, discounted.Total)
	assert.True(t, discounted.Consistent())
}

func TestCompute_FixedDiscountClamped(t *testing.T) {
	pc := at()
	pc.DiscountCode = "BIGFIX"
	b, err := newTestEngine().Compute(sampleItems(), pc)
	require.NoError(t, err)

	assert.Equal(t, b.Subtotal+b.Shipping, b.Discount)
	assert.Equal(t, b.Tax, b.Total)
	assert.True(t, b.Consistent())
}

func TestCompute_InvalidDiscounts(t *testing.T) {
	e := newTestEngine()
	for _, code := range []string{"NOPE", "EXPIRED"} {
		t.Run(code, func(t *testing.T) {
			pc := at()
			pc.DiscountCode = code
			b, err := e.Compute(sampleItems(), pc)
			assert.ErrorIs(t, err, ErrInvalidDiscount)
			assert.Equal(t, apperr.KindPricing, apperr.KindOf(err))
			assert.Equal(t, Breakdown{}, b)
		})
	}
}

func TestCompute_DiscountMinimumSubtotal(t *testing.T) {
	pc := at()
	pc.DiscountCode = "MIN50"
	_, err := newTestEngine().Compute([]LineItem{{ProductID: "p", UnitPrice: 4999, Quantity: 1}}, pc)
	require.ErrorIs(t, err, ErrInvalidDiscount)
	assert.Contains(t, err.Error(), "50.00")

	b, err := newTestEngine().Compute([]LineItem{{ProductID: "p", UnitPrice: 5000, Quantity: 1}}, pc)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.Discount)
}

func TestCompute_RejectsBadLineItems(t *testing.T) {
	_, err := newTestEngine().Compute([]LineItem{{ProductID: "p", UnitPrice: 100, Quantity: 0}}, at())
	assert.ErrorIs(t, err, ErrInvalidLineItem)

	_, err = newTestEngine().Compute([]LineItem{{ProductID: "p", UnitPrice: -1, Quantity: 1}}, at())
	assert.ErrorIs(t, err, ErrInvalidLineItem)
}

func TestCompute_Deterministic(t *testing.T) {
	e := newTestEngine()
	pc := at()
	pc.DiscountCode = "WELCOME10"

	first, err := e.Compute(sampleItems(), pc)
	require.NoError(t, err)
	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		b, err := e.Compute(sampleItems(), pc)
		require.NoError(t, err)
		data, err := json.Marshal(b)
		require.NoError(t, err)
		assert.Equal(t, firstJSON, data)
	}
}

func TestCompute_TotalIdentityAcrossInputs(t *testing.T) {
	e := newTestEngine()
	codes := []string{"", "WELCOME10", "BIGFIX"}
	methods := []ShippingMethod{ShippingStandard, ShippingExpress, ShippingPickup}
	for price := int64(1); price < 200000; price = price*3 + 7 {
		for qty := 1; qty <= 4; qty++ {
			for _, code := range codes {
				for _, m := range methods {
					pc := at()
					pc.DiscountCode = code
					pc.ShippingMethod = m
					b, err := e.Compute([]LineItem{{ProductID: "p", UnitPrice: price, Quantity: qty}}, pc)
					require.NoError(t, err)
					require.True(t, b.Consistent(), "inconsistent breakdown %+v", b)
				}
			}
		}
	}
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "149.99", FormatMinor(14999))
	assert.Equal(t, "0.05", FormatMinor(5))
	assert.Equal(t, "-1.00", FormatMinor(-100))
}
