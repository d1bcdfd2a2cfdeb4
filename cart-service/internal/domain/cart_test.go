package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/catalog"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine() *pricing.Engine {
	cfg := pricing.DefaultConfig()
	cfg.Discounts = []pricing.Discount{
		{Code: "WELCOME10", Kind: pricing.DiscountPercent, Value: 1000},
		{Code: "MIN500", Kind: pricing.DiscountFixed, Value: 5000, MinSubtotal: 50000},
	}
	return pricing.NewEngine(cfg, nil)
}

func newCart(t *testing.T) *Cart {
	t.Helper()
	pc := pricing.Context{ShippingMethod: pricing.ShippingStandard, Locale: "es-MX"}
	return New(shopper.Identity{ID: "user-1"}, pc, newEngine(), func() time.Time { return fixedNow })
}

func stock(n int) *int { return &n }

func whey(available *int) catalog.Product {
	return catalog.Product{ID: "whey", Name: "Whey 1kg", SKU: "WH-1", UnitPrice: 4599, AvailableStock: available}
}

func TestNew_EmptyCartHasZeroBreakdown(t *testing.T) {
	c := newCart(t)

	b := c.Breakdown()
	assert.Equal(t, int64(0), b.Subtotal)
	assert.Equal(t, int64(0), b.Shipping)
	assert.Equal(t, int64(0), b.Total)
	assert.False(t, c.Dirty())
	assert.Equal(t, 0, c.Len())
}

func TestAddItem_SameProductTwiceSumsQuantity(t *testing.T) {
	c := newCart(t)

	_, err := c.AddItem(whey(nil), 2)
	require.NoError(t, err)
	res, err := c.AddItem(whey(nil), 3)
	require.NoError(t, err)

	require.Equal(t, 1, c.Len())
	item, ok := c.Item("whey")
	require.True(t, ok)
	assert.Equal(t, 5, item.Quantity)
	assert.Equal(t, int64(5*4599), res.Breakdown.Subtotal)
	assert.True(t, res.Breakdown.Consistent())
}

func TestAddItem_ExceedingStockIsRejected(t *testing.T) {
	c := newCart(t)

	_, err := c.AddItem(whey(stock(3)), 5)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.Equal(t, apperr.KindStock, apperr.KindOf(err))
	assert.Equal(t, "3", apperr.DetailsOf(err)["available"])
	assert.Equal(t, 0, c.Len())
}

func TestAddItem_MergedQuantityChecksStock(t *testing.T) {
	c := newCart(t)
	_, err := c.AddItem(whey(stock(3)), 2)
	require.NoError(t, err)

	_, err = c.AddItem(whey(stock(3)), 2)

	require.ErrorIs(t, err, ErrInsufficientStock)
	item, _ := c.Item("whey")
	assert.Equal(t, 2, item.Quantity)
}

func TestAddItem_OutOfStock(t *testing.T) {
	c := newCart(t)

	_, err := c.AddItem(whey(stock(0)), 1)

	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "out of stock")
}

func TestAddItem_InvalidQuantity(t *testing.T) {
	c := newCart(t)

	_, err := c.AddItem(whey(nil), 0)

	require.ErrorIs(t, err, ErrInvalidQuantity)
	assert.False(t, c.Dirty())
}

func TestUpdateQuantity_ZeroRemovesItem(t *testing.T) {
	c := newCart(t)
	_, err := c.AddItem(whey(nil), 2)
	require.NoError(t, err)

	res, err := c.UpdateQuantity("whey", 0, nil)

	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), res.Breakdown.Total)
}

func TestUpdateQuantity_AbsentProduct(t *testing.T) {
	c := newCart(t)

	_, err := c.UpdateQuantity("ghost", 2, nil)

	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestUpdateQuantity_RespectsStock(t *testing.T) {
	c := newCart(t)
	_, err := c.AddItem(whey(nil), 1)
	require.NoError(t, err)

	_, err = c.UpdateQuantity("whey", 4, stock(3))
	require.ErrorIs(t, err, ErrInsufficientStock)

	res, err := c.UpdateQuantity("whey", 3, stock(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3*4599), res.Breakdown.Subtotal)
}

func TestRemoveItem_KeepsOrderOfRemaining(t *testing.T) {
	c := newCart(t)
	for _, id := range []string{"a", "b", "c"} {
		_, err := c.AddItem(catalog.Product{ID: id, Name: id, UnitPrice: 100}, 1)
		require.NoError(t, err)
	}

	c.RemoveItem("b")
	c.RemoveItem("missing")

	items := c.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ProductID)
	assert.Equal(t, "c", items[1].ProductID)
	_, ok := c.Item("c")
	assert.True(t, ok)
}

func TestApplyDiscount_InvalidCodeLeavesCartUnchanged(t *testing.T) {
	c := newCart(t)
	_, err := c.AddItem(whey(nil), 2)
	require.NoError(t, err)
	before := c.Breakdown()

	_, err = c.ApplyDiscount("NOPE")

	require.ErrorIs(t, err, pricing.ErrInvalidDiscount)
	assert.Empty(t, c.PricingContext().DiscountCode)
	assert.Equal(t, before, c.Breakdown())
}

func TestApplyDiscount_NormalizesAndApplies(t *testing.T) {
	c := newCart(t)
	_, err := c.AddItem(whey(nil), 2)
	require.NoError(t, err)

	res, err := c.ApplyDiscount("  welcome10 ")

	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", c.PricingContext().DiscountCode)
	assert.Equal(t, int64(920), res.Breakdown.Discount)
	assert.True(t, res.Breakdown.Consistent())
}

func TestRecompute_DropsDiscountThatNoLongerQualifies(t *testing.T) {
	c := newCart(t)
	_, err := c.AddItem(catalog.Product{ID: "rack", Name: "Rack", UnitPrice: 60000}, 1)
	require.NoError(t, err)
	_, err = c.ApplyDiscount("MIN500")
	require.NoError(t, err)

	res, err := c.UpdateQuantity("rack", 1, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	res = c.RemoveItem("rack")

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "MIN500")
	assert.Empty(t, c.PricingContext().DiscountCode)
	assert.Equal(t, int64(0), res.Breakdown.Discount)
}

func TestSetShippingMethod(t *testing.T) {
	c := newCart(t)
	_, err := c.AddItem(whey(nil), 1)
	require.NoError(t, err)

	res, err := c.SetShippingMethod(pricing.ShippingPickup)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Breakdown.Shipping)

	_, err = c.SetShippingMethod("drone")
	require.ErrorIs(t, err, pricing.ErrInvalidShippingMethod)
	assert.Equal(t, pricing.ShippingPickup, c.PricingContext().ShippingMethod)
}

func TestSetLocale_ChangesTax(t *testing.T) {
	c := newCart(t)
	_, err := c.AddItem(catalog.Product{ID: "p", UnitPrice: 10000}, 1)
	require.NoError(t, err)

	res := c.SetLocale("es-CO")

	assert.Equal(t, int64(1900), res.Breakdown.Tax)
}

func TestRestore_DropsInvalidEntries(t *testing.T) {
	snap := Snapshot{
		ShopperID: "guest-1",
		Guest:     true,
		Items: []pricing.LineItem{
			{ProductID: "a", UnitPrice: 100, Quantity: 1},
			{ProductID: "a", UnitPrice: 100, Quantity: 2},
			{ProductID: "b", UnitPrice: 100, Quantity: 0},
		},
		Pricing:   pricing.Context{ShippingMethod: pricing.ShippingStandard, Locale: "es-MX"},
		CreatedAt: fixedNow.Add(-time.Hour),
		UpdatedAt: fixedNow.Add(-time.Minute),
	}

	c, warnings := Restore(snap, newEngine(), func() time.Time { return fixedNow })

	assert.Len(t, warnings, 2)
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Owner().Guest)
	assert.Equal(t, fixedNow.Add(-time.Minute), c.UpdatedAt())
	assert.Equal(t, snap.CreatedAt, c.Snapshot().CreatedAt)
}

func TestClear(t *testing.T) {
	c := newCart(t)
	_, err := c.AddItem(whey(nil), 1)
	require.NoError(t, err)

	res := c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), res.Breakdown.Total)
}
