package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := LoadConfig("testdata/pricing.yaml")
	require.NoError(t, err)

	assert.Equal(t, "COP", cfg.Currency)
	assert.Equal(t, int64(20000), cfg.FreeShippingThreshold)
	assert.Equal(t, int64(1500), cfg.ShippingFees[ShippingExpress])
	assert.Equal(t, "es-CO", cfg.DefaultLocale)
	require.Len(t, cfg.Discounts, 3)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), cfg.Discounts[2].ExpiresAt.UTC())
}

func TestLoadConfig_DiscountWindow(t *testing.T) {
	cfg, err := LoadConfig("testdata/pricing.yaml")
	require.NoError(t, err)
	e := NewEngine(cfg, nil)
	items := []LineItem{{ProductID: "p", UnitPrice: 10000, Quantity: 1}}

	inside := Context{ShippingMethod: ShippingStandard, DiscountCode: "SUMMER", At: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)}
	b, err := e.Compute(items, inside)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), b.Discount)

	before := inside
	before.At = time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)
	_, err = e.Compute(items, before)
	assert.ErrorIs(t, err, ErrInvalidDiscount)

	after := inside
	after.At = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	_, err = e.Compute(items, after)
	assert.ErrorIs(t, err, ErrInvalidDiscount)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig("testdata/invalid.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "free_shipping_threshold")
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("testdata/nope.yaml")
	assert.Error(t, err)
}

func TestStaticRegistry_CaseInsensitive(t *testing.T) {
	r := NewStaticRegistry([]Discount{{Code: "Welcome10", Kind: DiscountPercent, Value: 1000}})
	_, ok := r.Lookup(" welcome10 ")
	assert.True(t, ok)
}
