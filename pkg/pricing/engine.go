// Package pricing turns line items and a pricing context into a price breakdown.
// All amounts are integer minor currency units.
package pricing

import (
	"github.com/fjod/storefront/pkg/apperr"
)

// Engine is stateless apart from its configuration and discount registry;
// Compute has no side effects.
type Engine struct {
	cfg      Config
	registry DiscountRegistry
}

func NewEngine(cfg Config, registry DiscountRegistry) *Engine {
	if registry == nil {
		registry = NewStaticRegistry(cfg.Discounts)
	}
	return &Engine{cfg: cfg, registry: registry}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Compute returns the breakdown for items under pc. Invalid discount codes fail
// with ErrInvalidDiscount and no breakdown.
func (e *Engine) Compute(items []LineItem, pc Context) (Breakdown, error) {
	method := pc.ShippingMethod
	if method == "" {
		method = ShippingStandard
	}
	if !method.Valid() {
		return Breakdown{}, apperr.Wrap(ErrInvalidShippingMethod, "unknown shipping method %q", method)
	}

	var subtotal int64
	for _, it := range items {
		if it.Quantity < 1 || it.UnitPrice < 0 {
			return Breakdown{}, apperr.Wrap(ErrInvalidLineItem,
				"line item %q has quantity %d and unit price %d", it.ProductID, it.Quantity, it.UnitPrice)
		}
		subtotal += it.LineTotal()
	}

	b := Breakdown{Currency: e.cfg.Currency, Subtotal: subtotal}
	if len(items) > 0 {
		b.Shipping = e.shippingFee(method, subtotal)
	}
	b.Tax = roundBps(subtotal, e.TaxRate(pc.Locale))

	if pc.DiscountCode != "" {
		d, err := e.ResolveDiscount(pc.DiscountCode, subtotal, pc)
		if err != nil {
			return Breakdown{}, err
		}
		b.Discount = d.amount(subtotal, b.Shipping)
	}

	b.Total = b.Subtotal - b.Discount + b.Shipping + b.Tax
	if b.Total < 0 {
		b.Total = 0
	}
	return b, nil
}

// ResolveDiscount validates code for the given subtotal at pc.At.
func (e *Engine) ResolveDiscount(code string, subtotal int64, pc Context) (Discount, error) {
	d, ok := e.registry.Lookup(code)
	if !ok {
		return Discount{}, apperr.Wrap(ErrInvalidDiscount, "discount code %q does not exist", code)
	}
	if !d.activeAt(pc.At) {
		return Discount{}, apperr.Wrap(ErrInvalidDiscount, "discount code %q is not active", code)
	}
	if subtotal < d.MinSubtotal {
		return Discount{}, apperr.Wrap(ErrInvalidDiscount,
			"discount code %q requires a subtotal of at least %s", code, FormatMinor(d.MinSubtotal))
	}
	return d, nil
}

// TaxRate is the rate in basis points for locale, falling back to the default locale.
func (e *Engine) TaxRate(locale string) int64 {
	if bps, ok := e.cfg.TaxRates[locale]; ok {
		return bps
	}
	return e.cfg.TaxRates[e.cfg.DefaultLocale]
}

func (e *Engine) shippingFee(method ShippingMethod, subtotal int64) int64 {
	if method == ShippingPickup || subtotal >= e.cfg.FreeShippingThreshold {
		return 0
	}
	return e.cfg.ShippingFees[method]
}

// roundBps computes amount*bps/10000 rounded half up. amount and bps are non-negative.
func roundBps(amount, bps int64) int64 {
	return (amount*bps + 5000) / 10000
}
