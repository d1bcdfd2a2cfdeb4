package pricing

import (
	"strings"
	"time"
)

type DiscountKind string

const (
	DiscountPercent DiscountKind = "percent"
	DiscountFixed   DiscountKind = "fixed"
)

type Discount struct {
	Code string       `yaml:"code"`
	Kind DiscountKind `yaml:"kind"`
	// Value is basis points for percent discounts, minor units for fixed ones.
	Value       int64     `yaml:"value"`
	MinSubtotal int64     `yaml:"min_subtotal"`
	StartsAt    time.Time `yaml:"starts_at"`
	ExpiresAt   time.Time `yaml:"expires_at"`
}

// amount is the reduction for the given subtotal, clamped to subtotal+shipping.
func (d Discount) amount(subtotal, shipping int64) int64 {
	var v int64
	switch d.Kind {
	case DiscountPercent:
		v = roundBps(subtotal, d.Value)
	case DiscountFixed:
		v = d.Value
	}
	if v < 0 {
		v = 0
	}
	if ceiling := subtotal + shipping; v > ceiling {
		v = ceiling
	}
	return v
}

func (d Discount) activeAt(at time.Time) bool {
	if !d.StartsAt.IsZero() && at.Before(d.StartsAt) {
		return false
	}
	if !d.ExpiresAt.IsZero() && !at.Before(d.ExpiresAt) {
		return false
	}
	return true
}

type DiscountRegistry interface {
	Lookup(code string) (Discount, bool)
}

// StaticRegistry is a registry backed by configuration. Codes are case-insensitive.
type StaticRegistry map[string]Discount

func NewStaticRegistry(discounts []Discount) StaticRegistry {
	r := make(StaticRegistry, len(discounts))
	for _, d := range discounts {
		r[NormalizeCode(d.Code)] = d
	}
	return r
}

func (r StaticRegistry) Lookup(code string) (Discount, bool) {
	d, ok := r[NormalizeCode(code)]
	return d, ok
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
