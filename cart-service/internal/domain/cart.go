package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/catalog"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/fjod/storefront/pkg/shopper"
)

type Pricer interface {
	Compute(items []pricing.LineItem, pc pricing.Context) (pricing.Breakdown, error)
}

// Result is what every mutation returns: the recomputed estimate and any
// non-fatal warnings.
type Result struct {
	Breakdown pricing.Breakdown
	Warnings  []string
}

// Cart is one shopper's line items plus the cached price estimate.
// It is not safe for concurrent use; the owning service serialises access.
type Cart struct {
	owner      shopper.Identity
	items      []pricing.LineItem
	index      map[string]int
	pricingCtx pricing.Context
	breakdown  pricing.Breakdown
	dirty      bool
	createdAt  time.Time
	updatedAt  time.Time

	pricer Pricer
	clock  func() time.Time
}

type state struct {
	items      []pricing.LineItem
	pricingCtx pricing.Context
	breakdown  pricing.Breakdown
	dirty      bool
	updatedAt  time.Time
}

func New(owner shopper.Identity, pc pricing.Context, pricer Pricer, clock func() time.Time) *Cart {
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	c := &Cart{
		owner:      owner,
		index:      map[string]int{},
		pricingCtx: pc,
		createdAt:  now,
		updatedAt:  now,
		pricer:     pricer,
		clock:      clock,
	}
	c.recompute()
	return c
}

// Restore rebuilds a cart from a persisted snapshot. Entries that break the
// cart invariants (duplicates, quantity < 1) are dropped.
func Restore(s Snapshot, pricer Pricer, clock func() time.Time) (*Cart, []string) {
	c := New(shopper.Identity{ID: s.ShopperID, Guest: s.Guest}, s.Pricing, pricer, clock)
	if !s.CreatedAt.IsZero() {
		c.createdAt = s.CreatedAt
	}
	var warnings []string
	for _, it := range s.Items {
		if _, dup := c.index[it.ProductID]; dup || it.Quantity < 1 {
			warnings = append(warnings, fmt.Sprintf("dropped invalid stored entry for %q", it.ProductID))
			continue
		}
		c.index[it.ProductID] = len(c.items)
		c.items = append(c.items, it)
	}
	warnings = append(warnings, c.recompute()...)
	c.updatedAt = s.UpdatedAt
	if c.updatedAt.IsZero() {
		c.updatedAt = c.createdAt
	}
	return c, warnings
}

func (c *Cart) Owner() shopper.Identity { return c.owner }
func (c *Cart) Breakdown() pricing.Breakdown { return c.breakdown }
func (c *Cart) PricingContext() pricing.Context { return c.pricingCtx }
func (c *Cart) Dirty() bool { return c.dirty }
func (c *Cart) Len() int { return len(c.items) }
func (c *Cart) UpdatedAt() time.Time { return c.updatedAt }

// Items returns a copy of the line items in display order.
func (c *Cart) Items() []pricing.LineItem {
	out := make([]pricing.LineItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) Item(productID string) (pricing.LineItem, bool) {
	i, ok := c.index[productID]
	if !ok {
		return pricing.LineItem{}, false
	}
	return c.items[i], true
}

// AddItem adds quantity units of p, merging with an existing entry.
func (c *Cart) AddItem(p catalog.Product, quantity int) (Result, error) {
	return c.apply(func() error {
		if quantity < 1 {
			return apperr.Wrap(ErrInvalidQuantity, "quantity must be at least 1, got %d", quantity)
		}
		total := quantity
		i, exists := c.index[p.ID]
		if exists {
			total += c.items[i].Quantity
		}
		if err := checkStock(p.ID, p.Name, total, p.AvailableStock); err != nil {
			return err
		}
		if exists {
			c.items[i].Quantity = total
			c.items[i].UnitPrice = p.UnitPrice
			return nil
		}
		c.index[p.ID] = len(c.items)
		c.items = append(c.items, pricing.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			SKU:       p.SKU,
			UnitPrice: p.UnitPrice,
			Quantity:  total,
		})
		return nil
	})
}

// UpdateQuantity sets the quantity of an existing entry. quantity < 1 removes it.
// availableStock may be nil when the catalog does not track stock.
func (c *Cart) UpdateQuantity(productID string, quantity int, availableStock *int) (Result, error) {
	if quantity < 1 {
		return c.RemoveItem(productID), nil
	}
	return c.apply(func() error {
		i, ok := c.index[productID]
		if !ok {
			return apperr.Wrap(ErrItemNotFound, "product %q is not in the cart", productID)
		}
		if err := checkStock(productID, c.items[i].Name, quantity, availableStock); err != nil {
			return err
		}
		c.items[i].Quantity = quantity
		return nil
	})
}

// RemoveItem deletes the entry for productID. Absent ids are a no-op.
func (c *Cart) RemoveItem(productID string) Result {
	res, _ := c.apply(func() error {
		i, ok := c.index[productID]
		if !ok {
			return nil
		}
		c.items = append(c.items[:i:i], c.items[i+1:]...)
		c.reindex()
		return nil
	})
	return res
}

func (c *Cart) Clear() Result {
	res, _ := c.apply(func() error {
		c.items = nil
		c.index = map[string]int{}
		return nil
	})
	return res
}

// ApplyDiscount validates code against the current items before keeping it.
// An invalid code leaves the cart untouched.
func (c *Cart) ApplyDiscount(code string) (Result, error) {
	candidate := c.pricingCtx
	candidate.DiscountCode = pricing.NormalizeCode(code)
	candidate.At = c.clock()
	b, err := c.pricer.Compute(c.items, candidate)
	if err != nil {
		return Result{Breakdown: c.breakdown}, err
	}
	return c.apply(func() error {
		c.pricingCtx.DiscountCode = candidate.DiscountCode
		c.breakdown = b
		return nil
	})
}

func (c *Cart) RemoveDiscount() Result {
	res, _ := c.apply(func() error {
		c.pricingCtx.DiscountCode = ""
		return nil
	})
	return res
}

func (c *Cart) SetShippingMethod(m pricing.ShippingMethod) (Result, error) {
	return c.apply(func() error {
		if !m.Valid() {
			return apperr.Wrap(pricing.ErrInvalidShippingMethod, "unknown shipping method %q", m)
		}
		c.pricingCtx.ShippingMethod = m
		return nil
	})
}

func (c *Cart) SetLocale(locale string) Result {
	res, _ := c.apply(func() error {
		c.pricingCtx.Locale = locale
		return nil
	})
	return res
}

// Snapshot is the persisted form of a cart.
func (c *Cart) Snapshot() Snapshot {
	pc := c.pricingCtx
	pc.At = time.Time{}
	return Snapshot{
		ShopperID: c.owner.ID,
		Guest:     c.owner.Guest,
		Items:     c.Items(),
		Pricing:   pc,
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
}

// apply runs mutate and recomputes the estimate. A failing mutate is
// compensated by restoring the state captured before it ran.
func (c *Cart) apply(mutate func() error) (Result, error) {
	prev := c.capture()
	if err := mutate(); err != nil {
		c.restore(prev)
		return Result{Breakdown: c.breakdown}, err
	}
	c.dirty = true
	warnings := c.recompute()
	c.updatedAt = c.clock()
	return Result{Breakdown: c.breakdown, Warnings: warnings}, nil
}

// recompute refreshes the cached estimate. A discount that no longer
// qualifies is dropped with a warning.
func (c *Cart) recompute() []string {
	pc := c.pricingCtx
	pc.At = c.clock()
	b, err := c.pricer.Compute(c.items, pc)
	if errors.Is(err, pricing.ErrInvalidDiscount) {
		warning := fmt.Sprintf("discount code %s was removed: %s", pc.DiscountCode, err.Error())
		c.pricingCtx.DiscountCode = ""
		pc.DiscountCode = ""
		b, err = c.pricer.Compute(c.items, pc)
		if err == nil {
			c.breakdown = b
			c.dirty = false
			return []string{warning}
		}
		return []string{warning, "totals could not be estimated: " + err.Error()}
	}
	if err != nil {
		return []string{"totals could not be estimated: " + err.Error()}
	}
	c.breakdown = b
	c.dirty = false
	return nil
}

func (c *Cart) capture() state {
	items := make([]pricing.LineItem, len(c.items))
	copy(items, c.items)
	return state{
		items:      items,
		pricingCtx: c.pricingCtx,
		breakdown:  c.breakdown,
		dirty:      c.dirty,
		updatedAt:  c.updatedAt,
	}
}

func (c *Cart) restore(s state) {
	c.items = s.items
	c.pricingCtx = s.pricingCtx
	c.breakdown = s.breakdown
	c.dirty = s.dirty
	c.updatedAt = s.updatedAt
	c.reindex()
}

func (c *Cart) reindex() {
	c.index = make(map[string]int, len(c.items))
	for i, it := range c.items {
		c.index[it.ProductID] = i
	}
}

func checkStock(productID, name string, quantity int, available *int) error {
	if available == nil || quantity <= *available {
		return nil
	}
	label := name
	if label == "" {
		label = productID
	}
	if *available <= 0 {
		return apperr.WithDetails(ErrInsufficientStock, map[string]string{"product_id": productID, "available": "0"},
			"%s is out of stock", label)
	}
	return apperr.WithDetails(ErrInsufficientStock,
		map[string]string{"product_id": productID, "available": fmt.Sprint(*available)},
		"only %d units of %s are available", *available, label)
}
