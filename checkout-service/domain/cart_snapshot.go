package domain

import (
	"time"

	"github.com/fjod/storefront/pkg/pricing"
)

// CartSnapshot is the cart frozen at the moment checkout began.
type CartSnapshot struct {
	Items      []pricing.LineItem `json:"items"`
	Pricing    pricing.Context    `json:"pricing"`
	Estimate   pricing.Breakdown  `json:"estimate"`
	Degraded   bool               `json:"degraded"`
	CapturedAt time.Time          `json:"captured_at"`
}

func (c CartSnapshot) Empty() bool {
	return len(c.Items) == 0
}

// ItemCount is the number of units across all lines.
func (c CartSnapshot) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}
