package domain

import (
	"time"

	"github.com/fjod/storefront/pkg/pricing"
)

type Snapshot struct {
	ShopperID string             `json:"shopper_id" bson:"shopper_id"`
	Guest     bool               `json:"guest" bson:"guest"`
	Items     []pricing.LineItem `json:"items" bson:"items"`
	Pricing   pricing.Context    `json:"pricing" bson:"pricing"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" bson:"updated_at"`
}
