package domain

import "github.com/fjod/storefront/pkg/apperr"

var (
	ErrInsufficientStock = apperr.Define(apperr.KindStock, "insufficient_stock", "not enough stock for the requested quantity")
	ErrInvalidQuantity   = apperr.Define(apperr.KindValidation, "invalid_quantity", "quantity must be at least 1")
	ErrItemNotFound      = apperr.Define(apperr.KindNotFound, "item_not_found", "item not found in cart")
)
