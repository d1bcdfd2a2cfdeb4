package service

import "github.com/fjod/storefront/pkg/apperr"

var ErrCartUnavailable = apperr.Define(apperr.KindPersistence, "cart_unavailable", "cart could not be loaded")

const degradedWarning = "your cart could not be saved; changes are kept for this session only"
