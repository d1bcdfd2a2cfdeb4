// Package catalog is the read-only client of the catalog/stock collaborator.
package catalog

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/httpapi"
	"go.uber.org/zap"
)

var ErrProductUnavailable = apperr.Define(apperr.KindStock, "product_unavailable", "product no longer available")

type Product struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	UnitPrice int64  `json:"unit_price"`
	// AvailableStock is nil when the catalog does not track stock for the product.
	AvailableStock *int `json:"available_stock,omitempty"`
}

type Reader interface {
	Lookup(ctx context.Context, productID string) (Product, error)
}

type HTTPReader struct {
	client *httpapi.Client
}

func NewHTTPReader(baseURL string, timeout time.Duration, log *zap.Logger) *HTTPReader {
	return &HTTPReader{client: httpapi.NewClient("catalog", baseURL, timeout, log)}
}

func (c *HTTPReader) Lookup(ctx context.Context, productID string) (Product, error) {
	var p Product
	err := c.client.Do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID), nil, &p)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return Product{}, apperr.Wrap(ErrProductUnavailable, "product %q is no longer available", productID)
	}
	if err != nil {
		return Product{}, err
	}
	return p, nil
}
