// Package mock provides in-memory providers used in development and when no
// provider credentials are configured.
package mock

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/provider"
	apperrors "github.com/sundai-club/shop/pkg/errors"
)

// DefaultShippingRate is the flat rate quoted by the mock catalog.
var DefaultShippingRate = decimal.RequireFromString("5.00")

// Catalog serves a fixed set of SundAI merch products.
type Catalog struct {
	mu       sync.RWMutex
	products []domain.Product
	rate     decimal.Decimal
	quoteErr error
}

// NewCatalog creates a Catalog seeded with the default products.
func NewCatalog() *Catalog {
	return &Catalog{products: DefaultProducts(), rate: DefaultShippingRate}
}

// DefaultProducts returns the seed catalog.
func DefaultProducts() []domain.Product {
	apparel := []string{"XS", "S", "M", "L", "XL", "XXL"}
	return []domain.Product{
		product("1", "SundAI Classic Tee", "Premium quality t-shirt with SundAI logo", "29.99", "apparel", "tshirt.jpg", apparel),
		product("2", "SundAI Hoodie", "Comfortable hoodie with minimalist design", "59.99", "apparel", "hoodie.jpg", apparel[1:]),
		product("3", "SundAI Cap", "Adjustable cap with embroidered logo", "19.99", "accessories", "cap.jpg", []string{"One Size"}),
		product("4", "SundAI Tote Bag", "Eco-friendly canvas tote bag", "15.99", "accessories", "tote.jpg", []string{"One Size"}),
	}
}

func product(id, name, desc, price, category, image string, sizes []string) domain.Product {
	variants := make([]domain.Variant, len(sizes))
	for i, s := range sizes {
		variants[i] = domain.Variant{Label: s, ExternalID: id + "-" + s}
	}
	return domain.Product{
		ID:          id,
		Name:        name,
		Description: desc,
		Price:       decimal.RequireFromString(price),
		Category:    category,
		ImageURL:    "/static/images/" + image,
		InStock:     true,
		Variants:    variants,
	}
}

// SetProducts replaces the catalog contents.
func (c *Catalog) SetProducts(products []domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products = products
}

// SetShipping changes the quoted rate. A non-nil err makes QuoteShipping fail.
func (c *Catalog) SetShipping(rate decimal.Decimal, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
	c.quoteErr = err
}

func (c *Catalog) ListProducts(_ context.Context) ([]domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Product, len(c.products))
	copy(out, c.products)
	return out, nil
}

func (c *Catalog) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.products {
		if c.products[i].ID == id {
			p := c.products[i]
			return &p, nil
		}
	}
	return nil, apperrors.NotFound("product", id)
}

func (c *Catalog) QuoteShipping(ctx context.Context, _ domain.Recipient, items []domain.OrderItem) (*provider.ShippingQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.quoteErr != nil {
		return nil, c.quoteErr
	}
	if len(items) == 0 {
		return nil, provider.ErrNoQuote
	}
	return &provider.ShippingQuote{Rate: c.rate, Currency: domain.DefaultCurrency, Method: "STANDARD"}, nil
}

func (c *Catalog) ListCountries(_ context.Context) ([]domain.Country, error) {
	return []domain.Country{
		{Code: "AU", Name: "Australia"},
		{Code: "CA", Name: "Canada"},
		{Code: "DE", Name: "Germany"},
		{Code: "GB", Name: "United Kingdom"},
		{Code: "US", Name: "United States"},
	}, nil
}
