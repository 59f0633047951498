package domain

import (
	"github.com/shopspring/decimal"
)

// Product is a catalog product as normalized from the catalog provider.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	ImageURL    string          `json:"image_url"`
	InStock     bool            `json:"in_stock"`
	Variants    []Variant       `json:"variants"`
}

// Variant is a purchasable size of a product. (ProductID, Label) is the
// identity used throughout the cart.
type Variant struct {
	Label string `json:"label"`
	// Price overrides the product's base price when set.
	Price *decimal.Decimal `json:"price,omitempty"`
	// ExternalID is the provider's variant id used for shipping quotes and
	// fulfillment orders.
	ExternalID string `json:"external_id,omitempty"`
}

// Variant returns the variant with the given label.
func (p *Product) Variant(label string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.Label == label {
			return v, true
		}
	}
	return Variant{}, false
}

// PriceFor returns the current unit price for the variant label, falling
// back to the base price when the variant has none of its own.
func (p *Product) PriceFor(label string) (decimal.Decimal, bool) {
	v, ok := p.Variant(label)
	if !ok {
		return decimal.Zero, false
	}
	if v.Price != nil {
		return *v.Price, true
	}
	return p.Price, true
}

// Labels returns the variant labels in catalog order.
func (p *Product) Labels() []string {
	labels := make([]string, len(p.Variants))
	for i, v := range p.Variants {
		labels[i] = v.Label
	}
	return labels
}

// Country is a supported shipping destination.
type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Cents rounds an amount to two decimal places, half away from zero.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
