package domain

import "github.com/shopspring/decimal"

// DefaultCurrency is the only currency the storefront sells in.
const DefaultCurrency = "USD"

// CostBreakdown is a cost estimate for a cart and destination. Total is
// rounded once from the unrounded components; Taxes is shown rounded to
// the cent.
type CostBreakdown struct {
	Subtotal          decimal.Decimal `json:"subtotal"`
	Shipping          decimal.Decimal `json:"shipping"`
	ShippingEstimated bool            `json:"shipping_estimated"`
	Taxes             decimal.Decimal `json:"taxes"`
	TaxEstimated      bool            `json:"tax_estimated"`
	Total             decimal.Decimal `json:"total"`
	Currency          string          `json:"currency"`
}
