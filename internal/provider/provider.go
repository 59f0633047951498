package provider

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sundai-club/shop/internal/domain"
)

// Catalog is the print-on-demand provider's product catalog.
type Catalog interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)

	// GetProduct returns NotFound for unknown ids.
	GetProduct(ctx context.Context, id string) (*domain.Product, error)

	// QuoteShipping returns the cheapest shipping rate for items sent to
	// recipient, or ErrNoQuote when the provider offers none.
	QuoteShipping(ctx context.Context, recipient domain.Recipient, items []domain.OrderItem) (*ShippingQuote, error)

	ListCountries(ctx context.Context) ([]domain.Country, error)
}

// ShippingQuote is a single shipping rate.
type ShippingQuote struct {
	Rate     decimal.Decimal
	Currency string
	Method   string
}

// CheckoutSessionInput describes the hosted payment page to create.
type CheckoutSessionInput struct {
	// CheckoutID doubles as the provider idempotency key.
	CheckoutID  string
	CartSession string
	Recipient   domain.Recipient
	Items       []domain.OrderItem
	Shipping    decimal.Decimal
	Taxes       decimal.Decimal
	Total       decimal.Decimal
	Currency    string
}

// CheckoutSession is a created payment session.
type CheckoutSession struct {
	ID  string
	URL string
}

// CallbackEvent is a verified payment callback. SessionID is empty for
// events that do not concern a checkout session.
type CallbackEvent struct {
	EventID         string
	Type            string
	SessionID       string
	Status          domain.PaymentStatus
	PaymentIntentID string
}

// Payment is the hosted-checkout payment provider.
type Payment interface {
	Name() string

	// CreateCheckoutSession must not be retried by the caller.
	CreateCheckoutSession(ctx context.Context, in *CheckoutSessionInput) (*CheckoutSession, error)

	// VerifyCallback authenticates and decodes a callback payload. A bad
	// signature returns an InvalidInput error.
	VerifyCallback(payload []byte, signature string) (*CallbackEvent, error)

	// PublicKey is the publishable key handed to the browser.
	PublicKey() string
}

// Fulfillment is the print provider's order API.
type Fulfillment interface {
	// CreateOrder creates a draft order keyed by externalID. When an order
	// with that external id already exists it is returned with Existing set.
	CreateOrder(ctx context.Context, externalID string, items []domain.OrderItem, recipient domain.Recipient) (*domain.FulfillmentOrder, error)

	// ConfirmOrder submits a draft order for production.
	ConfirmOrder(ctx context.Context, orderID string) (*domain.FulfillmentOrder, error)

	GetOrderStatus(ctx context.Context, orderID string) (*domain.FulfillmentOrder, error)
}
