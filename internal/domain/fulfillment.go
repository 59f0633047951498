package domain

// FulfillmentStatus is the last known state of a fulfillment order.
type FulfillmentStatus string

const (
	FulfillmentDraft     FulfillmentStatus = "draft"
	FulfillmentPending   FulfillmentStatus = "pending"
	FulfillmentConfirmed FulfillmentStatus = "confirmed"
	FulfillmentFulfilled FulfillmentStatus = "fulfilled"
	FulfillmentFailed    FulfillmentStatus = "failed"
	FulfillmentCanceled  FulfillmentStatus = "canceled"
)

// Rejected reports whether the provider refused the order.
func (s FulfillmentStatus) Rejected() bool {
	return s == FulfillmentFailed || s == FulfillmentCanceled
}

// Accepted reports whether the provider took the order for production.
func (s FulfillmentStatus) Accepted() bool {
	return s == FulfillmentPending || s == FulfillmentConfirmed || s == FulfillmentFulfilled
}

// FulfillmentOrder is the provider's order as far as the storefront tracks
// it.
type FulfillmentOrder struct {
	ID         string            `json:"id"`
	ExternalID string            `json:"external_id"`
	Status     FulfillmentStatus `json:"status"`
	Items      []OrderItem       `json:"items,omitempty"`
	// Existing is set when the provider already had an order for the
	// external id and returned it instead of creating another.
	Existing       bool   `json:"-"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
}

// Outcome describes what a payment callback did to a checkout.
type Outcome string

const (
	// OutcomeAdvanced means the callback moved the checkout forward.
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeDuplicate means the checkout was already past payment
	// confirmation and nothing was done.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the callback carried no actionable status.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeFailed means the payment expired or failed and the checkout
	// was closed.
	OutcomeFailed Outcome = "failed"
)

// PaymentStatus is the normalized status of a verified payment callback.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentExpired PaymentStatus = "expired"
	PaymentFailed  PaymentStatus = "failed"
)
