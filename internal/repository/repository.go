package repository

import (
	"context"

	"github.com/sundai-club/shop/internal/domain"
)

// CartRepository stores the ordered line items of a cart session. Positions
// are 0-based and shift down after every removal.
type CartRepository interface {
	// Add appends one line item.
	Add(ctx context.Context, session string, item domain.LineItem) error

	// Remove drops the line at position, or returns NotFound.
	Remove(ctx context.Context, session string, position int) error

	// RemovePositions drops every listed position in one atomic step. If any
	// position is out of range nothing is removed and NotFound is returned.
	RemovePositions(ctx context.Context, session string, positions []int) error

	// List returns the lines in storage order.
	List(ctx context.Context, session string) ([]domain.LineItem, error)

	// Clear empties the cart.
	Clear(ctx context.Context, session string) error
}

// CheckoutRepository persists checkouts. Update is a compare-and-set on
// Checkout.Version.
type CheckoutRepository interface {
	Create(ctx context.Context, c *domain.Checkout) error

	GetByID(ctx context.Context, id string) (*domain.Checkout, error)

	// GetByPaymentSession looks a checkout up by its payment session id.
	GetByPaymentSession(ctx context.Context, paymentSessionID string) (*domain.Checkout, error)

	// GetLatestBySession returns the most recently created checkout for a
	// cart session.
	GetLatestBySession(ctx context.Context, cartSession string) (*domain.Checkout, error)

	// ListByEmail returns a page of checkouts for a customer email, newest
	// first, and the total number of matches.
	ListByEmail(ctx context.Context, email string, limit, offset int) ([]domain.Checkout, int, error)

	// Update writes c if its stored version still equals c.Version, then
	// increments c.Version. A stale version returns a Conflict error.
	Update(ctx context.Context, c *domain.Checkout) error
}
