package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/sundai-club/shop/pkg/errors"
)

// State is a checkout lifecycle state.
type State string

const (
	StateIdle                 State = "idle"
	StateEstimateReady        State = "estimate_ready"
	StateSessionCreated       State = "session_created"
	StatePaymentConfirmed     State = "payment_confirmed"
	StateFulfillmentCreated   State = "fulfillment_created"
	StateFulfillmentConfirmed State = "fulfillment_confirmed"
	StateFailed               State = "failed"
)

// transitions lists the allowed moves. estimate_ready may be re-entered
// when the customer re-estimates before paying.
var transitions = map[State][]State{
	StateIdle:               {StateEstimateReady, StateFailed},
	StateEstimateReady:      {StateEstimateReady, StateSessionCreated, StateFailed},
	StateSessionCreated:     {StatePaymentConfirmed, StateFailed},
	StatePaymentConfirmed:   {StateFulfillmentCreated, StateFailed},
	StateFulfillmentCreated: {StateFulfillmentConfirmed, StateFailed},
}

var rank = map[State]int{
	StateIdle:                 0,
	StateEstimateReady:        1,
	StateSessionCreated:       2,
	StatePaymentConfirmed:     3,
	StateFulfillmentCreated:   4,
	StateFulfillmentConfirmed: 5,
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateFulfillmentConfirmed || s == StateFailed
}

// AtLeast reports whether s is other or further along the happy path.
// Failed is never at least anything.
func (s State) AtLeast(other State) bool {
	r, ok := rank[s]
	if !ok {
		return false
	}
	return r >= rank[other]
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := rank[s]
	return ok || s == StateFailed
}

// Checkout is one attempt to buy the contents of a cart session. It is also
// the persisted order record.
type Checkout struct {
	ID          string         `json:"id"`
	CartSession string         `json:"-"`
	State       State          `json:"state"`
	Recipient   *Recipient     `json:"recipient,omitempty"`
	Cost        *CostBreakdown `json:"cost,omitempty"`
	// Items is the cart snapshot taken when the payment session was created.
	Items []OrderItem `json:"items,omitempty"`

	PaymentSessionID string `json:"payment_session_id,omitempty"`
	PaymentIntentID  string `json:"payment_intent_id,omitempty"`

	FulfillmentOrderID string            `json:"fulfillment_order_id,omitempty"`
	FulfillmentStatus  FulfillmentStatus `json:"fulfillment_status,omitempty"`
	TrackingNumber     string            `json:"tracking_number,omitempty"`
	TrackingURL        string            `json:"tracking_url,omitempty"`

	LastError string `json:"last_error,omitempty"`
	Version   int    `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCheckout returns an idle checkout for a cart session.
func NewCheckout(cartSession string, now time.Time) *Checkout {
	return &Checkout{
		ID:          uuid.NewString(),
		CartSession: cartSession,
		State:       StateIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo moves the checkout to state, or returns a conflict error when
// the move is not allowed from the current state.
func (c *Checkout) TransitionTo(state State, now time.Time) error {
	if !CanTransition(c.State, state) {
		return apperrors.Conflict(fmt.Sprintf("checkout %s cannot move from %s to %s", c.ID, c.State, state))
	}
	c.State = state
	c.UpdatedAt = now
	return nil
}

// Fail moves the checkout to failed and records reason.
func (c *Checkout) Fail(reason string, now time.Time) error {
	if err := c.TransitionTo(StateFailed, now); err != nil {
		return err
	}
	c.LastError = reason
	return nil
}

// BindEstimate attaches the recipient and cost and moves to estimate_ready.
func (c *Checkout) BindEstimate(r Recipient, cost CostBreakdown, now time.Time) error {
	if err := c.TransitionTo(StateEstimateReady, now); err != nil {
		return err
	}
	c.Recipient = &r
	c.Cost = &cost
	c.LastError = ""
	return nil
}

// Reusable reports whether a new estimate can be bound to c rather than
// starting a fresh checkout.
func (c *Checkout) Reusable() bool {
	return c.State == StateIdle || c.State == StateEstimateReady
}

// CustomerEmail is the recipient email, if any.
func (c *Checkout) CustomerEmail() string {
	if c.Recipient == nil {
		return ""
	}
	return c.Recipient.Email
}
