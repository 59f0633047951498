package mock

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/provider"
	apperrors "github.com/sundai-club/shop/pkg/errors"
)

const (
	// SignaturePrefix prefixes the hex HMAC in mock callback signatures.
	SignaturePrefix = "sha256="
	// SignatureHeaderName is the header mock callbacks are signed in.
	SignatureHeaderName = "X-Mock-Signature"
)

// Callback is the payload the mock payment page posts back.
type Callback struct {
	EventID         string `json:"event_id"`
	SessionID       string `json:"session_id"`
	Status          string `json:"status"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
}

// Payment creates fake hosted checkout sessions and verifies callbacks
// signed with a shared secret.
type Payment struct {
	secret     []byte
	successURL string

	mu       sync.Mutex
	sessions map[string]provider.CheckoutSessionInput
	err      error
}

// NewPayment creates a Payment. successURL may contain {CHECKOUT_SESSION_ID}.
func NewPayment(secret, successURL string) *Payment {
	return &Payment{
		secret:     []byte(secret),
		successURL: successURL,
		sessions:   make(map[string]provider.CheckoutSessionInput),
	}
}

// FailWith makes CreateCheckoutSession return err until reset with nil.
func (p *Payment) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *Payment) Name() string { return "mock-payment" }

func (p *Payment) PublicKey() string { return "pk_mock" }

func (p *Payment) CreateCheckoutSession(ctx context.Context, in *provider.CheckoutSessionInput) (*provider.CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	id := "cs_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	p.sessions[id] = *in
	return &provider.CheckoutSession{
		ID:  id,
		URL: strings.ReplaceAll(p.successURL, "{CHECKOUT_SESSION_ID}", url.QueryEscape(id)),
	}, nil
}

// Session returns the input a session was created with.
func (p *Payment) Session(id string) (provider.CheckoutSessionInput, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.sessions[id]
	return in, ok
}

func (p *Payment) VerifyCallback(payload []byte, signature string) (*provider.CallbackEvent, error) {
	if !hmac.Equal([]byte(Sign(p.secret, payload)), []byte(signature)) {
		return nil, apperrors.InvalidInput("invalid callback signature")
	}
	var cb Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, apperrors.InvalidInput("malformed callback payload")
	}
	status := domain.PaymentStatus(cb.Status)
	switch status {
	case domain.PaymentPaid, domain.PaymentUnpaid, domain.PaymentExpired, domain.PaymentFailed:
	default:
		return nil, apperrors.InvalidInput("unknown payment status " + cb.Status)
	}
	return &provider.CallbackEvent{
		EventID:         cb.EventID,
		Type:            "mock." + cb.Status,
		SessionID:       cb.SessionID,
		Status:          status,
		PaymentIntentID: cb.PaymentIntentID,
	}, nil
}

// Sign returns the signature header value for payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
