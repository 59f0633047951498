// Package stripe adapts Stripe Checkout to the storefront's payment
// interface.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/provider"
	apperrors "github.com/sundai-club/shop/pkg/errors"
	"github.com/sundai-club/shop/pkg/httpclient"
	"github.com/sundai-club/shop/pkg/tracing"
)

const providerName = "stripe"

// DefaultBaseURL is the Stripe API root.
const DefaultBaseURL = "https://api.stripe.com"

// SignatureHeaderName is the header Stripe signs webhooks in.
const SignatureHeaderName = "Stripe-Signature"

// DefaultTolerance is how old a signed callback may be.
const DefaultTolerance = webhook.DefaultTolerance

// Config configures the Stripe client.
type Config struct {
	BaseURL        string
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	// SuccessURL may contain {CHECKOUT_SESSION_ID}, which Stripe fills in.
	SuccessURL string
	CancelURL  string
	Tolerance  time.Duration
	Logger     *slog.Logger
}

// Client implements provider.Payment against Stripe Checkout. Requests go
// through doer, which must not retry; the SDK's own retries are disabled.
type Client struct {
	sessions checkoutsession.Client
	cfg      Config
}

// New creates a Client.
func New(doer httpclient.Doer, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
		HTTPClient:        &http.Client{Transport: doerTransport{doer: doer}},
		URL:               stripeapi.String(cfg.BaseURL),
		MaxNetworkRetries: stripeapi.Int64(0),
		EnableTelemetry:   stripeapi.Bool(false),
		LeveledLogger:     sdkLogger{logger: cfg.Logger.With(slog.String("provider", providerName))},
	})
	return &Client{
		sessions: checkoutsession.Client{B: backend, Key: cfg.SecretKey},
		cfg:      cfg,
	}
}

func (c *Client) Name() string { return providerName }

func (c *Client) PublicKey() string { return c.cfg.PublishableKey }

// CreateCheckoutSession creates a hosted payment page for the snapshot.
// The checkout id is sent as the idempotency key.
func (c *Client) CreateCheckoutSession(ctx context.Context, in *provider.CheckoutSessionInput) (_ *provider.CheckoutSession, err error) {
	ctx, span := tracing.StartSpan(ctx, "stripe create checkout session")
	defer tracing.End(span, &err)

	params := sessionParams(in, c.cfg.SuccessURL, c.cfg.CancelURL)
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + in.CheckoutID)

	s, err := c.sessions.New(params)
	if err != nil {
		return nil, mapError(err)
	}
	if s.ID == "" {
		return nil, apperrors.ProviderUnavailable(providerName, fmt.Errorf("checkout session response has no id"))
	}
	return &provider.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func sessionParams(in *provider.CheckoutSessionInput, successURL, cancelURL string) *stripeapi.CheckoutSessionParams {
	currency := strings.ToLower(in.Currency)
	if currency == "" {
		currency = strings.ToLower(domain.DefaultCurrency)
	}

	p := &stripeapi.CheckoutSessionParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		SuccessURL:        stripeapi.String(successURL),
		CancelURL:         stripeapi.String(cancelURL),
		ClientReferenceID: stripeapi.String(in.CheckoutID),
		CustomerEmail:     stripeapi.String(in.Recipient.Email),
	}
	p.AddMetadata("checkout_id", in.CheckoutID)
	if in.CartSession != "" {
		p.AddMetadata("cart_session", in.CartSession)
	}

	addLine := func(name string, amount decimal.Decimal, qty int) {
		p.LineItems = append(p.LineItems, &stripeapi.CheckoutSessionLineItemParams{
			Quantity: stripeapi.Int64(int64(qty)),
			PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripeapi.String(currency),
				UnitAmount: stripeapi.Int64(cents(amount)),
				ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripeapi.String(name),
				},
			},
		})
	}
	for _, it := range in.Items {
		addLine(it.Name, it.UnitPrice, it.Quantity)
	}
	if in.Shipping.IsPositive() {
		addLine("Shipping", in.Shipping, 1)
	}
	if in.Taxes.IsPositive() {
		addLine("Estimated tax", in.Taxes, 1)
	}
	return p
}

// cents converts an amount to the smallest currency unit.
func cents(d decimal.Decimal) int64 {
	return domain.Cents(d).Shift(2).IntPart()
}

// mapError translates SDK and transport failures into application errors.
// A 4xx other than 429 means Stripe refused the request itself.
func mapError(err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusTooManyRequests, se.HTTPStatusCode >= 500:
			return apperrors.ProviderUnavailable(providerName, err)
		case se.HTTPStatusCode == http.StatusConflict:
			return apperrors.Conflict(providerName + ": " + se.Msg)
		case se.HTTPStatusCode >= 400:
			return apperrors.InvalidInput(providerName + ": " + se.Msg)
		}
	}
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		return ae
	}
	return apperrors.ProviderUnavailable(providerName, err)
}

// VerifyCallback checks the Stripe-Signature header and decodes the event.
func (c *Client) VerifyCallback(payload []byte, signature string) (*provider.CallbackEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                c.cfg.Tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	switch {
	case errors.Is(err, webhook.ErrTooOld):
		return nil, apperrors.InvalidInput("callback signature expired")
	case errors.Is(err, webhook.ErrNotSigned), errors.Is(err, webhook.ErrInvalidHeader), errors.Is(err, webhook.ErrNoValidSignature):
		return nil, apperrors.InvalidInput("invalid callback signature")
	case err != nil:
		return nil, apperrors.InvalidInput("malformed callback payload")
	}

	out := &provider.CallbackEvent{EventID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}
	var obj stripeapi.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil || obj.Object != "checkout.session" {
		return out, nil
	}
	out.SessionID = obj.ID
	if obj.PaymentIntent != nil {
		out.PaymentIntentID = obj.PaymentIntent.ID
	}

	switch ev.Type {
	case stripeapi.EventTypeCheckoutSessionCompleted:
		switch obj.PaymentStatus {
		case stripeapi.CheckoutSessionPaymentStatusPaid, stripeapi.CheckoutSessionPaymentStatusNoPaymentRequired:
			out.Status = domain.PaymentPaid
		default:
			out.Status = domain.PaymentUnpaid
		}
	case stripeapi.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		out.Status = domain.PaymentPaid
	case stripeapi.EventTypeCheckoutSessionAsyncPaymentFailed:
		out.Status = domain.PaymentFailed
	case stripeapi.EventTypeCheckoutSessionExpired:
		out.Status = domain.PaymentExpired
	default:
		out.SessionID = ""
	}
	return out, nil
}

// SignatureHeader builds a Stripe-Signature header value for payload.
func SignatureHeader(secret string, ts time.Time, payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	}).Header
}

// doerTransport sends SDK requests through the breaker-wrapped client.
type doerTransport struct {
	doer httpclient.Doer
}

func (t doerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.doer.Do(req.Context(), req)
}

// sdkLogger routes the SDK's printf-style logging into slog.
type sdkLogger struct {
	logger *slog.Logger
}

func (l sdkLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l sdkLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l sdkLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l sdkLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
