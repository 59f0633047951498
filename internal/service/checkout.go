package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/provider"
	"github.com/sundai-club/shop/internal/repository"
	apperrors "github.com/sundai-club/shop/pkg/errors"
	"github.com/sundai-club/shop/pkg/logger"
	"github.com/sundai-club/shop/pkg/tracing"
	"github.com/sundai-club/shop/pkg/validator"
)

// EventPublisher publishes checkout lifecycle events. Publishing is best
// effort: failures are logged and never undo a transition.
type EventPublisher interface {
	PublishPaymentConfirmed(ctx context.Context, c *domain.Checkout) error
	PublishCheckoutFailed(ctx context.Context, c *domain.Checkout, reason string) error
	PublishFulfillmentCreated(ctx context.Context, c *domain.Checkout) error
	PublishFulfillmentConfirmed(ctx context.Context, c *domain.Checkout) error
	PublishFulfillmentFailed(ctx context.Context, c *domain.Checkout, reason string, retryable bool) error
	RequestFulfillmentRetry(ctx context.Context, checkoutID string) error
}

// CartSource is the cart access the checkout flow needs.
type CartSource interface {
	Entries(ctx context.Context, session string) ([]domain.AggregatedEntry, []domain.LineItem, error)
	Clear(ctx context.Context, session string) error
}

// CostEstimator prices a cart for a recipient.
type CostEstimator interface {
	Estimate(ctx context.Context, recipient domain.Recipient, entries []domain.AggregatedEntry) (*domain.CostBreakdown, error)
}

// CheckoutConfig configures CheckoutService.
type CheckoutConfig struct {
	// ProviderTimeout bounds each payment and fulfillment provider call.
	ProviderTimeout time.Duration
	// FulfillmentProvider names the fulfillment provider in errors.
	FulfillmentProvider string
}

// PaymentSession is what the client needs to redirect to the hosted
// payment page.
type PaymentSession struct {
	CheckoutID string `json:"checkout_id"`
	SessionID  string `json:"session_id"`
	PublicKey  string `json:"public_key"`
	URL        string `json:"url"`
}

// ConfirmResult reports what a payment callback did.
type ConfirmResult struct {
	Outcome  domain.Outcome   `json:"outcome"`
	Checkout *domain.Checkout `json:"checkout,omitempty"`
}

// CheckoutService drives a cart session through estimate, payment and
// fulfillment. Every persisted transition is a compare-and-set, so two
// deliveries of the same callback cannot both advance a checkout.
type CheckoutService struct {
	repo        repository.CheckoutRepository
	cart        CartSource
	estimator   CostEstimator
	payment     provider.Payment
	fulfillment provider.Fulfillment
	events      EventPublisher
	cfg         CheckoutConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewCheckoutService creates a CheckoutService.
func NewCheckoutService(
	repo repository.CheckoutRepository,
	cart CartSource,
	estimator CostEstimator,
	payment provider.Payment,
	fulfillment provider.Fulfillment,
	events EventPublisher,
	cfg CheckoutConfig,
	logger *slog.Logger,
) *CheckoutService {
	if cfg.FulfillmentProvider == "" {
		cfg.FulfillmentProvider = "fulfillment"
	}
	return &CheckoutService{
		repo:        repo,
		cart:        cart,
		estimator:   estimator,
		payment:     payment,
		fulfillment: fulfillment,
		events:      events,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// EstimateCost prices the cart for recipient and binds the estimate to the
// session's open checkout, starting a new one when the latest checkout has
// already moved past estimation.
func (s *CheckoutService) EstimateCost(ctx context.Context, session string, recipient domain.Recipient) (_ *domain.Checkout, err error) {
	ctx, span := tracing.StartSpan(ctx, "checkout.EstimateCost")
	defer tracing.End(span, &err)

	r, err := normalizeRecipient(recipient)
	if err != nil {
		return nil, err
	}
	entries, _, err := s.cart.Entries(ctx, session)
	if err != nil {
		return nil, err
	}
	cost, err := s.estimator.Estimate(ctx, r, entries)
	if err != nil {
		return nil, err
	}

	c, err := s.repo.GetLatestBySession(ctx, session)
	isNew := false
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		c, isNew = domain.NewCheckout(session, s.now()), true
	case err != nil:
		return nil, fmt.Errorf("load checkout: %w", err)
	case !c.Reusable():
		c, isNew = domain.NewCheckout(session, s.now()), true
	}

	from := c.State
	if err := c.BindEstimate(r, *cost, s.now()); err != nil {
		return nil, err
	}
	if isNew {
		err = s.repo.Create(ctx, c)
	} else {
		err = s.repo.Update(ctx, c)
	}
	if err != nil {
		return nil, fmt.Errorf("save checkout: %w", err)
	}
	checkoutTransitions.WithLabelValues(string(from), string(c.State)).Inc()

	s.logger.InfoContext(ctx, "cost estimated",
		slog.String("checkout_id", c.ID),
		slog.String("subtotal", cost.Subtotal.StringFixed(2)),
		slog.String("total", cost.Total.StringFixed(2)),
		slog.Bool("shipping_estimated", cost.ShippingEstimated),
	)
	return c, nil
}

// CreatePaymentSession snapshots the cart and opens a hosted payment page.
// The latest checkout must hold an estimate for the same recipient and the
// same cart subtotal; anything else asks the client to re-estimate.
func (s *CheckoutService) CreatePaymentSession(ctx context.Context, session string, recipient domain.Recipient) (_ *PaymentSession, err error) {
	ctx, span := tracing.StartSpan(ctx, "checkout.CreatePaymentSession")
	defer tracing.End(span, &err)

	r, err := normalizeRecipient(recipient)
	if err != nil {
		return nil, err
	}

	c, err := s.repo.GetLatestBySession(ctx, session)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.InvalidInput("no cost estimate for this cart, request an estimate first")
	}
	if err != nil {
		return nil, fmt.Errorf("load checkout: %w", err)
	}
	if c.State != domain.StateEstimateReady || c.Recipient == nil || c.Cost == nil {
		return nil, apperrors.InvalidInput("no cost estimate for this cart, request an estimate first")
	}
	if !c.Recipient.Equal(r) {
		return nil, apperrors.InvalidInput("recipient changed since the estimate, request a new estimate")
	}

	entries, lines, err := s.cart.Entries(ctx, session)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, apperrors.InvalidInput("cart is empty")
	}
	if !domain.Subtotal(lines).Equal(c.Cost.Subtotal) {
		return nil, apperrors.InvalidInput("cart changed since the estimate, request a new estimate")
	}
	items := domain.Snapshot(entries)

	pctx, cancel := s.providerContext(ctx)
	defer cancel()
	ps, perr := s.payment.CreateCheckoutSession(pctx, &provider.CheckoutSessionInput{
		CheckoutID:  c.ID,
		CartSession: session,
		Recipient:   r,
		Items:       items,
		Shipping:    c.Cost.Shipping,
		Taxes:       c.Cost.Taxes,
		Total:       c.Cost.Total,
		Currency:    c.Cost.Currency,
	})
	if perr != nil {
		reason := "payment session: " + perr.Error()
		if ferr := s.transition(ctx, c, func() error { return c.Fail(reason, s.now()) }); ferr != nil {
			s.logger.WarnContext(ctx, "failed to record payment session failure",
				slog.String("checkout_id", c.ID),
				slog.String("error", ferr.Error()),
			)
		} else {
			s.publish(ctx, "checkout.failed", s.events.PublishCheckoutFailed(ctx, c, reason))
		}
		if errors.Is(perr, apperrors.ErrProviderUnavailable) {
			return nil, perr
		}
		return nil, apperrors.ProviderUnavailable(s.payment.Name(), perr)
	}

	err = s.transition(ctx, c, func() error {
		if err := c.TransitionTo(domain.StateSessionCreated, s.now()); err != nil {
			return err
		}
		c.Items = items
		c.PaymentSessionID = ps.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "payment session created",
		slog.String("checkout_id", c.ID),
		slog.String("payment_session_id", ps.ID),
		slog.Int("items", len(items)),
	)
	return &PaymentSession{
		CheckoutID: c.ID,
		SessionID:  ps.ID,
		PublicKey:  s.payment.PublicKey(),
		URL:        ps.URL,
	}, nil
}

// ConfirmPayment applies a signed payment callback. A paid callback for a
// checkout that is already paid is a duplicate and does nothing. The first
// paid callback clears the cart and starts fulfillment; fulfillment trouble
// is recorded on the checkout and does not fail the callback.
func (s *CheckoutService) ConfirmPayment(ctx context.Context, payload []byte, signature string) (_ *ConfirmResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "checkout.ConfirmPayment")
	defer tracing.End(span, &err)

	ev, err := s.payment.VerifyCallback(payload, signature)
	if err != nil {
		return nil, err
	}
	if ev.SessionID == "" {
		s.logger.DebugContext(ctx, "ignoring payment callback",
			slog.String("event_type", ev.Type),
		)
		return &ConfirmResult{Outcome: domain.OutcomeIgnored}, nil
	}
	span.SetAttributes(attribute.String("payment.session_id", ev.SessionID))

	c, err := s.repo.GetByPaymentSession(ctx, ev.SessionID)
	if err != nil {
		return nil, err
	}

	switch ev.Status {
	case domain.PaymentPaid:
		return s.confirmPaid(ctx, c, ev)
	case domain.PaymentExpired, domain.PaymentFailed:
		return s.closeUnpaid(ctx, c, ev)
	default:
		return &ConfirmResult{Outcome: domain.OutcomeIgnored, Checkout: c}, nil
	}
}

func (s *CheckoutService) confirmPaid(ctx context.Context, c *domain.Checkout, ev *provider.CallbackEvent) (*ConfirmResult, error) {
	if c.State.AtLeast(domain.StatePaymentConfirmed) {
		s.logger.InfoContext(ctx, "duplicate payment callback",
			slog.String("checkout_id", c.ID),
			slog.String("state", string(c.State)),
		)
		return &ConfirmResult{Outcome: domain.OutcomeDuplicate, Checkout: c}, nil
	}
	if c.State != domain.StateSessionCreated {
		s.logger.ErrorContext(ctx, "payment received for checkout that cannot accept it",
			slog.Bool("operator_action", true),
			slog.String("checkout_id", c.ID),
			slog.String("state", string(c.State)),
			slog.String("payment_session_id", c.PaymentSessionID),
		)
		return &ConfirmResult{Outcome: domain.OutcomeIgnored, Checkout: c}, nil
	}

	err := s.transition(ctx, c, func() error {
		if err := c.TransitionTo(domain.StatePaymentConfirmed, s.now()); err != nil {
			return err
		}
		c.PaymentIntentID = ev.PaymentIntentID
		return nil
	})
	if errors.Is(err, apperrors.ErrConflict) {
		// Another delivery won the race.
		latest, lerr := s.repo.GetByID(ctx, c.ID)
		if lerr == nil && latest.State.AtLeast(domain.StatePaymentConfirmed) {
			return &ConfirmResult{Outcome: domain.OutcomeDuplicate, Checkout: latest}, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "payment confirmed",
		slog.String("checkout_id", c.ID),
		slog.String("payment_session_id", c.PaymentSessionID),
	)
	s.publish(ctx, "checkout.payment_confirmed", s.events.PublishPaymentConfirmed(ctx, c))

	if err := s.cart.Clear(ctx, c.CartSession); err != nil {
		s.logger.WarnContext(ctx, "failed to clear cart after payment",
			slog.String("checkout_id", c.ID),
			slog.String("error", err.Error()),
		)
	}

	if ferr := s.advanceFulfillment(ctx, c); ferr != nil {
		// A refused order needs an operator to fix its cause first, so only
		// transient failures are queued for an automatic retry.
		if errors.Is(ferr, apperrors.ErrFulfillmentRetryable) && !rejected(ferr) {
			s.publish(ctx, "fulfillment.retry", s.events.RequestFulfillmentRetry(ctx, c.ID))
		} else {
			s.logger.ErrorContext(ctx, "fulfillment did not advance after payment",
				slog.Bool("operator_action", true),
				slog.String("checkout_id", c.ID),
				slog.String("error", ferr.Error()),
			)
		}
	}
	return &ConfirmResult{Outcome: domain.OutcomeAdvanced, Checkout: c}, nil
}

func (s *CheckoutService) closeUnpaid(ctx context.Context, c *domain.Checkout, ev *provider.CallbackEvent) (*ConfirmResult, error) {
	if c.State != domain.StateSessionCreated {
		return &ConfirmResult{Outcome: domain.OutcomeIgnored, Checkout: c}, nil
	}
	reason := "payment " + string(ev.Status)
	err := s.transition(ctx, c, func() error { return c.Fail(reason, s.now()) })
	if errors.Is(err, apperrors.ErrConflict) {
		latest, lerr := s.repo.GetByID(ctx, c.ID)
		if lerr == nil {
			return &ConfirmResult{Outcome: domain.OutcomeIgnored, Checkout: latest}, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "checkout closed without payment",
		slog.String("checkout_id", c.ID),
		slog.String("status", string(ev.Status)),
	)
	s.publish(ctx, "checkout.failed", s.events.PublishCheckoutFailed(ctx, c, reason))
	return &ConfirmResult{Outcome: domain.OutcomeFailed, Checkout: c}, nil
}

// advanceFulfillment moves a paid checkout as far along fulfillment as the
// provider allows. It is safe to call repeatedly: order creation is keyed
// by the payment session id and reuses an existing order.
func (s *CheckoutService) advanceFulfillment(ctx context.Context, c *domain.Checkout) error {
	if c.State == domain.StatePaymentConfirmed {
		// A paid checkout never fails at order creation: whatever the
		// provider says, the checkout stays payment_confirmed for a retry.
		if c.Recipient == nil {
			return s.fulfillmentFailed(ctx, c, "create", apperrors.InvalidInput("checkout has no recipient"))
		}

		pctx, cancel := s.providerContext(ctx)
		order, err := s.fulfillment.CreateOrder(pctx, c.PaymentSessionID, c.Items, *c.Recipient)
		cancel()
		if err != nil {
			return s.fulfillmentFailed(ctx, c, "create", err)
		}
		if order.Status.Rejected() {
			return s.fulfillmentFailed(ctx, c, "create", apperrors.Conflict(fmt.Sprintf("order %s is %s", order.ID, order.Status)))
		}
		if order.Existing {
			s.logger.InfoContext(ctx, "reusing existing fulfillment order",
				slog.String("checkout_id", c.ID),
				slog.String("fulfillment_order_id", order.ID),
			)
		}

		err = s.transition(ctx, c, func() error {
			if err := c.TransitionTo(domain.StateFulfillmentCreated, s.now()); err != nil {
				return err
			}
			c.FulfillmentOrderID = order.ID
			c.FulfillmentStatus = order.Status
			c.LastError = ""
			return nil
		})
		if err != nil {
			return err
		}
		s.publish(ctx, "fulfillment.created", s.events.PublishFulfillmentCreated(ctx, c))
	}

	if c.State != domain.StateFulfillmentCreated {
		return nil
	}

	status := c.FulfillmentStatus
	if !status.Accepted() {
		pctx, cancel := s.providerContext(ctx)
		order, err := s.fulfillment.ConfirmOrder(pctx, c.FulfillmentOrderID)
		cancel()
		if err != nil {
			if rejected(err) {
				return s.rejectFulfillment(ctx, c, "confirm", err)
			}
			return s.fulfillmentFailed(ctx, c, "confirm", err)
		}
		if order.Status.Rejected() {
			return s.rejectFulfillment(ctx, c, "confirm", fmt.Errorf("order %s is %s", order.ID, order.Status))
		}
		status = order.Status
	}

	err := s.transition(ctx, c, func() error {
		if err := c.TransitionTo(domain.StateFulfillmentConfirmed, s.now()); err != nil {
			return err
		}
		c.FulfillmentStatus = status
		c.LastError = ""
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "fulfillment confirmed",
		slog.String("checkout_id", c.ID),
		slog.String("fulfillment_order_id", c.FulfillmentOrderID),
	)
	s.publish(ctx, "fulfillment.confirmed", s.events.PublishFulfillmentConfirmed(ctx, c))
	return nil
}

// fulfillmentFailed records a failure that a retry may get past. The
// checkout keeps its state.
func (s *CheckoutService) fulfillmentFailed(ctx context.Context, c *domain.Checkout, step string, cause error) error {
	reason := step + ": " + cause.Error()
	if err := s.transition(ctx, c, func() error {
		c.LastError = reason
		c.UpdatedAt = s.now()
		return nil
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to record fulfillment error",
			slog.String("checkout_id", c.ID),
			slog.String("error", err.Error()),
		)
	}

	refused := rejected(cause)
	s.logger.ErrorContext(ctx, "fulfillment failed, retry required",
		slog.Bool("operator_action", true),
		slog.String("checkout_id", c.ID),
		slog.String("state", string(c.State)),
		slog.String("payment_session_id", c.PaymentSessionID),
		slog.String("step", step),
		slog.Bool("refused_by_provider", refused),
		slog.String("error", cause.Error()),
	)
	s.publish(ctx, "fulfillment.failed", s.events.PublishFulfillmentFailed(ctx, c, reason, !refused))
	return apperrors.FulfillmentRetryable(fmt.Sprintf("fulfillment %s failed, it will be retried", step), providerError(s.cfg.FulfillmentProvider, cause))
}

// rejectFulfillment closes a paid checkout whose order the provider
// refused. The customer has paid, so this always needs an operator.
func (s *CheckoutService) rejectFulfillment(ctx context.Context, c *domain.Checkout, step string, cause error) error {
	reason := step + " rejected: " + cause.Error()
	if err := s.transition(ctx, c, func() error { return c.Fail(reason, s.now()) }); err != nil {
		return err
	}

	s.logger.ErrorContext(ctx, "fulfillment rejected",
		slog.Bool("operator_action", true),
		slog.String("checkout_id", c.ID),
		slog.String("payment_session_id", c.PaymentSessionID),
		slog.String("fulfillment_order_id", c.FulfillmentOrderID),
		slog.String("step", step),
		slog.String("error", cause.Error()),
	)
	s.publish(ctx, "fulfillment.failed", s.events.PublishFulfillmentFailed(ctx, c, reason, false))
	s.publish(ctx, "checkout.failed", s.events.PublishCheckoutFailed(ctx, c, reason))
	return nil
}

// RetryFulfillment resumes fulfillment of a paid checkout.
func (s *CheckoutService) RetryFulfillment(ctx context.Context, checkoutID string) (_ *domain.Checkout, err error) {
	ctx, span := tracing.StartSpan(ctx, "checkout.RetryFulfillment",
		attribute.String("checkout.id", checkoutID))
	defer tracing.End(span, &err)

	c, err := s.repo.GetByID(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if c.State != domain.StatePaymentConfirmed && c.State != domain.StateFulfillmentCreated {
		return nil, apperrors.InvalidInput(fmt.Sprintf("checkout in state %s cannot be retried", c.State))
	}

	s.logger.InfoContext(ctx, "fulfillment retry requested",
		slog.Bool("operator_action", true),
		slog.String("operator", logger.OperatorFromContext(ctx)),
		slog.String("checkout_id", c.ID),
		slog.String("state", string(c.State)),
	)
	if err := s.advanceFulfillment(ctx, c); err != nil {
		return c, err
	}
	return c, nil
}

// RefreshFulfillmentStatus pulls the order's latest status and tracking
// details from the provider.
func (s *CheckoutService) RefreshFulfillmentStatus(ctx context.Context, checkoutID string) (*domain.Checkout, error) {
	c, err := s.repo.GetByID(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if c.FulfillmentOrderID == "" {
		return nil, apperrors.InvalidInput("checkout has no fulfillment order")
	}

	pctx, cancel := s.providerContext(ctx)
	order, err := s.fulfillment.GetOrderStatus(pctx, c.FulfillmentOrderID)
	cancel()
	if err != nil {
		return nil, providerError(s.cfg.FulfillmentProvider, err)
	}

	err = s.transition(ctx, c, func() error {
		c.FulfillmentStatus = order.Status
		c.TrackingNumber = order.TrackingNumber
		c.TrackingURL = order.TrackingURL
		c.UpdatedAt = s.now()
		switch {
		case order.Status.Rejected() && !c.State.IsTerminal():
			return c.Fail("order "+string(order.Status)+" by provider", s.now())
		case order.Status.Accepted() && c.State == domain.StateFulfillmentCreated:
			return c.TransitionTo(domain.StateFulfillmentConfirmed, s.now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "fulfillment status refreshed",
		slog.String("checkout_id", c.ID),
		slog.String("fulfillment_status", string(c.FulfillmentStatus)),
		slog.String("state", string(c.State)),
	)
	return c, nil
}

// GetCheckout returns the checkout for a payment session id.
func (s *CheckoutService) GetCheckout(ctx context.Context, paymentSessionID string) (*domain.Checkout, error) {
	if paymentSessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	return s.repo.GetByPaymentSession(ctx, paymentSessionID)
}

type emailQuery struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// ListOrdersByEmail returns a page of the customer's checkouts, newest
// first, with the total match count.
func (s *CheckoutService) ListOrdersByEmail(ctx context.Context, email string, limit, offset int) ([]domain.Checkout, int, error) {
	q := emailQuery{Email: domain.Recipient{Email: email}.Normalize().Email}
	if err := validator.Validate(&q); err != nil {
		return nil, 0, err
	}
	orders, total, err := s.repo.ListByEmail(ctx, q.Email, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

// transition applies mutate to c and persists it with a compare-and-set.
// On failure c is restored so callers never see unsaved state.
func (s *CheckoutService) transition(ctx context.Context, c *domain.Checkout, mutate func() error) error {
	before := *c
	if err := mutate(); err != nil {
		*c = before
		return err
	}
	if err := s.repo.Update(ctx, c); err != nil {
		*c = before
		return fmt.Errorf("save checkout %s: %w", c.ID, err)
	}
	if before.State != c.State {
		checkoutTransitions.WithLabelValues(string(before.State), string(c.State)).Inc()
	}
	return nil
}

func (s *CheckoutService) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.ProviderTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *CheckoutService) publish(ctx context.Context, name string, err error) {
	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish event",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}

func normalizeRecipient(r domain.Recipient) (domain.Recipient, error) {
	r = r.Normalize()
	if err := validator.Validate(&r); err != nil {
		return domain.Recipient{}, err
	}
	return r, nil
}
