package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/sundai-club/shop/internal/domain"
	pkgkafka "github.com/sundai-club/shop/pkg/kafka"
	"github.com/sundai-club/shop/pkg/logger"
)

// Kafka topics for checkout and fulfillment events.
var (
	TopicPaymentConfirmed     = pkgkafka.Topic("checkout", "payment_confirmed")
	TopicCheckoutFailed       = pkgkafka.Topic("checkout", "failed")
	TopicFulfillmentCreated   = pkgkafka.Topic("fulfillment", "created")
	TopicFulfillmentConfirmed = pkgkafka.Topic("fulfillment", "confirmed")
	TopicFulfillmentFailed    = pkgkafka.Topic("fulfillment", "failed")
	TopicFulfillmentRetry     = pkgkafka.Topic("fulfillment", "retry")
)

// AggregateTypeCheckout is the aggregate type of every event published here.
const AggregateTypeCheckout = "checkout"

// SourceStorefront identifies events published by this service.
const SourceStorefront = "storefront"

// CheckoutData is the payload shared by checkout and fulfillment events.
type CheckoutData struct {
	CheckoutID         string                   `json:"checkout_id"`
	State              domain.State             `json:"state"`
	PaymentSessionID   string                   `json:"payment_session_id,omitempty"`
	FulfillmentOrderID string                   `json:"fulfillment_order_id,omitempty"`
	FulfillmentStatus  domain.FulfillmentStatus `json:"fulfillment_status,omitempty"`
	CustomerEmail      string                   `json:"customer_email,omitempty"`
	Total              *decimal.Decimal         `json:"total,omitempty"`
	Currency           string                   `json:"currency,omitempty"`
	Reason             string                   `json:"reason,omitempty"`
	// Retryable is set on fulfillment.failed when an operator retry can
	// still succeed.
	Retryable bool `json:"retryable,omitempty"`
}

// RetryData is the payload of a fulfillment retry request.
type RetryData struct {
	CheckoutID string `json:"checkout_id"`
}

// Publisher is the part of pkg/kafka.Producer the event producer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes storefront domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a Producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

func (p *Producer) PublishPaymentConfirmed(ctx context.Context, c *domain.Checkout) error {
	return p.publish(ctx, TopicPaymentConfirmed, c, "", false)
}

func (p *Producer) PublishCheckoutFailed(ctx context.Context, c *domain.Checkout, reason string) error {
	return p.publish(ctx, TopicCheckoutFailed, c, reason, false)
}

func (p *Producer) PublishFulfillmentCreated(ctx context.Context, c *domain.Checkout) error {
	return p.publish(ctx, TopicFulfillmentCreated, c, "", false)
}

func (p *Producer) PublishFulfillmentConfirmed(ctx context.Context, c *domain.Checkout) error {
	return p.publish(ctx, TopicFulfillmentConfirmed, c, "", false)
}

func (p *Producer) PublishFulfillmentFailed(ctx context.Context, c *domain.Checkout, reason string, retryable bool) error {
	return p.publish(ctx, TopicFulfillmentFailed, c, reason, retryable)
}

// RequestFulfillmentRetry queues a fulfillment retry for the consumer.
func (p *Producer) RequestFulfillmentRetry(ctx context.Context, checkoutID string) error {
	ev, err := pkgkafka.NewEvent(TopicFulfillmentRetry, checkoutID, AggregateTypeCheckout, SourceStorefront, RetryData{CheckoutID: checkoutID})
	if err != nil {
		return fmt.Errorf("create fulfillment retry event: %w", err)
	}
	ev.WithCorrelationID(logger.CorrelationIDFromContext(ctx))
	if err := p.kafka.Publish(ctx, TopicFulfillmentRetry, ev); err != nil {
		return fmt.Errorf("publish fulfillment retry event: %w", err)
	}
	return nil
}

func (p *Producer) publish(ctx context.Context, topic string, c *domain.Checkout, reason string, retryable bool) error {
	data := CheckoutData{
		CheckoutID:         c.ID,
		State:              c.State,
		PaymentSessionID:   c.PaymentSessionID,
		FulfillmentOrderID: c.FulfillmentOrderID,
		FulfillmentStatus:  c.FulfillmentStatus,
		CustomerEmail:      c.CustomerEmail(),
		Reason:             reason,
		Retryable:          retryable,
	}
	if c.Cost != nil {
		total := c.Cost.Total
		data.Total = &total
		data.Currency = c.Cost.Currency
	}

	ev, err := pkgkafka.NewEvent(topic, c.ID, AggregateTypeCheckout, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	ev.WithCorrelationID(logger.CorrelationIDFromContext(ctx))
	if sid := logger.SessionIDFromContext(ctx); sid != "" {
		ev.WithMetadata("session_id", sid)
	}

	if err := p.kafka.Publish(ctx, topic, ev); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published checkout event",
		slog.String("topic", topic),
		slog.String("checkout_id", c.ID),
	)
	return nil
}

// Nop discards every event. It is used when Kafka is not configured.
type Nop struct{}

func (Nop) PublishPaymentConfirmed(context.Context, *domain.Checkout) error       { return nil }
func (Nop) PublishCheckoutFailed(context.Context, *domain.Checkout, string) error { return nil }
func (Nop) PublishFulfillmentCreated(context.Context, *domain.Checkout) error     { return nil }
func (Nop) PublishFulfillmentConfirmed(context.Context, *domain.Checkout) error   { return nil }
func (Nop) PublishFulfillmentFailed(context.Context, *domain.Checkout, string, bool) error {
	return nil
}
func (Nop) RequestFulfillmentRetry(context.Context, string) error { return nil }
