package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// TopicPrefix namespaces every storefront topic.
const TopicPrefix = "storefront"

// Topic builds a fully-qualified topic name, e.g. Topic("checkout", "events").
func Topic(domain, action string) string {
	return TopicPrefix + "." + domain + "." + action
}

// Handler processes one event. A returned error triggers a retry.
type Handler func(ctx context.Context, event *Event) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topic      string
	MaxRetries int
	RetryWait  time.Duration
}

// Consumer reads one topic as part of a consumer group. Messages are
// committed after the handler succeeds, or after they have been parked on
// the DLQ once every retry failed.
type Consumer struct {
	reader     messageReader
	topic      string
	group      string
	handler    Handler
	dlq        *DLQProducer
	maxRetries int
	retryWait  time.Duration
	logger     *slog.Logger
	closeOnce  sync.Once
}

// NewConsumer creates a Consumer. dlq may be nil, in which case poison
// messages are logged and skipped.
func NewConsumer(cfg ConsumerConfig, handler Handler, dlq *DLQProducer, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	return newConsumer(r, cfg, handler, dlq, logger)
}

func newConsumer(r messageReader, cfg ConsumerConfig, handler Handler, dlq *DLQProducer, logger *slog.Logger) *Consumer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 200 * time.Millisecond
	}
	return &Consumer{
		reader:     r,
		topic:      cfg.Topic,
		group:      cfg.GroupID,
		handler:    handler,
		dlq:        dlq,
		maxRetries: cfg.MaxRetries,
		retryWait:  cfg.RetryWait,
		logger:     logger.With(slog.String("topic", cfg.Topic), slog.String("group", cfg.GroupID)),
	}
}

// Start consumes until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("consumer stopping")
				return c.Close()
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			continue
		}

		if err := c.process(ctx, msg); err != nil && ctx.Err() != nil {
			return c.Close()
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// process runs the handler with retries. It returns an error only when ctx
// was canceled mid-retry, in which case the message must not be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.Error("dropping undecodable message",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		c.park(ctx, msg, err)
		return nil
	}

	ctx = ExtractTraceContext(ctx, msg)
	start := time.Now()
	defer func() {
		consumerProcessingDuration.WithLabelValues(c.topic, c.group).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if lastErr = c.handler(ctx, event); lastErr == nil {
			consumerMessagesProcessed.WithLabelValues(c.topic, c.group).Inc()
			return nil
		}
		c.logger.WarnContext(ctx, "handler failed",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * c.retryWait):
		}
	}

	consumerMessagesFailed.WithLabelValues(c.topic, c.group).Inc()
	c.logger.ErrorContext(ctx, "handler failed after all retries",
		slog.String("event_type", event.EventType),
		slog.String("aggregate_id", event.AggregateID),
		slog.Bool("operator_action", true),
		slog.String("error", lastErr.Error()),
	)
	c.park(ctx, msg, lastErr)
	return nil
}

func (c *Consumer) park(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Publish(ctx, msg, cause, c.group); err != nil {
		c.logger.ErrorContext(ctx, "failed to park message on DLQ", slog.String("error", err.Error()))
	}
}

// Close closes the reader. It is safe to call more than once.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}
