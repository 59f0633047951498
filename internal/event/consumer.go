package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sundai-club/shop/internal/domain"
	apperrors "github.com/sundai-club/shop/pkg/errors"
	pkgkafka "github.com/sundai-club/shop/pkg/kafka"
)

// FulfillmentRetrier resumes fulfillment of a paid checkout.
type FulfillmentRetrier interface {
	RetryFulfillment(ctx context.Context, checkoutID string) (*domain.Checkout, error)
}

// RetryHandler handles fulfillment retry requests. Unknown checkouts and
// checkouts no longer awaiting fulfillment are acknowledged; any other
// failure is returned so the consumer redelivers the request.
func RetryHandler(svc FulfillmentRetrier, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, ev *pkgkafka.Event) error {
		var data RetryData
		if err := ev.UnmarshalData(&data); err != nil || data.CheckoutID == "" {
			logger.ErrorContext(ctx, "malformed fulfillment retry event",
				slog.String("event_id", ev.EventID),
			)
			return nil
		}

		c, err := svc.RetryFulfillment(ctx, data.CheckoutID)
		switch {
		case err == nil:
			logger.InfoContext(ctx, "fulfillment retry processed",
				slog.String("checkout_id", data.CheckoutID),
				slog.String("state", string(c.State)),
			)
			return nil
		case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrInvalidInput):
			logger.WarnContext(ctx, "fulfillment retry dropped",
				slog.String("checkout_id", data.CheckoutID),
				slog.String("error", err.Error()),
			)
			return nil
		default:
			return fmt.Errorf("retry fulfillment for %s: %w", data.CheckoutID, err)
		}
	}
}
