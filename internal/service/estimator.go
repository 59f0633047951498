package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/provider"
	apperrors "github.com/sundai-club/shop/pkg/errors"
	"github.com/sundai-club/shop/pkg/tracing"
	"github.com/sundai-club/shop/pkg/validator"
)

// EstimatorConfig holds the fallback amounts used when the provider cannot
// quote.
type EstimatorConfig struct {
	FallbackShipping decimal.Decimal
	FallbackTaxRate  decimal.Decimal
	QuoteTimeout     time.Duration
}

// DefaultEstimatorConfig returns the storefront defaults.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		FallbackShipping: decimal.RequireFromString("5.99"),
		FallbackTaxRate:  decimal.RequireFromString("0.085"),
		QuoteTimeout:     5 * time.Second,
	}
}

// Estimator computes cost breakdowns for a cart and destination.
type Estimator struct {
	catalog provider.Catalog
	cfg     EstimatorConfig
	logger  *slog.Logger
}

// NewEstimator creates an Estimator.
func NewEstimator(catalog provider.Catalog, cfg EstimatorConfig, logger *slog.Logger) *Estimator {
	return &Estimator{catalog: catalog, cfg: cfg, logger: logger}
}

// Estimate prices the aggregated cart for recipient. Provider trouble never
// fails an estimate: the fallback shipping amount is used and flagged.
func (e *Estimator) Estimate(ctx context.Context, recipient domain.Recipient, entries []domain.AggregatedEntry) (_ *domain.CostBreakdown, err error) {
	ctx, span := tracing.StartSpan(ctx, "estimator.Estimate")
	defer tracing.End(span, &err)

	r := recipient.Normalize()
	if err := validator.Validate(&r); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperrors.InvalidInput("cart is empty")
	}

	subtotal := decimal.Zero
	for _, entry := range entries {
		subtotal = subtotal.Add(entry.Subtotal)
	}

	shipping, estimated := e.shipping(ctx, r, domain.Snapshot(entries))
	taxes := subtotal.Mul(e.cfg.FallbackTaxRate)
	estimateFallbacks.WithLabelValues("tax").Inc()

	return &domain.CostBreakdown{
		Subtotal:          subtotal,
		Shipping:          shipping,
		ShippingEstimated: estimated,
		Taxes:             domain.Cents(taxes),
		TaxEstimated:      true,
		Total:             domain.Cents(subtotal.Add(shipping).Add(taxes)),
		Currency:          domain.DefaultCurrency,
	}, nil
}

func (e *Estimator) shipping(ctx context.Context, r domain.Recipient, items []domain.OrderItem) (decimal.Decimal, bool) {
	if e.cfg.QuoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QuoteTimeout)
		defer cancel()
	}

	quote, err := e.catalog.QuoteShipping(ctx, r, items)
	switch {
	case err == nil && quote != nil && (quote.Currency == "" || strings.EqualFold(quote.Currency, domain.DefaultCurrency)):
		return domain.Cents(quote.Rate), false
	case err == nil && quote != nil:
		err = errors.New("quote currency " + quote.Currency + " not supported")
	case err == nil:
		err = provider.ErrNoQuote
	}

	estimateFallbacks.WithLabelValues("shipping").Inc()
	e.logger.WarnContext(ctx, "shipping quote unavailable, using fallback",
		slog.String("country", r.CountryCode),
		slog.String("fallback", e.cfg.FallbackShipping.StringFixed(2)),
		slog.String("error", err.Error()),
	)
	return domain.Cents(e.cfg.FallbackShipping), true
}
