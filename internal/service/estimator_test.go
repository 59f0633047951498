package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/provider"
	apperrors "github.com/sundai-club/shop/pkg/errors"
	"github.com/sundai-club/shop/pkg/validator"
)

func testRecipient() domain.Recipient {
	return domain.Recipient{
		Name:        "Ada Lovelace",
		Email:       "Ada@Example.com ",
		AddressLine: "1 Main St",
		City:        "Boston",
		State:       "MA",
		PostalCode:  "02110",
		CountryCode: "us",
	}
}

func newTestEstimator(c *mockCatalog) *Estimator {
	cfg := DefaultEstimatorConfig()
	cfg.QuoteTimeout = 50 * time.Millisecond
	return NewEstimator(c, cfg, newTestLogger())
}

func TestEstimate_WithQuote(t *testing.T) {
	c := new(mockCatalog)
	c.On("QuoteShipping", mock.Anything, mock.Anything, mock.Anything).
		Return(&provider.ShippingQuote{Rate: dec("5.00"), Currency: "USD"}, nil)
	e := newTestEstimator(c)

	entries := domain.Aggregate([]domain.LineItem{line("1", "M", 1, "25.00"), line("1", "M", 1, "30.00")})
	cost, err := e.Estimate(context.Background(), testRecipient(), entries)
	require.NoError(t, err)

	assert.True(t, cost.Subtotal.Equal(dec("55.00")))
	assert.True(t, cost.Shipping.Equal(dec("5.00")))
	assert.False(t, cost.ShippingEstimated)
	assert.True(t, cost.Taxes.Equal(dec("4.68")), cost.Taxes.String())
	assert.True(t, cost.TaxEstimated)
	assert.True(t, cost.Total.Equal(dec("64.68")), cost.Total.String())
	assert.Equal(t, "USD", cost.Currency)

	// The recipient is normalized before it reaches the provider.
	got := c.Calls[0].Arguments.Get(1).(domain.Recipient)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, "US", got.CountryCode)
}

func TestEstimate_TwoGroups(t *testing.T) {
	c := new(mockCatalog)
	c.On("QuoteShipping", mock.Anything, mock.Anything, mock.Anything).
		Return(&provider.ShippingQuote{Rate: dec("5.00"), Currency: "USD"}, nil)
	e := newTestEstimator(c)

	entries := domain.Aggregate([]domain.LineItem{
		line("1", "M", 3, "10.00"),
		line("3", "One Size", 1, "25.00"),
	})
	require.Len(t, entries, 2)
	cost, err := e.Estimate(context.Background(), testRecipient(), entries)
	require.NoError(t, err)

	assert.True(t, cost.Subtotal.Equal(dec("55.00")), cost.Subtotal.String())
	assert.True(t, cost.Shipping.Equal(dec("5.00")), cost.Shipping.String())
	assert.True(t, cost.Taxes.Equal(dec("4.68")), cost.Taxes.String())
	assert.True(t, cost.Total.Equal(dec("64.68")), cost.Total.String())

	items := c.Calls[0].Arguments.Get(2).([]domain.OrderItem)
	require.Len(t, items, 2)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, 1, items[1].Quantity)
}

func TestEstimate_SubtotalSumsEveryGroup(t *testing.T) {
	c := new(mockCatalog)
	c.On("QuoteShipping", mock.Anything, mock.Anything, mock.Anything).
		Return(&provider.ShippingQuote{Rate: dec("5.00"), Currency: "USD"}, nil)
	e := newTestEstimator(c)

	entries := domain.Aggregate([]domain.LineItem{
		line("1", "M", 2, "20.00"),
		line("4", "One Size", 1, "15.00"),
	})
	cost, err := e.Estimate(context.Background(), testRecipient(), entries)
	require.NoError(t, err)
	assert.True(t, cost.Subtotal.Equal(dec("55.00")), cost.Subtotal.String())
}

func TestEstimate_ComponentsSumToTotal(t *testing.T) {
	c := new(mockCatalog)
	c.On("QuoteShipping", mock.Anything, mock.Anything, mock.Anything).
		Return(&provider.ShippingQuote{Rate: dec("4.995"), Currency: "USD"}, nil)
	e := newTestEstimator(c)

	for _, price := range []string{"0.01", "1.11", "13.37", "19.99", "29.99", "99.95", "123.45"} {
		entries := domain.Aggregate([]domain.LineItem{line("1", "M", 3, price)})
		cost, err := e.Estimate(context.Background(), testRecipient(), entries)
		require.NoError(t, err)
		sum := cost.Subtotal.Add(cost.Shipping).Add(cost.Taxes)
		assert.True(t, sum.Equal(cost.Total), "price %s: %s + %s + %s != %s", price, cost.Subtotal, cost.Shipping, cost.Taxes, cost.Total)
	}
}

func TestEstimate_FallbackShipping(t *testing.T) {
	tests := []struct {
		name  string
		quote *provider.ShippingQuote
		err   error
	}{
		{"provider error", nil, errors.New("boom")},
		{"timeout", nil, context.DeadlineExceeded},
		{"no quote", nil, provider.ErrNoQuote},
		{"nil quote", nil, nil},
		{"foreign currency", &provider.ShippingQuote{Rate: dec("3.00"), Currency: "EUR"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := new(mockCatalog)
			c.On("QuoteShipping", mock.Anything, mock.Anything, mock.Anything).Return(tt.quote, tt.err)
			e := newTestEstimator(c)

			entries := domain.Aggregate([]domain.LineItem{line("1", "M", 1, "10.00")})
			cost, err := e.Estimate(context.Background(), testRecipient(), entries)
			require.NoError(t, err)
			assert.True(t, cost.ShippingEstimated)
			assert.True(t, cost.Shipping.Equal(dec("5.99")))
			assert.True(t, cost.Total.Equal(dec("16.84")), cost.Total.String())
		})
	}
}

// slowCatalog answers QuoteShipping only when its context ends.
type slowCatalog struct {
	mockCatalog
}

func (s *slowCatalog) QuoteShipping(ctx context.Context, _ domain.Recipient, _ []domain.OrderItem) (*provider.ShippingQuote, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEstimate_QuoteTimeoutFallsBack(t *testing.T) {
	e := NewEstimator(&slowCatalog{}, EstimatorConfig{
		FallbackShipping: dec("5.99"),
		FallbackTaxRate:  dec("0.085"),
		QuoteTimeout:     10 * time.Millisecond,
	}, newTestLogger())

	entries := domain.Aggregate([]domain.LineItem{line("1", "M", 1, "10.00")})
	cost, err := e.Estimate(context.Background(), testRecipient(), entries)
	require.NoError(t, err)
	assert.True(t, cost.ShippingEstimated)
}

func TestEstimate_Validation(t *testing.T) {
	e := newTestEstimator(new(mockCatalog))
	entries := domain.Aggregate([]domain.LineItem{line("1", "M", 1, "10.00")})

	r := testRecipient()
	r.City = "   "
	_, err := e.Estimate(context.Background(), r, entries)
	var valErr *validator.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields(), "city")

	r = testRecipient()
	r.Email = "not-an-email"
	_, err = e.Estimate(context.Background(), r, entries)
	require.ErrorAs(t, err, &valErr)

	_, err = e.Estimate(context.Background(), testRecipient(), nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
