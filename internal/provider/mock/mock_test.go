package mock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/provider"
	apperrors "github.com/sundai-club/shop/pkg/errors"
)

var (
	_ provider.Catalog     = (*Catalog)(nil)
	_ provider.Payment     = (*Payment)(nil)
	_ provider.Fulfillment = (*Fulfillment)(nil)
)

func TestCatalog_GetProduct(t *testing.T) {
	c := NewCatalog()

	p, err := c.GetProduct(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, "SundAI Hoodie", p.Name)
	assert.Equal(t, []string{"S", "M", "L", "XL", "XXL"}, p.Labels())
	assert.True(t, p.Price.Equal(decimal.RequireFromString("59.99")))

	_, err = c.GetProduct(context.Background(), "99")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCatalog_ListProductsReturnsCopy(t *testing.T) {
	c := NewCatalog()
	products, err := c.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 4)

	products[0].Name = "changed"
	again, _ := c.ListProducts(context.Background())
	assert.Equal(t, "SundAI Classic Tee", again[0].Name)
}

func TestCatalog_QuoteShipping(t *testing.T) {
	c := NewCatalog()
	items := []domain.OrderItem{{ProductID: "1", Quantity: 1}}

	q, err := c.QuoteShipping(context.Background(), domain.Recipient{}, items)
	require.NoError(t, err)
	assert.True(t, q.Rate.Equal(DefaultShippingRate))

	_, err = c.QuoteShipping(context.Background(), domain.Recipient{}, nil)
	assert.ErrorIs(t, err, provider.ErrNoQuote)

	c.SetShipping(decimal.Zero, errors.New("down"))
	_, err = c.QuoteShipping(context.Background(), domain.Recipient{}, items)
	assert.EqualError(t, err, "down")
}

func TestPayment_CreateAndVerify(t *testing.T) {
	p := NewPayment("whsec", "http://shop.test/success?session_id={CHECKOUT_SESSION_ID}")

	s, err := p.CreateCheckoutSession(context.Background(), &provider.CheckoutSessionInput{CheckoutID: "c1"})
	require.NoError(t, err)
	assert.Contains(t, s.URL, s.ID)
	in, ok := p.Session(s.ID)
	require.True(t, ok)
	assert.Equal(t, "c1", in.CheckoutID)

	payload, _ := json.Marshal(Callback{EventID: "evt_1", SessionID: s.ID, Status: "paid"})
	ev, err := p.VerifyCallback(payload, Sign([]byte("whsec"), payload))
	require.NoError(t, err)
	assert.Equal(t, s.ID, ev.SessionID)
	assert.Equal(t, domain.PaymentPaid, ev.Status)
}

func TestPayment_VerifyCallbackRejectsBadSignature(t *testing.T) {
	p := NewPayment("whsec", "")
	payload := []byte(`{"session_id":"cs_1","status":"paid"}`)

	_, err := p.VerifyCallback(payload, Sign([]byte("other"), payload))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = p.VerifyCallback(payload, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestPayment_VerifyCallbackRejectsUnknownStatus(t *testing.T) {
	p := NewPayment("whsec", "")
	payload := []byte(`{"session_id":"cs_1","status":"refunded"}`)

	_, err := p.VerifyCallback(payload, Sign([]byte("whsec"), payload))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestFulfillment_CreateIsIdempotentByExternalID(t *testing.T) {
	f := NewFulfillment()
	ctx := context.Background()
	items := []domain.OrderItem{{ProductID: "1", Quantity: 2}}

	first, err := f.CreateOrder(ctx, "cs_1", items, domain.Recipient{})
	require.NoError(t, err)
	assert.False(t, first.Existing)
	assert.Equal(t, domain.FulfillmentDraft, first.Status)

	second, err := f.CreateOrder(ctx, "cs_1", items, domain.Recipient{})
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.ID, second.ID)
}

func TestFulfillment_ConfirmAndShip(t *testing.T) {
	f := NewFulfillment()
	ctx := context.Background()
	o, err := f.CreateOrder(ctx, "cs_1", nil, domain.Recipient{})
	require.NoError(t, err)

	confirmed, err := f.ConfirmOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentPending, confirmed.Status)

	require.NoError(t, f.Ship(o.ID, "1Z999", "https://track.test/1Z999"))
	got, err := f.GetOrderStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentFulfilled, got.Status)
	assert.Equal(t, "1Z999", got.TrackingNumber)

	_, err = f.ConfirmOrder(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
