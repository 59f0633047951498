package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/provider"
	apperrors "github.com/sundai-club/shop/pkg/errors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock catalog provider ---

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) ListProducts(ctx context.Context) ([]domain.Product, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Product), args.Error(1)
}

func (m *mockCatalog) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *mockCatalog) QuoteShipping(ctx context.Context, r domain.Recipient, items []domain.OrderItem) (*provider.ShippingQuote, error) {
	args := m.Called(ctx, r, items)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.ShippingQuote), args.Error(1)
}

func (m *mockCatalog) ListCountries(ctx context.Context) ([]domain.Country, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Country), args.Error(1)
}

// --- Mock cart repository ---

type mockCartRepository struct {
	mock.Mock
}

func (m *mockCartRepository) Add(ctx context.Context, session string, item domain.LineItem) error {
	return m.Called(ctx, session, item).Error(0)
}

func (m *mockCartRepository) Remove(ctx context.Context, session string, position int) error {
	return m.Called(ctx, session, position).Error(0)
}

func (m *mockCartRepository) RemovePositions(ctx context.Context, session string, positions []int) error {
	return m.Called(ctx, session, positions).Error(0)
}

func (m *mockCartRepository) List(ctx context.Context, session string) ([]domain.LineItem, error) {
	args := m.Called(ctx, session)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LineItem), args.Error(1)
}

func (m *mockCartRepository) Clear(ctx context.Context, session string) error {
	return m.Called(ctx, session).Error(0)
}

// --- Mock fulfillment provider ---

type mockFulfillment struct {
	mock.Mock
}

func (m *mockFulfillment) CreateOrder(ctx context.Context, externalID string, items []domain.OrderItem, r domain.Recipient) (*domain.FulfillmentOrder, error) {
	args := m.Called(ctx, externalID, items, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FulfillmentOrder), args.Error(1)
}

func (m *mockFulfillment) ConfirmOrder(ctx context.Context, id string) (*domain.FulfillmentOrder, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FulfillmentOrder), args.Error(1)
}

func (m *mockFulfillment) GetOrderStatus(ctx context.Context, id string) (*domain.FulfillmentOrder, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FulfillmentOrder), args.Error(1)
}

// --- In-memory checkout repository with compare-and-set updates ---

type memCheckouts struct {
	mu        sync.Mutex
	byID      map[string]domain.Checkout
	updateErr error
}

func newMemCheckouts() *memCheckouts {
	return &memCheckouts{byID: make(map[string]domain.Checkout)}
}

func (r *memCheckouts) Create(_ context.Context, c *domain.Checkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Version = 1
	r.byID[c.ID] = *c
	return nil
}

func (r *memCheckouts) GetByID(_ context.Context, id string) (*domain.Checkout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NotFound("checkout", id)
	}
	return &c, nil
}

func (r *memCheckouts) GetByPaymentSession(_ context.Context, sid string) (*domain.Checkout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.PaymentSessionID == sid {
			return &c, nil
		}
	}
	return nil, apperrors.NotFound("checkout", sid)
}

func (r *memCheckouts) GetLatestBySession(_ context.Context, session string) (*domain.Checkout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Checkout
	for _, c := range r.byID {
		if c.CartSession != session {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			c := c
			latest = &c
		}
	}
	if latest == nil {
		return nil, apperrors.NotFound("checkout", session)
	}
	return latest, nil
}

func (r *memCheckouts) ListByEmail(_ context.Context, email string, limit, offset int) ([]domain.Checkout, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []domain.Checkout
	for _, c := range r.byID {
		if c.CustomerEmail() == email {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return []domain.Checkout{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (r *memCheckouts) Update(_ context.Context, c *domain.Checkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	stored, ok := r.byID[c.ID]
	if !ok || stored.Version != c.Version {
		return apperrors.Conflict("checkout was modified concurrently")
	}
	c.Version++
	r.byID[c.ID] = *c
	return nil
}

func (r *memCheckouts) get(id string) domain.Checkout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// --- Fake cart source ---

type fakeCart struct {
	mu      sync.Mutex
	entries []domain.AggregatedEntry
	lines   []domain.LineItem
	cleared []string
}

func newFakeCart(products map[string]*domain.Product, lines ...domain.LineItem) *fakeCart {
	entries := domain.Aggregate(lines)
	for i := range entries {
		entries[i].Product = products[entries[i].ProductID]
	}
	return &fakeCart{entries: entries, lines: lines}
}

func (c *fakeCart) Entries(_ context.Context, _ string) ([]domain.AggregatedEntry, []domain.LineItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries, c.lines, nil
}

func (c *fakeCart) Clear(_ context.Context, session string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, session)
	c.entries, c.lines = nil, nil
	return nil
}

// --- Recording event publisher ---

type recordingEvents struct {
	mu      sync.Mutex
	names   []string
	retries []string
}

func (e *recordingEvents) add(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
	return nil
}

func (e *recordingEvents) PublishPaymentConfirmed(context.Context, *domain.Checkout) error {
	return e.add("payment_confirmed")
}

func (e *recordingEvents) PublishCheckoutFailed(context.Context, *domain.Checkout, string) error {
	return e.add("checkout_failed")
}

func (e *recordingEvents) PublishFulfillmentCreated(context.Context, *domain.Checkout) error {
	return e.add("fulfillment_created")
}

func (e *recordingEvents) PublishFulfillmentConfirmed(context.Context, *domain.Checkout) error {
	return e.add("fulfillment_confirmed")
}

func (e *recordingEvents) PublishFulfillmentFailed(_ context.Context, _ *domain.Checkout, _ string, retryable bool) error {
	if retryable {
		return e.add("fulfillment_failed_retryable")
	}
	return e.add("fulfillment_failed")
}

func (e *recordingEvents) RequestFulfillmentRetry(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retries = append(e.retries, id)
	return nil
}

func (e *recordingEvents) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.names...)
}
