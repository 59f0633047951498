package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/event"
	mockprovider "github.com/sundai-club/shop/internal/provider/mock"
	redisrepo "github.com/sundai-club/shop/internal/repository/redis"
	"github.com/sundai-club/shop/internal/service"
	apperrors "github.com/sundai-club/shop/pkg/errors"
	"github.com/sundai-club/shop/pkg/health"
	"github.com/sundai-club/shop/pkg/httputil"
	"github.com/sundai-club/shop/pkg/middleware"
)

const (
	testWebhookSecret  = "whsec_handler"
	testOperatorSecret = "operator-secret"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// =============================================================================
// In-memory checkout repository
// =============================================================================

type memCheckouts struct {
	mu   sync.Mutex
	byID map[string]domain.Checkout
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
	if c, ok := r.byID[id]; ok {
		return &c, nil
	}
	return nil, apperrors.NotFound("checkout", id)
}

func (r *memCheckouts) GetByPaymentSession(_ context.Context, sid string) (*domain.Checkout, error) {
	return r.find(func(c domain.Checkout) bool { return c.PaymentSessionID == sid }, sid)
}

func (r *memCheckouts) GetLatestBySession(_ context.Context, session string) (*domain.Checkout, error) {
	return r.find(func(c domain.Checkout) bool { return c.CartSession == session }, session)
}

// find returns the newest checkout matching fn.
func (r *memCheckouts) find(fn func(domain.Checkout) bool, key string) (*domain.Checkout, error) {
	all := r.filter(fn)
	if len(all) == 0 {
		return nil, apperrors.NotFound("checkout", key)
	}
	return &all[0], nil
}

func (r *memCheckouts) filter(fn func(domain.Checkout) bool) []domain.Checkout {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Checkout
	for _, c := range r.byID {
		if fn(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memCheckouts) ListByEmail(_ context.Context, email string, limit, offset int) ([]domain.Checkout, int, error) {
	all := r.filter(func(c domain.Checkout) bool { return c.CustomerEmail() == email })
	if offset >= len(all) {
		return []domain.Checkout{}, len(all), nil
	}
	return all[offset:min(offset+limit, len(all))], len(all), nil
}

func (r *memCheckouts) Update(_ context.Context, c *domain.Checkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[c.ID]
	if !ok || stored.Version != c.Version {
		return apperrors.Conflict("checkout was modified concurrently")
	}
	c.Version++
	r.byID[c.ID] = *c
	return nil
}

// =============================================================================
// Test server
// =============================================================================

type testServer struct {
	router      http.Handler
	payment     *mockprovider.Payment
	fulfillment *mockprovider.Fulfillment
	checkouts   *memCheckouts
}

func newTestServer(t *testing.T, opts ...func(*RouterConfig)) *testServer {
	t.Helper()
	logger := testLogger()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	catalog := mockprovider.NewCatalog()
	catalogSvc := service.NewCatalogService(catalog, service.CatalogConfig{TTL: time.Minute, Timeout: time.Second}, logger)
	cartSvc := service.NewCartService(redisrepo.NewCartRepository(client, time.Hour), catalogSvc, logger)

	ts := &testServer{
		payment:     mockprovider.NewPayment(testWebhookSecret, "https://shop.test/success?session_id={CHECKOUT_SESSION_ID}"),
		fulfillment: mockprovider.NewFulfillment(),
		checkouts:   &memCheckouts{byID: make(map[string]domain.Checkout)},
	}
	checkoutSvc := service.NewCheckoutService(
		ts.checkouts,
		cartSvc,
		service.NewEstimator(catalog, service.DefaultEstimatorConfig(), logger),
		ts.payment,
		ts.fulfillment,
		event.Nop{},
		service.CheckoutConfig{ProviderTimeout: time.Second},
		logger,
	)

	cfg := RouterConfig{
		ServiceName:     "storefront-test",
		PprofCIDRs:      []string{"127.0.0.0/8"},
		CORS:            middleware.DefaultCORSConfig(),
		Session:         middleware.SessionConfig{CookieMaxAge: time.Hour},
		CatalogMaxAge:   60,
		CheckoutRPS:     100,
		CheckoutBurst:   100,
		SignatureHeader: mockprovider.SignatureHeaderName,
		OperatorTokens:  middleware.HMACValidator([]byte(testOperatorSecret)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	services := Services{Catalog: catalogSvc, Cart: cartSvc, Checkout: checkoutSvc}
	ts.router = NewRouter(services, health.NewHandler("storefront-test"), cfg, logger)
	return ts
}

// do sends a request with an optional JSON body and cart session.
func (ts *testServer) do(t *testing.T, method, path, session string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(middleware.SessionHeader, session)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

type envelope[T any] struct {
	Data  T                       `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), rec.Body.String())
	require.Nil(t, env.Error)
	return env.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *httputil.ErrorResponse {
	t.Helper()
	var env envelope[json.RawMessage]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.NotNil(t, env.Error, "expected an error envelope")
	return env.Error
}

func operatorToken(t *testing.T, role string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops@sundai.club",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testOperatorSecret))
	require.NoError(t, err)
	return tok
}

func testRecipient() domain.Recipient {
	return domain.Recipient{
		Name:        "Ada Lovelace",
		Email:       "ada@example.com",
		AddressLine: "1 Main St",
		City:        "Boston",
		State:       "MA",
		PostalCode:  "02110",
		CountryCode: "US",
	}
}
