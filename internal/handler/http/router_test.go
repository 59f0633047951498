package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/pkg/health"
)

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)

		var resp health.Response
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, health.StatusUp, resp.Status, path)
	}

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	var resp health.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "storefront-test", resp.Service)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/products", "", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/api/products",service="storefront-test",status="200"}`)
}

func TestPprof_RejectsOutsideAllowlist(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/cart", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://shop.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCheckoutRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *RouterConfig) {
		cfg.CheckoutRPS = 0.01
		cfg.CheckoutBurst = 2
	})
	addItem(t, ts, testSession, "1", "M", 1)

	codes := make([]int, 0, 3)
	for range 3 {
		rec := ts.do(t, http.MethodPost, "/api/cost-estimate", testSession, testRecipient())
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Cart routes are not limited.
	rec := ts.do(t, http.MethodGet, "/api/cart", testSession, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func adminRequest(t *testing.T, ts *testServer, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutes_RequireOperator(t *testing.T) {
	ts := newTestServer(t)
	path := "/api/admin/checkouts/abc/retry-fulfillment"

	rec := adminRequest(t, ts, path, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = adminRequest(t, ts, path, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = adminRequest(t, ts, path, operatorToken(t, "customer"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = adminRequest(t, ts, path, operatorToken(t, "operator"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRetryFulfillment(t *testing.T) {
	ts := newTestServer(t)
	ps := startCheckout(t, ts)
	token := operatorToken(t, "operator")

	// Not paid yet.
	rec := adminRequest(t, ts, "/api/admin/checkouts/"+ps.CheckoutID+"/retry-fulfillment", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.fulfillment.FailCreate(assert.AnError)
	require.Equal(t, http.StatusOK, confirm(t, ts, ps.SessionID, "paid").Code)

	rec = adminRequest(t, ts, "/api/admin/checkouts/"+ps.CheckoutID+"/retry-fulfillment", token)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "FULFILLMENT_RETRYABLE", decodeError(t, rec).Code)

	ts.fulfillment.FailCreate(nil)
	rec = adminRequest(t, ts, "/api/admin/checkouts/"+ps.CheckoutID+"/retry-fulfillment", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StateFulfillmentConfirmed, decodeData[domain.Checkout](t, rec).State)
}

func TestAdminRefreshStatus(t *testing.T) {
	ts := newTestServer(t)
	ps := startCheckout(t, ts)
	require.Equal(t, http.StatusOK, confirm(t, ts, ps.SessionID, "paid").Code)
	c, err := ts.checkouts.GetByID(t.Context(), ps.CheckoutID)
	require.NoError(t, err)
	require.NoError(t, ts.fulfillment.Ship(c.FulfillmentOrderID, "1Z1", "https://track.test/1Z1"))

	rec := adminRequest(t, ts, "/api/admin/checkouts/"+ps.CheckoutID+"/refresh-status", operatorToken(t, "operator"))

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[domain.Checkout](t, rec)
	assert.Equal(t, domain.FulfillmentFulfilled, got.FulfillmentStatus)
	assert.Equal(t, "1Z1", got.TrackingNumber)
}
