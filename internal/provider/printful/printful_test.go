package printful

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/provider"
	apperrors "github.com/sundai-club/shop/pkg/errors"
	"github.com/sundai-club/shop/pkg/httpclient"
)

var (
	_ provider.Catalog     = (*Client)(nil)
	_ provider.Fulfillment = (*Client)(nil)
)

func writeResult(w http.ResponseWriter, status int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": status, "result": result})
}

func writeNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"code":404,"result":"Not found","error":{"reason":"NotFound","message":"Not found"}}`))
}

func newTestClient(t *testing.T, r http.Handler, storeID string) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(httpclient.New(httpclient.NoRetryConfig()), Config{BaseURL: srv.URL, APIKey: "key", StoreID: storeID}, logger)
}

func storeRouter() chi.Router {
	r := chi.NewRouter()
	r.Get("/store/products", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, http.StatusOK, []map[string]any{{"id": 11}, {"id": 12}})
	})
	r.Get("/store/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "id") {
		case "11":
			writeResult(w, http.StatusOK, map[string]any{
				"sync_product": map[string]any{"id": 11, "name": "SundAI Tee", "thumbnail_url": "https://img/tee.png"},
				"sync_variants": []map[string]any{
					{"id": 1, "name": "SundAI Tee / S", "size": "S", "retail_price": "25.00", "variant_id": 4011, "product": map[string]any{"product_id": 71}},
					{"id": 2, "name": "SundAI Tee / XL", "size": "XL", "retail_price": "27.50", "variant_id": 4014, "product": map[string]any{"product_id": 71}},
				},
			})
		case "12":
			writeResult(w, http.StatusOK, map[string]any{
				"sync_product":  map[string]any{"id": 12, "name": "SundAI Mug"},
				"sync_variants": []map[string]any{{"id": 3, "name": "SundAI Mug / 11 oz", "retail_price": "12.00", "variant_id": 1320, "product": map[string]any{"product_id": 19, "image": "https://img/mug.png"}}},
			})
		default:
			writeNotFound(w)
		}
	})
	r.Get("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "id") {
		case "71":
			writeResult(w, http.StatusOK, map[string]any{"product": map[string]any{"id": 71, "type_name": "T-Shirt", "description": "Soft tee"}})
		case "19":
			writeResult(w, http.StatusOK, map[string]any{"product": map[string]any{"id": 19, "type_name": "Mug", "description": "Ceramic"}})
		default:
			writeNotFound(w)
		}
	})
	return r
}

func TestListProducts_StoreProducts(t *testing.T) {
	c := newTestClient(t, storeRouter(), "42")

	products, err := c.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)

	tee := products[0]
	assert.Equal(t, "11", tee.ID)
	assert.Equal(t, "apparel", tee.Category)
	assert.Equal(t, "Soft tee", tee.Description)
	assert.True(t, tee.InStock)
	assert.Equal(t, []string{"S", "XL"}, tee.Labels())
	assert.True(t, tee.Price.Equal(decimal.RequireFromString("25.00")))

	xl, ok := tee.PriceFor("XL")
	require.True(t, ok)
	assert.True(t, xl.Equal(decimal.RequireFromString("27.50")))
	v, _ := tee.Variant("S")
	assert.Equal(t, "4011", v.ExternalID)

	mug := products[1]
	assert.Equal(t, "accessories", mug.Category)
	assert.Equal(t, []string{"11 oz"}, mug.Labels())
	assert.Equal(t, "https://img/mug.png", mug.ImageURL)
}

func TestListProducts_SendsStoreHeaderAndAuth(t *testing.T) {
	var sawStore, sawAuth atomic.Bool
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sawStore.Store(req.Header.Get("X-PF-Store-Id") == "42")
			sawAuth.Store(req.Header.Get("Authorization") == "Bearer key")
			next.ServeHTTP(w, req)
		})
	})
	r.Mount("/", storeRouter())
	c := newTestClient(t, r, "42")

	_, err := c.ListProducts(context.Background())
	require.NoError(t, err)
	assert.True(t, sawStore.Load())
	assert.True(t, sawAuth.Load())
}

func TestListProducts_FallsBackToCatalog(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/store/products", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	r.Get("/products", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, http.StatusOK, []map[string]any{
			{"id": 71, "title": "Unisex Tee"},
			{"id": 99, "title": "Old", "is_discontinued": true},
		})
	})
	r.Get("/products/71", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, http.StatusOK, map[string]any{
			"product": map[string]any{"id": 71, "title": "Unisex Tee", "type_name": "T-Shirt"},
			"variants": []map[string]any{
				{"id": 4011, "size": "S", "price": "9.25", "in_stock": true},
				{"id": 4012, "size": "M", "price": "9.25", "in_stock": false},
			},
		})
	})
	c := newTestClient(t, r, "42")

	products, err := c.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Unisex Tee", products[0].Name)
	assert.Equal(t, []string{"S", "M"}, products[0].Labels())
	assert.Nil(t, products[0].Variants[1].Price)
}

func TestGetProduct_UnknownIsNotFound(t *testing.T) {
	c := newTestClient(t, storeRouter(), "42")

	_, err := c.GetProduct(context.Background(), "500")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = c.GetProduct(context.Background(), "../etc")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestQuoteShipping_PicksCheapestRate(t *testing.T) {
	var got shippingRequest
	r := chi.NewRouter()
	r.Post("/shipping/rates", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeResult(w, http.StatusOK, []map[string]any{
			{"id": "EXPRESS", "rate": "14.10", "currency": "USD"},
			{"id": "STANDARD", "rate": "4.99", "currency": "usd"},
		})
	})
	c := newTestClient(t, r, "")

	q, err := c.QuoteShipping(context.Background(),
		domain.Recipient{AddressLine: "1 Main St", City: "Boston", State: "MA", PostalCode: "02110", CountryCode: "US"},
		[]domain.OrderItem{{ExternalVariantID: "4011", Quantity: 2}},
	)
	require.NoError(t, err)
	assert.Equal(t, "STANDARD", q.Method)
	assert.Equal(t, "USD", q.Currency)
	assert.True(t, q.Rate.Equal(decimal.RequireFromString("4.99")))
	assert.Equal(t, "US", got.Recipient.CountryCode)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
}

func TestQuoteShipping_NoRates(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/shipping/rates", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, http.StatusOK, []map[string]any{})
	})
	c := newTestClient(t, r, "")

	_, err := c.QuoteShipping(context.Background(), domain.Recipient{}, []domain.OrderItem{{ExternalVariantID: "1", Quantity: 1}})
	assert.ErrorIs(t, err, provider.ErrNoQuote)

	_, err = c.QuoteShipping(context.Background(), domain.Recipient{}, []domain.OrderItem{{Quantity: 1}})
	assert.ErrorIs(t, err, provider.ErrNoQuote)
}

func TestCreateOrder_ReturnsExistingOrder(t *testing.T) {
	var posted atomic.Bool
	r := chi.NewRouter()
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "@cs_1", chi.URLParam(r, "id"))
		writeResult(w, http.StatusOK, map[string]any{"id": 77, "external_id": "cs_1", "status": "pending"})
	})
	r.Post("/orders", func(w http.ResponseWriter, r *http.Request) {
		posted.Store(true)
	})
	c := newTestClient(t, r, "")

	o, err := c.CreateOrder(context.Background(), "cs_1", nil, domain.Recipient{})
	require.NoError(t, err)
	assert.True(t, o.Existing)
	assert.Equal(t, "77", o.ID)
	assert.Equal(t, domain.FulfillmentPending, o.Status)
	assert.False(t, posted.Load())
}

func TestCreateOrder_CreatesDraft(t *testing.T) {
	var got orderRequest
	r := chi.NewRouter()
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) { writeNotFound(w) })
	r.Post("/orders", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeResult(w, http.StatusOK, map[string]any{"id": 78, "external_id": got.ExternalID, "status": "draft"})
	})
	c := newTestClient(t, r, "")

	items := []domain.OrderItem{{ProductID: "11", VariantLabel: "S", ExternalVariantID: "4011", Name: "SundAI Tee (S)", Quantity: 2, UnitPrice: decimal.RequireFromString("25")}}
	o, err := c.CreateOrder(context.Background(), "cs_2", items,
		domain.Recipient{Name: "Ada", Email: "ada@example.com", CountryCode: "US"})
	require.NoError(t, err)
	assert.False(t, o.Existing)
	assert.Equal(t, "78", o.ID)
	assert.Equal(t, domain.FulfillmentDraft, o.Status)
	assert.Equal(t, items, o.Items)

	assert.Equal(t, "cs_2", got.ExternalID)
	assert.Equal(t, "ada@example.com", got.Recipient.Email)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "25.00", got.Items[0].RetailPrice)
	assert.Equal(t, "4011", got.Items[0].VariantID)
}

func TestCreateOrder_RejectedReturnsExistingAfterRace(t *testing.T) {
	var lookups atomic.Int32
	r := chi.NewRouter()
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if lookups.Add(1) == 1 {
			writeNotFound(w)
			return
		}
		writeResult(w, http.StatusOK, map[string]any{"id": 79, "external_id": "cs_3", "status": "draft"})
	})
	r.Post("/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":400,"result":"External ID already exists"}`))
	})
	c := newTestClient(t, r, "")

	o, err := c.CreateOrder(context.Background(), "cs_3", nil, domain.Recipient{})
	require.NoError(t, err)
	assert.True(t, o.Existing)
	assert.Equal(t, "79", o.ID)
}

func TestCreateOrder_ProviderDown(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := newTestClient(t, r, "")

	_, err := c.CreateOrder(context.Background(), "cs_4", nil, domain.Recipient{})
	require.Error(t, err)
	assert.True(t, httpclient.IsTransient(err))
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
}

func TestConfirmAndStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/orders/78/confirm", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, http.StatusOK, map[string]any{"id": 78, "status": "inprocess"})
	})
	r.Get("/orders/78", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, http.StatusOK, map[string]any{"id": 78, "status": "fulfilled", "shipments": []map[string]any{
			{"tracking_number": "OLD", "tracking_url": "https://t/old"},
			{"tracking_number": "1Z999", "tracking_url": "https://t/1Z999"},
		}})
	})
	c := newTestClient(t, r, "")

	o, err := c.ConfirmOrder(context.Background(), "78")
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentConfirmed, o.Status)

	o, err = c.GetOrderStatus(context.Background(), "78")
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentFulfilled, o.Status)
	assert.Equal(t, "1Z999", o.TrackingNumber)
}

func TestListCountries_SortedByName(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/countries", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, http.StatusOK, []map[string]any{{"code": "US", "name": "United States"}, {"code": "CA", "name": "Canada"}})
	})
	c := newTestClient(t, r, "")

	countries, err := c.ListCountries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Country{{Code: "CA", Name: "Canada"}, {Code: "US", Name: "United States"}}, countries)
}

func TestMapStatus(t *testing.T) {
	tests := map[string]domain.FulfillmentStatus{
		"draft":     domain.FulfillmentDraft,
		"pending":   domain.FulfillmentPending,
		"onhold":    domain.FulfillmentConfirmed,
		"fulfilled": domain.FulfillmentFulfilled,
		"failed":    domain.FulfillmentFailed,
		"archived":  domain.FulfillmentCanceled,
		"whatever":  domain.FulfillmentPending,
	}
	for in, want := range tests {
		assert.Equal(t, want, mapStatus(in), in)
	}
}

func TestSpanPath(t *testing.T) {
	assert.Equal(t, "/orders/{id}/confirm", spanPath("/orders/78/confirm"))
	assert.Equal(t, "/orders/{id}", spanPath("/orders/@cs_1"))
	assert.Equal(t, "/store/products", spanPath("/store/products?limit=100"))
}
