package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sundai-club/shop/internal/service"
	"github.com/sundai-club/shop/pkg/health"
	"github.com/sundai-club/shop/pkg/middleware"
)

// Services are the application services the router exposes.
type Services struct {
	Catalog  *service.CatalogService
	Cart     *service.CartService
	Checkout *service.CheckoutService
}

// RouterConfig holds the HTTP-facing settings.
type RouterConfig struct {
	ServiceName    string
	RequestTimeout time.Duration
	PprofCIDRs     []string
	CORS           middleware.CORSConfig
	Session        middleware.SessionConfig

	// CatalogMaxAge is the Cache-Control max-age for catalog responses.
	CatalogMaxAge int

	// Checkout endpoints are rate limited per client IP.
	CheckoutRPS   float64
	CheckoutBurst int

	// SignatureHeader carries the payment provider's callback signature.
	SignatureHeader string

	// OperatorTokens validates bearer tokens on /api/admin.
	OperatorTokens middleware.TokenValidator
}

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(svcs Services, healthHandler *health.Handler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health", healthHandler.LivenessHandler())
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	catalogHandler := NewCatalogHandler(svcs.Catalog, logger)
	cartHandler := NewCartHandler(svcs.Cart, logger)
	checkoutHandler := NewCheckoutHandler(svcs.Checkout, cfg.SignatureHeader, logger)
	checkoutLimit := middleware.RateLimit(cfg.CheckoutRPS, cfg.CheckoutBurst, logger)

	r.Route("/api", func(r chi.Router) {
		// Payment provider callbacks carry no cart session.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequestLogger(logger))
			r.Use(middleware.NoStore)
			r.Post("/checkout-confirm", checkoutHandler.ConfirmPayment)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.CacheControl(cfg.CatalogMaxAge))
			r.Use(middleware.RequestLogger(logger))

			r.Get("/products", catalogHandler.ListProducts)
			r.Get("/products/category/{category}", catalogHandler.ListByCategory)
			r.Get("/products/{id}", catalogHandler.GetProduct)
			r.Get("/countries", catalogHandler.ListCountries)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Session(cfg.Session))
			r.Use(middleware.RequestLogger(logger))
			r.Use(middleware.NoStore)

			r.Get("/cart", cartHandler.GetCart)
			r.Post("/cart", cartHandler.AddItem)
			r.Delete("/cart", cartHandler.ClearCart)
			r.Delete("/cart/{position}", cartHandler.RemoveLine)
			r.Post("/cart/groups/{index}/increment", cartHandler.IncrementGroup)
			r.Post("/cart/groups/{index}/decrement", cartHandler.DecrementGroup)
			r.Delete("/cart/groups/{index}", cartHandler.RemoveGroup)

			r.With(checkoutLimit).Post("/cost-estimate", checkoutHandler.EstimateCost)
			r.With(checkoutLimit).Post("/checkout-session", checkoutHandler.CreatePaymentSession)
			r.Get("/checkout/{sessionId}", checkoutHandler.GetCheckout)
			r.With(checkoutLimit).Get("/orders", checkoutHandler.ListOrders)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.OperatorTokens))
			r.Use(middleware.RequireRole("operator"))
			r.Use(middleware.RequestLogger(logger))
			r.Use(middleware.NoStore)

			r.Post("/checkouts/{id}/retry-fulfillment", checkoutHandler.RetryFulfillment)
			r.Post("/checkouts/{id}/refresh-status", checkoutHandler.RefreshFulfillmentStatus)
		})
	})

	return r
}
