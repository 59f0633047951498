package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sundai-club/shop/internal/config"
	"github.com/sundai-club/shop/internal/provider"
	mockprovider "github.com/sundai-club/shop/internal/provider/mock"
	"github.com/sundai-club/shop/internal/provider/printful"
	"github.com/sundai-club/shop/internal/provider/stripe"
	"github.com/sundai-club/shop/pkg/httpclient"
)

// providers is the set of external integrations selected by config.
type providers struct {
	catalog         provider.Catalog
	payment         provider.Payment
	fulfillment     provider.Fulfillment
	signatureHeader string
}

func buildProviders(cfg *config.Config, logger *slog.Logger) (*providers, error) {
	p := &providers{}

	var pf *printful.Client
	if cfg.CatalogProvider == config.ProviderPrintful || cfg.FulfillmentProvider == config.ProviderPrintful {
		// Printful calls are idempotent (reads, and orders keyed by external
		// id), so the retrying client is safe here.
		httpCfg := httpclient.DefaultConfig()
		httpCfg.Timeout = cfg.ProviderTimeout()
		pf = printful.New(
			httpclient.NewCircuitBreakerClient(httpclient.New(httpCfg), breakerConfig(cfg, "printful"), logger),
			printful.Config{
				BaseURL: cfg.PrintfulBaseURL,
				APIKey:  cfg.PrintfulAPIKey,
				StoreID: cfg.PrintfulStoreID,
			},
			logger,
		)
		logger.Info("printful provider initialized",
			slog.String("base_url", cfg.PrintfulBaseURL),
			slog.Bool("store_mode", cfg.PrintfulStoreID != ""),
		)
	}

	switch cfg.CatalogProvider {
	case config.ProviderPrintful:
		p.catalog = pf
	case config.ProviderMock:
		p.catalog = mockprovider.NewCatalog()
	default:
		return nil, fmt.Errorf("unknown catalog provider %q", cfg.CatalogProvider)
	}

	switch cfg.FulfillmentProvider {
	case config.ProviderPrintful:
		p.fulfillment = pf
	case config.ProviderMock:
		p.fulfillment = mockprovider.NewFulfillment()
	default:
		return nil, fmt.Errorf("unknown fulfillment provider %q", cfg.FulfillmentProvider)
	}

	switch cfg.PaymentProvider {
	case config.ProviderStripe:
		httpCfg := httpclient.NoRetryConfig()
		httpCfg.Timeout = cfg.ProviderTimeout()
		p.payment = stripe.New(
			httpclient.NewCircuitBreakerClient(httpclient.New(httpCfg), breakerConfig(cfg, "stripe"), logger),
			stripe.Config{
				BaseURL:        cfg.StripeBaseURL,
				SecretKey:      cfg.StripeSecretKey,
				PublishableKey: cfg.StripePublishableKey,
				WebhookSecret:  cfg.StripeWebhookSecret,
				SuccessURL:     cfg.CheckoutSuccessURL,
				CancelURL:      cfg.CheckoutCancelURL,
				Logger:         logger,
			},
		)
		p.signatureHeader = stripe.SignatureHeaderName
	case config.ProviderMock:
		p.payment = mockprovider.NewPayment(cfg.MockPaymentSecret, cfg.CheckoutSuccessURL)
		p.signatureHeader = mockprovider.SignatureHeaderName
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.PaymentProvider)
	}

	logger.Info("providers selected",
		slog.String("catalog", cfg.CatalogProvider),
		slog.String("payment", p.payment.Name()),
		slog.String("fulfillment", cfg.FulfillmentProvider),
	)
	return p, nil
}

func breakerConfig(cfg *config.Config, name string) httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
}
