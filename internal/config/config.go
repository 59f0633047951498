package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	pkgconfig "github.com/sundai-club/shop/pkg/config"
	"github.com/sundai-club/shop/pkg/database"
)

// Provider modes.
const (
	ProviderMock     = "mock"
	ProviderPrintful = "printful"
	ProviderStripe   = "stripe"
)

// Config holds all configuration for the storefront service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort              int `env:"HTTP_PORT" envDefault:"8080"`
	RequestTimeoutSeconds int `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"30"`

	// PostgreSQL. DATABASE_URL wins over the discrete settings when set.
	DatabaseURL  string `env:"DATABASE_URL"`
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"storefront"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"storefront_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"storefront"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// Redis. REDIS_URL wins over REDIS_ADDR when set.
	RedisURL  string `env:"REDIS_URL"`
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Cart TTL in hours (default: 7 days)
	CartTTLHours int `env:"CART_TTL_HOURS" envDefault:"168"`

	// Session cookie
	SessionCookieSecure bool `env:"SESSION_COOKIE_SECURE" envDefault:"false"`

	// Kafka. When disabled, domain events are dropped and fulfillment
	// retries are operator driven only.
	KafkaEnabled        bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers        []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaConsumerGroup  string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"storefront-fulfillment-retry"`
	KafkaMaxRetries     int      `env:"KAFKA_MAX_RETRIES" envDefault:"3"`
	IdempotencyTTLHours int      `env:"IDEMPOTENCY_TTL_HOURS" envDefault:"24"`

	// Providers
	CatalogProvider     string `env:"CATALOG_PROVIDER" envDefault:"mock"`
	PaymentProvider     string `env:"PAYMENT_PROVIDER" envDefault:"mock"`
	FulfillmentProvider string `env:"FULFILLMENT_PROVIDER" envDefault:"mock"`

	// Per-call timeout for payment and fulfillment providers.
	ProviderTimeoutSeconds int `env:"PROVIDER_TIMEOUT_SECONDS" envDefault:"10"`
	// Shipping quotes get a shorter budget since estimation falls back.
	QuoteTimeoutSeconds int `env:"SHIPPING_QUOTE_TIMEOUT_SECONDS" envDefault:"5"`

	// Printful
	PrintfulBaseURL string `env:"PRINTFUL_BASE_URL" envDefault:"https://api.printful.com"`
	PrintfulAPIKey  string `env:"PRINTFUL_API_KEY"`
	PrintfulStoreID string `env:"PRINTFUL_STORE_ID"`

	// Stripe
	StripeBaseURL        string `env:"STRIPE_BASE_URL" envDefault:"https://api.stripe.com"`
	StripeSecretKey      string `env:"STRIPE_SECRET_KEY"`
	StripePublishableKey string `env:"STRIPE_PUBLISHABLE_KEY"`
	StripeWebhookSecret  string `env:"STRIPE_WEBHOOK_SECRET"`

	// Mock payment page
	MockPaymentSecret string `env:"MOCK_PAYMENT_SECRET" envDefault:"mock-webhook-secret"`

	// Hosted payment page redirects. {CHECKOUT_SESSION_ID} is substituted.
	CheckoutSuccessURL string `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:3000/success?session_id={CHECKOUT_SESSION_ID}"`
	CheckoutCancelURL  string `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:3000/cart"`

	// Cost estimation fallbacks
	FallbackShipping decimal.Decimal `env:"FALLBACK_SHIPPING" envDefault:"5.99"`
	FallbackTaxRate  decimal.Decimal `env:"FALLBACK_TAX_RATE" envDefault:"0.085"`

	// Catalog cache
	CatalogCacheTTLSeconds int `env:"CATALOG_CACHE_TTL_SECONDS" envDefault:"300"`
	CatalogMaxAgeSeconds   int `env:"CATALOG_MAX_AGE_SECONDS" envDefault:"60"`

	// Circuit breaker settings for provider calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Checkout rate limiting, per client IP
	CheckoutRPS   float64 `env:"CHECKOUT_RATE_LIMIT_RPS" envDefault:"2"`
	CheckoutBurst int     `env:"CHECKOUT_RATE_LIMIT_BURST" envDefault:"10"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Operator API. Admin routes reject every token while unset.
	OperatorJWTSecret string `env:"OPERATOR_JWT_SECRET"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.DatabaseURL == "" && (c.PostgresHost == "" || c.PostgresUser == "") {
		return errors.New("DATABASE_URL or POSTGRES_HOST and POSTGRES_USER are required")
	}
	if c.RedisURL == "" && c.RedisAddr == "" {
		return errors.New("REDIS_URL or REDIS_ADDR is required")
	}
	if c.CartTTLHours < 1 {
		return fmt.Errorf("CART_TTL_HOURS must be positive, got %d", c.CartTTLHours)
	}

	if err := oneOf("CATALOG_PROVIDER", c.CatalogProvider, ProviderMock, ProviderPrintful); err != nil {
		return err
	}
	if err := oneOf("PAYMENT_PROVIDER", c.PaymentProvider, ProviderMock, ProviderStripe); err != nil {
		return err
	}
	if err := oneOf("FULFILLMENT_PROVIDER", c.FulfillmentProvider, ProviderMock, ProviderPrintful); err != nil {
		return err
	}
	if (c.CatalogProvider == ProviderPrintful || c.FulfillmentProvider == ProviderPrintful) && c.PrintfulAPIKey == "" {
		return errors.New("PRINTFUL_API_KEY is required for the printful provider")
	}
	switch c.PaymentProvider {
	case ProviderStripe:
		if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
			return errors.New("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required for the stripe provider")
		}
	case ProviderMock:
		if c.IsProduction() {
			return errors.New("the mock payment provider cannot be used in production")
		}
		if c.MockPaymentSecret == "" {
			return errors.New("MOCK_PAYMENT_SECRET is required for the mock payment provider")
		}
	}

	for name, rawURL := range map[string]string{
		"CHECKOUT_SUCCESS_URL": c.CheckoutSuccessURL,
		"CHECKOUT_CANCEL_URL":  c.CheckoutCancelURL,
		"PRINTFUL_BASE_URL":    c.PrintfulBaseURL,
		"STRIPE_BASE_URL":      c.StripeBaseURL,
	} {
		if rawURL == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, rawURL, err)
		}
	}

	if c.ProviderTimeoutSeconds < 1 || c.QuoteTimeoutSeconds < 1 || c.RequestTimeoutSeconds < 1 {
		return errors.New("PROVIDER_TIMEOUT_SECONDS, SHIPPING_QUOTE_TIMEOUT_SECONDS and REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.FallbackShipping.IsNegative() {
		return fmt.Errorf("FALLBACK_SHIPPING must not be negative, got %s", c.FallbackShipping)
	}
	if c.FallbackTaxRate.IsNegative() || c.FallbackTaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("FALLBACK_TAX_RATE must be in [0, 1), got %s", c.FallbackTaxRate)
	}
	if c.CatalogCacheTTLSeconds < 0 || c.CatalogMaxAgeSeconds < 0 {
		return errors.New("catalog cache settings must not be negative")
	}

	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.KafkaMaxRetries < 0 {
		return fmt.Errorf("KAFKA_MAX_RETRIES must not be negative, got %d", c.KafkaMaxRetries)
	}
	if c.CheckoutRPS <= 0 || c.CheckoutBurst < 1 {
		return errors.New("CHECKOUT_RATE_LIMIT_RPS and CHECKOUT_RATE_LIMIT_BURST must be positive")
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1.0 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0, 1], got %f", c.CBFailureRatio)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

func oneOf(name, value string, allowed ...string) error {
	if !slices.Contains(allowed, value) {
		return fmt.Errorf("%s must be one of %v, got %q", name, allowed, value)
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Postgres returns the connection pool settings.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		URL:             c.DatabaseURL,
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the Redis client settings.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		URL:          c.RedisURL,
		Addr:         c.RedisAddr,
		Password:     c.RedisPass,
		DB:           c.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// CartTTL is how long an idle cart survives.
func (c *Config) CartTTL() time.Duration {
	return time.Duration(c.CartTTLHours) * time.Hour
}

// ProviderTimeout bounds each payment and fulfillment provider call.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}
