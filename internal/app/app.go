package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sundai-club/shop/internal/config"
	"github.com/sundai-club/shop/internal/event"
	handler "github.com/sundai-club/shop/internal/handler/http"
	"github.com/sundai-club/shop/internal/repository/postgres"
	redisrepo "github.com/sundai-club/shop/internal/repository/redis"
	"github.com/sundai-club/shop/internal/service"
	"github.com/sundai-club/shop/migrations"
	"github.com/sundai-club/shop/pkg/database"
	"github.com/sundai-club/shop/pkg/health"
	pkgkafka "github.com/sundai-club/shop/pkg/kafka"
	"github.com/sundai-club/shop/pkg/middleware"
	"github.com/sundai-club/shop/pkg/tracing"
)

const serviceName = "storefront"

var errOperatorAccessDisabled = errors.New("operator access is not configured")

// App wires together all dependencies and runs the storefront service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	retryConsumer  *pkgkafka.Consumer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := cfg.Postgres()
	a.pool, err = database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, a.pool, serviceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, a.pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Initialize Redis for carts and consumer idempotency.
	a.redisClient, err = database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))

	prov, err := buildProviders(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Kafka is optional. Without it events are dropped and fulfillment
	// retries are only triggered by operators.
	var events service.EventPublisher = event.Nop{}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		events = event.NewProducer(a.producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	catalogService := service.NewCatalogService(prov.catalog, service.CatalogConfig{
		Provider: cfg.CatalogProvider,
		TTL:      time.Duration(cfg.CatalogCacheTTLSeconds) * time.Second,
		Timeout:  cfg.ProviderTimeout(),
	}, logger)
	cartService := service.NewCartService(
		redisrepo.NewCartRepository(a.redisClient, cfg.CartTTL()),
		catalogService,
		logger,
	)
	estimator := service.NewEstimator(prov.catalog, service.EstimatorConfig{
		FallbackShipping: cfg.FallbackShipping,
		FallbackTaxRate:  cfg.FallbackTaxRate,
		QuoteTimeout:     time.Duration(cfg.QuoteTimeoutSeconds) * time.Second,
	}, logger)
	checkoutService := service.NewCheckoutService(
		postgres.NewCheckoutRepository(a.pool),
		cartService,
		estimator,
		prov.payment,
		prov.fulfillment,
		events,
		service.CheckoutConfig{
			ProviderTimeout:     cfg.ProviderTimeout(),
			FulfillmentProvider: cfg.FulfillmentProvider,
		},
		logger,
	)

	if cfg.KafkaEnabled {
		a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		idempotency := pkgkafka.NewRedisIdempotencyStore(
			a.redisClient,
			"storefront:fulfillment-retry",
			time.Duration(cfg.IdempotencyTTLHours)*time.Hour,
		)
		a.retryConsumer = pkgkafka.NewConsumer(
			pkgkafka.ConsumerConfig{
				Brokers:    cfg.KafkaBrokers,
				GroupID:    cfg.KafkaConsumerGroup,
				Topic:      event.TopicFulfillmentRetry,
				MaxRetries: cfg.KafkaMaxRetries,
				RetryWait:  time.Second,
			},
			pkgkafka.IdempotentHandler(idempotency, event.RetryHandler(checkoutService, logger), logger),
			a.dlq,
			logger,
		)
	}

	// Health checks.
	healthHandler := health.NewHandler(serviceName)
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return a.pool.Ping(ctx)
	})
	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return a.redisClient.Ping(ctx).Err()
	})
	if a.producer != nil {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return a.producer.Ping(ctx)
		})
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	router := handler.NewRouter(
		handler.Services{Catalog: catalogService, Cart: cartService, Checkout: checkoutService},
		healthHandler,
		handler.RouterConfig{
			ServiceName:     serviceName,
			RequestTimeout:  time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
			PprofCIDRs:      cfg.PprofAllowedCIDRs,
			CORS:            corsCfg,
			Session:         middleware.SessionConfig{CookieMaxAge: cfg.CartTTL(), Secure: cfg.SessionCookieSecure},
			CatalogMaxAge:   cfg.CatalogMaxAgeSeconds,
			CheckoutRPS:     cfg.CheckoutRPS,
			CheckoutBurst:   cfg.CheckoutBurst,
			SignatureHeader: prov.signatureHeader,
			OperatorTokens:  operatorTokens(cfg.OperatorJWTSecret, logger),
		},
		logger,
	)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Duration(cfg.RequestTimeoutSeconds+5) * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func operatorTokens(secret string, logger *slog.Logger) middleware.TokenValidator {
	if secret == "" {
		logger.Warn("OPERATOR_JWT_SECRET not set, admin endpoints are disabled")
		return func(string) (*middleware.Claims, error) {
			return nil, errOperatorAccessDisabled
		}
	}
	return middleware.HMACValidator([]byte(secret))
}

// Run starts the HTTP server and the retry consumer, and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.retryConsumer != nil {
		go func() {
			if err := a.retryConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("fulfillment retry consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumer and producers
// 4. Redis and PostgreSQL
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases connections. It is safe on a partially built App.
func (a *App) closeResources() error {
	var errs []error
	if a.retryConsumer != nil {
		if err := a.retryConsumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("kafka dlq close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracerShutdown != nil {
		_ = a.tracerShutdown(context.Background())
	}
	return errors.Join(errs...)
}
