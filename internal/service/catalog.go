package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/provider"
	apperrors "github.com/sundai-club/shop/pkg/errors"
	"github.com/sundai-club/shop/pkg/slug"
)

// CatalogConfig tunes the catalog cache.
type CatalogConfig struct {
	// Provider names the catalog provider in errors.
	Provider string
	TTL      time.Duration
	Timeout  time.Duration
}

type cacheEntry[T any] struct {
	value   T
	expires time.Time
}

// CatalogService is a read-through cache in front of the catalog provider.
// Concurrent misses for the same key share one provider call, and an
// expired entry is served when a refresh fails.
type CatalogService struct {
	catalog provider.Catalog
	cfg     CatalogConfig
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	products  *cacheEntry[[]domain.Product]
	byID      map[string]cacheEntry[*domain.Product]
	countries *cacheEntry[[]domain.Country]

	group singleflight.Group
}

// NewCatalogService creates a CatalogService.
func NewCatalogService(catalog provider.Catalog, cfg CatalogConfig, logger *slog.Logger) *CatalogService {
	if cfg.Provider == "" {
		cfg.Provider = "catalog"
	}
	return &CatalogService{
		catalog: catalog,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		byID:    make(map[string]cacheEntry[*domain.Product]),
	}
}

// ListProducts returns every product.
func (s *CatalogService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	cached := s.products
	s.mu.RUnlock()
	if cached != nil && s.now().Before(cached.expires) {
		catalogCacheResults.WithLabelValues("hit").Inc()
		return cached.value, nil
	}
	catalogCacheResults.WithLabelValues("miss").Inc()

	v, err, _ := s.group.Do("products", func() (any, error) {
		ctx, cancel := s.detach(ctx)
		defer cancel()
		return s.catalog.ListProducts(ctx)
	})
	if err != nil {
		if cached != nil {
			catalogCacheResults.WithLabelValues("stale").Inc()
			s.logger.WarnContext(ctx, "serving stale product list",
				slog.String("error", err.Error()),
			)
			return cached.value, nil
		}
		return nil, providerError(s.cfg.Provider, err)
	}

	products := v.([]domain.Product)
	s.mu.Lock()
	s.products = &cacheEntry[[]domain.Product]{value: products, expires: s.now().Add(s.cfg.TTL)}
	for i := range products {
		p := products[i]
		s.byID[p.ID] = cacheEntry[*domain.Product]{value: &p, expires: s.now().Add(s.cfg.TTL)}
	}
	s.mu.Unlock()
	return products, nil
}

// ListByCategory returns the products whose category matches category,
// compared by slug so "Apparel" and "apparel" are the same.
func (s *CatalogService) ListByCategory(ctx context.Context, category string) ([]domain.Product, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if slug.Equal(p.Category, category) {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetProduct returns one product or a NotFound error.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if id == "" {
		return nil, apperrors.NotFound("product", id)
	}

	s.mu.RLock()
	cached, ok := s.byID[id]
	s.mu.RUnlock()
	if ok && s.now().Before(cached.expires) {
		catalogCacheResults.WithLabelValues("hit").Inc()
		return cached.value, nil
	}
	catalogCacheResults.WithLabelValues("miss").Inc()

	v, err, _ := s.group.Do("product:"+id, func() (any, error) {
		ctx, cancel := s.detach(ctx)
		defer cancel()
		return s.catalog.GetProduct(ctx, id)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.mu.Lock()
			delete(s.byID, id)
			s.mu.Unlock()
			return nil, apperrors.NotFound("product", id)
		}
		if ok {
			catalogCacheResults.WithLabelValues("stale").Inc()
			s.logger.WarnContext(ctx, "serving stale product",
				slog.String("product_id", id),
				slog.String("error", err.Error()),
			)
			return cached.value, nil
		}
		return nil, providerError(s.cfg.Provider, err)
	}

	p := v.(*domain.Product)
	s.mu.Lock()
	s.byID[id] = cacheEntry[*domain.Product]{value: p, expires: s.now().Add(s.cfg.TTL)}
	s.mu.Unlock()
	return p, nil
}

// ListCountries returns the supported shipping destinations.
func (s *CatalogService) ListCountries(ctx context.Context) ([]domain.Country, error) {
	s.mu.RLock()
	cached := s.countries
	s.mu.RUnlock()
	if cached != nil && s.now().Before(cached.expires) {
		catalogCacheResults.WithLabelValues("hit").Inc()
		return cached.value, nil
	}
	catalogCacheResults.WithLabelValues("miss").Inc()

	v, err, _ := s.group.Do("countries", func() (any, error) {
		ctx, cancel := s.detach(ctx)
		defer cancel()
		return s.catalog.ListCountries(ctx)
	})
	if err != nil {
		if cached != nil {
			catalogCacheResults.WithLabelValues("stale").Inc()
			return cached.value, nil
		}
		return nil, providerError(s.cfg.Provider, err)
	}

	countries := v.([]domain.Country)
	s.mu.Lock()
	s.countries = &cacheEntry[[]domain.Country]{value: countries, expires: s.now().Add(s.cfg.TTL)}
	s.mu.Unlock()
	return countries, nil
}

// Invalidate drops every cached entry.
func (s *CatalogService) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = nil
	s.countries = nil
	s.byID = make(map[string]cacheEntry[*domain.Product])
}

// detach gives a shared provider call its own deadline so one caller
// going away does not fail the others waiting on it.
func (s *CatalogService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}
