package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/repository"
	apperrors "github.com/sundai-club/shop/pkg/errors"
	"github.com/sundai-club/shop/pkg/validator"
)

// MaxLinesPerCart bounds the stored lines of a session.
const MaxLinesPerCart = 200

// ProductLookup resolves catalog products. CatalogService implements it.
type ProductLookup interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

// AddItemInput is a request to add a product variant to the cart.
type AddItemInput struct {
	ProductID    string `json:"product_id" validate:"notblank,max=64"`
	VariantLabel string `json:"variant_label" validate:"notblank,max=64"`
	Quantity     int    `json:"quantity" validate:"gte=1,lte=100"`
	// UnitPrice is the price the client displayed. When set it must match
	// the current catalog price.
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// CartView is the aggregated cart returned to clients.
type CartView struct {
	Entries       []domain.AggregatedEntry `json:"entries"`
	Lines         []domain.LineItem        `json:"lines"`
	Subtotal      decimal.Decimal          `json:"subtotal"`
	TotalQuantity int                      `json:"total_quantity"`
	Currency      string                   `json:"currency"`
}

// CartService implements cart operations on top of the line store. Every
// display-index operation re-reads and re-aggregates the cart first.
type CartService struct {
	repo     repository.CartRepository
	products ProductLookup
	logger   *slog.Logger
}

// NewCartService creates a CartService.
func NewCartService(repo repository.CartRepository, products ProductLookup, logger *slog.Logger) *CartService {
	return &CartService{repo: repo, products: products, logger: logger}
}

// View returns the aggregated cart. Product details are attached when the
// catalog can provide them.
func (s *CartService) View(ctx context.Context, session string) (*CartView, error) {
	entries, lines, err := s.entries(ctx, session, false)
	if err != nil {
		return nil, err
	}
	return newCartView(entries, lines), nil
}

func newCartView(entries []domain.AggregatedEntry, lines []domain.LineItem) *CartView {
	if entries == nil {
		entries = []domain.AggregatedEntry{}
	}
	if lines == nil {
		lines = []domain.LineItem{}
	}
	return &CartView{
		Entries:       entries,
		Lines:         lines,
		Subtotal:      domain.Subtotal(lines),
		TotalQuantity: domain.TotalQuantity(lines),
		Currency:      domain.DefaultCurrency,
	}
}

// Entries returns the aggregation with a product attached to every entry.
// It fails when a product can no longer be resolved.
func (s *CartService) Entries(ctx context.Context, session string) ([]domain.AggregatedEntry, []domain.LineItem, error) {
	return s.entries(ctx, session, true)
}

func (s *CartService) entries(ctx context.Context, session string, strict bool) ([]domain.AggregatedEntry, []domain.LineItem, error) {
	if session == "" {
		return nil, nil, apperrors.InvalidInput("session id is required")
	}
	lines, err := s.repo.List(ctx, session)
	if err != nil {
		return nil, nil, fmt.Errorf("list cart: %w", err)
	}

	entries := domain.Aggregate(lines)
	for i := range entries {
		p, err := s.products.GetProduct(ctx, entries[i].ProductID)
		if err != nil {
			if strict {
				return nil, nil, fmt.Errorf("product %s: %w", entries[i].ProductID, err)
			}
			s.logger.WarnContext(ctx, "cart product unavailable",
				slog.String("product_id", entries[i].ProductID),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries[i].Product = p
	}
	return entries, lines, nil
}

// AddItem validates the variant against the catalog and appends a line at
// the current catalog price.
func (s *CartService) AddItem(ctx context.Context, session string, in AddItemInput) (*CartView, error) {
	if session == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	if err := validator.Validate(&in); err != nil {
		return nil, err
	}

	product, err := s.products.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	price, ok := product.PriceFor(in.VariantLabel)
	if !ok {
		return nil, apperrors.InvalidInput("Size not available")
	}
	if !product.InStock {
		return nil, apperrors.InvalidInput("product is out of stock")
	}
	if in.UnitPrice != nil && !in.UnitPrice.Equal(price) {
		return nil, apperrors.Conflict(fmt.Sprintf("price changed to %s, refresh the product and try again", price.StringFixed(2)))
	}

	lines, err := s.repo.List(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	if len(lines) >= MaxLinesPerCart {
		return nil, apperrors.InvalidInput(fmt.Sprintf("cart cannot hold more than %d lines", MaxLinesPerCart))
	}

	line := domain.LineItem{
		ProductID:    product.ID,
		VariantLabel: in.VariantLabel,
		Quantity:     in.Quantity,
		UnitPrice:    price,
	}
	if err := s.repo.Add(ctx, session, line); err != nil {
		return nil, fmt.Errorf("add cart line: %w", err)
	}

	s.logger.InfoContext(ctx, "cart line added",
		slog.String("product_id", line.ProductID),
		slog.String("variant", line.VariantLabel),
		slog.Int("quantity", line.Quantity),
	)
	return s.View(ctx, session)
}

// RemoveLine removes the stored line at position.
func (s *CartService) RemoveLine(ctx context.Context, session string, position int) (*CartView, error) {
	if session == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	if position < 0 {
		return nil, apperrors.NotFound("cart line", fmt.Sprint(position))
	}
	if err := s.repo.Remove(ctx, session, position); err != nil {
		return nil, err
	}
	return s.View(ctx, session)
}

// IncrementGroup adds one more unit of the group at display index, priced
// at the variant's current catalog price.
func (s *CartService) IncrementGroup(ctx context.Context, session string, index int) (*CartView, error) {
	entry, err := s.groupAt(ctx, session, index)
	if err != nil {
		return nil, err
	}

	product, err := s.products.GetProduct(ctx, entry.ProductID)
	if err != nil {
		return nil, err
	}
	price, ok := product.PriceFor(entry.VariantLabel)
	if !ok {
		return nil, apperrors.InvalidInput("Size not available")
	}

	line := domain.LineItem{ProductID: entry.ProductID, VariantLabel: entry.VariantLabel, Quantity: 1, UnitPrice: price}
	if err := s.repo.Add(ctx, session, line); err != nil {
		return nil, fmt.Errorf("add cart line: %w", err)
	}
	return s.View(ctx, session)
}

// DecrementGroup removes the most recently added line of the group at
// display index.
func (s *CartService) DecrementGroup(ctx context.Context, session string, index int) (*CartView, error) {
	entry, err := s.groupAt(ctx, session, index)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Remove(ctx, session, entry.LastPosition()); err != nil {
		return nil, s.staleOnNotFound(err, index)
	}
	return s.View(ctx, session)
}

// RemoveGroup removes every line of the group at display index.
func (s *CartService) RemoveGroup(ctx context.Context, session string, index int) (*CartView, error) {
	entry, err := s.groupAt(ctx, session, index)
	if err != nil {
		return nil, err
	}
	if err := s.repo.RemovePositions(ctx, session, entry.Positions); err != nil {
		return nil, s.staleOnNotFound(err, index)
	}
	s.logger.InfoContext(ctx, "cart group removed",
		slog.String("product_id", entry.ProductID),
		slog.String("variant", entry.VariantLabel),
		slog.Int("lines", len(entry.Positions)),
	)
	return s.View(ctx, session)
}

// Clear empties the cart.
func (s *CartService) Clear(ctx context.Context, session string) error {
	if session == "" {
		return apperrors.InvalidInput("session id is required")
	}
	if err := s.repo.Clear(ctx, session); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (s *CartService) groupAt(ctx context.Context, session string, index int) (domain.AggregatedEntry, error) {
	if session == "" {
		return domain.AggregatedEntry{}, apperrors.InvalidInput("session id is required")
	}
	lines, err := s.repo.List(ctx, session)
	if err != nil {
		return domain.AggregatedEntry{}, fmt.Errorf("list cart: %w", err)
	}
	return domain.EntryAt(domain.Aggregate(lines), index)
}

// staleOnNotFound reports a position that vanished between the read and
// the write as a stale cart.
func (s *CartService) staleOnNotFound(err error, index int) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.StaleCart(index)
	}
	return err
}
