package printful

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/provider"
	apperrors "github.com/sundai-club/shop/pkg/errors"
)

type syncProductSummary struct {
	ID int64 `json:"id"`
}

type syncProductDetail struct {
	SyncProduct struct {
		ID           int64  `json:"id"`
		Name         string `json:"name"`
		ThumbnailURL string `json:"thumbnail_url"`
	} `json:"sync_product"`
	SyncVariants []syncVariant `json:"sync_variants"`
}

type syncVariant struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Size               string `json:"size"`
	RetailPrice        string `json:"retail_price"`
	VariantID          int64  `json:"variant_id"`
	AvailabilityStatus string `json:"availability_status"`
	Product            struct {
		ProductID int64  `json:"product_id"`
		Image     string `json:"image"`
	} `json:"product"`
}

type catalogProduct struct {
	ID             int64  `json:"id"`
	TypeName       string `json:"type_name"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Image          string `json:"image"`
	IsDiscontinued bool   `json:"is_discontinued"`
}

type catalogProductDetail struct {
	Product  catalogProduct   `json:"product"`
	Variants []catalogVariant `json:"variants"`
}

type catalogVariant struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Size    string `json:"size"`
	Price   string `json:"price"`
	InStock bool   `json:"in_stock"`
}

func (c *Client) storeMode() bool { return c.cfg.StoreID != "" }

// ListProducts returns the store's products, or the public catalog when no
// store is configured or the store listing fails.
func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if c.storeMode() {
		products, err := c.listStoreProducts(ctx)
		if err == nil {
			return products, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		c.logger.WarnContext(ctx, "store products unavailable, falling back to catalog",
			slog.String("store_id", c.cfg.StoreID),
			slog.String("error", err.Error()),
		)
	}
	return c.listCatalogProducts(ctx)
}

// GetProduct returns a single product by id.
func (c *Client) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return nil, apperrors.NotFound("product", id)
	}
	if c.storeMode() {
		p, err := c.storeProduct(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) || ctx.Err() != nil {
			return nil, err
		}
	}
	p, err := c.catalogProduct(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, err
	}
	return p, nil
}

func (c *Client) listStoreProducts(ctx context.Context) ([]domain.Product, error) {
	var summaries []syncProductSummary
	if err := c.call(ctx, "GET", "/store/products?limit=100", nil, &summaries); err != nil {
		return nil, err
	}
	ids := make([]string, len(summaries))
	for i, s := range summaries {
		ids[i] = strconv.FormatInt(s.ID, 10)
	}
	return c.fetchAll(ctx, ids, c.storeProduct)
}

func (c *Client) listCatalogProducts(ctx context.Context) ([]domain.Product, error) {
	var list []catalogProduct
	if err := c.call(ctx, "GET", "/products", nil, &list); err != nil {
		return nil, err
	}
	ids := make([]string, 0, c.cfg.CatalogLimit)
	for _, p := range list {
		if p.IsDiscontinued {
			continue
		}
		if len(ids) == c.cfg.CatalogLimit {
			break
		}
		ids = append(ids, strconv.FormatInt(p.ID, 10))
	}
	return c.fetchAll(ctx, ids, c.catalogProduct)
}

// fetchAll loads product details concurrently, keeping the listing order.
func (c *Client) fetchAll(ctx context.Context, ids []string, fetch func(context.Context, string) (*domain.Product, error)) ([]domain.Product, error) {
	results := make([]*domain.Product, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.DetailConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			p, err := fetch(gctx, id)
			if err != nil {
				return fmt.Errorf("product %s: %w", id, err)
			}
			results[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(results))
	for _, p := range results {
		if p != nil && len(p.Variants) > 0 {
			products = append(products, *p)
		}
	}
	return products, nil
}

func (c *Client) storeProduct(ctx context.Context, id string) (*domain.Product, error) {
	var d syncProductDetail
	if err := c.call(ctx, "GET", "/store/products/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}

	p := &domain.Product{
		ID:       strconv.FormatInt(d.SyncProduct.ID, 10),
		Name:     d.SyncProduct.Name,
		ImageURL: d.SyncProduct.ThumbnailURL,
	}

	prices := make([]decimal.Decimal, 0, len(d.SyncVariants))
	for _, v := range d.SyncVariants {
		price, err := decimal.NewFromString(v.RetailPrice)
		if err != nil {
			continue
		}
		label := variantLabel(v.Size, v.Name)
		if _, dup := p.Variant(label); dup {
			continue
		}
		prices = append(prices, price)
		p.Variants = append(p.Variants, domain.Variant{Label: label, ExternalID: strconv.FormatInt(v.VariantID, 10)})
		if v.AvailabilityStatus == "" || v.AvailabilityStatus == "active" {
			p.InStock = true
		}
		if p.ImageURL == "" {
			p.ImageURL = v.Product.Image
		}
	}
	applyPrices(p, prices)

	if len(d.SyncVariants) > 0 {
		if info, err := c.catalogInfo(ctx, d.SyncVariants[0].Product.ProductID); err == nil {
			p.Category = categoryOf(info.TypeName)
			p.Description = info.Description
		} else {
			c.logger.DebugContext(ctx, "catalog info unavailable",
				slog.String("product_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return p, nil
}

func (c *Client) catalogInfo(ctx context.Context, productID int64) (*catalogProduct, error) {
	var d catalogProductDetail
	if err := c.call(ctx, "GET", "/products/"+strconv.FormatInt(productID, 10), nil, &d); err != nil {
		return nil, err
	}
	return &d.Product, nil
}

func (c *Client) catalogProduct(ctx context.Context, id string) (*domain.Product, error) {
	var d catalogProductDetail
	if err := c.call(ctx, "GET", "/products/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}

	p := &domain.Product{
		ID:          strconv.FormatInt(d.Product.ID, 10),
		Name:        d.Product.Title,
		Description: d.Product.Description,
		Category:    categoryOf(d.Product.TypeName),
		ImageURL:    d.Product.Image,
	}
	prices := make([]decimal.Decimal, 0, len(d.Variants))
	for _, v := range d.Variants {
		price, err := decimal.NewFromString(v.Price)
		if err != nil {
			continue
		}
		label := variantLabel(v.Size, v.Name)
		if _, dup := p.Variant(label); dup {
			continue
		}
		prices = append(prices, price)
		p.Variants = append(p.Variants, domain.Variant{Label: label, ExternalID: strconv.FormatInt(v.ID, 10)})
		if v.InStock {
			p.InStock = true
		}
	}
	applyPrices(p, prices)
	return p, nil
}

// applyPrices sets the base price to the cheapest variant and gives the
// other variants their own price.
func applyPrices(p *domain.Product, prices []decimal.Decimal) {
	if len(prices) == 0 {
		return
	}
	base := decimal.Min(prices[0], prices[1:]...)
	p.Price = base
	for i := range p.Variants {
		if !prices[i].Equal(base) {
			price := prices[i]
			p.Variants[i].Price = &price
		}
	}
}

// variantLabel prefers the explicit size, then the last " / " segment of
// the variant name.
func variantLabel(size, name string) string {
	if s := strings.TrimSpace(size); s != "" {
		return s
	}
	if i := strings.LastIndex(name, " / "); i >= 0 {
		return strings.TrimSpace(name[i+3:])
	}
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "One Size"
}

func categoryOf(typeName string) string {
	t := strings.ToLower(typeName)
	switch {
	case t == "":
		return ""
	case strings.Contains(t, "shirt"), strings.Contains(t, "hoodie"), strings.Contains(t, "sweatshirt"),
		strings.Contains(t, "jacket"), strings.Contains(t, "tank"):
		return "apparel"
	default:
		return "accessories"
	}
}

type shippingRequest struct {
	Recipient shippingRecipient `json:"recipient"`
	Items     []shippingItem    `json:"items"`
	Currency  string            `json:"currency,omitempty"`
}

type shippingRecipient struct {
	Address1    string `json:"address1"`
	City        string `json:"city"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
}

type shippingItem struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type shippingRate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Rate     string `json:"rate"`
	Currency string `json:"currency"`
}

// QuoteShipping returns the cheapest rate Printful offers for the items.
func (c *Client) QuoteShipping(ctx context.Context, r domain.Recipient, items []domain.OrderItem) (*provider.ShippingQuote, error) {
	req := shippingRequest{
		Recipient: shippingRecipient{
			Address1:    r.AddressLine,
			City:        r.City,
			StateCode:   r.State,
			CountryCode: r.CountryCode,
			Zip:         r.PostalCode,
		},
		Currency: domain.DefaultCurrency,
	}
	for _, it := range items {
		if it.ExternalVariantID == "" {
			continue
		}
		req.Items = append(req.Items, shippingItem{VariantID: it.ExternalVariantID, Quantity: it.Quantity})
	}
	if len(req.Items) == 0 {
		return nil, provider.ErrNoQuote
	}

	var rates []shippingRate
	if err := c.call(ctx, "POST", "/shipping/rates", req, &rates); err != nil {
		return nil, err
	}

	var best *provider.ShippingQuote
	for _, rate := range rates {
		amount, err := decimal.NewFromString(rate.Rate)
		if err != nil || amount.IsNegative() {
			continue
		}
		if best == nil || amount.LessThan(best.Rate) {
			best = &provider.ShippingQuote{Rate: amount, Currency: strings.ToUpper(rate.Currency), Method: rate.ID}
		}
	}
	if best == nil {
		return nil, provider.ErrNoQuote
	}
	return best, nil
}

type country struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ListCountries returns the shipping destinations Printful supports,
// sorted by name.
func (c *Client) ListCountries(ctx context.Context) ([]domain.Country, error) {
	var list []country
	if err := c.call(ctx, "GET", "/countries", nil, &list); err != nil {
		return nil, err
	}
	out := make([]domain.Country, 0, len(list))
	for _, cn := range list {
		out = append(out, domain.Country{Code: cn.Code, Name: cn.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
