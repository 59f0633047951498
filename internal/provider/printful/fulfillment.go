package printful

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/sundai-club/shop/internal/domain"
	apperrors "github.com/sundai-club/shop/pkg/errors"
	"github.com/sundai-club/shop/pkg/httpclient"
)

type orderRequest struct {
	ExternalID string         `json:"external_id"`
	Shipping   string         `json:"shipping,omitempty"`
	Recipient  orderRecipient `json:"recipient"`
	Items      []orderItem    `json:"items"`
}

type orderRecipient struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Address1    string `json:"address1"`
	City        string `json:"city"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
}

type orderItem struct {
	VariantID   string `json:"variant_id"`
	ExternalID  string `json:"external_id,omitempty"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	RetailPrice string `json:"retail_price"`
}

type order struct {
	ID         int64      `json:"id"`
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	Shipments  []shipment `json:"shipments"`
}

type shipment struct {
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url"`
}

// CreateOrder creates a draft order for externalID. An existing order for
// the same external id is returned instead of creating a duplicate.
func (c *Client) CreateOrder(ctx context.Context, externalID string, items []domain.OrderItem, r domain.Recipient) (*domain.FulfillmentOrder, error) {
	existing, err := c.orderByExternalID(ctx, externalID)
	switch {
	case err == nil:
		existing.Existing = true
		return existing, nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, err
	}

	req := orderRequest{
		ExternalID: externalID,
		Recipient: orderRecipient{
			Name:        r.Name,
			Email:       r.Email,
			Address1:    r.AddressLine,
			City:        r.City,
			StateCode:   r.State,
			CountryCode: r.CountryCode,
			Zip:         r.PostalCode,
		},
		Items: make([]orderItem, len(items)),
	}
	for i, it := range items {
		req.Items[i] = orderItem{
			VariantID:   it.ExternalVariantID,
			ExternalID:  it.ProductID + ":" + it.VariantLabel,
			Name:        it.Name,
			Quantity:    it.Quantity,
			RetailPrice: domain.Cents(it.UnitPrice).StringFixed(2),
		}
	}

	var created order
	if err := c.call(ctx, "POST", "/orders", req, &created); err != nil {
		if httpclient.IsTransient(err) {
			return nil, err
		}
		// A concurrent or earlier attempt may have created it after our lookup.
		if again, lerr := c.orderByExternalID(ctx, externalID); lerr == nil {
			c.logger.InfoContext(ctx, "fulfillment order already existed",
				slog.String("external_id", externalID),
				slog.String("order_id", again.ID),
			)
			again.Existing = true
			return again, nil
		}
		return nil, err
	}
	out := created.toDomain()
	out.Items = items
	return out, nil
}

// ConfirmOrder submits a draft order for fulfillment.
func (c *Client) ConfirmOrder(ctx context.Context, orderID string) (*domain.FulfillmentOrder, error) {
	var o order
	if err := c.call(ctx, "POST", "/orders/"+url.PathEscape(orderID)+"/confirm", nil, &o); err != nil {
		return nil, err
	}
	return o.toDomain(), nil
}

// GetOrderStatus returns the order's status and latest shipment tracking.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*domain.FulfillmentOrder, error) {
	var o order
	if err := c.call(ctx, "GET", "/orders/"+url.PathEscape(orderID), nil, &o); err != nil {
		return nil, err
	}
	return o.toDomain(), nil
}

func (c *Client) orderByExternalID(ctx context.Context, externalID string) (*domain.FulfillmentOrder, error) {
	var o order
	if err := c.call(ctx, "GET", "/orders/@"+url.PathEscape(externalID), nil, &o); err != nil {
		return nil, err
	}
	return o.toDomain(), nil
}

func (o order) toDomain() *domain.FulfillmentOrder {
	out := &domain.FulfillmentOrder{
		ID:         strconv.FormatInt(o.ID, 10),
		ExternalID: o.ExternalID,
		Status:     mapStatus(o.Status),
	}
	if n := len(o.Shipments); n > 0 {
		out.TrackingNumber = o.Shipments[n-1].TrackingNumber
		out.TrackingURL = o.Shipments[n-1].TrackingURL
	}
	return out
}

func mapStatus(s string) domain.FulfillmentStatus {
	switch s {
	case "draft":
		return domain.FulfillmentDraft
	case "pending":
		return domain.FulfillmentPending
	case "inprocess", "onhold", "partial":
		return domain.FulfillmentConfirmed
	case "fulfilled":
		return domain.FulfillmentFulfilled
	case "failed":
		return domain.FulfillmentFailed
	case "canceled", "archived":
		return domain.FulfillmentCanceled
	default:
		return domain.FulfillmentPending
	}
}
