package mock

import (
	"context"
	"strconv"
	"sync"

	"github.com/sundai-club/shop/internal/domain"
	apperrors "github.com/sundai-club/shop/pkg/errors"
)

// Fulfillment keeps orders in memory, keyed by external id.
type Fulfillment struct {
	mu         sync.Mutex
	next       int
	byID       map[string]*domain.FulfillmentOrder
	byExternal map[string]string
	createErr  error
	confirmErr error
}

// NewFulfillment creates an empty Fulfillment.
func NewFulfillment() *Fulfillment {
	return &Fulfillment{
		next:       1000,
		byID:       make(map[string]*domain.FulfillmentOrder),
		byExternal: make(map[string]string),
	}
}

// FailCreate and FailConfirm inject errors into the matching calls.
func (f *Fulfillment) FailCreate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

func (f *Fulfillment) FailConfirm(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmErr = err
}

func (f *Fulfillment) CreateOrder(_ context.Context, externalID string, items []domain.OrderItem, _ domain.Recipient) (*domain.FulfillmentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byExternal[externalID]; ok {
		o := *f.byID[id]
		o.Existing = true
		return &o, nil
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.next++
	o := &domain.FulfillmentOrder{
		ID:         strconv.Itoa(f.next),
		ExternalID: externalID,
		Status:     domain.FulfillmentDraft,
		Items:      append([]domain.OrderItem(nil), items...),
	}
	f.byID[o.ID] = o
	f.byExternal[externalID] = o.ID
	out := *o
	return &out, nil
}

func (f *Fulfillment) ConfirmOrder(_ context.Context, orderID string) (*domain.FulfillmentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	o, ok := f.byID[orderID]
	if !ok {
		return nil, apperrors.NotFound("fulfillment order", orderID)
	}
	if o.Status == domain.FulfillmentDraft {
		o.Status = domain.FulfillmentPending
	}
	out := *o
	return &out, nil
}

func (f *Fulfillment) GetOrderStatus(_ context.Context, orderID string) (*domain.FulfillmentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok {
		return nil, apperrors.NotFound("fulfillment order", orderID)
	}
	out := *o
	return &out, nil
}

// Ship marks an order fulfilled with tracking details.
func (f *Fulfillment) Ship(orderID, trackingNumber, trackingURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok {
		return apperrors.NotFound("fulfillment order", orderID)
	}
	o.Status = domain.FulfillmentFulfilled
	o.TrackingNumber = trackingNumber
	o.TrackingURL = trackingURL
	return nil
}
