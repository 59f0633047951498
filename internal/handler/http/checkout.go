package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sundai-club/shop/internal/domain"
	"github.com/sundai-club/shop/internal/service"
	"github.com/sundai-club/shop/pkg/httputil"
	"github.com/sundai-club/shop/pkg/pagination"
	"github.com/sundai-club/shop/pkg/validator"
)

// CheckoutHandler handles estimation, payment sessions, payment callbacks
// and order lookups.
type CheckoutHandler struct {
	service         *service.CheckoutService
	signatureHeader string
	logger          *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler. signatureHeader
// names the header the payment provider signs its callbacks in.
func NewCheckoutHandler(svc *service.CheckoutService, signatureHeader string, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service:         svc,
		signatureHeader: signatureHeader,
		logger:          logger,
	}
}

// EstimateResponse is the body of a successful cost estimate.
type EstimateResponse struct {
	CheckoutID string               `json:"checkout_id"`
	State      domain.State         `json:"state"`
	Cost       domain.CostBreakdown `json:"cost"`
}

// EstimateCost handles POST /api/cost-estimate
func (h *CheckoutHandler) EstimateCost(w http.ResponseWriter, r *http.Request) {
	var req domain.Recipient
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.service.EstimateCost(r.Context(), sessionID(r), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, EstimateResponse{
		CheckoutID: c.ID,
		State:      c.State,
		Cost:       *c.Cost,
	})
}

// CreatePaymentSession handles POST /api/checkout-session
func (h *CheckoutHandler) CreatePaymentSession(w http.ResponseWriter, r *http.Request) {
	var req domain.Recipient
	if !decodeBody(w, r, &req) {
		return
	}

	ps, err := h.service.CreatePaymentSession(r.Context(), sessionID(r), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, ps)
}

// ConfirmPayment handles POST /api/checkout-confirm. The raw body is passed
// through untouched because the signature covers its exact bytes.
func (h *CheckoutHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, validator.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		status, msg := http.StatusBadRequest, "could not read request body"
		if errors.As(err, &tooLarge) {
			status, msg = http.StatusRequestEntityTooLarge, "request body too large"
		}
		httputil.WriteJSON(w, status, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: msg},
		})
		return
	}

	res, err := h.service.ConfirmPayment(r.Context(), payload, r.Header.Get(h.signatureHeader))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, res)
}

// GetCheckout handles GET /api/checkout/{sessionId}
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetCheckout(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, c)
}

// ListOrders handles GET /api/orders?email=
func (h *CheckoutHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromRequest(r)

	orders, total, err := h.service.ListOrdersByEmail(r.Context(), r.URL.Query().Get("email"), page.PerPage, page.Offset)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(orders, total, page.Page, page.PerPage))
}

// RetryFulfillment handles POST /api/admin/checkouts/{id}/retry-fulfillment
func (h *CheckoutHandler) RetryFulfillment(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.RetryFulfillment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, c)
}

// RefreshFulfillmentStatus handles POST /api/admin/checkouts/{id}/refresh-status
func (h *CheckoutHandler) RefreshFulfillmentStatus(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.RefreshFulfillmentStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, c)
}
