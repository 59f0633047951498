package http

import (
	"log/slog"
	"net/http"

	"github.com/sundai-club/shop/internal/service"
	"github.com/sundai-club/shop/pkg/httputil"
)

// CartHandler handles HTTP requests for the session cart. The session id is
// resolved by the Session middleware.
type CartHandler struct {
	service *service.CartService
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// GetCart handles GET /api/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.View(r.Context(), sessionID(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, view)
}

// AddItem handles POST /api/cart
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req service.AddItemInput
	if !decodeBody(w, r, &req) {
		return
	}

	view, err := h.service.AddItem(r.Context(), sessionID(r), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, view)
}

// RemoveLine handles DELETE /api/cart/{position}
func (h *CartHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	position, ok := intParam(w, r, "position")
	if !ok {
		return
	}
	h.respond(w, r, func() (*service.CartView, error) {
		return h.service.RemoveLine(r.Context(), sessionID(r), position)
	})
}

// IncrementGroup handles POST /api/cart/groups/{index}/increment
func (h *CartHandler) IncrementGroup(w http.ResponseWriter, r *http.Request) {
	index, ok := intParam(w, r, "index")
	if !ok {
		return
	}
	h.respond(w, r, func() (*service.CartView, error) {
		return h.service.IncrementGroup(r.Context(), sessionID(r), index)
	})
}

// DecrementGroup handles POST /api/cart/groups/{index}/decrement
func (h *CartHandler) DecrementGroup(w http.ResponseWriter, r *http.Request) {
	index, ok := intParam(w, r, "index")
	if !ok {
		return
	}
	h.respond(w, r, func() (*service.CartView, error) {
		return h.service.DecrementGroup(r.Context(), sessionID(r), index)
	})
}

// RemoveGroup handles DELETE /api/cart/groups/{index}
func (h *CartHandler) RemoveGroup(w http.ResponseWriter, r *http.Request) {
	index, ok := intParam(w, r, "index")
	if !ok {
		return
	}
	h.respond(w, r, func() (*service.CartView, error) {
		return h.service.RemoveGroup(r.Context(), sessionID(r), index)
	})
}

// ClearCart handles DELETE /api/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Clear(r.Context(), sessionID(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) respond(w http.ResponseWriter, r *http.Request, op func() (*service.CartView, error)) {
	view, err := op()
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, view)
}
