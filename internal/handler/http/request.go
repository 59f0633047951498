package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sundai-club/shop/pkg/httputil"
	"github.com/sundai-club/shop/pkg/middleware"
	"github.com/sundai-club/shop/pkg/validator"
)

// decodeBody decodes a JSON request body into dst. Unknown fields are
// rejected. On failure it writes a 400 and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, validator.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "invalid request body: " + err.Error()
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: msg},
		})
		return false
	}
	return true
}

// intParam parses a non-negative integer path parameter.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := chi.URLParam(r, name)
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: name + " must be a non-negative integer"},
		})
		return 0, false
	}
	return v, true
}

func sessionID(r *http.Request) string {
	return middleware.SessionIDFromContext(r.Context())
}
