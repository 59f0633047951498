package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/sony/gobreaker/v2"

	apperrors "github.com/sundai-club/shop/pkg/errors"
)

// StatusError is a non-2xx response from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s returned status %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports whether the provider may accept the same request later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// providerErrorBody covers the error shapes the storefront's providers
// return: {"error":{"message":..,"code":..}}, {"error":"..."} and
// {"message":".."}.
type providerErrorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Result  string          `json:"result"`
}

type providerErrorObject struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// translates it into an AppError so the storefront reports provider failures
// consistently.
func ParseResponseError(resp *http.Response, provider string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.ProviderUnavailable(provider,
			fmt.Errorf("%s returned status %d (failed to read body: %w)", provider, resp.StatusCode, err))
	}

	se := &StatusError{Provider: provider, StatusCode: resp.StatusCode, Message: string(body)}

	var parsed providerErrorBody
	if json.Unmarshal(body, &parsed) == nil {
		var obj providerErrorObject
		var str string
		switch {
		case len(parsed.Error) > 0 && json.Unmarshal(parsed.Error, &obj) == nil && obj.Message != "":
			se.Message = obj.Message
			se.Code = firstNonEmpty(obj.Code, obj.Type, obj.Reason)
		case len(parsed.Error) > 0 && json.Unmarshal(parsed.Error, &str) == nil && str != "":
			se.Message = str
		case parsed.Message != "":
			se.Message = parsed.Message
		case parsed.Result != "":
			se.Message = parsed.Result
		}
	}

	return mapStatusError(se)
}

func mapStatusError(se *StatusError) error {
	msg := fmt.Sprintf("%s: %s", se.Provider, se.Message)

	switch {
	case se.StatusCode == http.StatusNotFound:
		return &apperrors.AppError{Code: "NOT_FOUND", Message: msg, Status: http.StatusNotFound,
			Err: errors.Join(apperrors.ErrNotFound, se)}
	case se.StatusCode == http.StatusBadRequest, se.StatusCode == http.StatusUnprocessableEntity:
		return &apperrors.AppError{Code: "INVALID_INPUT", Message: msg, Status: http.StatusBadRequest,
			Err: errors.Join(apperrors.ErrInvalidInput, se)}
	case se.StatusCode == http.StatusConflict:
		return &apperrors.AppError{Code: "CONFLICT", Message: msg, Status: http.StatusConflict,
			Err: errors.Join(apperrors.ErrConflict, se)}
	default:
		// Credentials problems, rate limits and 5xx all look the same to a
		// shopper: the provider cannot serve the request right now.
		return apperrors.ProviderUnavailable(se.Provider, se)
	}
}

// IsTransient reports whether err is a provider failure that may succeed on
// a later attempt: timeouts, network errors, an open breaker, 429 and 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, apperrors.ErrProviderUnavailable)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
