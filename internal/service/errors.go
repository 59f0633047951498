package service

import (
	"errors"

	apperrors "github.com/sundai-club/shop/pkg/errors"
	"github.com/sundai-club/shop/pkg/httpclient"
)

// providerError maps a provider failure onto the storefront's error
// vocabulary. Errors that already carry a code, such as a provider 404,
// are kept as they are; timeouts, open breakers and anything unclassified
// become ProviderUnavailable.
func providerError(provider string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.ProviderUnavailable(provider, err)
}

// rejected reports whether a provider refused a request outright, as
// opposed to failing in a way a later attempt might get past.
func rejected(err error) bool {
	if httpclient.IsTransient(err) {
		return false
	}
	return errors.Is(err, apperrors.ErrInvalidInput) || errors.Is(err, apperrors.ErrConflict)
}
