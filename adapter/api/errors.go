package api

import (
	"errors"
	"log/slog"
	"net/http"

	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	purchaseDomain "github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
)

var (
	errUnauthenticated = errors.New("sign in required")
	errForbidden       = errors.New("not allowed for this user")
)

// APIError is the JSON error body.
type APIError struct {
	Status  int    `json:"-"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps the error taxonomy onto HTTP.
func classify(err error) APIError {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, identityDomain.ErrInvalidToken), errors.Is(err, errUnauthenticated):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, errForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, sharedDomain.ErrSignatureInvalid):
		status, code = http.StatusBadRequest, "signature_invalid"
	case errors.Is(err, purchaseDomain.ErrReferenceSettled), errors.Is(err, sharedDomain.ErrDuplicatePurchase):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, sharedDomain.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, sharedDomain.ErrValidation):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, sharedDomain.ErrUpstreamUnavailable):
		status, code = http.StatusServiceUnavailable, "upstream_unavailable"
	}

	message := err.Error()
	if status >= http.StatusInternalServerError {
		// Upstream details stay in the logs.
		message = http.StatusText(status)
	}
	return APIError{Status: status, Error: http.StatusText(status), Code: code, Message: message}
}

// writeError writes the classified error and logs server-side failures.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	apiErr := classify(err)
	if apiErr.Status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "status", apiErr.Status, "error", err)
	}
	if apiErr.Status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, apiErr.Status, apiErr)
}
