package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

type identityKey struct{}

func withIdentity(ctx context.Context, identity identityDomain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// identityFrom returns the caller resolved by the identify middleware.
func identityFrom(ctx context.Context) identityDomain.Identity {
	if identity, ok := ctx.Value(identityKey{}).(identityDomain.Identity); ok {
		return identity
	}
	return identityDomain.Anonymous
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument assigns a request id and records request metrics.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := observability.WithRequestID(r.Context(), requestID)
		ctx = observability.WithCorrelationID(ctx, r.Header.Get("X-Correlation-ID"))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		tags := []observability.Tag{
			observability.T("route", route),
			observability.T("status", strconv.Itoa(rec.status)),
		}
		h.metrics.Counter(observability.MetricHTTPRequests, 1, tags...)
		h.metrics.Timing(observability.MetricHTTPDuration, time.Since(start), observability.T("route", route))
		h.logger.DebugContext(ctx, "request handled",
			"method", r.Method, "route", route, "status", rec.status, "duration", time.Since(start))
	})
}

// recoverer turns a panic into a 500.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				h.logger.ErrorContext(r.Context(), "panic serving request", "panic", v, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, APIError{
					Error:   http.StatusText(http.StatusInternalServerError),
					Code:    "internal_error",
					Message: http.StatusText(http.StatusInternalServerError),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// identify resolves the bearer token once per request. A token that does
// not verify is rejected rather than treated as anonymous.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.tokens.Resolve(r.Header.Get("Authorization"))
		if err != nil {
			h.logger.InfoContext(r.Context(), "rejected bearer token", "error", err)
			writeError(w, r, h.logger, err)
			return
		}

		ctx := withIdentity(r.Context(), identity)
		if !identity.IsAnonymous() {
			ctx = observability.WithUserID(ctx, identity.UserID.String())
			if h.users != nil {
				h.users.Remember(ctx, identity)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
