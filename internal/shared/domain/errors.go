package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every bounded context. Adapters wrap these with
// fmt.Errorf("...: %w") so the HTTP boundary can classify with errors.Is.
var (
	// ErrValidation marks malformed input or references to unknown content.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is a validation error for an unknown identifier.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable marks an unreachable or timed-out CMS, LMS, processor or store.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrSignatureInvalid marks a webhook whose authenticity could not be verified.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrDuplicatePurchase is resolved idempotently and never surfaced to callers.
	ErrDuplicatePurchase = errors.New("duplicate purchase attempt")

	// ErrPriceMismatch marks a processor amount that differs from the ledger snapshot.
	ErrPriceMismatch = errors.New("price mismatch")
)

// IsValidation reports whether err belongs to the validation family.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}

// Unavailable classifies an unexpected store or network failure as
// ErrUpstreamUnavailable. Errors that already belong to the taxonomy pass through.
func Unavailable(component string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsValidation(err),
		errors.Is(err, ErrUpstreamUnavailable),
		errors.Is(err, ErrSignatureInvalid):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, component, err)
	}
}
