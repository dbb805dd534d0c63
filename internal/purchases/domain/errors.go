package domain

import (
	"errors"
	"fmt"

	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
)

var (
	// ErrPurchaseNotFound is returned for an unknown payment reference.
	ErrPurchaseNotFound = fmt.Errorf("purchase %w", sharedDomain.ErrNotFound)

	// ErrAlreadyEntitled is returned when completing a purchase would give a
	// user a second completed record for the same content.
	ErrAlreadyEntitled = fmt.Errorf("%w: user already owns this content", sharedDomain.ErrDuplicatePurchase)

	// ErrReferenceSettled is returned when a nonce is reused after its
	// attempt failed or was refunded.
	ErrReferenceSettled = fmt.Errorf("%w: payment reference already settled, use a new nonce", sharedDomain.ErrValidation)

	// ErrTransitionNotReady is returned when an event arrives before the
	// record reached the state it applies to. The event must be redelivered.
	ErrTransitionNotReady = errors.New("purchase not ready for transition")

	// ErrInvalidTransition is returned for transitions the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid purchase transition")
)
