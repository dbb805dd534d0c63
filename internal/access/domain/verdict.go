// Package domain decides whether an identity may view a content item.
package domain

import (
	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	purchaseDomain "github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	"github.com/google/uuid"
)

// Reason explains a verdict.
type Reason string

const (
	ReasonOpen          Reason = "open"
	ReasonAuthenticated Reason = "authenticated"
	ReasonPurchased     Reason = "purchased"
	ReasonEnrolled      Reason = "enrolled"

	ReasonLoginRequired       Reason = "login_required"
	ReasonNotEntitled         Reason = "not_entitled"
	ReasonPaymentPending      Reason = "payment_pending"
	ReasonPaymentFailed       Reason = "payment_failed"
	ReasonRefunded            Reason = "refunded"
	ReasonUpstreamUnavailable Reason = "upstream_unavailable"
)

// NextAction tells the client what would change a denial.
type NextAction string

const (
	ActionNone     NextAction = "none"
	ActionLogin    NextAction = "login"
	ActionPurchase NextAction = "purchase"
	ActionEnroll   NextAction = "enroll"
	ActionWait     NextAction = "wait"
	ActionRetry    NextAction = "retry"
)

// Verdict is the derived entitlement of one identity for one item.
type Verdict struct {
	ContentID  string
	UserID     uuid.UUID
	Granted    bool
	Reason     Reason
	NextAction NextAction
	// Degraded marks a denial caused by an unreachable collaborator.
	Degraded bool
}

// Signals are the facts gathered about a paid item.
type Signals struct {
	// LedgerStatus is empty when the user has no purchase record.
	LedgerStatus       purchaseDomain.Status
	LedgerUnavailable  bool
	Enrolled           bool
	EnrollmentDegraded bool
}

// Decide is the access policy. It performs no I/O.
func Decide(identity identityDomain.Identity, desc catalogDomain.Descriptor, signals Signals) Verdict {
	v := Verdict{ContentID: desc.ID, UserID: identity.UserID}

	switch desc.Tier {
	case catalogDomain.TierOpen:
		return v.grant(ReasonOpen)
	case catalogDomain.TierAuthenticated:
		if identity.IsAnonymous() {
			return v.deny(ReasonLoginRequired, ActionLogin)
		}
		return v.grant(ReasonAuthenticated)
	case catalogDomain.TierPaid:
	default:
		// Unknown tiers fail closed.
		return v.deny(ReasonNotEntitled, ActionNone)
	}

	isCourse := desc.Kind == catalogDomain.KindCourse

	switch {
	case identity.IsAnonymous():
		return v.deny(ReasonLoginRequired, ActionLogin)
	case signals.LedgerStatus == purchaseDomain.StatusCompleted:
		return v.grant(ReasonPurchased)
	case isCourse && signals.Enrolled:
		return v.grant(ReasonEnrolled)
	case signals.LedgerUnavailable, isCourse && signals.EnrollmentDegraded:
		v = v.deny(ReasonUpstreamUnavailable, ActionRetry)
		v.Degraded = true
		return v
	}

	switch signals.LedgerStatus {
	case purchaseDomain.StatusPending:
		return v.deny(ReasonPaymentPending, ActionWait)
	case purchaseDomain.StatusFailed:
		return v.deny(ReasonPaymentFailed, ActionPurchase)
	case purchaseDomain.StatusRefunded:
		return v.deny(ReasonRefunded, ActionPurchase)
	}

	if isCourse {
		return v.deny(ReasonNotEntitled, ActionEnroll)
	}
	return v.deny(ReasonNotEntitled, ActionPurchase)
}

func (v Verdict) grant(reason Reason) Verdict {
	v.Granted = true
	v.Reason = reason
	v.NextAction = ActionNone
	return v
}

func (v Verdict) deny(reason Reason, action NextAction) Verdict {
	v.Granted = false
	v.Reason = reason
	v.NextAction = action
	return v
}
