package refunds

import (
	"github.com/keymartlabs/keymart-backend/pkg/enums"
	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
)

// Actions recorded in the refund history log.
const (
	ActionRequested = "requested"
	ActionReviewed  = "moved_to_review"
	ActionApproved  = "approved"
	ActionRejected  = "rejected"
	ActionCompleted = "completed"
	ActionHeld      = "held_insufficient_funds"
	ActionRetried   = "retried"
)

// transitions is the whole dispute state machine. Every status change goes
// through checkTransition; there are no ad-hoc writes.
var transitions = map[enums.RefundRequestStatus][]enums.RefundRequestStatus{
	enums.RefundRequestStatusPending: {
		enums.RefundRequestStatusAdminReview,
	},
	enums.RefundRequestStatusAdminReview: {
		enums.RefundRequestStatusAdminApproved,
		enums.RefundRequestStatusAdminRejected,
	},
	enums.RefundRequestStatusAdminApproved: {
		enums.RefundRequestStatusCompleted,
		enums.RefundRequestStatusOnHoldInsufficientFunds,
	},
	enums.RefundRequestStatusOnHoldInsufficientFunds: {
		enums.RefundRequestStatusCompleted,
		enums.RefundRequestStatusOnHoldInsufficientFunds,
	},
}

func checkTransition(from, to enums.RefundRequestStatus) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal refund transition").
		WithDetails(map[string]any{"from": from.String(), "to": to.String()})
}
