package enums

import "fmt"

// RefundRequestStatus tracks the dispute state machine.
type RefundRequestStatus string

const (
	RefundRequestStatusPending                 RefundRequestStatus = "pending"
	RefundRequestStatusAdminReview             RefundRequestStatus = "admin_review"
	RefundRequestStatusAdminApproved           RefundRequestStatus = "admin_approved"
	RefundRequestStatusAdminRejected           RefundRequestStatus = "admin_rejected"
	RefundRequestStatusOnHoldInsufficientFunds RefundRequestStatus = "on_hold_insufficient_funds"
	RefundRequestStatusCompleted               RefundRequestStatus = "completed"
)

var validRefundRequestStatuses = []RefundRequestStatus{
	RefundRequestStatusPending,
	RefundRequestStatusAdminReview,
	RefundRequestStatusAdminApproved,
	RefundRequestStatusAdminRejected,
	RefundRequestStatusOnHoldInsufficientFunds,
	RefundRequestStatusCompleted,
}

// String implements fmt.Stringer.
func (r RefundRequestStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundRequestStatus.
func (r RefundRequestStatus) IsValid() bool {
	for _, candidate := range validRefundRequestStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the request can no longer change state.
func (r RefundRequestStatus) IsTerminal() bool {
	return r == RefundRequestStatusCompleted || r == RefundRequestStatusAdminRejected
}

// ParseRefundRequestStatus converts raw input into a RefundRequestStatus.
func ParseRefundRequestStatus(value string) (RefundRequestStatus, error) {
	for _, candidate := range validRefundRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund request status %q", value)
}
