package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// OrderPaidEvent is emitted once when checkout commit converts a paid
// session into a durable order.
type OrderPaidEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     *uuid.UUID      `json:"buyer_id,omitempty"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Currency    enums.Currency  `json:"currency"`
	LineCount   int             `json:"line_count"`
}

// OrderReconciledEvent reports a webhook-driven payment state change.
type OrderReconciledEvent struct {
	OrderID          uuid.UUID           `json:"order_id"`
	OrderNumber      string              `json:"order_number"`
	ProcessorEventID string              `json:"processor_event_id"`
	PaymentStatus    enums.PaymentStatus `json:"payment_status"`
}

// PayoutScheduledEvent announces a new escrow hold for a seller.
type PayoutScheduledEvent struct {
	EscrowID  uuid.UUID       `json:"escrow_id"`
	OrderID   uuid.UUID       `json:"order_id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	NetAmount decimal.Decimal `json:"net_amount"`
	HoldUntil time.Time       `json:"hold_until"`
}

// PayoutReleasedEvent is emitted once when escrow funds reach the seller.
type PayoutReleasedEvent struct {
	EscrowID            uuid.UUID       `json:"escrow_id"`
	OrderID             uuid.UUID       `json:"order_id"`
	SellerID            uuid.UUID       `json:"seller_id"`
	NetAmount           decimal.Decimal `json:"net_amount"`
	DisbursementBatchID string          `json:"disbursement_batch_id"`
	ReleasedAt          time.Time       `json:"released_at"`
}

// PayoutBlockedEvent reports an escrow record frozen by a dispute or
// an unpayable destination.
type PayoutBlockedEvent struct {
	EscrowID uuid.UUID `json:"escrow_id"`
	OrderID  uuid.UUID `json:"order_id"`
	SellerID uuid.UUID `json:"seller_id"`
	Reason   string    `json:"reason"`
}

// PayoutFailedEvent reports a disbursement attempt that exhausted retries.
type PayoutFailedEvent struct {
	EscrowID     uuid.UUID `json:"escrow_id"`
	OrderID      uuid.UUID `json:"order_id"`
	SellerID     uuid.UUID `json:"seller_id"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`
}

// RefundRequestedEvent announces a new buyer dispute.
type RefundRequestedEvent struct {
	RefundRequestID uuid.UUID `json:"refund_request_id"`
	OrderID         uuid.UUID `json:"order_id"`
	OrderLineID     uuid.UUID `json:"order_line_id"`
	BuyerID         uuid.UUID `json:"buyer_id"`
	SellerID        uuid.UUID `json:"seller_id"`
	Qty             int       `json:"qty"`
	Reason          string    `json:"reason"`
}

// RefundCompletedEvent carries the final money movement of a refund.
type RefundCompletedEvent struct {
	RefundRequestID       uuid.UUID          `json:"refund_request_id"`
	OrderID               uuid.UUID          `json:"order_id"`
	BuyerID               uuid.UUID          `json:"buyer_id"`
	SellerID              uuid.UUID          `json:"seller_id"`
	RefundAmount          decimal.Decimal    `json:"refund_amount"`
	SellerEarningReversed decimal.Decimal    `json:"seller_earning_reversed"`
	Method                enums.RefundMethod `json:"method"`
}

// RefundOnHoldEvent reports an approved refund parked because the seller
// balance could not absorb the reversal.
type RefundOnHoldEvent struct {
	RefundRequestID uuid.UUID       `json:"refund_request_id"`
	OrderID         uuid.UUID       `json:"order_id"`
	SellerID        uuid.UUID       `json:"seller_id"`
	RefundAmount    decimal.Decimal `json:"refund_amount"`
	SellerBalance   decimal.Decimal `json:"seller_balance"`
}

// RefundRejectedEvent carries the admin decision on a denied dispute.
type RefundRejectedEvent struct {
	RefundRequestID uuid.UUID `json:"refund_request_id"`
	OrderID         uuid.UUID `json:"order_id"`
	BuyerID         uuid.UUID `json:"buyer_id"`
	Notes           string    `json:"notes,omitempty"`
}

// InventoryLowStockEvent warns that a product's unassigned key pool fell
// below the configured threshold.
type InventoryLowStockEvent struct {
	ProductID uuid.UUID `json:"product_id"`
	SellerID  uuid.UUID `json:"seller_id"`
	Available int       `json:"available"`
	Threshold int       `json:"threshold"`
}
