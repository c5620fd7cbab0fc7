package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// PayoutEscrowRecord holds one seller's earnings for one order until the
// hold window elapses. Its lifecycle is independent from the order's.
type PayoutEscrowRecord struct {
	ID                  uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID             uuid.UUID          `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_payout_escrow_order_seller"`
	SellerID            uuid.UUID          `gorm:"column:seller_id;type:uuid;not null;uniqueIndex:ux_payout_escrow_order_seller;index"`
	Currency            enums.Currency     `gorm:"column:currency;type:text;not null;default:'USD'"`
	GrossAmount         decimal.Decimal    `gorm:"column:gross_amount;type:numeric(12,2);not null"`
	CommissionAmount    decimal.Decimal    `gorm:"column:commission_amount;type:numeric(12,2);not null"`
	NetAmount           decimal.Decimal    `gorm:"column:net_amount;type:numeric(12,2);not null"`
	Status              enums.EscrowStatus `gorm:"column:status;type:text;not null;default:'pending';index:idx_payout_escrow_status_hold"`
	HoldUntil           time.Time          `gorm:"column:hold_until;not null;index:idx_payout_escrow_status_hold"`
	AttemptCount        int                `gorm:"column:attempt_count;not null;default:0"`
	BlockReason         *string            `gorm:"column:block_reason"`
	LastError           *string            `gorm:"column:last_error"`
	DisbursementBatchID *string            `gorm:"column:disbursement_batch_id"`
	DisbursementItemID  *string            `gorm:"column:disbursement_item_id"`
	ReleasedAt          *time.Time         `gorm:"column:released_at"`
	CreatedAt           time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
