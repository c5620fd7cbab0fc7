package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// WalletTransaction is an append-only money movement. Balances are derived
// by aggregation; rows are never mutated after creation.
type WalletTransaction struct {
	ID                 uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID             uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;index"`
	Type               enums.WalletTransactionType `gorm:"column:type;type:text;not null"`
	Amount             decimal.Decimal             `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency           enums.Currency              `gorm:"column:currency;type:text;not null;default:'USD'"`
	Reason             string                      `gorm:"column:reason;not null"`
	OrderID            *uuid.UUID                  `gorm:"column:order_id;type:uuid;index"`
	RefundRequestID    *uuid.UUID                  `gorm:"column:refund_request_id;type:uuid"`
	ProcessorCaptureID *string                     `gorm:"column:processor_capture_id;uniqueIndex"`
	CreatedAt          time.Time                   `gorm:"column:created_at;autoCreateTime"`
}
