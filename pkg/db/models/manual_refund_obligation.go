package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// ManualRefundObligation records an original-payment-method refund an
// operator must complete out-of-band.
type ManualRefundObligation struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RefundRequestID uuid.UUID       `gorm:"column:refund_request_id;type:uuid;not null;uniqueIndex"`
	OrderID         uuid.UUID       `gorm:"column:order_id;type:uuid;not null"`
	BuyerID         uuid.UUID       `gorm:"column:buyer_id;type:uuid;not null"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency        enums.Currency  `gorm:"column:currency;type:text;not null;default:'USD'"`
	Settled         bool            `gorm:"column:settled;not null;default:false"`
	SettledAt       *time.Time      `gorm:"column:settled_at"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
}
