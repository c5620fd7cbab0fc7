package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// RefundRequest is one buyer dispute over a subset of an order line's units.
// Terminal requests are immutable.
type RefundRequest struct {
	ID                    uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID               uuid.UUID                 `gorm:"column:order_id;type:uuid;not null;index"`
	OrderLineID           uuid.UUID                 `gorm:"column:order_line_id;type:uuid;not null;index"`
	BuyerID               uuid.UUID                 `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID              uuid.UUID                 `gorm:"column:seller_id;type:uuid;not null"`
	Method                enums.RefundMethod        `gorm:"column:method;type:text;not null;default:'wallet'"`
	Qty                   int                       `gorm:"column:qty;not null"`
	KeyIDs                UUIDList                  `gorm:"column:key_ids;type:jsonb;serializer:json"`
	Reason                string                    `gorm:"column:reason;not null"`
	Evidence              *string                   `gorm:"column:evidence"`
	Status                enums.RefundRequestStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	RefundAmount          decimal.Decimal           `gorm:"column:refund_amount;type:numeric(12,2);not null;default:0"`
	SellerEarningReversed decimal.Decimal           `gorm:"column:seller_earning_reversed;type:numeric(12,2);not null;default:0"`
	CommissionReversed    decimal.Decimal           `gorm:"column:commission_reversed;type:numeric(12,2);not null;default:0"`
	ResolvedAt            *time.Time                `gorm:"column:resolved_at"`
	Events                []RefundEvent             `gorm:"foreignKey:RefundRequestID;constraint:OnDelete:CASCADE"`
	CreatedAt             time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

// UUIDList stores an ordered set of ids as a JSON array.
type UUIDList []uuid.UUID
