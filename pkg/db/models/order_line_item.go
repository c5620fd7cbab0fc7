package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// OrderLineItem freezes the per-line money split at commit time. Refund
// reversals always read these figures, never a fresh recomputation.
type OrderLineItem struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID        uuid.UUID          `gorm:"column:product_id;type:uuid;not null"`
	SellerID         uuid.UUID          `gorm:"column:seller_id;type:uuid;not null;index"`
	Name             string             `gorm:"column:name;not null"`
	Qty              int                `gorm:"column:qty;not null"`
	UnitPrice        decimal.Decimal    `gorm:"column:unit_price;type:numeric(12,2);not null"`
	LineTotal        decimal.Decimal    `gorm:"column:line_total;type:numeric(12,2);not null"`
	CommissionRate   decimal.Decimal    `gorm:"column:commission_rate;type:numeric(6,4);not null"`
	CommissionAmount decimal.Decimal    `gorm:"column:commission_amount;type:numeric(12,2);not null"`
	SellerEarning    decimal.Decimal    `gorm:"column:seller_earning;type:numeric(12,2);not null"`
	RefundedQty      int                `gorm:"column:refunded_qty;not null;default:0"`
	RefundedAmount   decimal.Decimal    `gorm:"column:refunded_amount;type:numeric(12,2);not null;default:0"`
	RefundStatus     enums.RefundStatus `gorm:"column:refund_status;type:text;not null;default:'none'"`
	Keys             []LicenseKey       `gorm:"foreignKey:OrderLineID"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
