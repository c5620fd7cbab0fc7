package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// LicenseKey is one sellable inventory unit. A refunded key is never resold.
type LicenseKey struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID   uuid.UUID              `gorm:"column:product_id;type:uuid;not null;index:idx_license_keys_product_status"`
	SellerID    uuid.UUID              `gorm:"column:seller_id;type:uuid;not null"`
	Code        string                 `gorm:"column:code;not null;uniqueIndex:ux_license_keys_product_code,composite:product_id"`
	Status      enums.LicenseKeyStatus `gorm:"column:status;type:text;not null;default:'available';index:idx_license_keys_product_status"`
	OrderLineID *uuid.UUID             `gorm:"column:order_line_id;type:uuid"`
	AssignedAt  *time.Time             `gorm:"column:assigned_at"`
	RefundedAt  *time.Time             `gorm:"column:refunded_at"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
