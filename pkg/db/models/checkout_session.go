package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// CheckoutSession is the pre-order cart snapshot a buyer pays against.
type CheckoutSession struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID          *uuid.UUID           `gorm:"column:buyer_id;type:uuid;index"`
	GuestEmail       *string              `gorm:"column:guest_email"`
	Currency         enums.Currency       `gorm:"column:currency;type:text;not null;default:'USD'"`
	PaymentMethod    enums.PaymentMethod  `gorm:"column:payment_method;type:text;not null;default:'paypal'"`
	ProcessorOrderID *string              `gorm:"column:processor_order_id;uniqueIndex"`
	Status           enums.CheckoutStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Items            []CheckoutItem       `gorm:"foreignKey:CheckoutSessionID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// CheckoutItem is one product/quantity pair inside a checkout session.
type CheckoutItem struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CheckoutSessionID uuid.UUID       `gorm:"column:checkout_session_id;type:uuid;not null;index"`
	ProductID         uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	SellerID          uuid.UUID       `gorm:"column:seller_id;type:uuid;not null"`
	Qty               int             `gorm:"column:qty;not null"`
	UnitPrice         decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
}
