package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// Order is the durable financial record produced from a paid checkout.
// Orders are never hard-deleted.
type Order struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber        string              `gorm:"column:order_number;uniqueIndex;not null"`
	CheckoutSessionID  uuid.UUID           `gorm:"column:checkout_session_id;type:uuid;not null;uniqueIndex:ux_orders_checkout_session"`
	BuyerID            *uuid.UUID          `gorm:"column:buyer_id;type:uuid;index"`
	GuestEmail         *string             `gorm:"column:guest_email"`
	Currency           enums.Currency      `gorm:"column:currency;type:text;not null;default:'USD'"`
	PaymentMethod      enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	ProcessorOrderID   *string             `gorm:"column:processor_order_id;uniqueIndex"`
	ProcessorCaptureID *string             `gorm:"column:processor_capture_id;uniqueIndex"`
	Subtotal           decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null"`
	DiscountTotal      decimal.Decimal     `gorm:"column:discount_total;type:numeric(12,2);not null;default:0"`
	HandlingFee        decimal.Decimal     `gorm:"column:handling_fee;type:numeric(12,2);not null;default:0"`
	CommissionTotal    decimal.Decimal     `gorm:"column:commission_total;type:numeric(12,2);not null"`
	SellerEarningTotal decimal.Decimal     `gorm:"column:seller_earning_total;type:numeric(12,2);not null"`
	AdminEarningTotal  decimal.Decimal     `gorm:"column:admin_earning_total;type:numeric(12,2);not null"`
	TotalPaid          decimal.Decimal     `gorm:"column:total_paid;type:numeric(12,2);not null"`
	RefundedTotal      decimal.Decimal     `gorm:"column:refunded_total;type:numeric(12,2);not null;default:0"`
	PaymentStatus      enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	Status             enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'processing'"`
	RefundStatus       enums.RefundStatus  `gorm:"column:refund_status;type:text;not null;default:'none'"`
	CompletedAt        *time.Time          `gorm:"column:completed_at"`
	Lines              []OrderLineItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
