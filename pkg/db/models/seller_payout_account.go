package models

import (
	"time"

	"github.com/google/uuid"
)

// SellerPayoutAccount is the external disbursement destination for a seller.
type SellerPayoutAccount struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID    uuid.UUID `gorm:"column:seller_id;type:uuid;not null;uniqueIndex"`
	PaypalEmail string    `gorm:"column:paypal_email;not null"`
	Verified    bool      `gorm:"column:verified;not null;default:false"`
	Blocked     bool      `gorm:"column:blocked;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
