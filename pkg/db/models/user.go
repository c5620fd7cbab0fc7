package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal owner reference for orders and wallets. Full identity
// management lives outside the settlement core.
type User struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email       string    `gorm:"column:email;uniqueIndex;not null"`
	DisplayName string    `gorm:"column:display_name"`
	IsGuest     bool      `gorm:"column:is_guest;not null;default:false"`
	IsSeller    bool      `gorm:"column:is_seller;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
