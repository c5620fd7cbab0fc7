package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// RefundEvent is one append-only entry in a refund request's history log.
type RefundEvent struct {
	ID              uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RefundRequestID uuid.UUID                 `gorm:"column:refund_request_id;type:uuid;not null;index"`
	ActorID         uuid.UUID                 `gorm:"column:actor_id;type:uuid;not null"`
	Action          string                    `gorm:"column:action;not null"`
	PrevStatus      enums.RefundRequestStatus `gorm:"column:prev_status;type:text;not null"`
	NewStatus       enums.RefundRequestStatus `gorm:"column:new_status;type:text;not null"`
	Notes           *string                   `gorm:"column:notes"`
	CreatedAt       time.Time                 `gorm:"column:created_at;autoCreateTime"`
}
