package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// Repository manages checkout sessions and the cart rows a commit consumes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, session *models.CheckoutSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	// SetStatus performs a guarded status move; false means the session was
	// no longer in the expected state.
	SetStatus(ctx context.Context, id uuid.UUID, from, to enums.CheckoutStatus) (bool, error)
	SetProcessorOrderID(ctx context.Context, id uuid.UUID, processorOrderID string) error
	// ClearCart deletes the buyer's cart rows. Runs inside the commit
	// transaction so an aborted commit leaves the cart untouched.
	ClearCart(ctx context.Context, buyerID uuid.UUID) error
	// ExpirePendingBefore fails pending sessions that were never committed.
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, session *models.CheckoutSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, from, to enums.CheckoutStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) SetProcessorOrderID(ctx context.Context, id uuid.UUID, processorOrderID string) error {
	return r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("id = ?", id).
		Update("processor_order_id", processorOrderID).Error
}

func (r *repository) ClearCart(ctx context.Context, buyerID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Delete(&models.CartItem{}).Error
}

func (r *repository) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("status = ? AND created_at < ?", enums.CheckoutStatusPending, cutoff).
		Update("status", enums.CheckoutStatusFailed)
	return result.RowsAffected, result.Error
}
