package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// Repository defines persistence operations for license keys.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ClaimAvailable(ctx context.Context, productID uuid.UUID, qty int) ([]models.LicenseKey, error)
	AssignToLine(ctx context.Context, keyIDs []uuid.UUID, orderLineID uuid.UUID) error
	MarkRefunded(ctx context.Context, keyIDs []uuid.UUID) (int64, error)
	FindByIDs(ctx context.Context, keyIDs []uuid.UUID) ([]models.LicenseKey, error)
	FindByOrderLine(ctx context.Context, orderLineID uuid.UUID) ([]models.LicenseKey, error)
	CountAvailable(ctx context.Context, productID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a license key repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ClaimAvailable locks up to qty unissued keys for the product. SKIP LOCKED
// keeps concurrent commits from contending on the same rows.
func (r *repository) ClaimAvailable(ctx context.Context, productID uuid.UUID, qty int) ([]models.LicenseKey, error) {
	q := r.db.WithContext(ctx)
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var keys []models.LicenseKey
	err := q.
		Where("product_id = ? AND status = ?", productID, enums.LicenseKeyStatusAvailable).
		Order("created_at ASC").
		Limit(qty).
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repository) AssignToLine(ctx context.Context, keyIDs []uuid.UUID, orderLineID uuid.UUID) error {
	if len(keyIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.LicenseKey{}).
		Where("id IN ?", keyIDs).
		Updates(map[string]any{
			"status":        enums.LicenseKeyStatusAssigned,
			"order_line_id": orderLineID,
			"assigned_at":   time.Now(),
		}).Error
}

// MarkRefunded invalidates assigned keys. The status guard keeps the update
// from touching keys that were never issued or were already refunded.
func (r *repository) MarkRefunded(ctx context.Context, keyIDs []uuid.UUID) (int64, error) {
	if len(keyIDs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.LicenseKey{}).
		Where("id IN ? AND status = ?", keyIDs, enums.LicenseKeyStatusAssigned).
		Updates(map[string]any{
			"status":      enums.LicenseKeyStatusRefunded,
			"refunded_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

func (r *repository) FindByIDs(ctx context.Context, keyIDs []uuid.UUID) ([]models.LicenseKey, error) {
	var keys []models.LicenseKey
	err := r.db.WithContext(ctx).
		Where("id IN ?", keyIDs).
		Find(&keys).Error
	return keys, err
}

func (r *repository) FindByOrderLine(ctx context.Context, orderLineID uuid.UUID) ([]models.LicenseKey, error) {
	var keys []models.LicenseKey
	err := r.db.WithContext(ctx).
		Where("order_line_id = ?", orderLineID).
		Order("created_at ASC").
		Find(&keys).Error
	return keys, err
}

func (r *repository) CountAvailable(ctx context.Context, productID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LicenseKey{}).
		Where("product_id = ? AND status = ?", productID, enums.LicenseKeyStatusAvailable).
		Count(&count).Error
	return count, err
}
