package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// Repository manages payout escrow records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.PayoutEscrowRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutEscrowRecord, error)
	// LockByID re-reads a record under a row lock. Call inside a
	// transaction; the lock is held until it commits.
	LockByID(ctx context.Context, id uuid.UUID) (*models.PayoutEscrowRecord, error)
	FindByOrderAndSeller(ctx context.Context, orderID, sellerID uuid.UUID) (*models.PayoutEscrowRecord, error)
	// FindDue returns pending and blocked records whose hold window elapsed.
	// Blocked records are included so a cleared dispute heals on the next run.
	FindDue(ctx context.Context, now time.Time, limit int) ([]models.PayoutEscrowRecord, error)
	// ApplyRefundReversal shrinks a held record in place. The update is
	// guarded so the net amount can never go below zero; callers block the
	// record instead when the guard reports no row changed.
	ApplyRefundReversal(ctx context.Context, id uuid.UUID, gross, commission, net decimal.Decimal) (bool, error)
	Block(ctx context.Context, id uuid.UUID, reason string) error
	// BlockForOrder blocks every non-terminal record of an order. Used by
	// processor-initiated refund and dispute notifications.
	BlockForOrder(ctx context.Context, orderID uuid.UUID, reason string) (int64, error)
	Unblock(ctx context.Context, id uuid.UUID) error
	// MarkReleased settles a record only while its net amount still equals
	// the amount that was disbursed. A false return means a concurrent
	// reversal changed the record and the caller must not settle it.
	MarkReleased(ctx context.Context, id uuid.UUID, net decimal.Decimal, batchID, itemID string, releasedAt time.Time) (bool, error)
	RecordAttemptFailure(ctx context.Context, id uuid.UUID, attemptErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attemptErr string) error
	ReleasedNetTotal(ctx context.Context, sellerID uuid.UUID) (decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payout escrow repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.PayoutEscrowRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutEscrowRecord, error) {
	var record models.PayoutEscrowRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.PayoutEscrowRecord, error) {
	q := r.db.WithContext(ctx)
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record models.PayoutEscrowRecord
	if err := q.Where("id = ?", id).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindByOrderAndSeller(ctx context.Context, orderID, sellerID uuid.UUID) (*models.PayoutEscrowRecord, error) {
	var record models.PayoutEscrowRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND seller_id = ?", orderID, sellerID).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindDue(ctx context.Context, now time.Time, limit int) ([]models.PayoutEscrowRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx).
		Where("status IN ?", []enums.EscrowStatus{enums.EscrowStatusPending, enums.EscrowStatusBlocked}).
		Where("hold_until <= ?", now).
		Order("hold_until ASC").
		Limit(limit)
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var records []models.PayoutEscrowRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) ApplyRefundReversal(ctx context.Context, id uuid.UUID, gross, commission, net decimal.Decimal) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PayoutEscrowRecord{}).
		Where("id = ? AND status IN ? AND net_amount >= ?",
			id, []enums.EscrowStatus{enums.EscrowStatusPending, enums.EscrowStatusBlocked}, net).
		Updates(map[string]any{
			"gross_amount":      gorm.Expr("gross_amount - ?", gross),
			"commission_amount": gorm.Expr("commission_amount - ?", commission),
			"net_amount":        gorm.Expr("net_amount - ?", net),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Block(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.PayoutEscrowRecord{}).
		Where("id = ? AND status IN ?",
			id, []enums.EscrowStatus{enums.EscrowStatusPending, enums.EscrowStatusBlocked}).
		Updates(map[string]any{
			"status":       enums.EscrowStatusBlocked,
			"block_reason": reason,
		}).Error
}

func (r *repository) BlockForOrder(ctx context.Context, orderID uuid.UUID, reason string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PayoutEscrowRecord{}).
		Where("order_id = ? AND status IN ?",
			orderID, []enums.EscrowStatus{enums.EscrowStatusPending, enums.EscrowStatusBlocked}).
		Updates(map[string]any{
			"status":       enums.EscrowStatusBlocked,
			"block_reason": reason,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) Unblock(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PayoutEscrowRecord{}).
		Where("id = ? AND status = ?", id, enums.EscrowStatusBlocked).
		Updates(map[string]any{
			"status":       enums.EscrowStatusPending,
			"block_reason": nil,
		}).Error
}

func (r *repository) MarkReleased(ctx context.Context, id uuid.UUID, net decimal.Decimal, batchID, itemID string, releasedAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":      enums.EscrowStatusReleased,
		"released_at": releasedAt,
	}
	if batchID != "" {
		updates["disbursement_batch_id"] = batchID
	}
	if itemID != "" {
		updates["disbursement_item_id"] = itemID
	}
	result := r.db.WithContext(ctx).
		Model(&models.PayoutEscrowRecord{}).
		Where("id = ? AND status IN ? AND net_amount = ?",
			id, []enums.EscrowStatus{enums.EscrowStatusPending, enums.EscrowStatusBlocked}, net).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) RecordAttemptFailure(ctx context.Context, id uuid.UUID, attemptErr string) error {
	return r.db.WithContext(ctx).
		Model(&models.PayoutEscrowRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    truncateError(attemptErr),
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, attemptErr string) error {
	return r.db.WithContext(ctx).
		Model(&models.PayoutEscrowRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.EscrowStatusFailed,
			"last_error": truncateError(attemptErr),
		}).Error
}

func (r *repository) ReleasedNetTotal(ctx context.Context, sellerID uuid.UUID) (decimal.Decimal, error) {
	var raw *string
	err := r.db.WithContext(ctx).
		Model(&models.PayoutEscrowRecord{}).
		Select("SUM(net_amount)").
		Where("seller_id = ? AND status = ?", sellerID, enums.EscrowStatusReleased).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}

const maxStoredErrorLen = 1024

func truncateError(msg string) string {
	if len(msg) > maxStoredErrorLen {
		return msg[:maxStoredErrorLen]
	}
	return msg
}
