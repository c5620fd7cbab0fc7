package refunds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// Repository manages refund requests, their history log and manual refund
// obligations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, req *models.RefundRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.RefundRequest, error)
	HasOpenForOrderLine(ctx context.Context, orderLineID uuid.UUID) (bool, error)
	// HasOpenForOrderSeller feeds the payout release eligibility check.
	HasOpenForOrderSeller(ctx context.Context, orderID, sellerID uuid.UUID) (bool, error)
	// Transition performs a guarded status update; false means the request
	// was no longer in the expected state (a concurrent writer won).
	Transition(ctx context.Context, id uuid.UUID, from, to enums.RefundRequestStatus, extra map[string]any) (bool, error)
	AppendEvent(ctx context.Context, event *models.RefundEvent) error
	CreateObligation(ctx context.Context, obligation *models.ManualRefundObligation) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a refunds repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, req *models.RefundRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var req models.RefundRequest
	err := r.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.RefundRequest, error) {
	var rows []models.RefundRequest
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

var openStatuses = []enums.RefundRequestStatus{
	enums.RefundRequestStatusPending,
	enums.RefundRequestStatusAdminReview,
	enums.RefundRequestStatusAdminApproved,
	enums.RefundRequestStatusOnHoldInsufficientFunds,
}

func (r *repository) HasOpenForOrderLine(ctx context.Context, orderLineID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("order_line_id = ? AND status IN ?", orderLineID, openStatuses).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) HasOpenForOrderSeller(ctx context.Context, orderID, sellerID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("order_id = ? AND seller_id = ? AND status IN ?", orderID, sellerID, openStatuses).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.RefundRequestStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for column, value := range extra {
		updates[column] = value
	}
	if to.IsTerminal() && updates["resolved_at"] == nil {
		updates["resolved_at"] = time.Now()
	}
	result := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) AppendEvent(ctx context.Context, event *models.RefundEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) CreateObligation(ctx context.Context, obligation *models.ManualRefundObligation) error {
	return r.db.WithContext(ctx).Create(obligation).Error
}

// ComputedAmounts packages the reversal figures persisted on approval.
type ComputedAmounts struct {
	RefundAmount          decimal.Decimal
	SellerEarningReversed decimal.Decimal
	CommissionReversed    decimal.Decimal
}

// AmountColumns renders the computed figures as update columns.
func (c ComputedAmounts) AmountColumns() map[string]any {
	return map[string]any{
		"refund_amount":           c.RefundAmount,
		"seller_earning_reversed": c.SellerEarningReversed,
		"commission_reversed":     c.CommissionReversed,
	}
}
