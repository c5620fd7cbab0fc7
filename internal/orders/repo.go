package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

// Repository manages persistence for orders and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	FindByCheckoutSessionID(ctx context.Context, sessionID uuid.UUID) (*models.Order, error)
	FindByProcessorOrderID(ctx context.Context, processorOrderID string) (*models.Order, error)
	FindByProcessorCaptureID(ctx context.Context, captureID string) (*models.Order, error)
	FindLineByID(ctx context.Context, lineID uuid.UUID) (*models.OrderLineItem, error)
	ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error)
	// IsPaid feeds the payout release eligibility check.
	IsPaid(ctx context.Context, orderID uuid.UUID) (bool, error)
	// MarkPaid flips payment_status to paid and stamps the capture id, but
	// only while the order is still pending. Returns false when another
	// writer got there first or the order is in a terminal payment state.
	MarkPaid(ctx context.Context, orderID uuid.UUID, captureID string, completedAt time.Time) (bool, error)
	// MarkPaymentRefunded applies a processor-initiated refund: paid orders
	// only, no internal refund workflow involved.
	MarkPaymentRefunded(ctx context.Context, orderID uuid.UUID) (bool, error)
	ApplyLineRefund(ctx context.Context, lineID uuid.UUID, qty int, amount decimal.Decimal, status enums.RefundStatus) error
	ApplyOrderRefund(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, refundStatus enums.RefundStatus, orderStatus enums.OrderStatus) error
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Preload("Lines.Keys").
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByCheckoutSessionID(ctx context.Context, sessionID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Preload("Lines.Keys").
		Where("checkout_session_id = ?", sessionID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByProcessorOrderID(ctx context.Context, processorOrderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("processor_order_id = ?", processorOrderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByProcessorCaptureID(ctx context.Context, captureID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("processor_capture_id = ?", captureID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindLineByID(ctx context.Context, lineID uuid.UUID) (*models.OrderLineItem, error) {
	var line models.OrderLineItem
	err := r.db.WithContext(ctx).
		Preload("Keys").
		Where("id = ?", lineID).
		First(&line).Error
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *repository) ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_number = ?", orderNumber).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) IsPaid(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, enums.PaymentStatusPaid).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) MarkPaid(ctx context.Context, orderID uuid.UUID, captureID string, completedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, enums.PaymentStatusPending).
		Updates(map[string]any{
			"payment_status":       enums.PaymentStatusPaid,
			"processor_capture_id": captureID,
			"completed_at":         completedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) MarkPaymentRefunded(ctx context.Context, orderID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, enums.PaymentStatusPaid).
		Updates(map[string]any{
			"payment_status": enums.PaymentStatusRefunded,
			"status":         enums.OrderStatusReturned,
			"refund_status":  enums.RefundStatusFull,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ApplyLineRefund(ctx context.Context, lineID uuid.UUID, qty int, amount decimal.Decimal, status enums.RefundStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderLineItem{}).
		Where("id = ?", lineID).
		Updates(map[string]any{
			"refunded_qty":    gorm.Expr("refunded_qty + ?", qty),
			"refunded_amount": gorm.Expr("refunded_amount + ?", amount),
			"refund_status":   status,
		}).Error
}

func (r *repository) ApplyOrderRefund(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, refundStatus enums.RefundStatus, orderStatus enums.OrderStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"refunded_total": gorm.Expr("refunded_total + ?", amount),
			"refund_status":  refundStatus,
			"status":         orderStatus,
		}).Error
}

func (r *repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
