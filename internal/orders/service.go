package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
)

// Service exposes order reads and shared order bookkeeping.
type Service interface {
	GetByOrderNumber(ctx context.Context, orderNumber string, viewerID *uuid.UUID, isAdmin bool) (*OrderView, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, limit int) ([]OrderSummary, error)
	// NewOrderNumber reserves nothing; uniqueness is enforced by the orders
	// table. Callers create the order in the same transaction.
	NewOrderNumber(ctx context.Context) (string, error)
}

type service struct {
	repo Repository
}

// NewService builds the orders service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetByOrderNumber(ctx context.Context, orderNumber string, viewerID *uuid.UUID, isAdmin bool) (*OrderView, error) {
	order, err := s.repo.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	if !isAdmin {
		if order.BuyerID == nil || viewerID == nil || *order.BuyerID != *viewerID {
			// Hide existence from non-owners.
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
	}
	return toOrderView(order), nil
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, limit int) ([]OrderSummary, error) {
	rows, err := s.repo.ListByBuyer(ctx, buyerID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing orders")
	}
	summaries := make([]OrderSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, toOrderSummary(row))
	}
	return summaries, nil
}

func (s *service) NewOrderNumber(ctx context.Context) (string, error) {
	return generateOrderNumber(ctx, s.repo.ExistsByOrderNumber)
}

// RollupRefundState derives the order-level refund and fulfillment status
// from its lines after a refund lands.
func RollupRefundState(lines []models.OrderLineItem) (enums.RefundStatus, enums.OrderStatus) {
	if len(lines) == 0 {
		return enums.RefundStatusNone, enums.OrderStatusCompleted
	}
	allFull := true
	anyRefund := false
	for _, line := range lines {
		switch line.RefundStatus {
		case enums.RefundStatusFull:
			anyRefund = true
		case enums.RefundStatusPartial:
			anyRefund = true
			allFull = false
		default:
			allFull = false
		}
	}
	switch {
	case allFull:
		return enums.RefundStatusFull, enums.OrderStatusReturned
	case anyRefund:
		return enums.RefundStatusPartial, enums.OrderStatusPartiallyCompleted
	default:
		return enums.RefundStatusNone, enums.OrderStatusCompleted
	}
}
