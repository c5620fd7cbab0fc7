package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
)

type fakeOrdersRepo struct {
	findByNumberFn func(ctx context.Context, orderNumber string) (*models.Order, error)
	existsFn       func(ctx context.Context, orderNumber string) (bool, error)
	listByBuyerFn  func(ctx context.Context, buyerID uuid.UUID, limit int) ([]models.Order, error)
}

func (f *fakeOrdersRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeOrdersRepo) Create(_ context.Context, order *models.Order) (*models.Order, error) {
	return order, nil
}

func (f *fakeOrdersRepo) FindByID(context.Context, uuid.UUID) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOrdersRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	if f.findByNumberFn != nil {
		return f.findByNumberFn(ctx, orderNumber)
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOrdersRepo) FindByCheckoutSessionID(context.Context, uuid.UUID) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOrdersRepo) FindByProcessorOrderID(context.Context, string) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOrdersRepo) IsPaid(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeOrdersRepo) FindByProcessorCaptureID(context.Context, string) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOrdersRepo) FindLineByID(context.Context, uuid.UUID) (*models.OrderLineItem, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeOrdersRepo) ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error) {
	if f.existsFn != nil {
		return f.existsFn(ctx, orderNumber)
	}
	return false, nil
}

func (f *fakeOrdersRepo) MarkPaid(context.Context, uuid.UUID, string, time.Time) (bool, error) {
	return false, nil
}

func (f *fakeOrdersRepo) MarkPaymentRefunded(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeOrdersRepo) ApplyLineRefund(context.Context, uuid.UUID, int, decimal.Decimal, enums.RefundStatus) error {
	return nil
}

func (f *fakeOrdersRepo) ApplyOrderRefund(context.Context, uuid.UUID, decimal.Decimal, enums.RefundStatus, enums.OrderStatus) error {
	return nil
}

func (f *fakeOrdersRepo) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit int) ([]models.Order, error) {
	if f.listByBuyerFn != nil {
		return f.listByBuyerFn(ctx, buyerID, limit)
	}
	return nil, nil
}

func paidOrderFixture(buyerID uuid.UUID) *models.Order {
	lineID := uuid.New()
	return &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "KM-TEST12345",
		BuyerID:       &buyerID,
		Currency:      enums.CurrencyUSD,
		PaymentMethod: enums.PaymentMethodPayPal,
		Subtotal:      decimal.RequireFromString("20.00"),
		TotalPaid:     decimal.RequireFromString("20.00"),
		PaymentStatus: enums.PaymentStatusPaid,
		Status:        enums.OrderStatusCompleted,
		Lines: []models.OrderLineItem{{
			ID:        lineID,
			ProductID: uuid.New(),
			SellerID:  uuid.New(),
			Name:      "Game Key",
			Qty:       1,
			UnitPrice: decimal.RequireFromString("20.00"),
			LineTotal: decimal.RequireFromString("20.00"),
			Keys: []models.LicenseKey{{
				ID:   uuid.New(),
				Code: "AAAA-BBBB",
			}},
		}},
	}
}

func TestGetByOrderNumber_OwnerSeesKeys(t *testing.T) {
	buyerID := uuid.New()
	repo := &fakeOrdersRepo{
		findByNumberFn: func(_ context.Context, orderNumber string) (*models.Order, error) {
			return paidOrderFixture(buyerID), nil
		},
	}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	view, err := svc.GetByOrderNumber(context.Background(), "KM-TEST12345", &buyerID, false)
	if err != nil {
		t.Fatalf("GetByOrderNumber: %v", err)
	}
	if len(view.Lines) != 1 || len(view.Lines[0].Keys) != 1 {
		t.Fatalf("expected one line with one key, got %+v", view.Lines)
	}
	if view.Lines[0].Keys[0] != "AAAA-BBBB" {
		t.Fatalf("key = %s", view.Lines[0].Keys[0])
	}
}

func TestGetByOrderNumber_HiddenFromOtherUsers(t *testing.T) {
	buyerID := uuid.New()
	repo := &fakeOrdersRepo{
		findByNumberFn: func(_ context.Context, _ string) (*models.Order, error) {
			return paidOrderFixture(buyerID), nil
		},
	}
	svc, _ := NewService(repo)

	otherID := uuid.New()
	_, err := svc.GetByOrderNumber(context.Background(), "KM-TEST12345", &otherID, false)
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for non-owner, got %v", err)
	}
}

func TestGetByOrderNumber_AdminBypassesOwnership(t *testing.T) {
	buyerID := uuid.New()
	repo := &fakeOrdersRepo{
		findByNumberFn: func(_ context.Context, _ string) (*models.Order, error) {
			return paidOrderFixture(buyerID), nil
		},
	}
	svc, _ := NewService(repo)

	view, err := svc.GetByOrderNumber(context.Background(), "KM-TEST12345", nil, true)
	if err != nil {
		t.Fatalf("GetByOrderNumber: %v", err)
	}
	if view.OrderNumber != "KM-TEST12345" {
		t.Fatalf("order number = %s", view.OrderNumber)
	}
}

func TestGetByOrderNumber_UnpaidHidesKeys(t *testing.T) {
	buyerID := uuid.New()
	repo := &fakeOrdersRepo{
		findByNumberFn: func(_ context.Context, _ string) (*models.Order, error) {
			order := paidOrderFixture(buyerID)
			order.PaymentStatus = enums.PaymentStatusPending
			return order, nil
		},
	}
	svc, _ := NewService(repo)

	view, err := svc.GetByOrderNumber(context.Background(), "KM-TEST12345", &buyerID, false)
	if err != nil {
		t.Fatalf("GetByOrderNumber: %v", err)
	}
	if len(view.Lines[0].Keys) != 0 {
		t.Fatal("keys must not be revealed before payment")
	}
}

func TestNewOrderNumber_RetriesOnCollision(t *testing.T) {
	seen := 0
	repo := &fakeOrdersRepo{
		existsFn: func(_ context.Context, _ string) (bool, error) {
			seen++
			return seen <= 2, nil
		},
	}
	svc, _ := NewService(repo)

	number, err := svc.NewOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("NewOrderNumber: %v", err)
	}
	if seen != 3 {
		t.Fatalf("expected 3 uniqueness checks, got %d", seen)
	}
	if len(number) != len(orderNumberPrefix)+orderNumberLength {
		t.Fatalf("unexpected number %q", number)
	}
}

func TestNewOrderNumber_TimestampFallbackAfterExhaustion(t *testing.T) {
	repo := &fakeOrdersRepo{
		existsFn: func(_ context.Context, _ string) (bool, error) {
			return true, nil
		},
	}
	svc, _ := NewService(repo)

	number, err := svc.NewOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("NewOrderNumber: %v", err)
	}
	if number == "" || len(number) == len(orderNumberPrefix)+orderNumberLength {
		t.Fatalf("expected timestamp fallback, got %q", number)
	}
}

func TestNewOrderNumber_PropagatesLookupError(t *testing.T) {
	repo := &fakeOrdersRepo{
		existsFn: func(_ context.Context, _ string) (bool, error) {
			return false, errors.New("db down")
		},
	}
	svc, _ := NewService(repo)

	if _, err := svc.NewOrderNumber(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRollupRefundState(t *testing.T) {
	full := models.OrderLineItem{RefundStatus: enums.RefundStatusFull}
	partial := models.OrderLineItem{RefundStatus: enums.RefundStatusPartial}
	none := models.OrderLineItem{RefundStatus: enums.RefundStatusNone}

	tests := []struct {
		name       string
		lines      []models.OrderLineItem
		wantRefund enums.RefundStatus
		wantStatus enums.OrderStatus
	}{
		{"all full", []models.OrderLineItem{full, full}, enums.RefundStatusFull, enums.OrderStatusReturned},
		{"mixed", []models.OrderLineItem{full, none}, enums.RefundStatusPartial, enums.OrderStatusPartiallyCompleted},
		{"partial line", []models.OrderLineItem{partial}, enums.RefundStatusPartial, enums.OrderStatusPartiallyCompleted},
		{"untouched", []models.OrderLineItem{none, none}, enums.RefundStatusNone, enums.OrderStatusCompleted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			refund, status := RollupRefundState(tc.lines)
			if refund != tc.wantRefund || status != tc.wantStatus {
				t.Fatalf("got (%s, %s), want (%s, %s)", refund, status, tc.wantRefund, tc.wantStatus)
			}
		})
	}
}
