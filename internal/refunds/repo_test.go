package refunds

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
)

func setupRefundTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A named shared-cache DSN keeps the in-memory database alive across
	// pooled connections; the name isolates tests from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS refund_requests (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  order_line_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  method TEXT NOT NULL DEFAULT 'wallet',
  qty INTEGER NOT NULL,
  key_ids TEXT,
  reason TEXT NOT NULL,
  evidence TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  refund_amount NUMERIC NOT NULL DEFAULT 0,
  seller_earning_reversed NUMERIC NOT NULL DEFAULT 0,
  commission_reversed NUMERIC NOT NULL DEFAULT 0,
  resolved_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS refund_events (
  id TEXT PRIMARY KEY,
  refund_request_id TEXT NOT NULL,
  actor_id TEXT NOT NULL,
  action TEXT NOT NULL,
  prev_status TEXT NOT NULL,
  new_status TEXT NOT NULL,
  notes TEXT,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS manual_refund_obligations (
  id TEXT PRIMARY KEY,
  refund_request_id TEXT NOT NULL UNIQUE,
  order_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  settled INTEGER NOT NULL DEFAULT 0,
  settled_at DATETIME,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func seedRefundRequest(t *testing.T, db *gorm.DB, status enums.RefundRequestStatus) *models.RefundRequest {
	t.Helper()
	req := &models.RefundRequest{
		ID:          uuid.New(),
		OrderID:     uuid.New(),
		OrderLineID: uuid.New(),
		BuyerID:     uuid.New(),
		SellerID:    uuid.New(),
		Method:      enums.RefundMethodWallet,
		Qty:         1,
		KeyIDs:      models.UUIDList{uuid.New()},
		Reason:      "dead key",
		Status:      status,
	}
	require.NoError(t, NewRepository(db).Create(context.Background(), req))
	return req
}

func TestRefundRepo_TransitionGuardsOnCurrentStatus(t *testing.T) {
	db := setupRefundTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	req := seedRefundRequest(t, db, enums.RefundRequestStatusPending)

	applied, err := repo.Transition(ctx, req.ID, enums.RefundRequestStatusPending, enums.RefundRequestStatusAdminReview, nil)
	require.NoError(t, err)
	require.True(t, applied)

	// A second writer racing on the stale status loses.
	applied, err = repo.Transition(ctx, req.ID, enums.RefundRequestStatusPending, enums.RefundRequestStatusAdminRejected, nil)
	require.NoError(t, err)
	require.False(t, applied)

	loaded, err := repo.FindByID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, enums.RefundRequestStatusAdminReview, loaded.Status)
	require.Nil(t, loaded.ResolvedAt)
}

func TestRefundRepo_TerminalTransitionStampsResolvedAtAndAmounts(t *testing.T) {
	db := setupRefundTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	req := seedRefundRequest(t, db, enums.RefundRequestStatusAdminApproved)

	amounts := ComputedAmounts{
		RefundAmount:          decimal.RequireFromString("49.99"),
		SellerEarningReversed: decimal.RequireFromString("44.99"),
		CommissionReversed:    decimal.RequireFromString("5.00"),
	}
	applied, err := repo.Transition(ctx, req.ID,
		enums.RefundRequestStatusAdminApproved, enums.RefundRequestStatusCompleted, amounts.AmountColumns())
	require.NoError(t, err)
	require.True(t, applied)

	loaded, err := repo.FindByID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, enums.RefundRequestStatusCompleted, loaded.Status)
	require.NotNil(t, loaded.ResolvedAt)
	require.True(t, loaded.RefundAmount.Equal(amounts.RefundAmount))
	require.True(t, loaded.SellerEarningReversed.Equal(amounts.SellerEarningReversed))
	require.True(t, loaded.CommissionReversed.Equal(amounts.CommissionReversed))
}

func TestRefundRepo_HasOpenForOrderLine(t *testing.T) {
	db := setupRefundTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	open := seedRefundRequest(t, db, enums.RefundRequestStatusOnHoldInsufficientFunds)
	closed := seedRefundRequest(t, db, enums.RefundRequestStatusCompleted)

	found, err := repo.HasOpenForOrderLine(ctx, open.OrderLineID)
	require.NoError(t, err)
	require.True(t, found)

	found, err = repo.HasOpenForOrderLine(ctx, closed.OrderLineID)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRefundRepo_HasOpenForOrderSeller(t *testing.T) {
	db := setupRefundTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	req := seedRefundRequest(t, db, enums.RefundRequestStatusPending)

	found, err := repo.HasOpenForOrderSeller(ctx, req.OrderID, req.SellerID)
	require.NoError(t, err)
	require.True(t, found)

	// Same order, different seller.
	found, err = repo.HasOpenForOrderSeller(ctx, req.OrderID, uuid.New())
	require.NoError(t, err)
	require.False(t, found)
}

func TestRefundRepo_FindByIDPreloadsHistoryInOrder(t *testing.T) {
	db := setupRefundTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	req := seedRefundRequest(t, db, enums.RefundRequestStatusPending)

	base := time.Now().Add(-time.Hour)
	for i, action := range []string{ActionRequested, ActionReviewed, ActionApproved} {
		event := &models.RefundEvent{
			ID:              uuid.New(),
			RefundRequestID: req.ID,
			ActorID:         uuid.New(),
			Action:          action,
			PrevStatus:      enums.RefundRequestStatusPending,
			NewStatus:       enums.RefundRequestStatusPending,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.AppendEvent(ctx, event))
	}

	loaded, err := repo.FindByID(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Events, 3)
	require.Equal(t, ActionRequested, loaded.Events[0].Action)
	require.Equal(t, ActionApproved, loaded.Events[2].Action)
}

func TestRefundRepo_ObligationUniquePerRequest(t *testing.T) {
	db := setupRefundTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	req := seedRefundRequest(t, db, enums.RefundRequestStatusAdminApproved)

	obligation := &models.ManualRefundObligation{
		ID:              uuid.New(),
		RefundRequestID: req.ID,
		OrderID:         req.OrderID,
		BuyerID:         req.BuyerID,
		Amount:          decimal.RequireFromString("19.99"),
		Currency:        enums.CurrencyUSD,
	}
	require.NoError(t, repo.CreateObligation(ctx, obligation))

	duplicate := &models.ManualRefundObligation{
		ID:              uuid.New(),
		RefundRequestID: req.ID,
		OrderID:         req.OrderID,
		BuyerID:         req.BuyerID,
		Amount:          decimal.RequireFromString("19.99"),
		Currency:        enums.CurrencyUSD,
	}
	require.Error(t, repo.CreateObligation(ctx, duplicate))
}
