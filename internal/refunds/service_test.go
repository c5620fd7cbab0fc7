package refunds

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymartlabs/keymart-backend/internal/orders"
	"github.com/keymartlabs/keymart-backend/internal/payouts"
	"github.com/keymartlabs/keymart-backend/internal/wallet"
	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
	"github.com/keymartlabs/keymart-backend/pkg/outbox"
)

type fakeRefundRepo struct {
	requests    map[uuid.UUID]*models.RefundRequest
	events      []models.RefundEvent
	obligations []models.ManualRefundObligation
	openForLine bool
}

func newFakeRefundRepo() *fakeRefundRepo {
	return &fakeRefundRepo{requests: map[uuid.UUID]*models.RefundRequest{}}
}

func (f *fakeRefundRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRefundRepo) Create(_ context.Context, req *models.RefundRequest) error {
	f.requests[req.ID] = req
	return nil
}

func (f *fakeRefundRepo) FindByID(_ context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *req
	return &clone, nil
}

func (f *fakeRefundRepo) ListByOrder(context.Context, uuid.UUID) ([]models.RefundRequest, error) {
	return nil, nil
}

func (f *fakeRefundRepo) HasOpenForOrderLine(context.Context, uuid.UUID) (bool, error) {
	return f.openForLine, nil
}

func (f *fakeRefundRepo) HasOpenForOrderSeller(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeRefundRepo) Transition(_ context.Context, id uuid.UUID, from, to enums.RefundRequestStatus, extra map[string]any) (bool, error) {
	req, ok := f.requests[id]
	if !ok || req.Status != from {
		return false, nil
	}
	req.Status = to
	return true, nil
}

func (f *fakeRefundRepo) AppendEvent(_ context.Context, event *models.RefundEvent) error {
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeRefundRepo) CreateObligation(_ context.Context, obligation *models.ManualRefundObligation) error {
	f.obligations = append(f.obligations, *obligation)
	return nil
}

type fakeLineStore struct {
	order *models.Order
	line  *models.OrderLineItem

	lineRefunds  []int
	orderRefunds []enums.OrderStatus
}

func (f *fakeLineStore) WithTx(tx *gorm.DB) orders.Repository { return f }

func (f *fakeLineStore) Create(_ context.Context, order *models.Order) (*models.Order, error) {
	return order, nil
}

func (f *fakeLineStore) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	if f.order == nil || f.order.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return f.order, nil
}

func (f *fakeLineStore) FindByOrderNumber(context.Context, string) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeLineStore) FindByCheckoutSessionID(context.Context, uuid.UUID) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeLineStore) FindByProcessorOrderID(context.Context, string) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeLineStore) IsPaid(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeLineStore) FindByProcessorCaptureID(context.Context, string) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeLineStore) FindLineByID(_ context.Context, lineID uuid.UUID) (*models.OrderLineItem, error) {
	if f.line == nil || f.line.ID != lineID {
		return nil, gorm.ErrRecordNotFound
	}
	return f.line, nil
}

func (f *fakeLineStore) ExistsByOrderNumber(context.Context, string) (bool, error) {
	return false, nil
}

func (f *fakeLineStore) MarkPaid(context.Context, uuid.UUID, string, time.Time) (bool, error) {
	return false, nil
}

func (f *fakeLineStore) MarkPaymentRefunded(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeLineStore) ApplyLineRefund(_ context.Context, _ uuid.UUID, qty int, _ decimal.Decimal, _ enums.RefundStatus) error {
	f.lineRefunds = append(f.lineRefunds, qty)
	return nil
}

func (f *fakeLineStore) ApplyOrderRefund(_ context.Context, _ uuid.UUID, _ decimal.Decimal, _ enums.RefundStatus, status enums.OrderStatus) error {
	f.orderRefunds = append(f.orderRefunds, status)
	return nil
}

func (f *fakeLineStore) ListByBuyer(context.Context, uuid.UUID, int) ([]models.Order, error) {
	return nil, nil
}

type fakeEscrow struct {
	record     *models.PayoutEscrowRecord
	applied    []decimal.Decimal
	blocked    map[uuid.UUID]string
	unblockeds int
}

func newFakeEscrow(record *models.PayoutEscrowRecord) *fakeEscrow {
	return &fakeEscrow{record: record, blocked: map[uuid.UUID]string{}}
}

func (f *fakeEscrow) WithTx(tx *gorm.DB) payouts.Repository { return f }

func (f *fakeEscrow) Create(context.Context, *models.PayoutEscrowRecord) error { return nil }

func (f *fakeEscrow) FindByID(context.Context, uuid.UUID) (*models.PayoutEscrowRecord, error) {
	return f.record, nil
}

func (f *fakeEscrow) LockByID(context.Context, uuid.UUID) (*models.PayoutEscrowRecord, error) {
	return f.record, nil
}

func (f *fakeEscrow) FindByOrderAndSeller(context.Context, uuid.UUID, uuid.UUID) (*models.PayoutEscrowRecord, error) {
	return f.record, nil
}

func (f *fakeEscrow) FindDue(context.Context, time.Time, int) ([]models.PayoutEscrowRecord, error) {
	return nil, nil
}

func (f *fakeEscrow) ApplyRefundReversal(_ context.Context, id uuid.UUID, gross, commission, net decimal.Decimal) (bool, error) {
	r := f.record
	if r == nil || r.ID != id {
		return false, nil
	}
	if r.Status != enums.EscrowStatusPending && r.Status != enums.EscrowStatusBlocked {
		return false, nil
	}
	if r.NetAmount.LessThan(net) {
		return false, nil
	}
	r.GrossAmount = r.GrossAmount.Sub(gross)
	r.CommissionAmount = r.CommissionAmount.Sub(commission)
	r.NetAmount = r.NetAmount.Sub(net)
	f.applied = append(f.applied, net)
	return true, nil
}

func (f *fakeEscrow) Block(_ context.Context, id uuid.UUID, reason string) error {
	f.blocked[id] = reason
	return nil
}

func (f *fakeEscrow) BlockForOrder(_ context.Context, _ uuid.UUID, reason string) (int64, error) {
	if f.record == nil {
		return 0, nil
	}
	f.blocked[f.record.ID] = reason
	return 1, nil
}

func (f *fakeEscrow) Unblock(context.Context, uuid.UUID) error {
	f.unblockeds++
	return nil
}

func (f *fakeEscrow) MarkReleased(context.Context, uuid.UUID, decimal.Decimal, string, string, time.Time) (bool, error) {
	return true, nil
}

func (f *fakeEscrow) RecordAttemptFailure(context.Context, uuid.UUID, string) error { return nil }
func (f *fakeEscrow) MarkFailed(context.Context, uuid.UUID, string) error           { return nil }

func (f *fakeEscrow) ReleasedNetTotal(context.Context, uuid.UUID) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeWallet struct {
	available    decimal.Decimal
	availableErr error
	credits      []wallet.CreditInput
	reversals    []decimal.Decimal
}

func (f *fakeWallet) Balance(context.Context, uuid.UUID) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeWallet) AvailableBalance(context.Context, uuid.UUID) (decimal.Decimal, error) {
	if f.availableErr != nil {
		return decimal.Zero, f.availableErr
	}
	return f.available, nil
}

func (f *fakeWallet) Debit(context.Context, *gorm.DB, wallet.DebitInput) (*models.WalletTransaction, error) {
	return nil, nil
}

func (f *fakeWallet) Credit(_ context.Context, _ *gorm.DB, input wallet.CreditInput) (*models.WalletTransaction, error) {
	f.credits = append(f.credits, input)
	return &models.WalletTransaction{}, nil
}

func (f *fakeWallet) RecordPayment(context.Context, *gorm.DB, wallet.PaymentRecordInput) (*models.WalletTransaction, error) {
	return nil, nil
}

func (f *fakeWallet) RecordPayoutReversal(_ context.Context, _ *gorm.DB, _ uuid.UUID, amount decimal.Decimal, _ enums.Currency, _, _ uuid.UUID) (*models.WalletTransaction, error) {
	f.reversals = append(f.reversals, amount)
	return &models.WalletTransaction{}, nil
}

type fakeInvalidator struct {
	invalidated [][]uuid.UUID
}

func (f *fakeInvalidator) Invalidate(_ context.Context, _ *gorm.DB, keyIDs []uuid.UUID) error {
	f.invalidated = append(f.invalidated, keyIDs)
	return nil
}

type fakeRefunder struct {
	calls []string
	err   error
}

func (f *fakeRefunder) RefundCapture(_ context.Context, captureID string, _ decimal.Decimal, _ string) (string, error) {
	f.calls = append(f.calls, captureID)
	return "REFUND-1", f.err
}

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type capturingEmitter struct {
	events []outbox.DomainEvent
}

func (c *capturingEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	c.events = append(c.events, event)
	return nil
}

func (c *capturingEmitter) has(eventType enums.OutboxEventType) bool {
	for _, event := range c.events {
		if event.EventType == eventType {
			return true
		}
	}
	return false
}

type refundFixture struct {
	repo      *fakeRefundRepo
	store     *fakeLineStore
	escrow    *fakeEscrow
	wallet    *fakeWallet
	keys      *fakeInvalidator
	refunder  *fakeRefunder
	emitter   *capturingEmitter
	svc       Service
	buyerID   uuid.UUID
	captureID string
}

// newRefundFixture seeds a $100 single-line paid order with 10% commission,
// one assigned key per unit, and an escrow record holding the $90 net.
func newRefundFixture(t *testing.T, escrowStatus enums.EscrowStatus) *refundFixture {
	t.Helper()
	buyerID := uuid.New()
	sellerID := uuid.New()
	orderID := uuid.New()
	lineID := uuid.New()
	captureID := "CAP-100"
	completedAt := time.Now().Add(-5 * 24 * time.Hour)

	keys := []models.LicenseKey{
		{ID: uuid.New(), Status: enums.LicenseKeyStatusAssigned},
	}
	line := &models.OrderLineItem{
		ID:               lineID,
		OrderID:          orderID,
		ProductID:        uuid.New(),
		SellerID:         sellerID,
		Name:             "Game Key",
		Qty:              1,
		UnitPrice:        decimal.RequireFromString("100.00"),
		LineTotal:        decimal.RequireFromString("100.00"),
		CommissionRate:   decimal.RequireFromString("0.10"),
		CommissionAmount: decimal.RequireFromString("10.00"),
		SellerEarning:    decimal.RequireFromString("90.00"),
		Keys:             keys,
	}
	order := &models.Order{
		ID:                 orderID,
		OrderNumber:        "KM-SCENARIO1",
		BuyerID:            &buyerID,
		Currency:           enums.CurrencyUSD,
		PaymentMethod:      enums.PaymentMethodPayPal,
		ProcessorCaptureID: &captureID,
		Subtotal:           decimal.RequireFromString("100.00"),
		TotalPaid:          decimal.RequireFromString("100.00"),
		PaymentStatus:      enums.PaymentStatusPaid,
		Status:             enums.OrderStatusCompleted,
		CompletedAt:        &completedAt,
		Lines:              []models.OrderLineItem{*line},
	}

	var record *models.PayoutEscrowRecord
	if escrowStatus != "" {
		record = &models.PayoutEscrowRecord{
			ID:               uuid.New(),
			OrderID:          orderID,
			SellerID:         sellerID,
			Currency:         enums.CurrencyUSD,
			GrossAmount:      decimal.RequireFromString("100.00"),
			CommissionAmount: decimal.RequireFromString("10.00"),
			NetAmount:        decimal.RequireFromString("90.00"),
			Status:           escrowStatus,
			HoldUntil:        time.Now().Add(10 * 24 * time.Hour),
		}
	}

	fx := &refundFixture{
		repo:      newFakeRefundRepo(),
		store:     &fakeLineStore{order: order, line: line},
		escrow:    newFakeEscrow(record),
		wallet:    &fakeWallet{available: decimal.Zero},
		keys:      &fakeInvalidator{},
		refunder:  &fakeRefunder{},
		emitter:   &capturingEmitter{},
		buyerID:   buyerID,
		captureID: captureID,
	}
	svc, err := NewService(fx.repo, fx.store, fx.escrow, fx.wallet, fx.keys, fx.refunder,
		fakeTx{}, fx.emitter, logger.New(logger.Options{ServiceName: "test"}), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	fx.svc = svc
	return fx
}

func (fx *refundFixture) createRequest(t *testing.T, method enums.RefundMethod) *models.RefundRequest {
	t.Helper()
	req, err := fx.svc.Create(context.Background(), CreateInput{
		BuyerID:     fx.buyerID,
		OrderLineID: fx.store.line.ID,
		Qty:         1,
		KeyIDs:      []uuid.UUID{fx.store.line.Keys[0].ID},
		Method:      method,
		Reason:      "key does not activate",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return req
}

func (fx *refundFixture) approve(t *testing.T, req *models.RefundRequest) *models.RefundRequest {
	t.Helper()
	admin := uuid.New()
	if _, err := fx.svc.Review(context.Background(), DecisionInput{RequestID: req.ID, ActorID: admin}); err != nil {
		t.Fatalf("Review: %v", err)
	}
	approved, err := fx.svc.Approve(context.Background(), DecisionInput{RequestID: req.ID, ActorID: admin})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	return approved
}

func TestRefundInHoldWindow_DecrementsEscrowAndCreditsBuyer(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusPending)
	req := fx.createRequest(t, enums.RefundMethodWallet)

	result := fx.approve(t, req)

	if result.Status != enums.RefundRequestStatusCompleted {
		t.Fatalf("status = %s", result.Status)
	}
	if len(fx.escrow.applied) != 1 || !fx.escrow.applied[0].Equal(decimal.RequireFromString("90.00")) {
		t.Fatalf("escrow reversal = %v", fx.escrow.applied)
	}
	// Full reversal empties the record; it must end blocked, never disbursed.
	if _, ok := fx.escrow.blocked[fx.escrow.record.ID]; !ok {
		t.Fatal("emptied escrow record not blocked")
	}
	if len(fx.wallet.reversals) != 0 {
		t.Fatal("in-hold refund must not write a payout reversal")
	}
	if len(fx.wallet.credits) != 1 || !fx.wallet.credits[0].Amount.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("buyer credit = %+v", fx.wallet.credits)
	}
	if len(fx.keys.invalidated) != 1 {
		t.Fatal("keys not invalidated")
	}
	if !fx.emitter.has(enums.EventRefundCompleted) {
		t.Fatal("refund.completed not emitted")
	}
}

func TestRefundPostRelease_SufficientBalanceWritesReversal(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusReleased)
	fx.wallet.available = decimal.RequireFromString("90.00")
	req := fx.createRequest(t, enums.RefundMethodWallet)

	result := fx.approve(t, req)

	if result.Status != enums.RefundRequestStatusCompleted {
		t.Fatalf("status = %s", result.Status)
	}
	if len(fx.wallet.reversals) != 1 || !fx.wallet.reversals[0].Equal(decimal.RequireFromString("90.00")) {
		t.Fatalf("payout reversal = %v", fx.wallet.reversals)
	}
	if len(fx.escrow.applied) != 0 {
		t.Fatal("released escrow must not be decremented")
	}
	if len(fx.wallet.credits) != 1 {
		t.Fatal("buyer not credited")
	}
}

func TestRefundPostRelease_InsufficientBalanceParksOnHold(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusReleased)
	fx.wallet.available = decimal.RequireFromString("50.00")
	req := fx.createRequest(t, enums.RefundMethodWallet)

	result := fx.approve(t, req)

	if result.Status != enums.RefundRequestStatusOnHoldInsufficientFunds {
		t.Fatalf("status = %s", result.Status)
	}
	// No side effects beyond the status change.
	if len(fx.wallet.reversals) != 0 || len(fx.wallet.credits) != 0 {
		t.Fatal("no money may move while on hold")
	}
	if len(fx.keys.invalidated) != 0 {
		t.Fatal("keys must stay assigned while on hold")
	}
	if !fx.emitter.has(enums.EventRefundOnHold) {
		t.Fatal("refund.on_hold not emitted")
	}
}

func TestRetry_CompletesAfterBalanceRecovers(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusReleased)
	fx.wallet.available = decimal.RequireFromString("10.00")
	req := fx.createRequest(t, enums.RefundMethodWallet)

	held := fx.approve(t, req)
	if held.Status != enums.RefundRequestStatusOnHoldInsufficientFunds {
		t.Fatalf("status = %s", held.Status)
	}

	fx.wallet.available = decimal.RequireFromString("95.00")
	result, err := fx.svc.Retry(context.Background(), DecisionInput{RequestID: req.ID, ActorID: uuid.New()})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if result.Status != enums.RefundRequestStatusCompleted {
		t.Fatalf("status = %s", result.Status)
	}
	if len(fx.wallet.reversals) != 1 {
		t.Fatal("payout reversal missing after retry")
	}
}

func TestRefundOriginalPayment_RecordsObligationAndCallsProcessor(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusPending)
	req := fx.createRequest(t, enums.RefundMethodOriginalPayment)

	result := fx.approve(t, req)

	if result.Status != enums.RefundRequestStatusCompleted {
		t.Fatalf("status = %s", result.Status)
	}
	if len(fx.wallet.credits) != 0 {
		t.Fatal("original-payment refund must not credit the wallet")
	}
	if len(fx.repo.obligations) != 1 {
		t.Fatal("manual refund obligation not recorded")
	}
	if len(fx.refunder.calls) != 1 || fx.refunder.calls[0] != fx.captureID {
		t.Fatalf("processor refund calls = %v", fx.refunder.calls)
	}
}

func TestRefundOriginalPayment_ProcessorFailureIsNotFatal(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusPending)
	fx.refunder.err = context.DeadlineExceeded
	req := fx.createRequest(t, enums.RefundMethodOriginalPayment)

	result := fx.approve(t, req)

	if result.Status != enums.RefundRequestStatusCompleted {
		t.Fatalf("processor failure must not block the internal reversal, status = %s", result.Status)
	}
}

func TestCreate_RejectsOutsideRefundWindow(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusPending)
	old := time.Now().Add(-60 * 24 * time.Hour)
	fx.store.order.CompletedAt = &old

	_, err := fx.svc.Create(context.Background(), CreateInput{
		BuyerID:     fx.buyerID,
		OrderLineID: fx.store.line.ID,
		Qty:         1,
		KeyIDs:      []uuid.UUID{fx.store.line.Keys[0].ID},
		Method:      enums.RefundMethodWallet,
		Reason:      "too late",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreate_RejectsForeignKeyIDs(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusPending)

	_, err := fx.svc.Create(context.Background(), CreateInput{
		BuyerID:     fx.buyerID,
		OrderLineID: fx.store.line.ID,
		Qty:         1,
		KeyIDs:      []uuid.UUID{uuid.New()},
		Method:      enums.RefundMethodWallet,
		Reason:      "wrong key",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreate_RejectsSecondOpenRequest(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusPending)
	fx.repo.openForLine = true

	_, err := fx.svc.Create(context.Background(), CreateInput{
		BuyerID:     fx.buyerID,
		OrderLineID: fx.store.line.ID,
		Qty:         1,
		KeyIDs:      []uuid.UUID{fx.store.line.Keys[0].ID},
		Method:      enums.RefundMethodWallet,
		Reason:      "duplicate",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestReject_IsTerminal(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusPending)
	req := fx.createRequest(t, enums.RefundMethodWallet)
	admin := uuid.New()

	if _, err := fx.svc.Review(context.Background(), DecisionInput{RequestID: req.ID, ActorID: admin}); err != nil {
		t.Fatalf("Review: %v", err)
	}
	rejected, err := fx.svc.Reject(context.Background(), DecisionInput{RequestID: req.ID, ActorID: admin})
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != enums.RefundRequestStatusAdminRejected {
		t.Fatalf("status = %s", rejected.Status)
	}
	if !fx.emitter.has(enums.EventRefundRejected) {
		t.Fatal("refund.rejected not emitted")
	}

	// Terminal requests cannot be approved afterwards.
	_, err = fx.svc.Approve(context.Background(), DecisionInput{RequestID: req.ID, ActorID: admin})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestApprove_RequiresReviewFirst(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusPending)
	req := fx.createRequest(t, enums.RefundMethodWallet)

	_, err := fx.svc.Approve(context.Background(), DecisionInput{RequestID: req.ID, ActorID: uuid.New()})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRefund_ShortfallDrainsEscrowAndClawsOnlyRemainder(t *testing.T) {
	// A prior reversal left the record holding less net than this refund
	// reverses. The record is drained and blocked, and only the uncovered
	// remainder comes off the seller balance.
	fx := newRefundFixture(t, enums.EscrowStatusPending)
	fx.escrow.record.NetAmount = decimal.RequireFromString("60.00")
	fx.wallet.available = decimal.RequireFromString("30.00")
	req := fx.createRequest(t, enums.RefundMethodWallet)

	result := fx.approve(t, req)

	if result.Status != enums.RefundRequestStatusCompleted {
		t.Fatalf("status = %s", result.Status)
	}
	if len(fx.escrow.applied) != 1 || !fx.escrow.applied[0].Equal(decimal.RequireFromString("60.00")) {
		t.Fatalf("escrow drain = %v", fx.escrow.applied)
	}
	if reason := fx.escrow.blocked[fx.escrow.record.ID]; reason != "fully reversed by refund" {
		t.Fatalf("drained record not blocked, reason = %q", reason)
	}
	if len(fx.wallet.reversals) != 1 || !fx.wallet.reversals[0].Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("balance clawback = %v", fx.wallet.reversals)
	}
	if len(fx.wallet.credits) != 1 || !fx.wallet.credits[0].Amount.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("buyer credit = %+v", fx.wallet.credits)
	}
}

func TestRefund_ShortfallBeyondBalanceParksOnHoldWithEscrowIntact(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusPending)
	fx.escrow.record.NetAmount = decimal.RequireFromString("60.00")
	fx.wallet.available = decimal.RequireFromString("10.00")
	req := fx.createRequest(t, enums.RefundMethodWallet)

	result := fx.approve(t, req)

	if result.Status != enums.RefundRequestStatusOnHoldInsufficientFunds {
		t.Fatalf("status = %s", result.Status)
	}
	// The record keeps its net so a retry starts from the same position.
	if len(fx.escrow.applied) != 0 {
		t.Fatalf("held refund must not drain the escrow record, drains = %v", fx.escrow.applied)
	}
	if len(fx.escrow.blocked) != 0 {
		t.Fatal("held refund must not block the escrow record")
	}
	if len(fx.wallet.reversals) != 0 || len(fx.wallet.credits) != 0 {
		t.Fatal("no money may move while on hold")
	}
}

func TestRetry_ResumesApprovedRequestAfterReversalFailure(t *testing.T) {
	// The approval transition commits before the reversal runs, so a
	// transient failure strands the request in admin_approved. Retry must
	// pick it up from there.
	fx := newRefundFixture(t, enums.EscrowStatusReleased)
	fx.wallet.availableErr = context.DeadlineExceeded
	req := fx.createRequest(t, enums.RefundMethodWallet)
	admin := uuid.New()

	if _, err := fx.svc.Review(context.Background(), DecisionInput{RequestID: req.ID, ActorID: admin}); err != nil {
		t.Fatalf("Review: %v", err)
	}
	if _, err := fx.svc.Approve(context.Background(), DecisionInput{RequestID: req.ID, ActorID: admin}); err == nil {
		t.Fatal("Approve should fail while the balance lookup is down")
	}
	stored, err := fx.svc.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != enums.RefundRequestStatusAdminApproved {
		t.Fatalf("status after failed approval = %s", stored.Status)
	}

	fx.wallet.availableErr = nil
	fx.wallet.available = decimal.RequireFromString("90.00")
	result, err := fx.svc.Retry(context.Background(), DecisionInput{RequestID: req.ID, ActorID: admin})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if result.Status != enums.RefundRequestStatusCompleted {
		t.Fatalf("status = %s", result.Status)
	}
	if len(fx.wallet.reversals) != 1 {
		t.Fatal("payout reversal missing after retry")
	}
}

func TestRetry_RejectsCompletedRequest(t *testing.T) {
	fx := newRefundFixture(t, enums.EscrowStatusPending)
	req := fx.createRequest(t, enums.RefundMethodWallet)
	fx.approve(t, req)

	_, err := fx.svc.Retry(context.Background(), DecisionInput{RequestID: req.ID, ActorID: uuid.New()})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}
