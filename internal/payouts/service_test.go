package payouts

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
	"github.com/keymartlabs/keymart-backend/pkg/logger"
	"github.com/keymartlabs/keymart-backend/pkg/outbox"
	"github.com/keymartlabs/keymart-backend/pkg/paypal"
)

type fakeEscrowRepo struct {
	findDueFn     func(ctx context.Context, now time.Time, limit int) ([]models.PayoutEscrowRecord, error)
	lockFn        func(ctx context.Context, id uuid.UUID) (*models.PayoutEscrowRecord, error)
	records       map[uuid.UUID]*models.PayoutEscrowRecord
	blocked       map[uuid.UUID]string
	unblocked     map[uuid.UUID]bool
	released      map[uuid.UUID]string
	attemptFails  map[uuid.UUID]int
	markedFailed  map[uuid.UUID]string
	createdRecord *models.PayoutEscrowRecord
}

func newFakeEscrowRepo() *fakeEscrowRepo {
	return &fakeEscrowRepo{
		records:      map[uuid.UUID]*models.PayoutEscrowRecord{},
		blocked:      map[uuid.UUID]string{},
		unblocked:    map[uuid.UUID]bool{},
		released:     map[uuid.UUID]string{},
		attemptFails: map[uuid.UUID]int{},
		markedFailed: map[uuid.UUID]string{},
	}
}

func (f *fakeEscrowRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeEscrowRepo) Create(_ context.Context, record *models.PayoutEscrowRecord) error {
	f.createdRecord = record
	return nil
}

func (f *fakeEscrowRepo) FindByID(_ context.Context, id uuid.UUID) (*models.PayoutEscrowRecord, error) {
	record, ok := f.records[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copy := *record
	return &copy, nil
}

func (f *fakeEscrowRepo) LockByID(ctx context.Context, id uuid.UUID) (*models.PayoutEscrowRecord, error) {
	if f.lockFn != nil {
		return f.lockFn(ctx, id)
	}
	return f.FindByID(ctx, id)
}

func (f *fakeEscrowRepo) FindByOrderAndSeller(context.Context, uuid.UUID, uuid.UUID) (*models.PayoutEscrowRecord, error) {
	return nil, nil
}

func (f *fakeEscrowRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]models.PayoutEscrowRecord, error) {
	if f.findDueFn != nil {
		return f.findDueFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeEscrowRepo) ApplyRefundReversal(context.Context, uuid.UUID, decimal.Decimal, decimal.Decimal, decimal.Decimal) (bool, error) {
	return true, nil
}

func (f *fakeEscrowRepo) Block(_ context.Context, id uuid.UUID, reason string) error {
	f.blocked[id] = reason
	if record, ok := f.records[id]; ok {
		record.Status = enums.EscrowStatusBlocked
		record.BlockReason = &reason
	}
	return nil
}

func (f *fakeEscrowRepo) BlockForOrder(_ context.Context, orderID uuid.UUID, reason string) (int64, error) {
	var count int64
	for id, record := range f.records {
		if record.OrderID != orderID {
			continue
		}
		if record.Status == enums.EscrowStatusPending || record.Status == enums.EscrowStatusBlocked {
			record.Status = enums.EscrowStatusBlocked
			record.BlockReason = &reason
			f.blocked[id] = reason
			count++
		}
	}
	return count, nil
}

func (f *fakeEscrowRepo) Unblock(_ context.Context, id uuid.UUID) error {
	f.unblocked[id] = true
	if record, ok := f.records[id]; ok {
		record.Status = enums.EscrowStatusPending
		record.BlockReason = nil
	}
	return nil
}

func (f *fakeEscrowRepo) MarkReleased(_ context.Context, id uuid.UUID, net decimal.Decimal, batchID, _ string, _ time.Time) (bool, error) {
	record, ok := f.records[id]
	if !ok || !record.NetAmount.Equal(net) {
		return false, nil
	}
	if record.Status != enums.EscrowStatusPending && record.Status != enums.EscrowStatusBlocked {
		return false, nil
	}
	record.Status = enums.EscrowStatusReleased
	f.released[id] = batchID
	return true, nil
}

func (f *fakeEscrowRepo) RecordAttemptFailure(_ context.Context, id uuid.UUID, _ string) error {
	f.attemptFails[id]++
	if record, ok := f.records[id]; ok {
		record.AttemptCount++
	}
	return nil
}

func (f *fakeEscrowRepo) MarkFailed(_ context.Context, id uuid.UUID, attemptErr string) error {
	f.markedFailed[id] = attemptErr
	if record, ok := f.records[id]; ok {
		record.Status = enums.EscrowStatusFailed
	}
	return nil
}

func (f *fakeEscrowRepo) ReleasedNetTotal(context.Context, uuid.UUID) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeAccounts struct {
	account *models.SellerPayoutAccount
}

func (f *fakeAccounts) FindBySellerID(context.Context, uuid.UUID) (*models.SellerPayoutAccount, error) {
	return f.account, nil
}
func (f *fakeAccounts) Upsert(context.Context, *models.SellerPayoutAccount) error { return nil }
func (f *fakeAccounts) SetBlocked(context.Context, uuid.UUID, bool) error         { return nil }

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	return f.Emit(ctx, tx, event)
}

func (f *fakeEmitter) has(eventType enums.OutboxEventType) bool {
	for _, event := range f.events {
		if event.EventType == eventType {
			return true
		}
	}
	return false
}

type fakeProcessor struct {
	sendFn func(ctx context.Context, req paypal.PayoutRequest) (*paypal.PayoutResult, error)
	calls  []paypal.PayoutRequest
}

func (f *fakeProcessor) SendPayout(ctx context.Context, req paypal.PayoutRequest) (*paypal.PayoutResult, error) {
	f.calls = append(f.calls, req)
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &paypal.PayoutResult{BatchID: req.BatchID, BatchStatus: "PENDING", ItemID: req.ItemID}, nil
}

type fakeOrderState struct {
	paid bool
	err  error
}

func (f *fakeOrderState) IsPaid(context.Context, uuid.UUID) (bool, error) { return f.paid, f.err }

type fakeDisputes struct {
	open bool
}

func (f *fakeDisputes) HasOpenForOrderSeller(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return f.open, nil
}

type payoutFixture struct {
	repo      *fakeEscrowRepo
	accounts  *fakeAccounts
	emitter   *fakeEmitter
	processor *fakeProcessor
	orders    *fakeOrderState
	disputes  *fakeDisputes
	svc       Service
}

func newPayoutFixture(t *testing.T, records []models.PayoutEscrowRecord) *payoutFixture {
	t.Helper()
	fx := &payoutFixture{
		repo: newFakeEscrowRepo(),
		accounts: &fakeAccounts{account: &models.SellerPayoutAccount{
			SellerID:    uuid.New(),
			PaypalEmail: "seller@example.com",
			Verified:    true,
		}},
		emitter:   &fakeEmitter{},
		processor: &fakeProcessor{},
		orders:    &fakeOrderState{paid: true},
		disputes:  &fakeDisputes{},
	}
	fx.repo.findDueFn = func(context.Context, time.Time, int) ([]models.PayoutEscrowRecord, error) {
		return records, nil
	}
	for i := range records {
		stored := records[i]
		fx.repo.records[stored.ID] = &stored
	}
	svc, err := NewService(fx.repo, fx.accounts, fakeTxRunner{}, fx.emitter, fx.processor,
		fx.orders, fx.disputes, logger.New(logger.Options{ServiceName: "test"}), 3)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	fx.svc = svc
	return fx
}

func dueRecord(net string) models.PayoutEscrowRecord {
	return models.PayoutEscrowRecord{
		ID:        uuid.New(),
		OrderID:   uuid.New(),
		SellerID:  uuid.New(),
		Currency:  enums.CurrencyUSD,
		NetAmount: decimal.RequireFromString(net),
		Status:    enums.EscrowStatusPending,
		HoldUntil: time.Now().Add(-time.Hour),
	}
}

func TestReleaseDue_HappyPath(t *testing.T) {
	record := dueRecord("90.00")
	fx := newPayoutFixture(t, []models.PayoutEscrowRecord{record})

	stats, err := fx.svc.ReleaseDue(context.Background())
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if stats.Released != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(fx.processor.calls) != 1 {
		t.Fatalf("expected one disbursement, got %d", len(fx.processor.calls))
	}
	// The escrow id is the processor batch id so retries cannot double-pay.
	if fx.processor.calls[0].BatchID != record.ID.String() {
		t.Fatalf("batch id = %s", fx.processor.calls[0].BatchID)
	}
	if fx.repo.released[record.ID] != record.ID.String() {
		t.Fatal("record not marked released with batch id")
	}
	if !fx.emitter.has(enums.EventPayoutReleased) {
		t.Fatal("payout.released not emitted")
	}
}

func TestReleaseDue_BlocksUnverifiedAccount(t *testing.T) {
	record := dueRecord("50.00")
	fx := newPayoutFixture(t, []models.PayoutEscrowRecord{record})
	fx.accounts.account.Verified = false

	stats, err := fx.svc.ReleaseDue(context.Background())
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if stats.Blocked != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if fx.repo.blocked[record.ID] != BlockReasonAccountUnverified {
		t.Fatalf("block reason = %q", fx.repo.blocked[record.ID])
	}
	if len(fx.processor.calls) != 0 {
		t.Fatal("no disbursement expected")
	}
	if !fx.emitter.has(enums.EventPayoutBlocked) {
		t.Fatal("payout.blocked not emitted")
	}
}

func TestReleaseDue_BlocksOpenDispute(t *testing.T) {
	record := dueRecord("50.00")
	fx := newPayoutFixture(t, []models.PayoutEscrowRecord{record})
	fx.disputes.open = true

	stats, err := fx.svc.ReleaseDue(context.Background())
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if stats.Blocked != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if fx.repo.blocked[record.ID] != BlockReasonOpenDispute {
		t.Fatalf("block reason = %q", fx.repo.blocked[record.ID])
	}
}

func TestReleaseDue_BlockedRecordHealsWhenCleared(t *testing.T) {
	record := dueRecord("40.00")
	record.Status = enums.EscrowStatusBlocked
	reason := BlockReasonOpenDispute
	record.BlockReason = &reason
	fx := newPayoutFixture(t, []models.PayoutEscrowRecord{record})

	stats, err := fx.svc.ReleaseDue(context.Background())
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if stats.Released != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if !fx.repo.unblocked[record.ID] {
		t.Fatal("record not unblocked before release")
	}
	if len(fx.processor.calls) != 1 {
		t.Fatal("expected disbursement")
	}
}

func TestReleaseDue_RepeatedBlockDoesNotReemit(t *testing.T) {
	record := dueRecord("40.00")
	record.Status = enums.EscrowStatusBlocked
	reason := BlockReasonOpenDispute
	record.BlockReason = &reason
	fx := newPayoutFixture(t, []models.PayoutEscrowRecord{record})
	fx.disputes.open = true

	if _, err := fx.svc.ReleaseDue(context.Background()); err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if fx.emitter.has(enums.EventPayoutBlocked) {
		t.Fatal("unchanged block must not emit again")
	}
}

func TestReleaseDue_ZeroNetSettlesWithoutProcessor(t *testing.T) {
	record := dueRecord("0.00")
	fx := newPayoutFixture(t, []models.PayoutEscrowRecord{record})

	stats, err := fx.svc.ReleaseDue(context.Background())
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if stats.Released != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(fx.processor.calls) != 0 {
		t.Fatal("zero net must not call the processor")
	}
	if _, ok := fx.repo.released[record.ID]; !ok {
		t.Fatal("record not marked released")
	}
}

func TestReleaseDue_FailureRetriesThenFails(t *testing.T) {
	record := dueRecord("60.00")
	record.AttemptCount = 2 // third attempt exhausts maxRetries=3
	fx := newPayoutFixture(t, []models.PayoutEscrowRecord{record})
	fx.processor.sendFn = func(context.Context, paypal.PayoutRequest) (*paypal.PayoutResult, error) {
		return nil, errors.New("processor unavailable")
	}

	stats, err := fx.svc.ReleaseDue(context.Background())
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if fx.repo.attemptFails[record.ID] != 1 {
		t.Fatal("attempt not recorded")
	}
	if _, ok := fx.repo.markedFailed[record.ID]; !ok {
		t.Fatal("record not marked failed after exhausting retries")
	}
	if !fx.emitter.has(enums.EventPayoutFailed) {
		t.Fatal("payout.failed not emitted")
	}
}

func TestReleaseDue_FailureBelowLimitStaysPending(t *testing.T) {
	record := dueRecord("60.00")
	fx := newPayoutFixture(t, []models.PayoutEscrowRecord{record})
	fx.processor.sendFn = func(context.Context, paypal.PayoutRequest) (*paypal.PayoutResult, error) {
		return nil, errors.New("processor unavailable")
	}

	stats, err := fx.svc.ReleaseDue(context.Background())
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(fx.repo.markedFailed) != 0 {
		t.Fatal("record must not be terminal yet")
	}
}

func TestReleaseDue_UnpaidOrderBlocks(t *testing.T) {
	record := dueRecord("60.00")
	fx := newPayoutFixture(t, []models.PayoutEscrowRecord{record})
	fx.orders.paid = false

	stats, err := fx.svc.ReleaseDue(context.Background())
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if stats.Blocked != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if fx.repo.blocked[record.ID] != BlockReasonOrderNotPaid {
		t.Fatalf("block reason = %q", fx.repo.blocked[record.ID])
	}
}

func TestScheduleHold_EmitsScheduledEvent(t *testing.T) {
	fx := newPayoutFixture(t, nil)

	record, err := fx.svc.ScheduleHold(context.Background(), &gorm.DB{}, ScheduleHoldInput{
		OrderID:    uuid.New(),
		SellerID:   uuid.New(),
		Currency:   enums.CurrencyUSD,
		Gross:      decimal.RequireFromString("100.00"),
		Commission: decimal.RequireFromString("10.00"),
		Net:        decimal.RequireFromString("90.00"),
		HoldUntil:  time.Now().Add(15 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("ScheduleHold: %v", err)
	}
	if fx.repo.createdRecord == nil || fx.repo.createdRecord.ID != record.ID {
		t.Fatal("escrow record not created")
	}
	if record.Status != enums.EscrowStatusPending {
		t.Fatalf("status = %s", record.Status)
	}
	if !fx.emitter.has(enums.EventPayoutScheduled) {
		t.Fatal("payout.scheduled not emitted")
	}
}

func TestReleaseDue_ReversalBeforeLockIsNotDisbursed(t *testing.T) {
	record := dueRecord("90.00")
	fx := newPayoutFixture(t, []models.PayoutEscrowRecord{record})
	// A full refund reversal lands after FindDue picked the record up. The
	// locked re-read must see the zeroed record, not the stale 90.00.
	fx.repo.records[record.ID].NetAmount = decimal.Zero

	stats, err := fx.svc.ReleaseDue(context.Background())
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if len(fx.processor.calls) != 0 {
		t.Fatalf("stale amount disbursed: %+v", fx.processor.calls)
	}
	if stats.Released != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if _, ok := fx.repo.released[record.ID]; !ok {
		t.Fatal("zeroed record should close without a disbursement")
	}
}

func TestReleaseDue_RefundSettledRecordIsSkipped(t *testing.T) {
	record := dueRecord("90.00")
	fx := newPayoutFixture(t, []models.PayoutEscrowRecord{record})
	fx.repo.records[record.ID].Status = enums.EscrowStatusReleased

	stats, err := fx.svc.ReleaseDue(context.Background())
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if len(fx.processor.calls) != 0 {
		t.Fatal("terminal record must not be disbursed")
	}
	if stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestReleaseDue_SettleConflictLosesToConcurrentChange(t *testing.T) {
	record := dueRecord("90.00")
	fx := newPayoutFixture(t, []models.PayoutEscrowRecord{record})
	// The lock hands out a stale snapshot while the stored record already
	// shrank, so the guarded settle must refuse to mark it released.
	fx.repo.lockFn = func(context.Context, uuid.UUID) (*models.PayoutEscrowRecord, error) {
		stale := record
		return &stale, nil
	}
	fx.repo.records[record.ID].NetAmount = decimal.RequireFromString("60.00")

	stats, err := fx.svc.ReleaseDue(context.Background())
	if err != nil {
		t.Fatalf("ReleaseDue: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(fx.repo.released) != 0 {
		t.Fatal("conflicting record marked released")
	}
	if fx.repo.records[record.ID].Status != enums.EscrowStatusPending {
		t.Fatal("record must stay pending for the next run")
	}
}
