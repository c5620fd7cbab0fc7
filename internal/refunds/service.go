package refunds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymartlabs/keymart-backend/internal/orders"
	"github.com/keymartlabs/keymart-backend/internal/payouts"
	"github.com/keymartlabs/keymart-backend/internal/revenue"
	"github.com/keymartlabs/keymart-backend/internal/wallet"
	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
	"github.com/keymartlabs/keymart-backend/pkg/outbox"
	"github.com/keymartlabs/keymart-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// lineStore is the slice of the orders repository the workflow needs.
type lineStore interface {
	WithTx(tx *gorm.DB) orders.Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindLineByID(ctx context.Context, lineID uuid.UUID) (*models.OrderLineItem, error)
}


// keyInvalidator marks refunded license keys unusable.
type keyInvalidator interface {
	Invalidate(ctx context.Context, tx *gorm.DB, keyIDs []uuid.UUID) error
}

// processorRefunder pushes an original-payment refund to the processor.
// Failures are logged, never fatal to the internal reversal.
type processorRefunder interface {
	RefundCapture(ctx context.Context, captureID string, amount decimal.Decimal, currency string) (string, error)
}

// CreateInput is a buyer's dispute submission.
type CreateInput struct {
	BuyerID     uuid.UUID
	OrderLineID uuid.UUID
	Qty         int
	KeyIDs      []uuid.UUID
	Method      enums.RefundMethod
	Reason      string
	Evidence    *string
}

// DecisionInput carries an admin action on an open request.
type DecisionInput struct {
	RequestID uuid.UUID
	ActorID   uuid.UUID
	Notes     *string
}

// Service runs the refund request state machine and the reversal execution.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.RefundRequest, error)
	Review(ctx context.Context, input DecisionInput) (*models.RefundRequest, error)
	// Approve moves the request to admin_approved and immediately runs the
	// reversal. The returned request ends completed or parked on hold when
	// the seller's balance cannot absorb a post-release reversal.
	Approve(ctx context.Context, input DecisionInput) (*models.RefundRequest, error)
	Reject(ctx context.Context, input DecisionInput) (*models.RefundRequest, error)
	// Retry re-runs the reversal for a request parked on hold.
	Retry(ctx context.Context, input DecisionInput) (*models.RefundRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
}

type service struct {
	repo         Repository
	orderStore   lineStore
	escrow       payouts.Repository
	wallet       wallet.Service
	inventory    keyInvalidator
	processor    processorRefunder
	tx           txRunner
	outbox       outboxEmitter
	logg         *logger.Logger
	refundWindow time.Duration
	now          func() time.Time
}

// NewService builds the refunds service.
func NewService(
	repo Repository,
	orderStore lineStore,
	escrow payouts.Repository,
	wallet wallet.Service,
	inventory keyInvalidator,
	processor processorRefunder,
	tx txRunner,
	emitter outboxEmitter,
	logg *logger.Logger,
	refundWindow time.Duration,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("refunds repository required")
	}
	if orderStore == nil {
		return nil, fmt.Errorf("orders store required")
	}
	if escrow == nil {
		return nil, fmt.Errorf("escrow store required")
	}
	if wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if refundWindow <= 0 {
		return nil, fmt.Errorf("refund window must be positive")
	}
	return &service{
		repo:         repo,
		orderStore:   orderStore,
		escrow:       escrow,
		wallet:       wallet,
		inventory:    inventory,
		processor:    processor,
		tx:           tx,
		outbox:       emitter,
		logg:         logg,
		refundWindow: refundWindow,
		now:          time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.RefundRequest, error) {
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund quantity must be positive")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown refund method")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason required")
	}

	line, err := s.orderStore.FindLineByID(ctx, input.OrderLineID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order line not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order line")
	}
	order, err := s.orderStore.FindByID(ctx, line.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	if order.BuyerID == nil || *order.BuyerID != input.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order line not found")
	}
	if order.PaymentStatus != enums.PaymentStatusPaid && order.PaymentStatus != enums.PaymentStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not refundable")
	}
	if err := s.checkWindow(order); err != nil {
		return nil, err
	}
	if input.Qty > line.Qty-line.RefundedQty {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund quantity exceeds remaining units").
			WithDetails(map[string]any{"remaining": line.Qty - line.RefundedQty})
	}
	if err := validateKeySubset(line, input.KeyIDs, input.Qty); err != nil {
		return nil, err
	}
	open, err := s.repo.HasOpenForOrderLine(ctx, line.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking open refund requests")
	}
	if open {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "an open refund request already exists for this line")
	}

	req := &models.RefundRequest{
		ID:          uuid.New(),
		OrderID:     order.ID,
		OrderLineID: line.ID,
		BuyerID:     input.BuyerID,
		SellerID:    line.SellerID,
		Method:      input.Method,
		Qty:         input.Qty,
		KeyIDs:      models.UUIDList(input.KeyIDs),
		Reason:      input.Reason,
		Evidence:    input.Evidence,
		Status:      enums.RefundRequestStatusPending,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, req); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, &models.RefundEvent{
			ID:              uuid.New(),
			RefundRequestID: req.ID,
			ActorID:         input.BuyerID,
			Action:          ActionRequested,
			PrevStatus:      enums.RefundRequestStatusPending,
			NewStatus:       enums.RefundRequestStatusPending,
			Notes:           input.Evidence,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundRequested,
			AggregateType: enums.AggregateRefund,
			AggregateID:   req.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: "buyer"},
			Data: payloads.RefundRequestedEvent{
				RefundRequestID: req.ID,
				OrderID:         order.ID,
				OrderLineID:     line.ID,
				BuyerID:         input.BuyerID,
				SellerID:        line.SellerID,
				Qty:             input.Qty,
				Reason:          input.Reason,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating refund request")
	}
	return req, nil
}

func (s *service) checkWindow(order *models.Order) error {
	completedAt := order.CompletedAt
	if completedAt == nil {
		created := order.CreatedAt
		completedAt = &created
	}
	if s.now().After(completedAt.Add(s.refundWindow)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund window has elapsed")
	}
	return nil
}

// validateKeySubset checks the disputed keys belong to the line, are not
// already refunded, and match the requested quantity.
func validateKeySubset(line *models.OrderLineItem, keyIDs []uuid.UUID, qty int) error {
	if len(keyIDs) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refunded key ids required")
	}
	if len(keyIDs) != qty {
		return pkgerrors.New(pkgerrors.CodeValidation, "key count must match refund quantity")
	}
	byID := make(map[uuid.UUID]models.LicenseKey, len(line.Keys))
	for _, key := range line.Keys {
		byID[key.ID] = key
	}
	seen := make(map[uuid.UUID]bool, len(keyIDs))
	for _, id := range keyIDs {
		if seen[id] {
			return pkgerrors.New(pkgerrors.CodeValidation, "duplicate key id in request")
		}
		seen[id] = true
		key, ok := byID[id]
		if !ok {
			return pkgerrors.New(pkgerrors.CodeValidation, "key does not belong to this order line")
		}
		if key.Status == enums.LicenseKeyStatusRefunded {
			return pkgerrors.New(pkgerrors.CodeValidation, "key already refunded")
		}
	}
	return nil
}

func (s *service) Review(ctx context.Context, input DecisionInput) (*models.RefundRequest, error) {
	return s.transition(ctx, input, enums.RefundRequestStatusAdminReview, ActionReviewed, nil)
}

func (s *service) Reject(ctx context.Context, input DecisionInput) (*models.RefundRequest, error) {
	req, err := s.transition(ctx, input, enums.RefundRequestStatusAdminRejected, ActionRejected, func(tx *gorm.DB, req *models.RefundRequest) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundRejected,
			AggregateType: enums.AggregateRefund,
			AggregateID:   req.ID,
			Actor:         &outbox.ActorRef{UserID: input.ActorID, Role: "admin"},
			Data: payloads.RefundRejectedEvent{
				RefundRequestID: req.ID,
				OrderID:         req.OrderID,
				BuyerID:         req.BuyerID,
				Notes:           notesOrEmpty(input.Notes),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// transition applies one guarded FSM step plus a history row.
func (s *service) transition(
	ctx context.Context,
	input DecisionInput,
	to enums.RefundRequestStatus,
	action string,
	after func(tx *gorm.DB, req *models.RefundRequest) error,
) (*models.RefundRequest, error) {
	req, err := s.repo.FindByID(ctx, input.RequestID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading refund request")
	}
	from := req.Status
	if err := checkTransition(from, to); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		applied, err := repo.Transition(ctx, req.ID, from, to, nil)
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "refund request changed concurrently")
		}
		if err := repo.AppendEvent(ctx, &models.RefundEvent{
			ID:              uuid.New(),
			RefundRequestID: req.ID,
			ActorID:         input.ActorID,
			Action:          action,
			PrevStatus:      from,
			NewStatus:       to,
			Notes:           input.Notes,
		}); err != nil {
			return err
		}
		if after != nil {
			return after(tx, req)
		}
		return nil
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transitioning refund request")
	}
	req.Status = to
	return req, nil
}

func (s *service) Approve(ctx context.Context, input DecisionInput) (*models.RefundRequest, error) {
	req, err := s.transition(ctx, input, enums.RefundRequestStatusAdminApproved, ActionApproved, nil)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, req, input.ActorID)
}

func (s *service) Retry(ctx context.Context, input DecisionInput) (*models.RefundRequest, error) {
	req, err := s.repo.FindByID(ctx, input.RequestID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading refund request")
	}
	// Approved requests are retryable too: the approval transition commits
	// before the reversal runs, so a reversal failure leaves the request in
	// admin_approved with no money moved.
	if req.Status != enums.RefundRequestStatusOnHoldInsufficientFunds &&
		req.Status != enums.RefundRequestStatusAdminApproved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only held or approved refunds can be retried")
	}
	return s.execute(ctx, req, input.ActorID)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading refund request")
	}
	return req, nil
}

// execute is the single reversal path shared by approval and retry. One
// atomic transaction covers escrow or ledger adjustment, key invalidation,
// buyer credit, order bookkeeping and the request's terminal transition.
func (s *service) execute(ctx context.Context, req *models.RefundRequest, actorID uuid.UUID) (*models.RefundRequest, error) {
	from := req.Status

	line, err := s.orderStore.FindLineByID(ctx, req.OrderLineID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order line")
	}
	order, err := s.orderStore.FindByID(ctx, req.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}

	// Reversal money always comes from the figures frozen at commit time.
	reversal, err := revenue.Reverse(revenue.ReversalInput{
		Qty:              line.Qty,
		RefundQty:        req.Qty,
		LineTotal:        line.LineTotal,
		CommissionAmount: line.CommissionAmount,
		SellerEarning:    line.SellerEarning,
	})
	if err != nil {
		return nil, err
	}
	amounts := ComputedAmounts{
		RefundAmount:          reversal.RefundAmount,
		SellerEarningReversed: reversal.SellerEarningReversed,
		CommissionReversed:    reversal.CommissionReversed,
	}

	held := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		covered, err := s.reverseSellerFunds(ctx, tx, req, reversal)
		if err != nil {
			return err
		}
		if !covered {
			held = true
			return s.holdInsufficientFunds(ctx, tx, req, from, actorID, amounts)
		}
		return s.completeReversal(ctx, tx, req, from, actorID, line, order, amounts)
	})
	if err != nil {
		return nil, err
	}

	if held {
		req.Status = enums.RefundRequestStatusOnHoldInsufficientFunds
		return req, nil
	}

	s.refundProcessorBestEffort(ctx, req, order, amounts)

	req.Status = enums.RefundRequestStatusCompleted
	req.RefundAmount = amounts.RefundAmount
	req.SellerEarningReversed = amounts.SellerEarningReversed
	req.CommissionReversed = amounts.CommissionReversed
	return req, nil
}

// reverseSellerFunds claws back the seller earning, preferring the in-hold
// escrow record. Returns false when a post-release reversal cannot be
// covered by the seller's available balance.
func (s *service) reverseSellerFunds(ctx context.Context, tx *gorm.DB, req *models.RefundRequest, reversal *revenue.ReversalResult) (bool, error) {
	escrow := s.escrow.WithTx(tx)
	record, err := escrow.FindByOrderAndSeller(ctx, req.OrderID, req.SellerID)
	if err != nil {
		return false, err
	}
	if record != nil {
		// Re-read under a row lock so a concurrent release run waits for
		// this reversal to commit, or vice versa.
		record, err = escrow.LockByID(ctx, record.ID)
		if err != nil {
			return false, err
		}
	}

	if record != nil && !record.Status.IsTerminal() {
		applied, err := escrow.ApplyRefundReversal(ctx, record.ID,
			reversal.RefundAmount, reversal.CommissionReversed, reversal.SellerEarningReversed)
		if err != nil {
			return false, err
		}
		if applied {
			remaining := record.NetAmount.Sub(reversal.SellerEarningReversed)
			if remaining.LessThanOrEqual(decimal.Zero) {
				if err := escrow.Block(ctx, record.ID, "fully reversed by refund"); err != nil {
					return false, err
				}
			}
			return true, nil
		}
		// The held net cannot cover the whole reversal. Drain the record
		// and claw only the shortfall from the seller balance, so the
		// residual is never paid out by a later release run.
		return s.reverseWithShortfall(ctx, tx, escrow, req, record, reversal)
	}

	return s.reverseFromBalance(ctx, tx, req, reversal.SellerEarningReversed)
}

func (s *service) reverseWithShortfall(
	ctx context.Context,
	tx *gorm.DB,
	escrow payouts.Repository,
	req *models.RefundRequest,
	record *models.PayoutEscrowRecord,
	reversal *revenue.ReversalResult,
) (bool, error) {
	shortfall := reversal.SellerEarningReversed.Sub(record.NetAmount)
	available, err := s.wallet.AvailableBalance(ctx, req.SellerID)
	if err != nil {
		return false, err
	}
	// Checked before the drain: when the balance cannot cover the
	// shortfall the request goes on hold with the escrow untouched, and a
	// retry starts from the same position.
	if available.LessThan(shortfall) {
		return false, nil
	}
	drained, err := escrow.ApplyRefundReversal(ctx, record.ID,
		record.GrossAmount, record.CommissionAmount, record.NetAmount)
	if err != nil {
		return false, err
	}
	if !drained {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, "escrow record changed concurrently")
	}
	if err := escrow.Block(ctx, record.ID, "fully reversed by refund"); err != nil {
		return false, err
	}
	if shortfall.GreaterThan(decimal.Zero) {
		if _, err := s.wallet.RecordPayoutReversal(ctx, tx, req.SellerID,
			shortfall, enums.CurrencyUSD, req.ID, req.OrderID); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *service) reverseFromBalance(ctx context.Context, tx *gorm.DB, req *models.RefundRequest, amount decimal.Decimal) (bool, error) {
	available, err := s.wallet.AvailableBalance(ctx, req.SellerID)
	if err != nil {
		return false, err
	}
	if available.LessThan(amount) {
		return false, nil
	}
	if amount.GreaterThan(decimal.Zero) {
		if _, err := s.wallet.RecordPayoutReversal(ctx, tx, req.SellerID,
			amount, enums.CurrencyUSD, req.ID, req.OrderID); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *service) holdInsufficientFunds(ctx context.Context, tx *gorm.DB, req *models.RefundRequest, from enums.RefundRequestStatus, actorID uuid.UUID, amounts ComputedAmounts) error {
	repo := s.repo.WithTx(tx)
	applied, err := repo.Transition(ctx, req.ID, from,
		enums.RefundRequestStatusOnHoldInsufficientFunds, amounts.AmountColumns())
	if err != nil {
		return err
	}
	if !applied {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "refund request changed concurrently")
	}
	if err := repo.AppendEvent(ctx, &models.RefundEvent{
		ID:              uuid.New(),
		RefundRequestID: req.ID,
		ActorID:         actorID,
		Action:          ActionHeld,
		PrevStatus:      from,
		NewStatus:       enums.RefundRequestStatusOnHoldInsufficientFunds,
	}); err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundOnHold,
		AggregateType: enums.AggregateRefund,
		AggregateID:   req.ID,
		Data: payloads.RefundOnHoldEvent{
			RefundRequestID: req.ID,
			OrderID:         req.OrderID,
			SellerID:        req.SellerID,
			RefundAmount:    amounts.RefundAmount,
		},
	})
}

func (s *service) completeReversal(
	ctx context.Context,
	tx *gorm.DB,
	req *models.RefundRequest,
	from enums.RefundRequestStatus,
	actorID uuid.UUID,
	line *models.OrderLineItem,
	order *models.Order,
	amounts ComputedAmounts,
) error {
	// Refunded keys are never reusable.
	if err := s.inventory.Invalidate(ctx, tx, []uuid.UUID(req.KeyIDs)); err != nil {
		return err
	}

	switch req.Method {
	case enums.RefundMethodWallet:
		orderID := req.OrderID
		requestID := req.ID
		if _, err := s.wallet.Credit(ctx, tx, wallet.CreditInput{
			UserID:          req.BuyerID,
			Type:            enums.WalletTransactionTypeRefundCredit,
			Amount:          amounts.RefundAmount,
			Currency:        order.Currency,
			Reason:          "refund for order " + order.OrderNumber,
			OrderID:         &orderID,
			RefundRequestID: &requestID,
		}); err != nil {
			return err
		}
	case enums.RefundMethodOriginalPayment:
		if err := s.repo.WithTx(tx).CreateObligation(ctx, &models.ManualRefundObligation{
			ID:              uuid.New(),
			RefundRequestID: req.ID,
			OrderID:         req.OrderID,
			BuyerID:         req.BuyerID,
			Amount:          amounts.RefundAmount,
			Currency:        order.Currency,
		}); err != nil {
			return err
		}
	}

	ordersRepo := s.orderStore.WithTx(tx)
	lineStatus := enums.RefundStatusPartial
	if line.RefundedQty+req.Qty >= line.Qty {
		lineStatus = enums.RefundStatusFull
	}
	if err := ordersRepo.ApplyLineRefund(ctx, line.ID, req.Qty, amounts.RefundAmount, lineStatus); err != nil {
		return err
	}

	// Roll the order from the post-update line states.
	updatedLines := make([]models.OrderLineItem, 0, len(order.Lines))
	for _, existing := range order.Lines {
		if existing.ID == line.ID {
			existing.RefundStatus = lineStatus
		}
		updatedLines = append(updatedLines, existing)
	}
	refundStatus, orderStatus := orders.RollupRefundState(updatedLines)
	if err := ordersRepo.ApplyOrderRefund(ctx, order.ID, amounts.RefundAmount, refundStatus, orderStatus); err != nil {
		return err
	}

	repo := s.repo.WithTx(tx)
	applied, err := repo.Transition(ctx, req.ID, from,
		enums.RefundRequestStatusCompleted, amounts.AmountColumns())
	if err != nil {
		return err
	}
	if !applied {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "refund request changed concurrently")
	}
	if err := repo.AppendEvent(ctx, &models.RefundEvent{
		ID:              uuid.New(),
		RefundRequestID: req.ID,
		ActorID:         actorID,
		Action:          ActionCompleted,
		PrevStatus:      from,
		NewStatus:       enums.RefundRequestStatusCompleted,
	}); err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundCompleted,
		AggregateType: enums.AggregateRefund,
		AggregateID:   req.ID,
		Data: payloads.RefundCompletedEvent{
			RefundRequestID:       req.ID,
			OrderID:               req.OrderID,
			BuyerID:               req.BuyerID,
			SellerID:              req.SellerID,
			RefundAmount:          amounts.RefundAmount,
			SellerEarningReversed: amounts.SellerEarningReversed,
			Method:                req.Method,
		},
	})
}

// refundProcessorBestEffort pushes an original-payment refund to the
// processor after the internal reversal committed. A failure here leaves a
// manual obligation behind and is logged, never surfaced to the caller.
func (s *service) refundProcessorBestEffort(ctx context.Context, req *models.RefundRequest, order *models.Order, amounts ComputedAmounts) {
	if req.Method != enums.RefundMethodOriginalPayment || s.processor == nil {
		return
	}
	if order.ProcessorCaptureID == nil {
		s.logg.Warn(ctx, "original-payment refund without capture id, manual follow-up required")
		return
	}
	if _, err := s.processor.RefundCapture(ctx, *order.ProcessorCaptureID,
		amounts.RefundAmount, string(order.Currency)); err != nil {
		s.logg.Error(ctx, "processor refund failed, manual follow-up required", err)
	}
}

func notesOrEmpty(notes *string) string {
	if notes == nil {
		return ""
	}
	return *notes
}
