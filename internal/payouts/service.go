package payouts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
	"github.com/keymartlabs/keymart-backend/pkg/outbox"
	"github.com/keymartlabs/keymart-backend/pkg/outbox/payloads"
	"github.com/keymartlabs/keymart-backend/pkg/paypal"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// disbursementClient is the processor surface the release worker needs.
type disbursementClient interface {
	SendPayout(ctx context.Context, req paypal.PayoutRequest) (*paypal.PayoutResult, error)
}

// orderStateChecker reports whether the order behind an escrow record is
// still in a payable state.
type orderStateChecker interface {
	IsPaid(ctx context.Context, orderID uuid.UUID) (bool, error)
}

// disputeChecker reports open refund requests that must park a payout.
type disputeChecker interface {
	HasOpenForOrderSeller(ctx context.Context, orderID, sellerID uuid.UUID) (bool, error)
}

// Block reasons written to escrow records by the release worker.
const (
	BlockReasonNoPayoutAccount   = "no payout account on file"
	BlockReasonAccountUnverified = "payout account not verified"
	BlockReasonAccountBlocked    = "payout account blocked"
	BlockReasonOrderNotPaid      = "order no longer in paid state"
	BlockReasonOpenDispute       = "open refund request"
	BlockReasonDispute           = "payment dispute"
)

// ScheduleHoldInput carries one seller's split of a freshly paid order.
type ScheduleHoldInput struct {
	OrderID    uuid.UUID
	SellerID   uuid.UUID
	Currency   enums.Currency
	Gross      decimal.Decimal
	Commission decimal.Decimal
	Net        decimal.Decimal
	HoldUntil  time.Time
}

// ReleaseStats summarizes one release run.
type ReleaseStats struct {
	Examined int
	Released int
	Blocked  int
	Failed   int
	Skipped  int
}

// Service schedules escrow holds at commit time and releases them once the
// hold window elapses.
type Service interface {
	// ScheduleHold creates the escrow record inside the commit transaction.
	ScheduleHold(ctx context.Context, tx *gorm.DB, input ScheduleHoldInput) (*models.PayoutEscrowRecord, error)
	// ReleaseDue processes every record whose hold elapsed. Each record is
	// revalidated and settled in its own transaction so one bad record never
	// poisons the batch.
	ReleaseDue(ctx context.Context) (ReleaseStats, error)
}

type service struct {
	repo       Repository
	accounts   AccountRepository
	tx         txRunner
	outbox     outboxEmitter
	processor  disbursementClient
	orders     orderStateChecker
	disputes   disputeChecker
	logg       *logger.Logger
	maxRetries int
	batchSize  int
	now        func() time.Time
}

// NewService builds the payouts service.
func NewService(
	repo Repository,
	accounts AccountRepository,
	tx txRunner,
	emitter outboxEmitter,
	processor disbursementClient,
	orders orderStateChecker,
	disputes disputeChecker,
	logg *logger.Logger,
	maxRetries int,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("payout account repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if processor == nil {
		return nil, fmt.Errorf("disbursement client required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order state checker required")
	}
	if disputes == nil {
		return nil, fmt.Errorf("dispute checker required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &service{
		repo:       repo,
		accounts:   accounts,
		tx:         tx,
		outbox:     emitter,
		processor:  processor,
		orders:     orders,
		disputes:   disputes,
		logg:       logg,
		maxRetries: maxRetries,
		batchSize:  100,
		now:        time.Now,
	}, nil
}

func (s *service) ScheduleHold(ctx context.Context, tx *gorm.DB, input ScheduleHoldInput) (*models.PayoutEscrowRecord, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.Net.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "net amount cannot be negative")
	}

	record := &models.PayoutEscrowRecord{
		ID:               uuid.New(),
		OrderID:          input.OrderID,
		SellerID:         input.SellerID,
		Currency:         input.Currency,
		GrossAmount:      input.Gross,
		CommissionAmount: input.Commission,
		NetAmount:        input.Net,
		Status:           enums.EscrowStatusPending,
		HoldUntil:        input.HoldUntil,
	}
	if err := s.repo.WithTx(tx).Create(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating escrow record")
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventPayoutScheduled,
		AggregateType: enums.AggregatePayout,
		AggregateID:   record.ID,
		Data: payloads.PayoutScheduledEvent{
			EscrowID:  record.ID,
			OrderID:   record.OrderID,
			SellerID:  record.SellerID,
			NetAmount: record.NetAmount,
			HoldUntil: record.HoldUntil,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing payout.scheduled")
	}
	return record, nil
}

func (s *service) ReleaseDue(ctx context.Context) (ReleaseStats, error) {
	stats := ReleaseStats{}
	due, err := s.repo.FindDue(ctx, s.now(), s.batchSize)
	if err != nil {
		return stats, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing due escrow records")
	}

	for _, record := range due {
		stats.Examined++
		outcome, err := s.releaseOne(ctx, record.ID)
		if err != nil {
			s.logg.Error(ctx, "payout release failed", err)
			stats.Failed++
			continue
		}
		switch outcome {
		case outcomeReleased:
			stats.Released++
		case outcomeBlocked:
			stats.Blocked++
		case outcomeFailed:
			stats.Failed++
		default:
			stats.Skipped++
		}
	}
	return stats, nil
}

type releaseOutcome int

const (
	outcomeSkipped releaseOutcome = iota
	outcomeReleased
	outcomeBlocked
	outcomeFailed
)

// releaseOne locks one due record, revalidates it, and settles it inside a
// single transaction. The re-read under lock means a refund reversal either
// commits before the lock is taken, so the worker sees the shrunk record, or
// waits for the release to commit, so the reversal guard sees a released
// record and rejects. Blocked records whose hold elapsed pass through the
// same checks, so a resolved dispute or a newly verified account heals
// without manual intervention.
func (s *service) releaseOne(ctx context.Context, id uuid.UUID) (releaseOutcome, error) {
	outcome := outcomeSkipped
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		record, err := s.repo.WithTx(tx).LockByID(ctx, id)
		if err != nil {
			return err
		}
		// Settled between FindDue and the lock.
		if record.Status != enums.EscrowStatusPending && record.Status != enums.EscrowStatusBlocked {
			return nil
		}

		reason, err := s.blockReason(ctx, *record)
		if err != nil {
			return err
		}
		if reason != "" {
			out, err := s.block(ctx, tx, *record, reason)
			if err != nil {
				return err
			}
			outcome = out
			return nil
		}

		var result *paypal.PayoutResult
		// Zero net after in-hold refunds closes the record without calling
		// the processor.
		if record.NetAmount.GreaterThan(decimal.Zero) {
			account, err := s.accounts.FindBySellerID(ctx, record.SellerID)
			if err != nil {
				return err
			}
			// The escrow id doubles as the processor batch id, so a crash
			// between the API call and our status update cannot double-pay
			// on retry.
			result, err = s.processor.SendPayout(ctx, paypal.PayoutRequest{
				BatchID:  record.ID.String(),
				ItemID:   record.ID.String(),
				Receiver: account.PaypalEmail,
				Amount:   record.NetAmount,
				Currency: string(record.Currency),
				Note:     "marketplace earnings payout",
			})
			if err != nil {
				out, ferr := s.recordFailure(ctx, tx, *record, err)
				if ferr != nil {
					return ferr
				}
				outcome = out
				return nil
			}
		}
		if err := s.settle(ctx, tx, *record, result); err != nil {
			return err
		}
		outcome = outcomeReleased
		return nil
	})
	if err != nil {
		return outcomeSkipped, err
	}
	return outcome, nil
}

// blockReason returns the first failed eligibility check, or empty when the
// record can be paid.
func (s *service) blockReason(ctx context.Context, record models.PayoutEscrowRecord) (string, error) {
	paid, err := s.orders.IsPaid(ctx, record.OrderID)
	if err != nil {
		return "", err
	}
	if !paid {
		return BlockReasonOrderNotPaid, nil
	}

	open, err := s.disputes.HasOpenForOrderSeller(ctx, record.OrderID, record.SellerID)
	if err != nil {
		return "", err
	}
	if open {
		return BlockReasonOpenDispute, nil
	}

	// Zero-balance records skip the account checks; there is nothing to send.
	if record.NetAmount.LessThanOrEqual(decimal.Zero) {
		return "", nil
	}

	account, err := s.accounts.FindBySellerID(ctx, record.SellerID)
	if err != nil {
		return "", err
	}
	switch {
	case account == nil:
		return BlockReasonNoPayoutAccount, nil
	case account.Blocked:
		return BlockReasonAccountBlocked, nil
	case !account.Verified:
		return BlockReasonAccountUnverified, nil
	}
	return "", nil
}

func (s *service) block(ctx context.Context, tx *gorm.DB, record models.PayoutEscrowRecord, reason string) (releaseOutcome, error) {
	alreadyBlocked := record.Status == enums.EscrowStatusBlocked &&
		record.BlockReason != nil && *record.BlockReason == reason
	if err := s.repo.WithTx(tx).Block(ctx, record.ID, reason); err != nil {
		return outcomeSkipped, err
	}
	if !alreadyBlocked {
		err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutBlocked,
			AggregateType: enums.AggregatePayout,
			AggregateID:   record.ID,
			Data: payloads.PayoutBlockedEvent{
				EscrowID: record.ID,
				OrderID:  record.OrderID,
				SellerID: record.SellerID,
				Reason:   reason,
			},
		})
		if err != nil {
			return outcomeSkipped, err
		}
	}
	s.logg.Warn(ctx, fmt.Sprintf("payout blocked: %s", reason))
	return outcomeBlocked, nil
}

func (s *service) settle(ctx context.Context, tx *gorm.DB, record models.PayoutEscrowRecord, result *paypal.PayoutResult) error {
	releasedAt := s.now()
	batchID, itemID := "", ""
	if result != nil {
		batchID, itemID = result.BatchID, result.ItemID
	}
	repo := s.repo.WithTx(tx)
	if record.Status == enums.EscrowStatusBlocked {
		if err := repo.Unblock(ctx, record.ID); err != nil {
			return err
		}
	}
	released, err := repo.MarkReleased(ctx, record.ID, record.NetAmount, batchID, itemID, releasedAt)
	if err != nil {
		return err
	}
	if !released {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "escrow record changed during release")
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPayoutReleased,
		AggregateType: enums.AggregatePayout,
		AggregateID:   record.ID,
		Data: payloads.PayoutReleasedEvent{
			EscrowID:            record.ID,
			OrderID:             record.OrderID,
			SellerID:            record.SellerID,
			NetAmount:           record.NetAmount,
			DisbursementBatchID: batchID,
			ReleasedAt:          releasedAt,
		},
	})
}

func (s *service) recordFailure(ctx context.Context, tx *gorm.DB, record models.PayoutEscrowRecord, sendErr error) (releaseOutcome, error) {
	attempts := record.AttemptCount + 1
	exhausted := attempts >= s.maxRetries
	repo := s.repo.WithTx(tx)
	if err := repo.RecordAttemptFailure(ctx, record.ID, sendErr.Error()); err != nil {
		return outcomeSkipped, err
	}
	if exhausted {
		if err := repo.MarkFailed(ctx, record.ID, sendErr.Error()); err != nil {
			return outcomeSkipped, err
		}
		err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutFailed,
			AggregateType: enums.AggregatePayout,
			AggregateID:   record.ID,
			Data: payloads.PayoutFailedEvent{
				EscrowID:     record.ID,
				OrderID:      record.OrderID,
				SellerID:     record.SellerID,
				AttemptCount: attempts,
				LastError:    sendErr.Error(),
			},
		})
		if err != nil {
			return outcomeSkipped, err
		}
	}
	s.logg.Error(ctx, "payout disbursement attempt failed", sendErr)
	if exhausted {
		return outcomeFailed, nil
	}
	return outcomeSkipped, nil
}
