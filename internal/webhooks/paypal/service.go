package paypalwebhook

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/keymartlabs/keymart-backend/pkg/outbox/payloads"
)

const consumerName = "paypal-webhook"

// Captures are matched against order totals with a one cent tolerance.
var amountTolerance = decimal.RequireFromString("0.01")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type orderStore interface {
	WithTx(tx *gorm.DB) orders.Repository
	FindByProcessorCaptureID(ctx context.Context, captureID string) (*models.Order, error)
	FindByProcessorOrderID(ctx context.Context, processorOrderID string) (*models.Order, error)
}

type escrowStore interface {
	WithTx(tx *gorm.DB) payouts.Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutEscrowRecord, error)
	BlockForOrder(ctx context.Context, orderID uuid.UUID, reason string) (int64, error)
}

type paymentRecorder interface {
	RecordPayment(ctx context.Context, tx *gorm.DB, input wallet.PaymentRecordInput) (*models.WalletTransaction, error)
}

// replayGuard dedupes processor event ids across delivery retries.
type replayGuard interface {
	CheckAndMarkProcessedExternal(ctx context.Context, consumer, eventID string) (bool, error)
	DeleteExternal(ctx context.Context, consumer, eventID string) error
}

type ServiceParams struct {
	Orders            orderStore
	Escrow            escrowStore
	Wallet            paymentRecorder
	Idempotency       replayGuard
	TransactionRunner txRunner
	Outbox            outboxEmitter
	Logger            *logger.Logger
}

// Service applies asynchronous processor notifications to settlement state.
// Every handler is safe to replay: state changes ride on guarded conditional
// updates and the event id is deduped up front.
type Service struct {
	orders      orderStore
	escrow      escrowStore
	wallet      paymentRecorder
	idempotency replayGuard
	txRunner    txRunner
	outbox      outboxEmitter
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow store required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		orders:      params.Orders,
		escrow:      params.Escrow,
		wallet:      params.Wallet,
		idempotency: params.Idempotency,
		txRunner:    params.TransactionRunner,
		outbox:      params.Outbox,
		logg:        params.Logger,
		now:         time.Now,
	}, nil
}

// HandleEvent routes one verified webhook delivery. Unrecognized event types
// are acknowledged so PayPal stops retrying them.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil || event.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event id required")
	}

	already, err := s.idempotency.CheckAndMarkProcessedExternal(ctx, consumerName, event.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checking webhook idempotency")
	}
	if already {
		s.logg.Info(s.logg.WithField(ctx, "event_id", event.ID), "webhook event already processed")
		return nil
	}

	if err := s.dispatch(ctx, event); err != nil {
		// The controller answers non-2xx on error so the processor retries
		// the delivery. Clear the marker or the retry is swallowed as a
		// duplicate.
		if delErr := s.idempotency.DeleteExternal(ctx, consumerName, event.ID); delErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "event_id", event.ID),
				"failed to clear webhook marker, delivery cannot be retried", delErr)
		}
		return err
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, event *Event) error {
	switch event.EventType {
	case eventCaptureCompleted:
		return s.handleCaptureCompleted(ctx, event)
	case eventCaptureRefunded, eventCaptureReversed:
		return s.handleCaptureReversal(ctx, event)
	case eventDisputeCreated:
		return s.handleDisputeCreated(ctx, event)
	case eventPayoutSucceeded:
		return s.handlePayoutItemSucceeded(ctx, event)
	case eventPayoutFailed, eventPayoutBlocked, eventPayoutReturned:
		return s.handlePayoutItemFailure(ctx, event)
	default:
		s.logg.Info(s.logg.WithField(ctx, "event_type", event.EventType), "ignoring unhandled webhook event type")
		return nil
	}
}

// handleCaptureCompleted finishes orders whose capture came back pending at
// commit time. The amount is re-verified against the order before the
// payment flips to paid.
func (s *Service) handleCaptureCompleted(ctx context.Context, event *Event) error {
	var capture captureResource
	if err := event.decodeResource(&capture); err != nil {
		return err
	}
	if capture.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "capture id missing")
	}

	order, err := s.findOrderForCapture(ctx, capture.ID, capture.relatedOrderID())
	if err != nil {
		return err
	}

	captured, err := capture.Amount.decimal()
	if err != nil {
		return err
	}
	if capture.Amount.CurrencyCode != string(order.Currency) {
		return pkgerrors.New(pkgerrors.CodeValidation, "capture currency does not match order").
			WithDetails(map[string]any{
				"order_id":         order.ID,
				"capture_currency": capture.Amount.CurrencyCode,
				"order_currency":   order.Currency,
			})
	}
	if captured.Sub(order.TotalPaid).Abs().GreaterThan(amountTolerance) {
		return pkgerrors.New(pkgerrors.CodeValidation, "capture amount does not match order total").
			WithDetails(map[string]any{
				"order_id":        order.ID,
				"captured_amount": captured,
				"order_total":     order.TotalPaid,
			})
	}

	if order.PaymentStatus == enums.PaymentStatusPaid {
		return nil
	}

	completedAt := event.CreateTime
	if completedAt.IsZero() {
		completedAt = s.now().UTC()
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		changed, err := s.orders.WithTx(tx).MarkPaid(ctx, order.ID, capture.ID, completedAt)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if order.BuyerID != nil {
			_, err = s.wallet.RecordPayment(ctx, tx, wallet.PaymentRecordInput{
				UserID:             *order.BuyerID,
				Amount:             order.TotalPaid,
				Currency:           order.Currency,
				Reason:             "order payment confirmed by processor",
				OrderID:            &order.ID,
				ProcessorCaptureID: capture.ID,
			})
			if err != nil {
				return err
			}
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderReconciled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderReconciledEvent{
				OrderID:          order.ID,
				OrderNumber:      order.OrderNumber,
				ProcessorEventID: event.ID,
				PaymentStatus:    enums.PaymentStatusPaid,
			},
		})
	})
}

// handleCaptureReversal reacts to a refund issued at the processor, outside
// the marketplace's own refund workflow. The order is flagged refunded and
// all escrow still held for it is frozen for review.
func (s *Service) handleCaptureReversal(ctx context.Context, event *Event) error {
	var refund refundResource
	if err := event.decodeResource(&refund); err != nil {
		return err
	}
	captureID := refund.captureID()
	if captureID == "" {
		captureID = refund.ID
	}
	if captureID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund resource has no capture reference")
	}

	order, err := s.orders.FindByProcessorCaptureID(ctx, captureID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no order for refunded capture").
				WithDetails(map[string]any{"capture_id": captureID})
		}
		return err
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		changed, err := s.orders.WithTx(tx).MarkPaymentRefunded(ctx, order.ID)
		if err != nil {
			return err
		}
		blocked, err := s.escrow.WithTx(tx).BlockForOrder(ctx, order.ID, "refund issued at processor")
		if err != nil {
			return err
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_number":   order.OrderNumber,
			"escrow_blocked": blocked,
		})
		s.logg.Info(logCtx, "processor refund applied")
		if !changed {
			return nil
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderReconciled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderReconciledEvent{
				OrderID:          order.ID,
				OrderNumber:      order.OrderNumber,
				ProcessorEventID: event.ID,
				PaymentStatus:    enums.PaymentStatusRefunded,
			},
		})
	})
}

// handleDisputeCreated freezes payouts for every order named in the dispute.
// The order's payment state is left alone until the dispute resolves.
func (s *Service) handleDisputeCreated(ctx context.Context, event *Event) error {
	var dispute disputeResource
	if err := event.decodeResource(&dispute); err != nil {
		return err
	}
	if len(dispute.DisputedTransactions) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "dispute has no transactions")
	}

	for _, txn := range dispute.DisputedTransactions {
		if txn.SellerTransactionID == "" {
			continue
		}
		order, err := s.orders.FindByProcessorCaptureID(ctx, txn.SellerTransactionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.logg.Info(s.logg.WithField(ctx, "capture_id", txn.SellerTransactionID),
					"dispute references unknown capture")
				continue
			}
			return err
		}
		blocked, err := s.escrow.BlockForOrder(ctx, order.ID, payouts.BlockReasonDispute)
		if err != nil {
			return err
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_number":   order.OrderNumber,
			"dispute_id":     dispute.DisputeID,
			"escrow_blocked": blocked,
		})
		s.logg.Info(logCtx, "payouts frozen for disputed order")
	}
	return nil
}

// handlePayoutItemSucceeded confirms a disbursement. Records already marked
// released at send time are left untouched.
func (s *Service) handlePayoutItemSucceeded(ctx context.Context, event *Event) error {
	var item payoutItemResource
	if err := event.decodeResource(&item); err != nil {
		return err
	}
	record, err := s.findEscrowForItem(ctx, &item)
	if err != nil {
		return err
	}
	if record.Status == enums.EscrowStatusReleased {
		return nil
	}

	releasedAt := event.CreateTime
	if releasedAt.IsZero() {
		releasedAt = s.now().UTC()
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.escrow.WithTx(tx)
		released, err := repo.MarkReleased(ctx, record.ID, record.NetAmount, item.PayoutBatchID, item.PayoutItemID, releasedAt)
		if err != nil {
			return err
		}
		if !released {
			// The record moved while we processed the event. The release
			// worker reconciles it on its next run.
			s.logg.Warn(ctx, "payout item succeeded but escrow record changed, leaving for worker")
			return nil
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
				DisbursementBatchID: item.PayoutBatchID,
				ReleasedAt:          releasedAt,
			},
		})
	})
}

// handlePayoutItemFailure records a disbursement that bounced after the
// batch was accepted. The record is failed for operator review since the
// money never reached the seller.
func (s *Service) handlePayoutItemFailure(ctx context.Context, event *Event) error {
	var item payoutItemResource
	if err := event.decodeResource(&item); err != nil {
		return err
	}
	record, err := s.findEscrowForItem(ctx, &item)
	if err != nil {
		return err
	}

	reason := item.TransactionStatus
	if item.Errors != nil && item.Errors.Message != "" {
		reason = fmt.Sprintf("%s: %s", item.TransactionStatus, item.Errors.Message)
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.escrow.WithTx(tx)
		if err := repo.RecordAttemptFailure(ctx, record.ID, reason); err != nil {
			return err
		}
		if err := repo.MarkFailed(ctx, record.ID, reason); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutFailed,
			AggregateType: enums.AggregatePayout,
			AggregateID:   record.ID,
			Data: payloads.PayoutFailedEvent{
				EscrowID:     record.ID,
				OrderID:      record.OrderID,
				SellerID:     record.SellerID,
				AttemptCount: record.AttemptCount + 1,
				LastError:    reason,
			},
		})
	})
}

func (s *Service) findOrderForCapture(ctx context.Context, captureID, processorOrderID string) (*models.Order, error) {
	order, err := s.orders.FindByProcessorCaptureID(ctx, captureID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if processorOrderID != "" {
		order, err = s.orders.FindByProcessorOrderID(ctx, processorOrderID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order matches capture").
		WithDetails(map[string]any{"capture_id": captureID})
}

// findEscrowForItem resolves the escrow record behind a payout item. The
// sender_item_id is the escrow record id chosen at disbursement time.
func (s *Service) findEscrowForItem(ctx context.Context, item *payoutItemResource) (*models.PayoutEscrowRecord, error) {
	escrowID, err := uuid.Parse(item.PayoutItem.SenderItemID)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout item has no escrow reference").
			WithDetails(map[string]any{"sender_item_id": item.PayoutItem.SenderItemID})
	}
	record, err := s.escrow.FindByID(ctx, escrowID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no escrow record for payout item").
				WithDetails(map[string]any{"escrow_id": escrowID})
		}
		return nil, err
	}
	return record, nil
}
