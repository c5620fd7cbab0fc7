package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymartlabs/keymart-backend/internal/orders"
	"github.com/keymartlabs/keymart-backend/internal/payouts"
	"github.com/keymartlabs/keymart-backend/internal/revenue"
	"github.com/keymartlabs/keymart-backend/internal/wallet"
	"github.com/keymartlabs/keymart-backend/pkg/config"
	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
	"github.com/keymartlabs/keymart-backend/pkg/outbox"
	"github.com/keymartlabs/keymart-backend/pkg/outbox/payloads"
	"github.com/keymartlabs/keymart-backend/pkg/paypal"
)

// amountTolerance is the maximum processor/recomputed total divergence a
// capture is allowed before the commit aborts.
var amountTolerance = decimal.RequireFromString("0.01")

const (
	commitTxRetries   = 3
	commitRetryBase   = 50 * time.Millisecond
	commitRetryJitter = 25 * time.Millisecond
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// orderStore is the slice of the orders repository the commit needs.
type orderStore interface {
	WithTx(tx *gorm.DB) orders.Repository
	FindByCheckoutSessionID(ctx context.Context, sessionID uuid.UUID) (*models.Order, error)
	FindByProcessorOrderID(ctx context.Context, processorOrderID string) (*models.Order, error)
}

type numberSource interface {
	NewOrderNumber(ctx context.Context) (string, error)
}

type productCatalog interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type keyAssigner interface {
	Assign(ctx context.Context, tx *gorm.DB, productID, orderLineID uuid.UUID, qty int) ([]models.LicenseKey, error)
	CheckLowStock(ctx context.Context, productID, sellerID uuid.UUID) error
}

type escrowScheduler interface {
	ScheduleHold(ctx context.Context, tx *gorm.DB, input payouts.ScheduleHoldInput) (*models.PayoutEscrowRecord, error)
}

// paymentCapturer is the processor surface for processor-paid sessions.
type paymentCapturer interface {
	CaptureOrder(ctx context.Context, orderID string) (*paypal.CaptureResult, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.OrderDetails, error)
}

// CommitInput identifies the session to convert and the caller claiming it.
type CommitInput struct {
	SessionID uuid.UUID
	// BuyerID is nil for guest sessions.
	BuyerID *uuid.UUID
}

// Service converts a pending checkout session into exactly one paid order,
// or fails with no partial state.
type Service interface {
	Commit(ctx context.Context, input CommitInput) (*models.Order, error)
}

type service struct {
	sessions  Repository
	orders    orderStore
	numbers   numberSource
	catalog   productCatalog
	inventory keyAssigner
	wallet    wallet.Service
	escrow    escrowScheduler
	processor paymentCapturer
	tx        txRunner
	outbox    outboxEmitter
	logg      *logger.Logger
	cfg       config.SettlementConfig
	now       func() time.Time
}

// NewService wires the order commit transaction.
func NewService(
	sessions Repository,
	orderStore orderStore,
	numbers numberSource,
	catalog productCatalog,
	inventory keyAssigner,
	wallet wallet.Service,
	escrow escrowScheduler,
	processor paymentCapturer,
	tx txRunner,
	emitter outboxEmitter,
	logg *logger.Logger,
	cfg config.SettlementConfig,
) (Service, error) {
	if sessions == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if orderStore == nil {
		return nil, fmt.Errorf("order store required")
	}
	if numbers == nil {
		return nil, fmt.Errorf("order number source required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("product catalog required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if escrow == nil {
		return nil, fmt.Errorf("escrow scheduler required")
	}
	if processor == nil {
		return nil, fmt.Errorf("payment processor required")
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
	return &service{
		sessions:  sessions,
		orders:    orderStore,
		numbers:   numbers,
		catalog:   catalog,
		inventory: inventory,
		wallet:    wallet,
		escrow:    escrow,
		processor: processor,
		tx:        tx,
		outbox:    emitter,
		logg:      logg,
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

func (s *service) Commit(ctx context.Context, input CommitInput) (*models.Order, error) {
	session, err := s.sessions.FindByID(ctx, input.SessionID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading checkout session")
	}
	if session.BuyerID != nil {
		if input.BuyerID == nil || *input.BuyerID != *session.BuyerID {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
	}

	// A duplicate submission returns the committed order instead of an error.
	if existing, err := s.existingOrder(ctx, session); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	switch session.Status {
	case enums.CheckoutStatusPending:
	case enums.CheckoutStatusProcessing:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "commit already in progress for this session")
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session is not payable").
			WithDetails(map[string]any{"status": session.Status.String()})
	}
	if len(session.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session has no items")
	}
	if session.Currency != enums.CurrencyUSD {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported settlement currency").
			WithDetails(map[string]any{"currency": session.Currency})
	}

	// Fence concurrent retries before touching money.
	fenced, err := s.sessions.SetStatus(ctx, session.ID, enums.CheckoutStatusPending, enums.CheckoutStatusProcessing)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fencing checkout session")
	}
	if !fenced {
		if existing, err := s.existingOrder(ctx, session); err == nil && existing != nil {
			return existing, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "commit already in progress for this session")
	}

	order, err := s.commit(ctx, session)
	if err != nil {
		if _, rbErr := s.sessions.SetStatus(ctx, session.ID,
			enums.CheckoutStatusProcessing, enums.CheckoutStatusPending); rbErr != nil {
			s.logg.Error(ctx, "returning checkout session to pending", rbErr)
		}
		return nil, err
	}

	s.checkLowStockBestEffort(ctx, order)
	return order, nil
}

func (s *service) existingOrder(ctx context.Context, session *models.CheckoutSession) (*models.Order, error) {
	existing, err := s.orders.FindByCheckoutSessionID(ctx, session.ID)
	if err == nil {
		return existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking for existing order")
	}
	if session.ProcessorOrderID != nil {
		existing, err := s.orders.FindByProcessorOrderID(ctx, *session.ProcessorOrderID)
		if err == nil {
			return existing, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking for existing order")
		}
	}
	return nil, nil
}

// commit runs the server-side recomputation, the processor capture and the
// atomic conversion. The session is already fenced to processing.
func (s *service) commit(ctx context.Context, session *models.CheckoutSession) (*models.Order, error) {
	calc, productByID, err := s.recompute(ctx, session)
	if err != nil {
		return nil, err
	}

	var capture *paypal.CaptureResult
	switch session.PaymentMethod {
	case enums.PaymentMethodWallet:
		if session.BuyerID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "guest sessions cannot pay by wallet")
		}
	case enums.PaymentMethodPayPal:
		capture, err = s.captureProcessorPayment(ctx, session, calc.GrandTotal)
		if err != nil {
			return nil, err
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method").
			WithDetails(map[string]any{"method": session.PaymentMethod})
	}

	number, err := s.numbers.NewOrderNumber(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating order number")
	}

	order := s.buildOrder(session, calc, productByID, number, capture)

	backoff := retry.WithJitter(commitRetryJitter, retry.NewExponential(commitRetryBase))
	backoff = retry.WithMaxRetries(commitTxRetries, backoff)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.convert(ctx, tx, session, order, calc)
		})
		if isTransientStoreError(txErr) {
			return retry.RetryableError(txErr)
		}
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// recompute rebuilds the money split from catalog prices. Client-supplied
// totals and the snapshot unit prices are never trusted.
func (s *service) recompute(ctx context.Context, session *models.CheckoutSession) (*revenue.Result, map[uuid.UUID]models.Product, error) {
	ids := make([]uuid.UUID, 0, len(session.Items))
	for _, item := range session.Items {
		ids = append(ids, item.ProductID)
	}
	productByID, err := s.catalog.FindByIDs(ctx, ids)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading products")
	}

	lines := make([]revenue.LineInput, 0, len(session.Items))
	for _, item := range session.Items {
		product, ok := productByID[item.ProductID]
		if !ok {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "product no longer exists").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		if !product.Active {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "product is no longer for sale").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		if item.Qty <= 0 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		}
		lines = append(lines, revenue.LineInput{
			ProductID: product.ID,
			SellerID:  product.SellerID,
			UnitPrice: product.UnitPrice,
			Qty:       item.Qty,
		})
	}

	calc, err := revenue.Calculate(revenue.Input{
		Lines:          lines,
		CommissionRate: s.cfg.CommissionRateDecimal(),
		HandlingFee:    s.cfg.HandlingFeeDecimal(),
	})
	if err != nil {
		return nil, nil, err
	}
	return calc, productByID, nil
}

func (s *service) captureProcessorPayment(ctx context.Context, session *models.CheckoutSession, total decimal.Decimal) (*paypal.CaptureResult, error) {
	if session.ProcessorOrderID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session has no approved processor order")
	}
	capture, err := s.processor.CaptureOrder(ctx, *session.ProcessorOrderID)
	if err != nil {
		// A prior commit attempt may have captured the order and then failed
		// before the conversion landed. The processor rejects the second
		// capture, so the order's own state decides whether payment exists.
		capture, err = s.recoverCompletedCapture(ctx, *session.ProcessorOrderID, err)
		if err != nil {
			return nil, err
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"processor_order_id": *session.ProcessorOrderID,
			"capture_id":         capture.CaptureID,
		}), "reusing capture from a previous commit attempt")
	}
	if capture.CaptureID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "processor returned no capture")
	}
	if capture.Currency != "" && capture.Currency != string(session.Currency) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "captured currency does not match order").
			WithDetails(map[string]any{"captured": capture.Currency, "expected": session.Currency})
	}
	if capture.Amount.Sub(total).Abs().GreaterThan(amountTolerance) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "captured amount does not match order total").
			WithDetails(map[string]any{
				"captured": capture.Amount.StringFixed(2),
				"expected": total.StringFixed(2),
			})
	}
	return capture, nil
}

// recoverCompletedCapture checks whether a rejected capture call failed
// because the order is already captured, and if so returns that capture so
// the commit can proceed. Any other failure surfaces the original error.
func (s *service) recoverCompletedCapture(ctx context.Context, processorOrderID string, captureErr error) (*paypal.CaptureResult, error) {
	details, err := s.processor.GetOrder(ctx, processorOrderID)
	if err != nil || details.Status != paypal.OrderStatusCompleted || details.CaptureID == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, captureErr, "capturing processor payment")
	}
	return &paypal.CaptureResult{
		OrderID:   details.ID,
		CaptureID: details.CaptureID,
		Status:    details.Status,
		Amount:    details.Amount,
		Currency:  details.Currency,
	}, nil
}

func (s *service) buildOrder(
	session *models.CheckoutSession,
	calc *revenue.Result,
	productByID map[uuid.UUID]models.Product,
	number string,
	capture *paypal.CaptureResult,
) *models.Order {
	now := s.now()
	order := &models.Order{
		ID:                 uuid.New(),
		OrderNumber:        number,
		CheckoutSessionID:  session.ID,
		BuyerID:            session.BuyerID,
		GuestEmail:         session.GuestEmail,
		Currency:           session.Currency,
		PaymentMethod:      session.PaymentMethod,
		ProcessorOrderID:   session.ProcessorOrderID,
		Subtotal:           calc.Subtotal,
		DiscountTotal:      calc.DiscountTotal,
		HandlingFee:        calc.HandlingFee,
		CommissionTotal:    calc.CommissionTotal,
		SellerEarningTotal: calc.SellerEarningTotal,
		AdminEarningTotal:  calc.AdminEarningTotal,
		TotalPaid:          calc.GrandTotal,
		PaymentStatus:      enums.PaymentStatusPending,
		Status:             enums.OrderStatusProcessing,
	}

	// Wallet debits settle synchronously; a processor capture is paid only
	// once the processor confirms completion, otherwise the webhook
	// reconciliation finishes the job.
	switch {
	case session.PaymentMethod == enums.PaymentMethodWallet:
		order.PaymentStatus = enums.PaymentStatusPaid
		order.Status = enums.OrderStatusCompleted
		order.CompletedAt = &now
	case capture != nil:
		order.ProcessorCaptureID = &capture.CaptureID
		if capture.Status == "COMPLETED" {
			order.PaymentStatus = enums.PaymentStatusPaid
			order.Status = enums.OrderStatusCompleted
			order.CompletedAt = &now
		}
	}

	lines := make([]models.OrderLineItem, 0, len(calc.Lines))
	for _, line := range calc.Lines {
		lines = append(lines, models.OrderLineItem{
			ID:               uuid.New(),
			OrderID:          order.ID,
			ProductID:        line.ProductID,
			SellerID:         line.SellerID,
			Name:             productByID[line.ProductID].Title,
			Qty:              line.Qty,
			UnitPrice:        line.UnitPrice,
			LineTotal:        line.LineTotal,
			CommissionRate:   line.CommissionRate,
			CommissionAmount: line.CommissionAmount,
			SellerEarning:    line.SellerEarning,
			RefundStatus:     enums.RefundStatusNone,
		})
	}
	order.Lines = lines
	return order
}

// convert is the atomic step: order row, key claims, money movement, escrow
// holds, cart clearing and the session's terminal move all commit together.
func (s *service) convert(ctx context.Context, tx *gorm.DB, session *models.CheckoutSession, order *models.Order, calc *revenue.Result) error {
	ordersRepo := s.orders.WithTx(tx)
	if _, err := ordersRepo.Create(ctx, order); err != nil {
		return err
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		keys, err := s.inventory.Assign(ctx, tx, line.ProductID, line.ID, line.Qty)
		if err != nil {
			return err
		}
		line.Keys = keys
	}

	if session.PaymentMethod == enums.PaymentMethodWallet {
		orderID := order.ID
		if _, err := s.wallet.Debit(ctx, tx, wallet.DebitInput{
			UserID:   *session.BuyerID,
			Amount:   order.TotalPaid,
			Currency: order.Currency,
			Reason:   "payment for order " + order.OrderNumber,
			OrderID:  &orderID,
		}); err != nil {
			return err
		}
	} else if order.ProcessorCaptureID != nil && order.BuyerID != nil && order.PaymentStatus == enums.PaymentStatusPaid {
		orderID := order.ID
		if _, err := s.wallet.RecordPayment(ctx, tx, wallet.PaymentRecordInput{
			UserID:             *order.BuyerID,
			Amount:             order.TotalPaid,
			Currency:           order.Currency,
			Reason:             "payment for order " + order.OrderNumber,
			OrderID:            &orderID,
			ProcessorCaptureID: *order.ProcessorCaptureID,
		}); err != nil {
			return err
		}
	}

	holdUntil := s.now().Add(s.cfg.HoldWindow())
	for _, split := range revenue.SplitBySeller(calc.Lines) {
		if _, err := s.escrow.ScheduleHold(ctx, tx, payouts.ScheduleHoldInput{
			OrderID:    order.ID,
			SellerID:   split.SellerID,
			Currency:   order.Currency,
			Gross:      split.GrossAmount,
			Commission: split.CommissionAmount,
			Net:        split.NetAmount,
			HoldUntil:  holdUntil,
		}); err != nil {
			return err
		}
	}

	if session.BuyerID != nil {
		if err := s.sessions.WithTx(tx).ClearCart(ctx, *session.BuyerID); err != nil {
			return err
		}
	}

	moved, err := s.sessions.WithTx(tx).SetStatus(ctx, session.ID,
		enums.CheckoutStatusProcessing, enums.CheckoutStatusPaid)
	if err != nil {
		return err
	}
	if !moved {
		return pkgerrors.New(pkgerrors.CodeConflict, "checkout session changed concurrently")
	}

	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorForSession(session),
		Data: payloads.OrderPaidEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			BuyerID:     order.BuyerID,
			TotalPaid:   order.TotalPaid,
			Currency:    order.Currency,
			LineCount:   len(order.Lines),
		},
	})
}

func actorForSession(session *models.CheckoutSession) *outbox.ActorRef {
	if session.BuyerID == nil {
		return nil
	}
	return &outbox.ActorRef{UserID: *session.BuyerID, Role: "buyer"}
}

func (s *service) checkLowStockBestEffort(ctx context.Context, order *models.Order) {
	seen := make(map[uuid.UUID]bool, len(order.Lines))
	for _, line := range order.Lines {
		if seen[line.ProductID] {
			continue
		}
		seen[line.ProductID] = true
		if err := s.inventory.CheckLowStock(ctx, line.ProductID, line.SellerID); err != nil {
			s.logg.Error(ctx, "post-commit low stock check failed", err)
		}
	}
}

// isTransientStoreError reports lock/serialization conflicts that are safe
// to retry wholesale.
func isTransientStoreError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "could not serialize") ||
		strings.Contains(msg, "database is locked")
}
