package wallet

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymartlabs/keymart-backend/pkg/db/models"
	"github.com/keymartlabs/keymart-backend/pkg/enums"
	pkgerrors "github.com/keymartlabs/keymart-backend/pkg/errors"
)

// spendableTypes are the transaction types that make up a buyer's spendable
// balance. Payment rows mirror processor captures for audit and are excluded.
var spendableTypes = []enums.WalletTransactionType{
	enums.WalletTransactionTypeWalletDebit,
	enums.WalletTransactionTypeRefundCredit,
	enums.WalletTransactionTypeAdjustment,
}

// ReleasedFundsSource reports the total net amount already disbursed to a
// seller. Implemented by the payout escrow repository.
type ReleasedFundsSource interface {
	ReleasedNetTotal(ctx context.Context, sellerID uuid.UUID) (decimal.Decimal, error)
}

// DebitInput describes a buyer wallet debit.
type DebitInput struct {
	UserID   uuid.UUID
	Amount   decimal.Decimal
	Currency enums.Currency
	Reason   string
	OrderID  *uuid.UUID
}

// CreditInput describes a credit entry (refund, adjustment).
type CreditInput struct {
	UserID          uuid.UUID
	Type            enums.WalletTransactionType
	Amount          decimal.Decimal
	Currency        enums.Currency
	Reason          string
	OrderID         *uuid.UUID
	RefundRequestID *uuid.UUID
}

// PaymentRecordInput mirrors a processor capture into the ledger.
type PaymentRecordInput struct {
	UserID             uuid.UUID
	Amount             decimal.Decimal
	Currency           enums.Currency
	Reason             string
	OrderID            *uuid.UUID
	ProcessorCaptureID string
}

// Service exposes transaction-scoped money movement on top of the
// append-only ledger.
type Service interface {
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	// AvailableBalance is a seller's released escrow net minus prior payout
	// reversals. Funds still inside the hold window are not included.
	AvailableBalance(ctx context.Context, sellerID uuid.UUID) (decimal.Decimal, error)
	Debit(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.WalletTransaction, error)
	Credit(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.WalletTransaction, error)
	// RecordPayment writes the audit row for a processor capture. Returns the
	// existing row without error when the capture was already recorded.
	RecordPayment(ctx context.Context, tx *gorm.DB, input PaymentRecordInput) (*models.WalletTransaction, error)
	// RecordPayoutReversal books a negative entry against a seller's released
	// funds when a refund lands after payout release.
	RecordPayoutReversal(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, amount decimal.Decimal, currency enums.Currency, refundRequestID, orderID uuid.UUID) (*models.WalletTransaction, error)
}

type service struct {
	repo     Repository
	released ReleasedFundsSource
}

// NewService builds a wallet service.
func NewService(repo Repository, released ReleasedFundsSource) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if released == nil {
		return nil, fmt.Errorf("released funds source required")
	}
	return &service{repo: repo, released: released}, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.SumByUserAndTypes(ctx, userID, spendableTypes)
}

func (s *service) AvailableBalance(ctx context.Context, sellerID uuid.UUID) (decimal.Decimal, error) {
	released, err := s.released.ReleasedNetTotal(ctx, sellerID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "summing released payouts")
	}
	reversed, err := s.repo.SumByUserAndTypes(ctx, sellerID, []enums.WalletTransactionType{
		enums.WalletTransactionTypePayoutReversal,
	})
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "summing payout reversals")
	}
	return released.Add(reversed), nil
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.WalletTransaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}

	repo := s.repo.WithTx(tx)
	if err := lockUserRow(ctx, tx, input.UserID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking wallet")
	}
	balance, err := repo.SumByUserAndTypes(ctx, input.UserID, spendableTypes)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reading wallet balance")
	}
	if balance.LessThan(input.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "wallet balance too low").
			WithDetails(map[string]any{
				"balance":  balance.StringFixed(2),
				"required": input.Amount.StringFixed(2),
			})
	}

	txn := &models.WalletTransaction{
		UserID:   input.UserID,
		Type:     enums.WalletTransactionTypeWalletDebit,
		Amount:   input.Amount.Neg(),
		Currency: input.Currency,
		Reason:   input.Reason,
		OrderID:  input.OrderID,
	}
	if err := repo.Create(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing wallet debit")
	}
	return txn, nil
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.WalletTransaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown transaction type")
	}

	txn := &models.WalletTransaction{
		UserID:          input.UserID,
		Type:            input.Type,
		Amount:          input.Amount,
		Currency:        input.Currency,
		Reason:          input.Reason,
		OrderID:         input.OrderID,
		RefundRequestID: input.RefundRequestID,
	}
	if err := s.repo.WithTx(tx).Create(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing wallet credit")
	}
	return txn, nil
}

func (s *service) RecordPayment(ctx context.Context, tx *gorm.DB, input PaymentRecordInput) (*models.WalletTransaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.ProcessorCaptureID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capture id required")
	}

	repo := s.repo.WithTx(tx)
	existing, err := repo.FindByCaptureID(ctx, input.ProcessorCaptureID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking capture ledger entry")
	}
	if existing != nil {
		return existing, nil
	}

	captureID := input.ProcessorCaptureID
	txn := &models.WalletTransaction{
		UserID:             input.UserID,
		Type:               enums.WalletTransactionTypePayment,
		Amount:             input.Amount,
		Currency:           input.Currency,
		Reason:             input.Reason,
		OrderID:            input.OrderID,
		ProcessorCaptureID: &captureID,
	}
	if err := repo.Create(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing payment ledger entry")
	}
	return txn, nil
}

func (s *service) RecordPayoutReversal(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, amount decimal.Decimal, currency enums.Currency, refundRequestID, orderID uuid.UUID) (*models.WalletTransaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reversal amount must be positive")
	}

	refundID := refundRequestID
	ordID := orderID
	txn := &models.WalletTransaction{
		UserID:          sellerID,
		Type:            enums.WalletTransactionTypePayoutReversal,
		Amount:          amount.Neg(),
		Currency:        currency,
		Reason:          "refund reversal of released payout",
		OrderID:         &ordID,
		RefundRequestID: &refundID,
	}
	if err := s.repo.WithTx(tx).Create(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing payout reversal")
	}
	return txn, nil
}

// lockUserRow serializes concurrent debits per user. No-op outside postgres.
func lockUserRow(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	if tx.Config == nil || tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.WithContext(ctx).Exec("SELECT id FROM users WHERE id = ? FOR UPDATE", userID).Error
}
