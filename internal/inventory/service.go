package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

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

// Service assigns and invalidates license keys.
type Service interface {
	// Assign claims and binds qty keys to an order line inside the caller's
	// transaction. Returns every claimed key.
	Assign(ctx context.Context, tx *gorm.DB, productID, orderLineID uuid.UUID, qty int) ([]models.LicenseKey, error)
	// Invalidate marks refunded keys unusable inside the caller's transaction.
	Invalidate(ctx context.Context, tx *gorm.DB, keyIDs []uuid.UUID) error
	// CheckLowStock runs post-commit and queues a warning when the product's
	// available pool fell below the threshold.
	CheckLowStock(ctx context.Context, productID, sellerID uuid.UUID) error
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outboxEmitter
	logg      *logger.Logger
	threshold int
}

// NewService builds an inventory service.
func NewService(repo Repository, tx txRunner, emitter outboxEmitter, logg *logger.Logger, lowStockThreshold int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
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
		repo:      repo,
		tx:        tx,
		outbox:    emitter,
		logg:      logg,
		threshold: lowStockThreshold,
	}, nil
}

func (s *service) Assign(ctx context.Context, tx *gorm.DB, productID, orderLineID uuid.UUID, qty int) ([]models.LicenseKey, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	repo := s.repo.WithTx(tx)
	keys, err := repo.ClaimAvailable(ctx, productID, qty)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claiming license keys")
	}
	if len(keys) < qty {
		return nil, pkgerrors.New(pkgerrors.CodeOutOfStock, "not enough license keys available").
			WithDetails(map[string]any{
				"product_id": productID.String(),
				"requested":  qty,
				"available":  len(keys),
			})
	}

	keyIDs := make([]uuid.UUID, len(keys))
	for i, key := range keys {
		keyIDs[i] = key.ID
	}
	if err := repo.AssignToLine(ctx, keyIDs, orderLineID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "assigning license keys")
	}
	for i := range keys {
		keys[i].Status = enums.LicenseKeyStatusAssigned
		lineID := orderLineID
		keys[i].OrderLineID = &lineID
	}
	return keys, nil
}

func (s *service) Invalidate(ctx context.Context, tx *gorm.DB, keyIDs []uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if len(keyIDs) == 0 {
		return nil
	}
	updated, err := s.repo.WithTx(tx).MarkRefunded(ctx, keyIDs)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "invalidating license keys")
	}
	if updated != int64(len(keyIDs)) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "some keys are not in an assigned state").
			WithDetails(map[string]any{"requested": len(keyIDs), "updated": updated})
	}
	return nil
}

func (s *service) CheckLowStock(ctx context.Context, productID, sellerID uuid.UUID) error {
	available, err := s.repo.CountAvailable(ctx, productID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "counting available keys")
	}
	if available >= int64(s.threshold) {
		return nil
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInventoryLowStock,
			AggregateType: enums.AggregateProduct,
			AggregateID:   productID,
			Version:       1,
			Data: payloads.InventoryLowStockEvent{
				ProductID: productID,
				SellerID:  sellerID,
				Available: int(available),
				Threshold: s.threshold,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing low stock event")
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"product_id": productID.String(),
		"available":  available,
		"threshold":  s.threshold,
	})
	s.logg.Warn(logCtx, "product key pool below threshold")
	return nil
}
