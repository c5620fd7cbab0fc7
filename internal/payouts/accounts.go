package payouts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keymartlabs/keymart-backend/pkg/db/models"
)

// AccountRepository manages seller disbursement destinations.
type AccountRepository interface {
	FindBySellerID(ctx context.Context, sellerID uuid.UUID) (*models.SellerPayoutAccount, error)
	Upsert(ctx context.Context, account *models.SellerPayoutAccount) error
	SetBlocked(ctx context.Context, sellerID uuid.UUID, blocked bool) error
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository builds a payout account repository.
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) FindBySellerID(ctx context.Context, sellerID uuid.UUID) (*models.SellerPayoutAccount, error) {
	var account models.SellerPayoutAccount
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) Upsert(ctx context.Context, account *models.SellerPayoutAccount) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "seller_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"paypal_email", "verified", "blocked", "updated_at"}),
		}).
		Create(account).Error
}

func (r *accountRepository) SetBlocked(ctx context.Context, sellerID uuid.UUID, blocked bool) error {
	return r.db.WithContext(ctx).
		Model(&models.SellerPayoutAccount{}).
		Where("seller_id = ?", sellerID).
		Update("blocked", blocked).Error
}
