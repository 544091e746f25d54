package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/disburse/internal/riseaccount/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	if account == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO affiliate_rise_accounts (
			id, affiliate_id, provider_account_id, email, kyc_status,
			last_sync_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.AffiliateID,
		account.ProviderAccountID,
		account.Email,
		account.KYCStatus,
		account.LastSyncAt,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindByAffiliate(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).
		Where("affiliate_id = ?", affiliateID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *repo) FindByAffiliates(ctx context.Context, db *gorm.DB, affiliateIDs []snowflake.ID) (map[snowflake.ID]*domain.Account, error) {
	result := make(map[snowflake.ID]*domain.Account, len(affiliateIDs))
	if len(affiliateIDs) == 0 {
		return result, nil
	}

	var accounts []*domain.Account
	err := db.WithContext(ctx).
		Where("affiliate_id IN ?", affiliateIDs).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	for _, account := range accounts {
		if account == nil {
			continue
		}
		result[account.AffiliateID] = account
	}
	return result, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]*domain.Account, error) {
	var accounts []*domain.Account
	if err := db.WithContext(ctx).Order("id asc").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repo) UpdateSync(ctx context.Context, db *gorm.DB, id snowflake.ID, kycStatus domain.KYCStatus, providerAccountID *string, syncedAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE affiliate_rise_accounts
		 SET kyc_status = ?, provider_account_id = COALESCE(?, provider_account_id),
		     last_sync_at = ?, updated_at = ?
		 WHERE id = ?`,
		kycStatus, providerAccountID,
		syncedAt, syncedAt,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
