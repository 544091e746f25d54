package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/disburse/internal/commission/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListPayable(ctx context.Context, db *gorm.DB, affiliateIDs []snowflake.ID) ([]*domain.Commission, error) {
	var commissions []*domain.Commission
	stmt := db.WithContext(ctx).Model(&domain.Commission{}).
		Where("status = ?", domain.StatusApproved).
		Where("disbursement_transaction_id IS NULL")

	if len(affiliateIDs) > 0 {
		stmt = stmt.Where("affiliate_id IN ?", affiliateIDs)
	}

	if err := stmt.Order("affiliate_id asc, id asc").Find(&commissions).Error; err != nil {
		return nil, err
	}
	return commissions, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Commission, error) {
	var commission domain.Commission
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&commission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCommissionNotFound
		}
		return nil, err
	}
	return &commission, nil
}

func (r *repo) Approve(ctx context.Context, db *gorm.DB, id snowflake.ID, approvedAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET status = ?, approved_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusApproved, approvedAt, approvedAt,
		id, domain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) LinkToTransaction(ctx context.Context, db *gorm.DB, ids []snowflake.ID, transactionID snowflake.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	// The status and NULL guards make re-linking a no-op under concurrent
	// batch creation.
	result := db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET disbursement_transaction_id = ?, updated_at = ?
		 WHERE id IN ? AND status = ? AND disbursement_transaction_id IS NULL`,
		transactionID, time.Now().UTC(),
		ids, domain.StatusApproved,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) MarkPaidByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID, paidAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET status = ?, paid_at = ?, updated_at = ?
		 WHERE disbursement_transaction_id = ? AND status = ?`,
		domain.StatusPaid, paidAt, paidAt,
		transactionID, domain.StatusApproved,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ReleaseByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET disbursement_transaction_id = NULL, updated_at = ?
		 WHERE disbursement_transaction_id = ? AND status = ?`,
		time.Now().UTC(),
		transactionID, domain.StatusApproved,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
