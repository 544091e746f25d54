package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/disburse/internal/batch/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, batch *domain.PaymentBatch) error {
	if batch == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_batches (
			id, batch_number, provider, status, payment_count, total_amount,
			fee_amount, currency, created_by, scheduled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID,
		batch.BatchNumber,
		batch.Provider,
		batch.Status,
		batch.PaymentCount,
		batch.TotalAmount,
		batch.FeeAmount,
		batch.Currency,
		batch.CreatedBy,
		batch.ScheduledAt,
		batch.CreatedAt,
		batch.UpdatedAt,
	).Error
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *domain.Transaction) error {
	if tx == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO disbursement_transactions (
			id, batch_id, affiliate_id, provider_tx_id, gross_amount, fee_amount,
			amount, currency, status, provider, retry_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.BatchID,
		tx.AffiliateID,
		tx.ProviderTxID,
		tx.GrossAmount,
		tx.FeeAmount,
		tx.Amount,
		tx.Currency,
		tx.Status,
		tx.Provider,
		tx.RetryCount,
		tx.CreatedAt,
		tx.UpdatedAt,
	).Error
}

func (r *repo) FindBatchByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentBatch, error) {
	var batch domain.PaymentBatch
	err := db.WithContext(ctx).Where("id = ?", id).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, err
	}
	return &batch, nil
}

func (r *repo) ListBatches(ctx context.Context, db *gorm.DB, status domain.BatchStatus, limit int) ([]*domain.PaymentBatch, error) {
	var batches []*domain.PaymentBatch
	stmt := db.WithContext(ctx).Model(&domain.PaymentBatch{})
	if strings.TrimSpace(string(status)) != "" {
		stmt = stmt.Where("status = ?", status)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Order("created_at desc, id desc").Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repo) ListTransactionsByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]*domain.Transaction, error) {
	var transactions []*domain.Transaction
	err := db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id asc").
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

func (r *repo) CountTransactionsByStatus(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]domain.StatusCount, error) {
	var counts []domain.StatusCount
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count
		 FROM disbursement_transactions
		 WHERE batch_id = ?
		 GROUP BY status`,
		batchID,
	).Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *repo) FindTransactionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := db.WithContext(ctx).Where("id = ?", id).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *repo) FindTransactionByProviderTxID(ctx context.Context, db *gorm.DB, providerTxID string) (*domain.Transaction, error) {
	providerTxID = strings.TrimSpace(providerTxID)
	if providerTxID == "" {
		return nil, domain.ErrTransactionNotFound
	}
	var tx domain.Transaction
	err := db.WithContext(ctx).Where("provider_tx_id = ?", providerTxID).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *repo) ListStaleProcessingTransactions(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]*domain.Transaction, error) {
	var transactions []*domain.Transaction
	stmt := db.WithContext(ctx).
		Where("status = ? AND provider_tx_id IS NOT NULL AND updated_at < ?", domain.TxProcessing, before).
		Order("updated_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

func (r *repo) UpdateBatchStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.BatchStatus, at time.Time, errorMessage *string) (bool, error) {
	query := `UPDATE payment_batches SET status = ?, updated_at = ?`
	args := []any{to, at}

	switch to {
	case domain.BatchProcessing:
		query += `, executed_at = ?`
		args = append(args, at)
	case domain.BatchCompleted:
		query += `, completed_at = ?`
		args = append(args, at)
	case domain.BatchFailed, domain.BatchCancelled:
		query += `, failed_at = ?`
		args = append(args, at)
	}
	if errorMessage != nil {
		query += `, error_message = ?`
		args = append(args, *errorMessage)
	}

	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	result := db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkTransactionProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, providerTxID string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE disbursement_transactions
		 SET status = ?, provider_tx_id = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.TxProcessing, providerTxID, at,
		id, domain.TxPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkTransactionCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE disbursement_transactions
		 SET status = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		domain.TxCompleted, at, at,
		id, []domain.TransactionStatus{domain.TxPending, domain.TxProcessing},
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkTransactionFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, errorMessage string) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE disbursement_transactions
		 SET status = ?, failed_at = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		domain.TxFailed, at, errorMessage, at,
		id, []domain.TransactionStatus{domain.TxPending, domain.TxProcessing},
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkTransactionCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE disbursement_transactions
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		domain.TxCancelled, at,
		id, []domain.TransactionStatus{domain.TxPending, domain.TxProcessing},
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) IncrementRetryCount(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE disbursement_transactions
		 SET retry_count = retry_count + 1, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(), id,
	).Error
}

func (r *repo) Statistics(ctx context.Context, db *gorm.DB) (domain.Statistics, error) {
	stats := domain.Statistics{
		BatchesByStatus: map[string]int{},
		TotalDisbursed:  decimal.Zero,
		TotalFees:       decimal.Zero,
	}

	var batchCounts []struct {
		Status string `gorm:"column:status"`
		Count  int64  `gorm:"column:count"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count FROM payment_batches GROUP BY status`,
	).Scan(&batchCounts).Error
	if err != nil {
		return domain.Statistics{}, err
	}
	for _, row := range batchCounts {
		stats.BatchesByStatus[row.Status] = int(row.Count)
		stats.TotalBatches += row.Count
	}

	var txTotals struct {
		Count int64           `gorm:"column:count"`
		Net   decimal.Decimal `gorm:"column:net"`
		Fees  decimal.Decimal `gorm:"column:fees"`
	}
	err = db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS count,
		        COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS net,
		        COALESCE(SUM(CASE WHEN status = ? THEN fee_amount ELSE 0 END), 0) AS fees
		 FROM disbursement_transactions`,
		domain.TxCompleted, domain.TxCompleted,
	).Scan(&txTotals).Error
	if err != nil {
		return domain.Statistics{}, err
	}
	stats.TotalTransactions = txTotals.Count
	stats.TotalDisbursed = txTotals.Net
	stats.TotalFees = txTotals.Fees

	return stats, nil
}
