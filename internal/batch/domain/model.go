package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type BatchStatus string

const (
	BatchPending    BatchStatus = "PENDING"
	BatchQueued     BatchStatus = "QUEUED"
	BatchProcessing BatchStatus = "PROCESSING"
	BatchCompleted  BatchStatus = "COMPLETED"
	BatchFailed     BatchStatus = "FAILED"
	BatchCancelled  BatchStatus = "CANCELLED"
)

type TransactionStatus string

const (
	TxPending    TransactionStatus = "PENDING"
	TxProcessing TransactionStatus = "PROCESSING"
	TxCompleted  TransactionStatus = "COMPLETED"
	TxFailed     TransactionStatus = "FAILED"
	TxCancelled  TransactionStatus = "CANCELLED"
)

// Terminal reports whether the batch status admits no further transitions.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchCancelled:
		return true
	default:
		return false
	}
}

// ValidStatus reports whether the value is one of the known batch statuses.
func ValidStatus(s BatchStatus) bool {
	switch s {
	case BatchPending, BatchQueued, BatchProcessing,
		BatchCompleted, BatchFailed, BatchCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the transaction status admits no further transitions.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TxCompleted, TxFailed, TxCancelled:
		return true
	default:
		return false
	}
}

// PaymentBatch is one unit of scheduled settlement work.
type PaymentBatch struct {
	ID           snowflake.ID    `gorm:"column:id;primaryKey" json:"id"`
	BatchNumber  string          `gorm:"column:batch_number" json:"batch_number"`
	Provider     string          `gorm:"column:provider" json:"provider"`
	Status       BatchStatus     `gorm:"column:status" json:"status"`
	PaymentCount int             `gorm:"column:payment_count" json:"payment_count"`
	TotalAmount  decimal.Decimal `gorm:"column:total_amount" json:"total_amount"`
	FeeAmount    decimal.Decimal `gorm:"column:fee_amount" json:"fee_amount"`
	Currency     string          `gorm:"column:currency" json:"currency"`
	CreatedBy    *snowflake.ID   `gorm:"column:created_by" json:"created_by,omitempty"`
	ScheduledAt  *time.Time      `gorm:"column:scheduled_at" json:"scheduled_at,omitempty"`
	ExecutedAt   *time.Time      `gorm:"column:executed_at" json:"executed_at,omitempty"`
	CompletedAt  *time.Time      `gorm:"column:completed_at" json:"completed_at,omitempty"`
	FailedAt     *time.Time      `gorm:"column:failed_at" json:"failed_at,omitempty"`
	ErrorMessage *string         `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (PaymentBatch) TableName() string {
	return "payment_batches"
}

// Transaction is one affiliate's payout within a batch.
type Transaction struct {
	ID           snowflake.ID      `gorm:"column:id;primaryKey" json:"id"`
	BatchID      snowflake.ID      `gorm:"column:batch_id" json:"batch_id"`
	AffiliateID  snowflake.ID      `gorm:"column:affiliate_id" json:"affiliate_id"`
	ProviderTxID *string           `gorm:"column:provider_tx_id" json:"provider_tx_id,omitempty"`
	GrossAmount  decimal.Decimal   `gorm:"column:gross_amount" json:"gross_amount"`
	FeeAmount    decimal.Decimal   `gorm:"column:fee_amount" json:"fee_amount"`
	Amount       decimal.Decimal   `gorm:"column:amount" json:"amount"`
	Currency     string            `gorm:"column:currency" json:"currency"`
	Status       TransactionStatus `gorm:"column:status" json:"status"`
	Provider     string            `gorm:"column:provider" json:"provider"`
	RetryCount   int               `gorm:"column:retry_count" json:"retry_count"`
	ErrorMessage *string           `gorm:"column:error_message" json:"error_message,omitempty"`
	CompletedAt  *time.Time        `gorm:"column:completed_at" json:"completed_at,omitempty"`
	FailedAt     *time.Time        `gorm:"column:failed_at" json:"failed_at,omitempty"`
	CreatedAt    time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "disbursement_transactions"
}

// StatusCount is a per-status transaction tally for one batch.
type StatusCount struct {
	Status TransactionStatus `gorm:"column:status" json:"status"`
	Count  int64             `gorm:"column:count" json:"count"`
}

// Statistics summarizes batches across the whole table.
type Statistics struct {
	TotalBatches      int64           `json:"total_batches"`
	BatchesByStatus   map[string]int  `json:"batches_by_status"`
	TotalTransactions int64           `json:"total_transactions"`
	TotalDisbursed    decimal.Decimal `json:"total_disbursed"`
	TotalFees         decimal.Decimal `json:"total_fees"`
}

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, batch *PaymentBatch) error
	InsertTransaction(ctx context.Context, db *gorm.DB, tx *Transaction) error
	FindBatchByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentBatch, error)
	ListBatches(ctx context.Context, db *gorm.DB, status BatchStatus, limit int) ([]*PaymentBatch, error)
	ListTransactionsByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]*Transaction, error)
	CountTransactionsByStatus(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]StatusCount, error)
	FindTransactionByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindTransactionByProviderTxID(ctx context.Context, db *gorm.DB, providerTxID string) (*Transaction, error)
	// ListStaleProcessingTransactions returns submitted transactions that have
	// sat in PROCESSING since before the cutoff, oldest first.
	ListStaleProcessingTransactions(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]*Transaction, error)

	// Guarded transitions. Each returns false when the row was not in the
	// expected source state, so lost races surface as no-ops.
	UpdateBatchStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to BatchStatus, at time.Time, errorMessage *string) (bool, error)
	MarkTransactionProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, providerTxID string, at time.Time) (bool, error)
	MarkTransactionCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	MarkTransactionFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, errorMessage string) (bool, error)
	MarkTransactionCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	IncrementRetryCount(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	Statistics(ctx context.Context, db *gorm.DB) (Statistics, error)
}
