package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PreviewItem is one affiliate's row in a payout preview.
type PreviewItem struct {
	AffiliateID     string          `json:"affiliate_id"`
	CommissionCount int             `json:"commission_count"`
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	Eligible        bool            `json:"eligible"`
	Reason          string          `json:"reason"`
}

type PreviewRequest struct {
	AffiliateIDs []snowflake.ID
	FeePercent   *decimal.Decimal
}

type PreviewResponse struct {
	Items           []PreviewItem   `json:"items"`
	EligibleCount   int             `json:"eligible_count"`
	IneligibleCount int             `json:"ineligible_count"`
	TotalGross      decimal.Decimal `json:"total_gross_amount"`
	TotalFee        decimal.Decimal `json:"total_fee_amount"`
	TotalNet        decimal.Decimal `json:"total_net_amount"`
}

type CreateBatchRequest struct {
	AffiliateIDs []snowflake.ID
	Provider     string
	CreatedBy    *snowflake.ID
}

// BatchDetail is a batch with its transactions and per-status counts.
type BatchDetail struct {
	Batch        PaymentBatch   `json:"batch"`
	Transactions []*Transaction `json:"transactions"`
	StatusCounts map[string]int `json:"status_counts"`
}

// BatchSummary is a batch with per-status transaction counts only.
type BatchSummary struct {
	Batch        PaymentBatch   `json:"batch"`
	StatusCounts map[string]int `json:"status_counts"`
}

type Service interface {
	// Preview computes per-affiliate eligibility and amounts without writing
	// anything.
	Preview(ctx context.Context, req PreviewRequest) (PreviewResponse, error)
	// CreateBatch atomically creates the batch, its transactions, and the
	// commission links.
	CreateBatch(ctx context.Context, req CreateBatchRequest) (*BatchDetail, error)
	GetBatch(ctx context.Context, id snowflake.ID) (*BatchDetail, error)
	ListBatches(ctx context.Context, status BatchStatus, limit int) ([]BatchSummary, error)
	Statistics(ctx context.Context) (Statistics, error)
	// CancelBatch cancels a pre-terminal batch, cancels its non-terminal
	// transactions, and releases their commissions.
	CancelBatch(ctx context.Context, id snowflake.ID) (*PaymentBatch, error)
	// RollupBatch recomputes batch status from its transactions. It only
	// declares a terminal outcome once every transaction is terminal.
	RollupBatch(ctx context.Context, id snowflake.ID) (BatchStatus, error)
}

var (
	ErrBatchNotFound       = errors.New("batch_not_found")
	ErrTransactionNotFound = errors.New("transaction_not_found")
	ErrNoPayableAffiliates = errors.New("no_payable_affiliates")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrProviderUnavailable = errors.New("provider_not_available")
	ErrInvalidStatus       = errors.New("invalid_batch_status")
	ErrBatchNotCancellable = errors.New("batch_not_cancellable")
	ErrCommissionConflict  = errors.New("commission_already_linked")
)
