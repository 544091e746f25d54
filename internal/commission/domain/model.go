package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

// Ineligibility reason codes attached to aggregates and previews.
const (
	ReasonReady          = "ready"
	ReasonBelowThreshold = "below_threshold"
	ReasonNoRiseAccount  = "no_rise_account"
	ReasonKYCPending     = "kyc_pending"
)

// Commission is a single affiliate earning from one sale.
type Commission struct {
	ID                snowflake.ID    `gorm:"column:id;primaryKey" json:"id"`
	AffiliateID       snowflake.ID    `gorm:"column:affiliate_id" json:"affiliate_id"`
	CodeID            snowflake.ID    `gorm:"column:code_id" json:"code_id"`
	GrossRevenue      decimal.Decimal `gorm:"column:gross_revenue" json:"gross_revenue"`
	DiscountAmount    decimal.Decimal `gorm:"column:discount_amount" json:"discount_amount"`
	NetRevenue        decimal.Decimal `gorm:"column:net_revenue" json:"net_revenue"`
	CommissionAmount  decimal.Decimal `gorm:"column:commission_amount" json:"commission_amount"`
	CommissionPercent decimal.Decimal `gorm:"column:commission_percent" json:"commission_percent"`
	Status            Status          `gorm:"column:status" json:"status"`
	TransactionID     *snowflake.ID   `gorm:"column:disbursement_transaction_id" json:"disbursement_transaction_id,omitempty"`
	EarnedAt          time.Time       `gorm:"column:earned_at" json:"earned_at"`
	ApprovedAt        *time.Time      `gorm:"column:approved_at" json:"approved_at,omitempty"`
	PaidAt            *time.Time      `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt         time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (Commission) TableName() string {
	return "commissions"
}

// Aggregate groups an affiliate's payable commissions into one payout candidate.
type Aggregate struct {
	AffiliateID     snowflake.ID    `json:"affiliate_id"`
	CommissionIDs   []snowflake.ID  `json:"commission_ids"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CommissionCount int             `json:"commission_count"`
	CanPayout       bool            `json:"can_payout"`
	Reason          string          `json:"reason,omitempty"`
}

type Repository interface {
	// ListPayable returns APPROVED commissions with no linked transaction,
	// optionally restricted to the given affiliates, ordered by affiliate.
	ListPayable(ctx context.Context, db *gorm.DB, affiliateIDs []snowflake.ID) ([]*Commission, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Commission, error)
	// Approve moves a PENDING commission to APPROVED. Returns false when the
	// commission was not in PENDING.
	Approve(ctx context.Context, db *gorm.DB, id snowflake.ID, approvedAt time.Time) (bool, error)
	// LinkToTransaction stamps the transaction id on unlinked APPROVED
	// commissions. Returns the number of rows linked.
	LinkToTransaction(ctx context.Context, db *gorm.DB, ids []snowflake.ID, transactionID snowflake.ID) (int64, error)
	// MarkPaidByTransaction moves all commissions linked to the transaction to
	// PAID.
	MarkPaidByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID, paidAt time.Time) (int64, error)
	// ReleaseByTransaction unlinks commissions from a failed transaction so
	// they become payout candidates again.
	ReleaseByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (int64, error)
}
