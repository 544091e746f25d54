package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type KYCStatus string

const (
	KYCPending   KYCStatus = "PENDING"
	KYCSubmitted KYCStatus = "SUBMITTED"
	KYCApproved  KYCStatus = "APPROVED"
	KYCRejected  KYCStatus = "REJECTED"
	KYCExpired   KYCStatus = "EXPIRED"
)

// Account binds an affiliate to their settlement-provider account.
type Account struct {
	ID                snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	AffiliateID       snowflake.ID `gorm:"column:affiliate_id" json:"affiliate_id"`
	ProviderAccountID *string      `gorm:"column:provider_account_id" json:"provider_account_id,omitempty"`
	Email             string       `gorm:"column:email" json:"email"`
	KYCStatus         KYCStatus    `gorm:"column:kyc_status" json:"kyc_status"`
	LastSyncAt        *time.Time   `gorm:"column:last_sync_at" json:"last_sync_at,omitempty"`
	CreatedAt         time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Account) TableName() string {
	return "affiliate_rise_accounts"
}

// Payable reports whether the account can receive payouts.
func (a *Account) Payable() bool {
	return a != nil && a.KYCStatus == KYCApproved
}

func ValidKYCStatus(status KYCStatus) bool {
	switch status {
	case KYCPending, KYCSubmitted, KYCApproved, KYCRejected, KYCExpired:
		return true
	default:
		return false
	}
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByAffiliate(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID) (*Account, error)
	FindByAffiliates(ctx context.Context, db *gorm.DB, affiliateIDs []snowflake.ID) (map[snowflake.ID]*Account, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]*Account, error)
	// UpdateSync stamps kyc status, provider account id, and last sync time.
	// Returns false when nothing changed.
	UpdateSync(ctx context.Context, db *gorm.DB, id snowflake.ID, kycStatus KYCStatus, providerAccountID *string, syncedAt time.Time) (bool, error)
}

type Service interface {
	// Link creates the account binding for an affiliate. Linking twice is an
	// error; the sync cycle owns subsequent updates.
	Link(ctx context.Context, affiliateID snowflake.ID, email string) (*Account, error)
	Get(ctx context.Context, affiliateID snowflake.ID) (*Account, error)
	// ForAffiliates bulk-loads account bindings for eligibility checks.
	ForAffiliates(ctx context.Context, affiliateIDs []snowflake.ID) (map[snowflake.ID]*Account, error)
	ListAll(ctx context.Context) ([]*Account, error)
	// ApplySync writes the provider-reported state. Returns true when the
	// stored account changed.
	ApplySync(ctx context.Context, account *Account, kycStatus KYCStatus, providerAccountID *string) (bool, error)
}

var (
	ErrAccountNotFound      = errors.New("rise_account_not_found")
	ErrAccountAlreadyLinked = errors.New("rise_account_already_linked")
	ErrInvalidEmail         = errors.New("invalid_email")
	ErrInvalidKYCStatus     = errors.New("invalid_kyc_status")
)
