package domain

import (
	"context"
	"errors"
	"net"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const (
	ProviderMock = "MOCK"
	ProviderRise = "RISE"
)

// Provider-reported payout states.
const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
)

// InitiateRequest submits one payout to the settlement rail.
type InitiateRequest struct {
	TransactionID     snowflake.ID
	BatchNumber       string
	AffiliateID       snowflake.ID
	ProviderAccountID string
	Email             string
	Amount            decimal.Decimal
	Currency          string
}

// InitiateResult is the provider's acknowledgement of a payout submission.
type InitiateResult struct {
	ProviderTxID string
	Status       string
}

// AccountState is the provider-reported view of an affiliate account.
type AccountState struct {
	ProviderAccountID string
	KYCStatus         string
}

// SettlementProvider is the capability surface the processor depends on.
type SettlementProvider interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	QueryStatus(ctx context.Context, providerTxID string) (string, error)
	SyncAccount(ctx context.Context, affiliateID snowflake.ID, email string) (AccountState, error)
}

// Factory builds a provider from runtime configuration.
type Factory interface {
	Provider() string
	NewProvider(cfg AdapterConfig) (SettlementProvider, error)
}

// AdapterConfig carries provider credentials and tuning.
type AdapterConfig struct {
	BaseURL   string
	APIKey    string
	TimeoutMS int
	Enabled   bool
}

var (
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
	// ErrProviderUnavailable marks transient failures (network, 5xx) that are
	// eligible for retry.
	ErrProviderUnavailable = errors.New("provider_unavailable")
	// ErrPayoutRejected marks a definitive provider rejection. Never retried.
	ErrPayoutRejected = errors.New("payout_rejected")
)

// IsTransient reports whether the provider error may succeed on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPayoutRejected) {
		return false
	}
	if errors.Is(err, ErrProviderUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
