package mock

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/disburse/internal/provider/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderMock
}

func (f *Factory) NewProvider(cfg domain.AdapterConfig) (domain.SettlementProvider, error) {
	_ = cfg
	return &Provider{}, nil
}

// Provider deterministically succeeds. Used outside production and in tests.
type Provider struct{}

func (p *Provider) Name() string {
	return domain.ProviderMock
}

func (p *Provider) Initiate(ctx context.Context, req domain.InitiateRequest) (domain.InitiateResult, error) {
	_ = ctx
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return domain.InitiateResult{}, domain.ErrPayoutRejected
	}
	return domain.InitiateResult{
		ProviderTxID: fmt.Sprintf("mock_tx_%s", req.TransactionID.String()),
		Status:       domain.PayoutStatusProcessing,
	}, nil
}

func (p *Provider) QueryStatus(ctx context.Context, providerTxID string) (string, error) {
	_ = ctx
	if strings.TrimSpace(providerTxID) == "" {
		return "", domain.ErrPayoutRejected
	}
	return domain.PayoutStatusCompleted, nil
}

func (p *Provider) SyncAccount(ctx context.Context, affiliateID snowflake.ID, email string) (domain.AccountState, error) {
	_ = ctx
	_ = email
	return domain.AccountState{
		ProviderAccountID: fmt.Sprintf("mock_acct_%s", affiliateID.String()),
		KYCStatus:         "APPROVED",
	}, nil
}
