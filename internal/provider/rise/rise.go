package rise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/disburse/internal/provider/domain"
)

const defaultTimeout = 15 * time.Second

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderRise
}

func (f *Factory) NewProvider(cfg domain.AdapterConfig) (domain.SettlementProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	apiKey := strings.TrimSpace(cfg.APIKey)
	if baseURL == "" || apiKey == "" {
		return nil, domain.ErrInvalidConfig
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, domain.ErrInvalidConfig
	}

	timeout := defaultTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}

	return &Provider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Provider talks to the Rise payout API over HTTPS.
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (p *Provider) Name() string {
	return domain.ProviderRise
}

type payoutRequest struct {
	ReferenceID string `json:"reference_id"`
	AccountID   string `json:"account_id,omitempty"`
	Email       string `json:"email,omitempty"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	BatchRef    string `json:"batch_ref,omitempty"`
}

type payoutResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type accountResponse struct {
	ID        string `json:"id"`
	KYCStatus string `json:"kyc_status"`
	Error     string `json:"error,omitempty"`
}

func (p *Provider) Initiate(ctx context.Context, req domain.InitiateRequest) (domain.InitiateResult, error) {
	body := payoutRequest{
		ReferenceID: req.TransactionID.String(),
		AccountID:   strings.TrimSpace(req.ProviderAccountID),
		Email:       strings.TrimSpace(req.Email),
		Amount:      req.Amount.StringFixed(2),
		Currency:    normalizeCurrency(req.Currency),
		BatchRef:    strings.TrimSpace(req.BatchNumber),
	}

	var out payoutResponse
	if err := p.do(ctx, http.MethodPost, "/v1/payouts", body, &out); err != nil {
		return domain.InitiateResult{}, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return domain.InitiateResult{}, fmt.Errorf("%w: missing payout id", domain.ErrPayoutRejected)
	}

	status := strings.ToLower(strings.TrimSpace(out.Status))
	if status == "" {
		status = domain.PayoutStatusProcessing
	}
	return domain.InitiateResult{
		ProviderTxID: out.ID,
		Status:       status,
	}, nil
}

func (p *Provider) QueryStatus(ctx context.Context, providerTxID string) (string, error) {
	providerTxID = strings.TrimSpace(providerTxID)
	if providerTxID == "" {
		return "", fmt.Errorf("%w: empty provider tx id", domain.ErrPayoutRejected)
	}

	var out payoutResponse
	if err := p.do(ctx, http.MethodGet, "/v1/payouts/"+url.PathEscape(providerTxID), nil, &out); err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(out.Status)), nil
}

func (p *Provider) SyncAccount(ctx context.Context, affiliateID snowflake.ID, email string) (domain.AccountState, error) {
	query := url.Values{}
	query.Set("external_ref", affiliateID.String())
	if email = strings.TrimSpace(email); email != "" {
		query.Set("email", email)
	}

	var out accountResponse
	if err := p.do(ctx, http.MethodGet, "/v1/accounts?"+query.Encode(), nil, &out); err != nil {
		return domain.AccountState{}, err
	}
	return domain.AccountState{
		ProviderAccountID: strings.TrimSpace(out.ID),
		KYCStatus:         strings.ToUpper(strings.TrimSpace(out.KYCStatus)),
	}, nil
}

func (p *Provider) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: rise returned %d", domain.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: rise rate limited", domain.ErrProviderUnavailable)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: rise returned %d: %s", domain.ErrPayoutRejected, resp.StatusCode, errorMessage(payload))
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%w: malformed response: %v", domain.ErrProviderUnavailable, err)
		}
	}
	return nil
}

func errorMessage(payload []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && strings.TrimSpace(body.Error) != "" {
		return strings.TrimSpace(body.Error)
	}
	message := strings.TrimSpace(string(payload))
	if len(message) > 200 {
		message = message[:200]
	}
	return message
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "USDC"
	}
	return currency
}
