package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/disburse/internal/audit/domain"
	batchdomain "github.com/smallbiznis/disburse/internal/batch/domain"
	"github.com/smallbiznis/disburse/internal/clock"
	commissiondomain "github.com/smallbiznis/disburse/internal/commission/domain"
	"github.com/smallbiznis/disburse/internal/config"
	"github.com/smallbiznis/disburse/internal/observability/metrics"
	providerdomain "github.com/smallbiznis/disburse/internal/provider/domain"
	risedomain "github.com/smallbiznis/disburse/internal/riseaccount/domain"
	"github.com/smallbiznis/disburse/internal/secrets"
	"github.com/smallbiznis/disburse/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Repo        domain.Repository
	Batches     batchdomain.Repository
	Commissions commissiondomain.Repository
	Accounts    risedomain.Repository
	Audit       auditdomain.Service
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	secret      string
	repo        domain.Repository
	batches     batchdomain.Repository
	commissions commissiondomain.Repository
	accounts    risedomain.Repository
	audit       auditdomain.Service
	metrics     *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("webhook.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		secret:      p.Config.RiseWebhookSecret,
		repo:        p.Repo,
		batches:     p.Batches,
		commissions: p.Commissions,
		accounts:    p.Accounts,
		audit:       p.Audit,
		metrics:     p.Metrics,
	}
}

type risePayload struct {
	ID           string `json:"id"`
	Event        string `json:"event"`
	ProviderTxID string `json:"providerTxId"`
	ErrorMessage string `json:"error"`
	AffiliateID  string `json:"affiliateId"`
	AccountID    string `json:"accountId"`
	KYCStatus    string `json:"kycStatus"`
	Email        string `json:"email"`
}

func (s *Service) HandleRise(ctx context.Context, rawBody []byte, signature string) (domain.Result, error) {
	if strings.TrimSpace(s.secret) == "" {
		return domain.Result{}, domain.ErrSecretNotSet
	}
	if strings.TrimSpace(signature) == "" {
		return domain.Result{}, domain.ErrMissingSignature
	}
	if !secrets.VerifySignature(rawBody, signature, s.secret) {
		return domain.Result{}, domain.ErrInvalidSignature
	}

	var payload risePayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return domain.Result{}, domain.ErrInvalidJSON
	}

	eventType := strings.TrimSpace(payload.Event)
	eventID := strings.TrimSpace(payload.ID)
	if eventID == "" {
		// Providers occasionally omit the event id; derive a stable one from
		// the body so redelivery still dedupes.
		digest := sha256.Sum256(rawBody)
		eventID = hex.EncodeToString(digest[:])
	}

	event := &domain.Event{
		ID:              s.genID.Generate(),
		Provider:        providerdomain.ProviderRise,
		ProviderEventID: eventID,
		EventType:       eventType,
		Payload:         datatypes.JSON(rawBody),
		CreatedAt:       s.clock.Now(),
	}
	inserted, err := s.repo.Insert(ctx, s.db, event)
	if err != nil {
		return domain.Result{}, err
	}
	if !inserted {
		s.log.Debug("duplicate webhook event acknowledged",
			zap.String("provider_event_id", eventID),
			zap.String("event_type", eventType),
		)
		return domain.Result{EventID: eventID, EventType: eventType, Duplicate: true}, nil
	}

	s.metrics.RecordWebhookEvent(ctx, providerdomain.ProviderRise, eventType)

	result := domain.Result{EventID: eventID, EventType: eventType}
	var transactionID *snowflake.ID
	outcome := auditdomain.StatusSuccess
	var processingErr error

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch eventType {
		case domain.EventPaymentCompleted:
			txID, err := s.applyPaymentCompleted(ctx, tx, payload)
			transactionID = txID
			return err
		case domain.EventPaymentFailed:
			txID, err := s.applyPaymentFailed(ctx, tx, payload)
			transactionID = txID
			return err
		case domain.EventAccountUpdated:
			return s.applyAccountUpdated(ctx, tx, payload)
		default:
			outcome = auditdomain.StatusWarning
			return nil
		}
	})
	if err != nil {
		processingErr = err
		outcome = auditdomain.StatusFailure
	} else if outcome == auditdomain.StatusSuccess {
		result.Handled = true
	}

	now := s.clock.Now()
	var errText *string
	if processingErr != nil {
		msg := processingErr.Error()
		errText = &msg
		s.log.Warn("webhook processing failed",
			zap.String("provider_event_id", eventID),
			zap.String("event_type", eventType),
			zap.Error(processingErr),
		)
	}
	if err := s.repo.MarkProcessed(ctx, s.db, event.ID, transactionID, errText, now); err != nil {
		s.log.Warn("failed to mark webhook event processed", zap.Error(err))
	}

	s.auditEvent(ctx, eventID, eventType, outcome, transactionID, processingErr)
	return result, nil
}

func (s *Service) applyPaymentCompleted(ctx context.Context, tx *gorm.DB, payload risePayload) (*snowflake.ID, error) {
	transaction, err := s.batches.FindTransactionByProviderTxID(ctx, tx, payload.ProviderTxID)
	if err != nil {
		return nil, fmt.Errorf("payment.completed: %w", err)
	}

	now := s.clock.Now()
	updated, err := s.batches.MarkTransactionCompleted(ctx, tx, transaction.ID, now)
	if err != nil {
		return &transaction.ID, err
	}
	if !updated {
		// Already terminal; treat the replayed outcome as a safe no-op.
		return &transaction.ID, nil
	}

	if _, err := s.commissions.MarkPaidByTransaction(ctx, tx, transaction.ID, now); err != nil {
		return &transaction.ID, err
	}
	s.metrics.RecordTransactionSettled(ctx, transaction.Provider, string(batchdomain.TxCompleted))
	return &transaction.ID, s.rollupBatch(ctx, tx, transaction.BatchID)
}

func (s *Service) applyPaymentFailed(ctx context.Context, tx *gorm.DB, payload risePayload) (*snowflake.ID, error) {
	transaction, err := s.batches.FindTransactionByProviderTxID(ctx, tx, payload.ProviderTxID)
	if err != nil {
		return nil, fmt.Errorf("payment.failed: %w", err)
	}

	message := strings.TrimSpace(payload.ErrorMessage)
	if message == "" {
		message = "provider reported failure"
	}

	now := s.clock.Now()
	updated, err := s.batches.MarkTransactionFailed(ctx, tx, transaction.ID, now, message)
	if err != nil {
		return &transaction.ID, err
	}
	if !updated {
		return &transaction.ID, nil
	}

	// Failed payouts release their commissions back into the payable pool.
	if _, err := s.commissions.ReleaseByTransaction(ctx, tx, transaction.ID); err != nil {
		return &transaction.ID, err
	}
	s.metrics.RecordTransactionSettled(ctx, transaction.Provider, string(batchdomain.TxFailed))
	return &transaction.ID, s.rollupBatch(ctx, tx, transaction.BatchID)
}

func (s *Service) applyAccountUpdated(ctx context.Context, tx *gorm.DB, payload risePayload) error {
	affiliateID, err := snowflake.ParseString(strings.TrimSpace(payload.AffiliateID))
	if err != nil || affiliateID == 0 {
		return fmt.Errorf("account.updated: invalid affiliate id %q", payload.AffiliateID)
	}

	account, err := s.accounts.FindByAffiliate(ctx, tx, affiliateID)
	if err != nil {
		return fmt.Errorf("account.updated: %w", err)
	}

	kycStatus := risedomain.KYCStatus(strings.ToUpper(strings.TrimSpace(payload.KYCStatus)))
	if !risedomain.ValidKYCStatus(kycStatus) {
		return fmt.Errorf("account.updated: %w: %q", risedomain.ErrInvalidKYCStatus, payload.KYCStatus)
	}

	var providerAccountID *string
	if accountID := strings.TrimSpace(payload.AccountID); accountID != "" {
		providerAccountID = &accountID
	}

	_, err = s.accounts.UpdateSync(ctx, tx, account.ID, kycStatus, providerAccountID, s.clock.Now())
	return err
}

// rollupBatch recomputes batch status inside the same transaction as the
// per-transaction update, so observers never see a completed transaction
// under a stale batch.
func (s *Service) rollupBatch(ctx context.Context, tx *gorm.DB, batchID snowflake.ID) error {
	batch, err := s.batches.FindBatchByID(ctx, tx, batchID)
	if err != nil {
		return err
	}
	if batch.Status.Terminal() {
		return nil
	}

	counts, err := s.batches.CountTransactionsByStatus(ctx, tx, batchID)
	if err != nil {
		return err
	}

	total := int64(0)
	terminal := int64(0)
	failed := int64(0)
	for _, row := range counts {
		total += row.Count
		if row.Status.Terminal() {
			terminal += row.Count
		}
		if row.Status == batchdomain.TxFailed {
			failed += row.Count
		}
	}
	if total == 0 || terminal < total {
		return nil
	}

	target := batchdomain.BatchCompleted
	var errorMessage *string
	if failed > 0 {
		target = batchdomain.BatchFailed
		msg := fmt.Sprintf("%d of %d transactions failed", failed, total)
		errorMessage = &msg
	}

	_, err = s.batches.UpdateBatchStatus(ctx, tx, batchID, batch.Status, target, s.clock.Now(), errorMessage)
	return err
}

func (s *Service) auditEvent(ctx context.Context, eventID, eventType string, status auditdomain.Status, transactionID *snowflake.ID, processingErr error) {
	if s.audit == nil {
		return
	}
	details := map[string]any{
		"provider":   providerdomain.ProviderRise,
		"event_type": eventType,
	}
	if transactionID != nil {
		details["transaction_id"] = transactionID.String()
	}
	if processingErr != nil {
		details["error"] = processingErr.Error()
	}
	actorType := string(auditdomain.ActorTypeWebhook)
	_ = s.audit.Record(ctx, auditdomain.Entry{
		ActorType:  actorType,
		Action:     "webhook.received",
		Status:     status,
		TargetType: "webhook_event",
		TargetID:   &eventID,
		Details:    details,
	})
}
