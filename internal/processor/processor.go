package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/disburse/internal/audit/domain"
	batchdomain "github.com/smallbiznis/disburse/internal/batch/domain"
	"github.com/smallbiznis/disburse/internal/clock"
	commissiondomain "github.com/smallbiznis/disburse/internal/commission/domain"
	"github.com/smallbiznis/disburse/internal/config"
	"github.com/smallbiznis/disburse/internal/observability/metrics"
	"github.com/smallbiznis/disburse/internal/provider"
	providerdomain "github.com/smallbiznis/disburse/internal/provider/domain"
	"github.com/smallbiznis/disburse/internal/ratelimit"
	risedomain "github.com/smallbiznis/disburse/internal/riseaccount/domain"
)

const (
	jobDisbursements = "disbursements"
	jobRiseSync      = "rise_sync"

	disbursementLockKey = "disburse:run:disbursements"
	riseSyncLockKey     = "disburse:run:rise-sync"
	runLockTTL          = 10 * time.Minute

	// Transactions stuck in PROCESSING longer than this are polled against
	// the provider in case the terminal webhook was lost.
	reconcileAfter     = 15 * time.Minute
	reconcileScanLimit = 200
)

// RunResult summarizes one automated disbursement run.
type RunResult struct {
	Success                bool            `json:"success"`
	BatchesCreated         int             `json:"batches_created"`
	BatchesExecuted        int             `json:"batches_executed"`
	AffiliatesProcessed    int             `json:"affiliates_processed"`
	TransactionsReconciled int             `json:"transactions_reconciled"`
	TotalAmount            decimal.Decimal `json:"total_amount"`
	DurationMS             int64           `json:"duration_ms"`
	Errors                 []string        `json:"errors,omitempty"`
}

// SyncResult summarizes one account sync run.
type SyncResult struct {
	Success         bool     `json:"success"`
	AccountsSynced  int      `json:"accounts_synced"`
	AccountsUpdated int      `json:"accounts_updated"`
	DurationMS      int64    `json:"duration_ms"`
	Errors          []string `json:"errors,omitempty"`
}

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Clock          clock.Clock
	Payout         *config.PayoutConfigHolder
	Registry       *provider.Registry
	Batches        batchdomain.Service
	BatchRepo      batchdomain.Repository
	CommissionRepo commissiondomain.Repository
	Accounts       risedomain.Service
	Audit          auditdomain.Service
	Locker         *ratelimit.Locker `optional:"true"`
	Metrics        *metrics.Metrics  `optional:"true"`
}

// Processor drives the cron-triggered payout pipeline: aggregate, batch,
// submit to the provider, and retry transient failures with backoff.
type Processor struct {
	db             *gorm.DB
	log            *zap.Logger
	clock          clock.Clock
	payout         *config.PayoutConfigHolder
	registry       *provider.Registry
	batches        batchdomain.Service
	batchRepo      batchdomain.Repository
	commissionRepo commissiondomain.Repository
	accounts       risedomain.Service
	audit          auditdomain.Service
	locker         *ratelimit.Locker
	metrics        *metrics.Metrics
	jobs           *metrics.JobMetrics

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(p Params) *Processor {
	return &Processor{
		db:             p.DB,
		log:            p.Log.Named("processor"),
		clock:          p.Clock,
		payout:         p.Payout,
		registry:       p.Registry,
		batches:        p.Batches,
		batchRepo:      p.BatchRepo,
		commissionRepo: p.CommissionRepo,
		accounts:       p.Accounts,
		audit:          p.Audit,
		locker:         p.Locker,
		metrics:        p.Metrics,
		jobs:           metrics.Jobs(),
		sleep:          sleep,
	}
}

// ProcessAutomatedDisbursements runs one disbursement cycle. Per-affiliate
// failures are collected into the result instead of aborting the run.
func (s *Processor) ProcessAutomatedDisbursements(ctx context.Context) (RunResult, error) {
	start := s.clock.Now()
	result := RunResult{TotalAmount: decimal.Zero}
	s.jobs.IncJobRun(jobDisbursements)
	defer func() {
		s.jobs.ObserveJobDuration(jobDisbursements, s.clock.Now().Sub(start))
	}()

	release, acquired := s.acquireLock(ctx, disbursementLockKey)
	if !acquired {
		s.log.Info("disbursement run already in progress, skipping")
		result.Success = true
		result.DurationMS = s.clock.Now().Sub(start).Milliseconds()
		return result, nil
	}
	defer release()

	// Settle anything the webhooks left behind before claiming new work, so
	// commissions released by a reconciled failure rejoin this cycle.
	s.reconcileInFlight(ctx, &result)

	detail, err := s.batches.CreateBatch(ctx, batchdomain.CreateBatchRequest{})
	switch {
	case errors.Is(err, batchdomain.ErrNoPayableAffiliates):
		// Nothing to pay out this cycle.
	case err != nil:
		s.jobs.IncJobError(jobDisbursements, err)
		result.Errors = append(result.Errors, fmt.Sprintf("create batch: %v", err))
	default:
		result.BatchesCreated = 1
		result.AffiliatesProcessed = len(detail.Transactions)
		result.TotalAmount = detail.Batch.TotalAmount
		s.executeBatch(ctx, detail, &result)
	}

	result.Success = len(result.Errors) == 0
	result.DurationMS = s.clock.Now().Sub(start).Milliseconds()
	s.auditRun(ctx, result)
	return result, nil
}

// executeBatch moves the batch through QUEUED and PROCESSING and submits each
// transaction to the settlement provider.
func (s *Processor) executeBatch(ctx context.Context, detail *batchdomain.BatchDetail, result *RunResult) {
	batch := detail.Batch

	if ok := s.transitionBatch(ctx, batch.ID, batchdomain.BatchPending, batchdomain.BatchQueued, result); !ok {
		return
	}
	if ok := s.transitionBatch(ctx, batch.ID, batchdomain.BatchQueued, batchdomain.BatchProcessing, result); !ok {
		return
	}

	settler, err := s.registry.NewProvider(batch.Provider)
	if err != nil {
		s.jobs.IncJobError(jobDisbursements, err)
		result.Errors = append(result.Errors, fmt.Sprintf("batch %s: provider %s: %v", batch.BatchNumber, batch.Provider, err))
		return
	}

	affiliateIDs := make([]snowflake.ID, 0, len(detail.Transactions))
	for _, tx := range detail.Transactions {
		affiliateIDs = append(affiliateIDs, tx.AffiliateID)
	}
	accounts, err := s.accounts.ForAffiliates(ctx, affiliateIDs)
	if err != nil {
		s.jobs.IncJobError(jobDisbursements, err)
		result.Errors = append(result.Errors, fmt.Sprintf("batch %s: load accounts: %v", batch.BatchNumber, err))
		return
	}

	policy := policyFrom(s.payout.Current().Retry)
	for _, tx := range detail.Transactions {
		if err := s.settleTransaction(ctx, settler, policy, batch, tx, accounts[tx.AffiliateID]); err != nil {
			s.jobs.IncJobError(jobDisbursements, err)
			result.Errors = append(result.Errors, fmt.Sprintf("transaction %d: %v", tx.ID, err))
		}
	}

	result.BatchesExecuted++
	s.jobs.IncBatchProcessed(jobDisbursements)

	// If every submission already failed the batch can settle now instead of
	// waiting on webhooks that will never come.
	if _, err := s.batches.RollupBatch(ctx, batch.ID); err != nil {
		s.log.Warn("batch rollup after execution failed",
			zap.Int64("batch_id", int64(batch.ID)),
			zap.Error(err),
		)
	}
}

func (s *Processor) transitionBatch(ctx context.Context, id snowflake.ID, from, to batchdomain.BatchStatus, result *RunResult) bool {
	ok, err := s.batchRepo.UpdateBatchStatus(ctx, s.db, id, from, to, s.clock.Now(), nil)
	if err != nil {
		s.jobs.IncJobError(jobDisbursements, err)
		result.Errors = append(result.Errors, fmt.Sprintf("batch %d: transition %s to %s: %v", id, from, to, err))
		return false
	}
	if !ok {
		result.Errors = append(result.Errors, fmt.Sprintf("batch %d: not in %s, skipping execution", id, from))
		return false
	}
	return true
}

// settleTransaction submits one payout, retrying transient provider failures
// with exponential backoff. Fatal rejections and exhausted retries mark the
// transaction FAILED and release its commissions for a later run.
func (s *Processor) settleTransaction(
	ctx context.Context,
	settler providerdomain.SettlementProvider,
	policy RetryPolicy,
	batch batchdomain.PaymentBatch,
	tx *batchdomain.Transaction,
	account *risedomain.Account,
) error {
	req := providerdomain.InitiateRequest{
		TransactionID: tx.ID,
		BatchNumber:   batch.BatchNumber,
		AffiliateID:   tx.AffiliateID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
	}
	if account != nil {
		req.Email = account.Email
		if account.ProviderAccountID != nil {
			req.ProviderAccountID = *account.ProviderAccountID
		}
	}

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := settler.Initiate(ctx, req)
		if err == nil {
			ok, markErr := s.batchRepo.MarkTransactionProcessing(ctx, s.db, tx.ID, res.ProviderTxID, s.clock.Now())
			if markErr != nil {
				return fmt.Errorf("mark processing: %w", markErr)
			}
			if !ok {
				s.log.Warn("transaction left PENDING before submission could be recorded",
					zap.Int64("transaction_id", int64(tx.ID)),
					zap.String("provider_tx_id", res.ProviderTxID),
				)
			}
			return nil
		}

		lastErr = err
		if !providerdomain.IsTransient(err) {
			return s.failTransaction(ctx, tx.ID, err)
		}

		if incErr := s.batchRepo.IncrementRetryCount(ctx, s.db, tx.ID); incErr != nil {
			s.log.Warn("retry count increment failed",
				zap.Int64("transaction_id", int64(tx.ID)),
				zap.Error(incErr),
			)
		}
		s.jobs.IncPayoutRetry(jobDisbursements)
		s.metrics.RecordPayoutRetry(ctx, batch.Provider)

		if attempt < attempts {
			if sleepErr := s.sleep(ctx, policy.Delay(attempt)); sleepErr != nil {
				return s.failTransaction(ctx, tx.ID, sleepErr)
			}
		}
	}
	return s.failTransaction(ctx, tx.ID, lastErr)
}

// reconcileInFlight polls the provider for transactions that have sat in
// PROCESSING past the webhook horizon and applies any terminal outcome it
// reports. Webhooks stay the primary settlement path; this picks up the
// deliveries that never arrived.
func (s *Processor) reconcileInFlight(ctx context.Context, result *RunResult) {
	cutoff := s.clock.Now().Add(-reconcileAfter)
	stale, err := s.batchRepo.ListStaleProcessingTransactions(ctx, s.db, cutoff, reconcileScanLimit)
	if err != nil {
		s.jobs.IncJobError(jobDisbursements, err)
		result.Errors = append(result.Errors, fmt.Sprintf("list stale transactions: %v", err))
		return
	}

	for _, tx := range stale {
		if tx == nil || tx.ProviderTxID == nil {
			continue
		}
		settler, err := s.registry.NewProvider(tx.Provider)
		if err != nil {
			s.jobs.IncJobError(jobDisbursements, err)
			result.Errors = append(result.Errors, fmt.Sprintf("transaction %d: provider %s: %v", tx.ID, tx.Provider, err))
			continue
		}
		status, err := settler.QueryStatus(ctx, *tx.ProviderTxID)
		if err != nil {
			s.jobs.IncJobError(jobDisbursements, err)
			result.Errors = append(result.Errors, fmt.Sprintf("transaction %d: query status: %v", tx.ID, err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(status)) {
		case providerdomain.PayoutStatusCompleted:
			if err := s.settleReconciled(ctx, tx.ID); err != nil {
				s.jobs.IncJobError(jobDisbursements, err)
				result.Errors = append(result.Errors, fmt.Sprintf("transaction %d: settle: %v", tx.ID, err))
				continue
			}
		case providerdomain.PayoutStatusFailed:
			cause := fmt.Errorf("provider reported %s as failed", *tx.ProviderTxID)
			if err := s.failTransaction(ctx, tx.ID, cause); !errors.Is(err, cause) {
				s.jobs.IncJobError(jobDisbursements, err)
				result.Errors = append(result.Errors, fmt.Sprintf("transaction %d: record failure: %v", tx.ID, err))
				continue
			}
		default:
			// Still in flight on the provider side.
			continue
		}

		result.TransactionsReconciled++
		if _, err := s.batches.RollupBatch(ctx, tx.BatchID); err != nil {
			s.log.Warn("batch rollup after reconciliation failed",
				zap.Int64("batch_id", int64(tx.BatchID)),
				zap.Error(err),
			)
		}
	}
}

// settleReconciled applies a provider-confirmed completion: the transaction
// moves to COMPLETED and its commissions to PAID in one transaction, mirroring
// the webhook path.
func (s *Processor) settleReconciled(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.batchRepo.MarkTransactionCompleted(ctx, tx, id, now)
		if err != nil {
			return err
		}
		if !ok {
			// A webhook won the race; nothing left to apply.
			return nil
		}
		_, err = s.commissionRepo.MarkPaidByTransaction(ctx, tx, id, now)
		return err
	})
}

// failTransaction marks the transaction FAILED and unlinks its commissions so
// they stay payable. Both writes share one transaction.
func (s *Processor) failTransaction(ctx context.Context, id snowflake.ID, cause error) error {
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.batchRepo.MarkTransactionFailed(ctx, tx, id, now, cause.Error())
		if err != nil {
			return err
		}
		if !ok {
			// Already terminal, leave the linked commissions alone.
			return nil
		}
		_, err = s.commissionRepo.ReleaseByTransaction(ctx, tx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("record failure: %w (payout error: %v)", err, cause)
	}
	return cause
}

// SyncRiseAccounts refreshes KYC state for every linked account from the
// settlement provider. Per-account failures are collected, not fatal.
func (s *Processor) SyncRiseAccounts(ctx context.Context) (SyncResult, error) {
	start := s.clock.Now()
	result := SyncResult{}
	s.jobs.IncJobRun(jobRiseSync)
	defer func() {
		s.jobs.ObserveJobDuration(jobRiseSync, s.clock.Now().Sub(start))
	}()

	release, acquired := s.acquireLock(ctx, riseSyncLockKey)
	if !acquired {
		s.log.Info("account sync already in progress, skipping")
		result.Success = true
		result.DurationMS = s.clock.Now().Sub(start).Milliseconds()
		return result, nil
	}
	defer release()

	settler, err := s.syncProvider()
	if err != nil {
		s.jobs.IncJobError(jobRiseSync, err)
		result.DurationMS = s.clock.Now().Sub(start).Milliseconds()
		result.Errors = append(result.Errors, err.Error())
		s.auditSync(ctx, result)
		return result, nil
	}

	accounts, err := s.accounts.ListAll(ctx)
	if err != nil {
		s.jobs.IncJobError(jobRiseSync, err)
		result.DurationMS = s.clock.Now().Sub(start).Milliseconds()
		result.Errors = append(result.Errors, fmt.Sprintf("list accounts: %v", err))
		s.auditSync(ctx, result)
		return result, nil
	}

	for _, account := range accounts {
		state, err := settler.SyncAccount(ctx, account.AffiliateID, account.Email)
		if err != nil {
			s.jobs.IncJobError(jobRiseSync, err)
			result.Errors = append(result.Errors, fmt.Sprintf("affiliate %d: %v", account.AffiliateID, err))
			continue
		}
		result.AccountsSynced++

		kyc := risedomain.KYCStatus(strings.ToUpper(strings.TrimSpace(state.KYCStatus)))
		if !risedomain.ValidKYCStatus(kyc) {
			result.Errors = append(result.Errors, fmt.Sprintf("affiliate %d: unknown kyc status %q", account.AffiliateID, state.KYCStatus))
			continue
		}
		var providerAccountID *string
		if state.ProviderAccountID != "" {
			providerAccountID = &state.ProviderAccountID
		}
		changed, err := s.accounts.ApplySync(ctx, account, kyc, providerAccountID)
		if err != nil {
			s.jobs.IncJobError(jobRiseSync, err)
			result.Errors = append(result.Errors, fmt.Sprintf("affiliate %d: apply sync: %v", account.AffiliateID, err))
			continue
		}
		if changed {
			result.AccountsUpdated++
		}
	}

	result.Success = len(result.Errors) == 0
	result.DurationMS = s.clock.Now().Sub(start).Milliseconds()
	s.auditSync(ctx, result)
	return result, nil
}

// syncProvider prefers the real rail when it is configured and falls back to
// the policy default otherwise.
func (s *Processor) syncProvider() (providerdomain.SettlementProvider, error) {
	if s.registry.IsProviderAvailable(providerdomain.ProviderRise) {
		return s.registry.NewProvider(providerdomain.ProviderRise)
	}
	name := s.payout.Current().DefaultProvider
	if !s.registry.IsProviderAvailable(name) {
		return nil, fmt.Errorf("no available provider for account sync: %w", batchdomain.ErrProviderUnavailable)
	}
	return s.registry.NewProvider(name)
}

// acquireLock takes the best-effort run lock. When redis is not configured the
// run proceeds without it; the storage guards keep double pays out.
func (s *Processor) acquireLock(ctx context.Context, key string) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	token, ok, err := s.locker.TryLock(ctx, key, runLockTTL)
	if err != nil {
		s.log.Warn("run lock unavailable, proceeding without it",
			zap.String("key", key),
			zap.Error(err),
		)
		return func() {}, true
	}
	if !ok {
		return func() {}, false
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("run lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, true
}

func (s *Processor) auditRun(ctx context.Context, result RunResult) {
	status := auditdomain.StatusSuccess
	if len(result.Errors) > 0 {
		status = auditdomain.StatusWarning
	}
	entry := auditdomain.Entry{
		ActorType:  string(auditdomain.ActorTypeCron),
		Action:     "disbursement.run",
		Status:     status,
		TargetType: "payment_batch",
		Details: map[string]any{
			"batches_created":         result.BatchesCreated,
			"batches_executed":        result.BatchesExecuted,
			"affiliates_processed":    result.AffiliatesProcessed,
			"transactions_reconciled": result.TransactionsReconciled,
			"total_amount":            result.TotalAmount.StringFixed(2),
			"duration_ms":             result.DurationMS,
			"error_count":             len(result.Errors),
		},
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Warn("audit record failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func (s *Processor) auditSync(ctx context.Context, result SyncResult) {
	status := auditdomain.StatusSuccess
	if len(result.Errors) > 0 {
		status = auditdomain.StatusWarning
	}
	entry := auditdomain.Entry{
		ActorType:  string(auditdomain.ActorTypeCron),
		Action:     "rise.sync",
		Status:     status,
		TargetType: "rise_account",
		Details: map[string]any{
			"accounts_synced":  result.AccountsSynced,
			"accounts_updated": result.AccountsUpdated,
			"duration_ms":      result.DurationMS,
			"error_count":      len(result.Errors),
		},
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Warn("audit record failed", zap.String("action", entry.Action), zap.Error(err))
	}
}
