package processor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	auditrepository "github.com/smallbiznis/disburse/internal/audit/repository"
	auditservice "github.com/smallbiznis/disburse/internal/audit/service"
	batchdomain "github.com/smallbiznis/disburse/internal/batch/domain"
	batchrepository "github.com/smallbiznis/disburse/internal/batch/repository"
	batchservice "github.com/smallbiznis/disburse/internal/batch/service"
	"github.com/smallbiznis/disburse/internal/clock"
	commissiondomain "github.com/smallbiznis/disburse/internal/commission/domain"
	commissionrepository "github.com/smallbiznis/disburse/internal/commission/repository"
	commissionservice "github.com/smallbiznis/disburse/internal/commission/service"
	"github.com/smallbiznis/disburse/internal/config"
	"github.com/smallbiznis/disburse/internal/provider"
	providerdomain "github.com/smallbiznis/disburse/internal/provider/domain"
	risedomain "github.com/smallbiznis/disburse/internal/riseaccount/domain"
	riserepository "github.com/smallbiznis/disburse/internal/riseaccount/repository"
	riseservice "github.com/smallbiznis/disburse/internal/riseaccount/service"
)

// scriptedProvider lets a test control every provider interaction.
type scriptedProvider struct {
	initiateFn func(ctx context.Context, req providerdomain.InitiateRequest) (providerdomain.InitiateResult, error)
	queryFn    func(ctx context.Context, providerTxID string) (string, error)
	syncFn     func(ctx context.Context, affiliateID snowflake.ID, email string) (providerdomain.AccountState, error)
}

func (p *scriptedProvider) Name() string { return providerdomain.ProviderMock }

func (p *scriptedProvider) Initiate(ctx context.Context, req providerdomain.InitiateRequest) (providerdomain.InitiateResult, error) {
	if p.initiateFn == nil {
		return providerdomain.InitiateResult{ProviderTxID: "scripted_tx", Status: providerdomain.PayoutStatusProcessing}, nil
	}
	return p.initiateFn(ctx, req)
}

func (p *scriptedProvider) QueryStatus(ctx context.Context, providerTxID string) (string, error) {
	if p.queryFn == nil {
		return providerdomain.PayoutStatusProcessing, nil
	}
	return p.queryFn(ctx, providerTxID)
}

func (p *scriptedProvider) SyncAccount(ctx context.Context, affiliateID snowflake.ID, email string) (providerdomain.AccountState, error) {
	if p.syncFn == nil {
		return providerdomain.AccountState{}, providerdomain.ErrProviderUnavailable
	}
	return p.syncFn(ctx, affiliateID, email)
}

type scriptedFactory struct {
	provider providerdomain.SettlementProvider
}

func (f *scriptedFactory) Provider() string { return providerdomain.ProviderMock }

func (f *scriptedFactory) NewProvider(providerdomain.AdapterConfig) (providerdomain.SettlementProvider, error) {
	return f.provider, nil
}

type harness struct {
	db             *gorm.DB
	node           *snowflake.Node
	clk            *clock.FakeClock
	proc           *Processor
	accounts       risedomain.Service
	batchRepo      batchdomain.Repository
	commissionRepo commissiondomain.Repository
	delays         *[]time.Duration
}

func newHarness(t *testing.T, scripted *scriptedProvider) *harness {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	statements := []string{
		`CREATE TABLE commissions (
			id INTEGER PRIMARY KEY,
			affiliate_id INTEGER,
			code_id INTEGER,
			gross_revenue NUMERIC,
			discount_amount NUMERIC,
			net_revenue NUMERIC,
			commission_amount NUMERIC,
			commission_percent NUMERIC,
			status TEXT,
			disbursement_transaction_id INTEGER,
			earned_at DATETIME,
			approved_at DATETIME,
			paid_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE payment_batches (
			id INTEGER PRIMARY KEY,
			batch_number TEXT,
			provider TEXT,
			status TEXT,
			payment_count INTEGER,
			total_amount NUMERIC,
			fee_amount NUMERIC,
			currency TEXT,
			created_by INTEGER,
			scheduled_at DATETIME,
			executed_at DATETIME,
			completed_at DATETIME,
			failed_at DATETIME,
			error_message TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE disbursement_transactions (
			id INTEGER PRIMARY KEY,
			batch_id INTEGER,
			affiliate_id INTEGER,
			provider_tx_id TEXT,
			gross_amount NUMERIC,
			fee_amount NUMERIC,
			amount NUMERIC,
			currency TEXT,
			status TEXT,
			provider TEXT,
			retry_count INTEGER,
			error_message TEXT,
			completed_at DATETIME,
			failed_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE affiliate_rise_accounts (
			id INTEGER PRIMARY KEY,
			affiliate_id INTEGER UNIQUE,
			provider_account_id TEXT,
			email TEXT,
			kyc_status TEXT,
			last_sync_at DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE audit_logs (
			id INTEGER PRIMARY KEY,
			actor_type TEXT,
			actor_id TEXT,
			action TEXT,
			status TEXT,
			target_type TEXT,
			target_id TEXT,
			details TEXT,
			ip_address TEXT,
			user_agent TEXT,
			created_at DATETIME
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	holder := &config.PayoutConfigHolder{}
	if err := holder.Store(config.PayoutConfig{
		MinimumPayoutUSD: "5.00",
		FeePercent:       "10",
		MaxBatchSize:     200,
		DefaultProvider:  "mock",
		Retry: config.RetryPolicy{
			MaxAttempts:       3,
			InitialDelayMS:    1000,
			MaxDelayMS:        30000,
			BackoffMultiplier: 2,
		},
	}); err != nil {
		t.Fatalf("store payout config: %v", err)
	}

	registry := provider.NewRegistry(config.Config{}, &scriptedFactory{provider: scripted})

	commissionRepo := commissionrepository.Provide()
	batchRepo := batchrepository.Provide()
	riseRepo := riserepository.Provide()
	auditRepo := auditrepository.Provide()

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditRepo,
	})
	commissionSvc := commissionservice.NewService(commissionservice.Params{
		DB:     db,
		Log:    log,
		Clock:  clk,
		Payout: holder,
		Repo:   commissionRepo,
	})
	riseSvc := riseservice.NewService(riseservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  riseRepo,
	})
	batchSvc := batchservice.NewService(batchservice.Params{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          clk,
		Payout:         holder,
		Registry:       registry,
		Repo:           batchRepo,
		Commissions:    commissionSvc,
		CommissionRepo: commissionRepo,
		Accounts:       riseSvc,
		Audit:          auditSvc,
	})

	proc := New(Params{
		DB:             db,
		Log:            log,
		Clock:          clk,
		Payout:         holder,
		Registry:       registry,
		Batches:        batchSvc,
		BatchRepo:      batchRepo,
		CommissionRepo: commissionRepo,
		Accounts:       riseSvc,
		Audit:          auditSvc,
	})

	delays := &[]time.Duration{}
	proc.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}

	return &harness{
		db:             db,
		node:           node,
		clk:            clk,
		proc:           proc,
		accounts:       riseSvc,
		batchRepo:      batchRepo,
		commissionRepo: commissionRepo,
		delays:         delays,
	}
}

func (h *harness) seedAccount(t *testing.T, affiliateID snowflake.ID, kyc risedomain.KYCStatus) {
	t.Helper()
	now := h.clk.Now()
	err := h.db.Exec(
		`INSERT INTO affiliate_rise_accounts (id, affiliate_id, provider_account_id, email, kyc_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.node.Generate(), affiliateID, fmt.Sprintf("acct_%d", affiliateID),
		fmt.Sprintf("affiliate%d@example.com", affiliateID), kyc, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func (h *harness) seedCommission(t *testing.T, affiliateID snowflake.ID, amount string) snowflake.ID {
	t.Helper()
	id := h.node.Generate()
	now := h.clk.Now()
	err := h.db.Exec(
		`INSERT INTO commissions (
			id, affiliate_id, code_id, gross_revenue, discount_amount, net_revenue,
			commission_amount, commission_percent, status, earned_at, approved_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, affiliateID, h.node.Generate(),
		amount, "0", amount, amount, "20",
		commissiondomain.StatusApproved, now, now, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed commission: %v", err)
	}
	return id
}

func (h *harness) transactions(t *testing.T) []*batchdomain.Transaction {
	t.Helper()
	var transactions []*batchdomain.Transaction
	if err := h.db.Order("id asc").Find(&transactions).Error; err != nil {
		t.Fatalf("load transactions: %v", err)
	}
	return transactions
}

func (h *harness) batch(t *testing.T) *batchdomain.PaymentBatch {
	t.Helper()
	var batch batchdomain.PaymentBatch
	if err := h.db.First(&batch).Error; err != nil {
		t.Fatalf("load batch: %v", err)
	}
	return &batch
}

func TestProcessSubmitsEligiblePayouts(t *testing.T) {
	scripted := &scriptedProvider{
		initiateFn: func(ctx context.Context, req providerdomain.InitiateRequest) (providerdomain.InitiateResult, error) {
			return providerdomain.InitiateResult{
				ProviderTxID: fmt.Sprintf("tx_%d", req.TransactionID),
				Status:       providerdomain.PayoutStatusProcessing,
			}, nil
		},
	}
	h := newHarness(t, scripted)

	affiliate := h.node.Generate()
	h.seedAccount(t, affiliate, risedomain.KYCApproved)
	h.seedCommission(t, affiliate, "60.00")
	h.seedCommission(t, affiliate, "40.00")

	result, err := h.proc.ProcessAutomatedDisbursements(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.BatchesCreated != 1 || result.BatchesExecuted != 1 {
		t.Fatalf("expected one batch created and executed, got %+v", result)
	}
	if result.AffiliatesProcessed != 1 {
		t.Fatalf("expected one affiliate processed, got %d", result.AffiliatesProcessed)
	}
	if !result.TotalAmount.Equal(decimal.RequireFromString("90.00")) {
		t.Fatalf("expected net total 90.00, got %s", result.TotalAmount)
	}

	batch := h.batch(t)
	if batch.Status != batchdomain.BatchProcessing {
		t.Fatalf("expected batch PROCESSING, got %s", batch.Status)
	}
	transactions := h.transactions(t)
	if len(transactions) != 1 {
		t.Fatalf("expected one transaction, got %d", len(transactions))
	}
	tx := transactions[0]
	if tx.Status != batchdomain.TxProcessing {
		t.Fatalf("expected transaction PROCESSING, got %s", tx.Status)
	}
	if tx.ProviderTxID == nil || *tx.ProviderTxID != fmt.Sprintf("tx_%d", tx.ID) {
		t.Fatalf("expected provider tx id recorded, got %v", tx.ProviderTxID)
	}
}

func TestProcessRetriesTransientFailuresWithBackoff(t *testing.T) {
	attempts := 0
	scripted := &scriptedProvider{
		initiateFn: func(ctx context.Context, req providerdomain.InitiateRequest) (providerdomain.InitiateResult, error) {
			attempts++
			return providerdomain.InitiateResult{}, fmt.Errorf("rise unreachable: %w", providerdomain.ErrProviderUnavailable)
		},
	}
	h := newHarness(t, scripted)

	affiliate := h.node.Generate()
	h.seedAccount(t, affiliate, risedomain.KYCApproved)
	commissionID := h.seedCommission(t, affiliate, "25.00")

	result, err := h.proc.ProcessAutomatedDisbursements(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Success {
		t.Fatal("expected failed submissions to surface in the result")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	wantDelays := []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond}
	if len(*h.delays) != len(wantDelays) {
		t.Fatalf("expected delays %v, got %v", wantDelays, *h.delays)
	}
	for i, want := range wantDelays {
		if (*h.delays)[i] != want {
			t.Fatalf("delay %d: expected %s, got %s", i, want, (*h.delays)[i])
		}
	}

	transactions := h.transactions(t)
	if len(transactions) != 1 {
		t.Fatalf("expected one transaction, got %d", len(transactions))
	}
	tx := transactions[0]
	if tx.Status != batchdomain.TxFailed {
		t.Fatalf("expected transaction FAILED after exhausted retries, got %s", tx.Status)
	}
	if tx.RetryCount != 3 {
		t.Fatalf("expected retry_count 3, got %d", tx.RetryCount)
	}

	// Commissions go back to the payable pool.
	var commission commissiondomain.Commission
	if err := h.db.Where("id = ?", commissionID).First(&commission).Error; err != nil {
		t.Fatalf("load commission: %v", err)
	}
	if commission.Status != commissiondomain.StatusApproved || commission.TransactionID != nil {
		t.Fatalf("expected commission released, got status=%s link=%v", commission.Status, commission.TransactionID)
	}

	if batch := h.batch(t); batch.Status != batchdomain.BatchFailed {
		t.Fatalf("expected batch FAILED once every transaction failed, got %s", batch.Status)
	}
}

func TestProcessStopsImmediatelyOnRejection(t *testing.T) {
	attempts := 0
	scripted := &scriptedProvider{
		initiateFn: func(ctx context.Context, req providerdomain.InitiateRequest) (providerdomain.InitiateResult, error) {
			attempts++
			return providerdomain.InitiateResult{}, fmt.Errorf("account frozen: %w", providerdomain.ErrPayoutRejected)
		},
	}
	h := newHarness(t, scripted)

	affiliate := h.node.Generate()
	h.seedAccount(t, affiliate, risedomain.KYCApproved)
	h.seedCommission(t, affiliate, "25.00")

	result, err := h.proc.ProcessAutomatedDisbursements(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt for a fatal rejection, got %d", attempts)
	}
	if len(*h.delays) != 0 {
		t.Fatalf("expected no backoff for a fatal rejection, got %v", *h.delays)
	}
	if result.Success {
		t.Fatal("expected the rejection in the result errors")
	}

	tx := h.transactions(t)[0]
	if tx.Status != batchdomain.TxFailed || tx.RetryCount != 0 {
		t.Fatalf("expected FAILED with no retries, got status=%s retries=%d", tx.Status, tx.RetryCount)
	}
}

func TestProcessWithNothingPayable(t *testing.T) {
	h := newHarness(t, &scriptedProvider{})

	result, err := h.proc.ProcessAutomatedDisbursements(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success on an empty cycle, errors: %v", result.Errors)
	}
	if result.BatchesCreated != 0 || result.AffiliatesProcessed != 0 {
		t.Fatalf("expected nothing processed, got %+v", result)
	}
}

func TestProcessSkipsIneligibleAffiliates(t *testing.T) {
	scripted := &scriptedProvider{
		initiateFn: func(ctx context.Context, req providerdomain.InitiateRequest) (providerdomain.InitiateResult, error) {
			return providerdomain.InitiateResult{ProviderTxID: "tx", Status: providerdomain.PayoutStatusProcessing}, nil
		},
	}
	h := newHarness(t, scripted)

	// Below the 5.00 threshold.
	small := h.node.Generate()
	h.seedAccount(t, small, risedomain.KYCApproved)
	h.seedCommission(t, small, "4.99")

	// KYC still pending.
	pending := h.node.Generate()
	h.seedAccount(t, pending, risedomain.KYCPending)
	h.seedCommission(t, pending, "50.00")

	result, err := h.proc.ProcessAutomatedDisbursements(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.BatchesCreated != 0 {
		t.Fatalf("expected no batch for ineligible affiliates, got %d", result.BatchesCreated)
	}
}

func TestProcessReconcilesCompletedInFlightTransactions(t *testing.T) {
	scripted := &scriptedProvider{
		initiateFn: func(ctx context.Context, req providerdomain.InitiateRequest) (providerdomain.InitiateResult, error) {
			return providerdomain.InitiateResult{
				ProviderTxID: fmt.Sprintf("tx_%d", req.TransactionID),
				Status:       providerdomain.PayoutStatusProcessing,
			}, nil
		},
	}
	h := newHarness(t, scripted)

	affiliate := h.node.Generate()
	h.seedAccount(t, affiliate, risedomain.KYCApproved)
	commissionID := h.seedCommission(t, affiliate, "45.00")

	if _, err := h.proc.ProcessAutomatedDisbursements(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	submitted := h.transactions(t)[0]
	if submitted.Status != batchdomain.TxProcessing {
		t.Fatalf("expected PROCESSING after submission, got %s", submitted.Status)
	}

	// The completion webhook never arrives; the next cycle polls the provider.
	h.clk.Advance(20 * time.Minute)
	var queried []string
	scripted.queryFn = func(ctx context.Context, providerTxID string) (string, error) {
		queried = append(queried, providerTxID)
		return providerdomain.PayoutStatusCompleted, nil
	}

	result, err := h.proc.ProcessAutomatedDisbursements(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.TransactionsReconciled != 1 {
		t.Fatalf("expected one reconciled transaction, got %d", result.TransactionsReconciled)
	}
	if len(queried) != 1 || queried[0] != *submitted.ProviderTxID {
		t.Fatalf("expected a status query for %s, got %v", *submitted.ProviderTxID, queried)
	}

	tx := h.transactions(t)[0]
	if tx.Status != batchdomain.TxCompleted || tx.CompletedAt == nil {
		t.Fatalf("expected COMPLETED with completed_at, got status=%s", tx.Status)
	}
	var commission commissiondomain.Commission
	if err := h.db.Where("id = ?", commissionID).First(&commission).Error; err != nil {
		t.Fatalf("load commission: %v", err)
	}
	if commission.Status != commissiondomain.StatusPaid || commission.PaidAt == nil {
		t.Fatalf("expected commission PAID, got %s", commission.Status)
	}
	if batch := h.batch(t); batch.Status != batchdomain.BatchCompleted {
		t.Fatalf("expected batch COMPLETED after reconciliation, got %s", batch.Status)
	}
}

func TestProcessReconcilesFailedInFlightTransactions(t *testing.T) {
	scripted := &scriptedProvider{
		initiateFn: func(ctx context.Context, req providerdomain.InitiateRequest) (providerdomain.InitiateResult, error) {
			return providerdomain.InitiateResult{
				ProviderTxID: fmt.Sprintf("tx_%d", req.TransactionID),
				Status:       providerdomain.PayoutStatusProcessing,
			}, nil
		},
		queryFn: func(ctx context.Context, providerTxID string) (string, error) {
			return providerdomain.PayoutStatusFailed, nil
		},
	}
	h := newHarness(t, scripted)

	affiliate := h.node.Generate()
	h.seedAccount(t, affiliate, risedomain.KYCApproved)
	commissionID := h.seedCommission(t, affiliate, "30.00")

	if _, err := h.proc.ProcessAutomatedDisbursements(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	staleID := h.transactions(t)[0].ID

	h.clk.Advance(20 * time.Minute)
	result, err := h.proc.ProcessAutomatedDisbursements(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.TransactionsReconciled != 1 {
		t.Fatalf("expected one reconciled transaction, got %d", result.TransactionsReconciled)
	}
	// The released commission rejoins the same cycle in a fresh batch.
	if result.BatchesCreated != 1 {
		t.Fatalf("expected a fresh batch for the released commission, got %d", result.BatchesCreated)
	}

	transactions := h.transactions(t)
	if len(transactions) != 2 {
		t.Fatalf("expected the failed and resubmitted transactions, got %d", len(transactions))
	}
	var failed, resubmitted *batchdomain.Transaction
	for _, tx := range transactions {
		if tx.ID == staleID {
			failed = tx
		} else {
			resubmitted = tx
		}
	}
	if failed == nil || resubmitted == nil {
		t.Fatalf("expected both transactions, got %+v", transactions)
	}
	if failed.Status != batchdomain.TxFailed || failed.ErrorMessage == nil {
		t.Fatalf("expected stale transaction FAILED with an error message, got status=%s", failed.Status)
	}
	if resubmitted.Status != batchdomain.TxProcessing {
		t.Fatalf("expected resubmitted transaction PROCESSING, got %s", resubmitted.Status)
	}

	var commission commissiondomain.Commission
	if err := h.db.Where("id = ?", commissionID).First(&commission).Error; err != nil {
		t.Fatalf("load commission: %v", err)
	}
	if commission.TransactionID == nil || *commission.TransactionID != resubmitted.ID {
		t.Fatalf("expected commission linked to the new transaction, got %v", commission.TransactionID)
	}

	var firstBatch batchdomain.PaymentBatch
	if err := h.db.Where("id = ?", failed.BatchID).First(&firstBatch).Error; err != nil {
		t.Fatalf("load batch: %v", err)
	}
	if firstBatch.Status != batchdomain.BatchFailed {
		t.Fatalf("expected the original batch FAILED, got %s", firstBatch.Status)
	}
}

func TestSyncRiseAccountsAppliesProviderState(t *testing.T) {
	scripted := &scriptedProvider{
		syncFn: func(ctx context.Context, affiliateID snowflake.ID, email string) (providerdomain.AccountState, error) {
			return providerdomain.AccountState{
				ProviderAccountID: fmt.Sprintf("rise_%d", affiliateID),
				KYCStatus:         "approved",
			}, nil
		},
	}
	h := newHarness(t, scripted)

	affiliate := h.node.Generate()
	h.seedAccount(t, affiliate, risedomain.KYCPending)

	result, err := h.proc.SyncRiseAccounts(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.AccountsSynced != 1 || result.AccountsUpdated != 1 {
		t.Fatalf("expected one account synced and updated, got %+v", result)
	}

	account, err := h.accounts.Get(context.Background(), affiliate)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.KYCStatus != risedomain.KYCApproved {
		t.Fatalf("expected KYC APPROVED after sync, got %s", account.KYCStatus)
	}
}

func TestSyncRiseAccountsCollectsPerAccountErrors(t *testing.T) {
	var failFor snowflake.ID
	scripted := &scriptedProvider{
		syncFn: func(ctx context.Context, affiliateID snowflake.ID, email string) (providerdomain.AccountState, error) {
			if affiliateID == failFor {
				return providerdomain.AccountState{}, providerdomain.ErrProviderUnavailable
			}
			return providerdomain.AccountState{KYCStatus: "APPROVED"}, nil
		},
	}
	h := newHarness(t, scripted)

	healthy := h.node.Generate()
	failFor = h.node.Generate()
	h.seedAccount(t, healthy, risedomain.KYCPending)
	h.seedAccount(t, failFor, risedomain.KYCPending)

	result, err := h.proc.SyncRiseAccounts(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Success {
		t.Fatal("expected the failing account to surface in the result")
	}
	if result.AccountsSynced != 1 {
		t.Fatalf("expected the healthy account to sync, got %d", result.AccountsSynced)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected one collected error, got %v", result.Errors)
	}
}
