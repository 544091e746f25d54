package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
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
	"github.com/smallbiznis/disburse/internal/payout"
	"github.com/smallbiznis/disburse/internal/processor"
	"github.com/smallbiznis/disburse/internal/provider"
	"github.com/smallbiznis/disburse/internal/provider/mock"
	risedomain "github.com/smallbiznis/disburse/internal/riseaccount/domain"
	riserepository "github.com/smallbiznis/disburse/internal/riseaccount/repository"
	riseservice "github.com/smallbiznis/disburse/internal/riseaccount/service"
	"github.com/smallbiznis/disburse/internal/secrets"
	webhookrepository "github.com/smallbiznis/disburse/internal/webhook/repository"
	webhookservice "github.com/smallbiznis/disburse/internal/webhook/service"
)

const (
	testCronSecret    = "cron-secret"
	testAdminToken    = "admin-token"
	testWebhookSecret = "whsec_test"
)

type serverHarness struct {
	db             *gorm.DB
	node           *snowflake.Node
	clk            *clock.FakeClock
	engine         *gin.Engine
	batchSvc       batchdomain.Service
	batchRepo      batchdomain.Repository
	commissionRepo commissiondomain.Repository
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
		`CREATE TABLE webhook_events (
			id INTEGER PRIMARY KEY,
			provider TEXT,
			provider_event_id TEXT,
			event_type TEXT,
			payload TEXT,
			processed BOOLEAN,
			processed_at DATETIME,
			transaction_id INTEGER,
			error TEXT,
			created_at DATETIME,
			UNIQUE (provider, provider_event_id)
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

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	cfg := config.Config{
		CronSecret:        testCronSecret,
		AdminToken:        testAdminToken,
		RiseWebhookSecret: testWebhookSecret,
	}

	holder := &config.PayoutConfigHolder{}
	if err := holder.Store(config.PayoutConfig{
		MinimumPayoutUSD: "5.00",
		FeePercent:       "10",
		MaxBatchSize:     200,
		DefaultProvider:  "mock",
		Retry: config.RetryPolicy{
			MaxAttempts:       3,
			InitialDelayMS:    1,
			MaxDelayMS:        10,
			BackoffMultiplier: 2,
		},
	}); err != nil {
		t.Fatalf("store payout config: %v", err)
	}

	registry := provider.NewRegistry(cfg, mock.NewFactory())

	commissionRepo := commissionrepository.Provide()
	batchRepo := batchrepository.Provide()
	riseRepo := riserepository.Provide()
	auditRepo := auditrepository.Provide()
	webhookRepo := webhookrepository.Provide()

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
	webhookSvc := webhookservice.NewService(webhookservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Config:      cfg,
		Repo:        webhookRepo,
		Batches:     batchRepo,
		Commissions: commissionRepo,
		Accounts:    riseRepo,
		Audit:       auditSvc,
	})
	proc := processor.New(processor.Params{
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

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{
		Gin:           engine,
		Cfg:           cfg,
		DB:            db,
		GenID:         node,
		BatchSvc:      batchSvc,
		CommissionSvc: commissionSvc,
		RiseSvc:       riseSvc,
		AuditSvc:      auditSvc,
		WebhookSvc:    webhookSvc,
		Processor:     proc,
	})

	return &serverHarness{
		db:             db,
		node:           node,
		clk:            clk,
		engine:         engine,
		batchSvc:       batchSvc,
		batchRepo:      batchRepo,
		commissionRepo: commissionRepo,
	}
}

func (h *serverHarness) seedAccount(t *testing.T, affiliateID snowflake.ID, kyc risedomain.KYCStatus) {
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

func (h *serverHarness) seedCommission(t *testing.T, affiliateID snowflake.ID, amount string, status commissiondomain.Status) snowflake.ID {
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
		status, now, now, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed commission: %v", err)
	}
	return id
}

// seedProcessingTransaction creates a batch with one PROCESSING transaction
// awaiting settlement, the state a webhook delivery finds in production.
func (h *serverHarness) seedProcessingTransaction(t *testing.T, affiliateID snowflake.ID, providerTxID string) *batchdomain.Transaction {
	t.Helper()
	ctx := context.Background()

	h.seedAccount(t, affiliateID, risedomain.KYCApproved)
	h.seedCommission(t, affiliateID, "100.00", commissiondomain.StatusApproved)

	detail, err := h.batchSvc.CreateBatch(ctx, batchdomain.CreateBatchRequest{})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if ok, err := h.batchRepo.UpdateBatchStatus(ctx, h.db, detail.Batch.ID, batchdomain.BatchPending, batchdomain.BatchQueued, h.clk.Now(), nil); err != nil || !ok {
		t.Fatalf("queue batch: ok=%v err=%v", ok, err)
	}
	if ok, err := h.batchRepo.UpdateBatchStatus(ctx, h.db, detail.Batch.ID, batchdomain.BatchQueued, batchdomain.BatchProcessing, h.clk.Now(), nil); err != nil || !ok {
		t.Fatalf("process batch: ok=%v err=%v", ok, err)
	}

	tx := detail.Transactions[0]
	if ok, err := h.batchRepo.MarkTransactionProcessing(ctx, h.db, tx.ID, providerTxID, h.clk.Now()); err != nil || !ok {
		t.Fatalf("mark processing: ok=%v err=%v", ok, err)
	}
	tx.Status = batchdomain.TxProcessing
	return tx
}

func (h *serverHarness) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func signedHeaders(body []byte) map[string]string {
	return map[string]string{
		"x-rise-signature": secrets.Sign(body, testWebhookSecret),
		"Content-Type":     "application/json",
	}
}

func TestWebhookPaymentCompletedSettlesTransaction(t *testing.T) {
	h := newServerHarness(t)
	affiliate := h.node.Generate()
	tx := h.seedProcessingTransaction(t, affiliate, "rise_tx_1")

	body := []byte(`{"id":"evt_1","event":"payment.completed","providerTxId":"rise_tx_1"}`)
	rec := h.do(http.MethodPost, "/webhooks/rise", body, signedHeaders(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var stored batchdomain.Transaction
	if err := h.db.Where("id = ?", tx.ID).First(&stored).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if stored.Status != batchdomain.TxCompleted {
		t.Fatalf("expected transaction COMPLETED, got %s", stored.Status)
	}

	var commission commissiondomain.Commission
	if err := h.db.Where("disbursement_transaction_id = ?", tx.ID).First(&commission).Error; err != nil {
		t.Fatalf("load commission: %v", err)
	}
	if commission.Status != commissiondomain.StatusPaid {
		t.Fatalf("expected commission PAID, got %s", commission.Status)
	}

	var batch batchdomain.PaymentBatch
	if err := h.db.Where("id = ?", stored.BatchID).First(&batch).Error; err != nil {
		t.Fatalf("load batch: %v", err)
	}
	if batch.Status != batchdomain.BatchCompleted {
		t.Fatalf("expected batch COMPLETED, got %s", batch.Status)
	}
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	h := newServerHarness(t)
	affiliate := h.node.Generate()
	tx := h.seedProcessingTransaction(t, affiliate, "rise_tx_2")

	body := []byte(`{"id":"evt_2","event":"payment.completed","providerTxId":"rise_tx_2"}`)
	rec := h.do(http.MethodPost, "/webhooks/rise", body, map[string]string{
		"x-rise-signature": "deadbeef",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "Invalid signature" {
		t.Fatalf("expected invalid signature error, got %q", resp["error"])
	}

	// Nothing recorded, nothing changed.
	var eventCount int64
	if err := h.db.Table("webhook_events").Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 0 {
		t.Fatalf("expected no webhook event recorded, got %d", eventCount)
	}
	var stored batchdomain.Transaction
	if err := h.db.Where("id = ?", tx.ID).First(&stored).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if stored.Status != batchdomain.TxProcessing {
		t.Fatalf("expected transaction untouched, got %s", stored.Status)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	h := newServerHarness(t)

	body := []byte(`{"id":"evt_3","event":"payment.completed","providerTxId":"x"}`)
	rec := h.do(http.MethodPost, "/webhooks/rise", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "Missing signature" {
		t.Fatalf("expected missing signature error, got %q", resp["error"])
	}
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	h := newServerHarness(t)

	body := []byte(`{not json`)
	rec := h.do(http.MethodPost, "/webhooks/rise", body, signedHeaders(body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookAcknowledgesDuplicateDelivery(t *testing.T) {
	h := newServerHarness(t)
	affiliate := h.node.Generate()
	h.seedProcessingTransaction(t, affiliate, "rise_tx_4")

	body := []byte(`{"id":"evt_4","event":"payment.completed","providerTxId":"rise_tx_4"}`)
	first := h.do(http.MethodPost, "/webhooks/rise", body, signedHeaders(body))
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery: expected 200, got %d", first.Code)
	}

	second := h.do(http.MethodPost, "/webhooks/rise", body, signedHeaders(body))
	if second.Code != http.StatusOK {
		t.Fatalf("redelivery: expected 200, got %d", second.Code)
	}
	var resp struct {
		Duplicate bool `json:"duplicate"`
	}
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Duplicate {
		t.Fatal("expected redelivery flagged as duplicate")
	}

	var eventCount int64
	if err := h.db.Table("webhook_events").Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected one recorded event, got %d", eventCount)
	}
}

func TestWebhookPaymentFailedReleasesCommissions(t *testing.T) {
	h := newServerHarness(t)
	affiliate := h.node.Generate()
	tx := h.seedProcessingTransaction(t, affiliate, "rise_tx_5")

	body := []byte(`{"id":"evt_5","event":"payment.failed","providerTxId":"rise_tx_5","error":"insufficient balance"}`)
	rec := h.do(http.MethodPost, "/webhooks/rise", body, signedHeaders(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stored batchdomain.Transaction
	if err := h.db.Where("id = ?", tx.ID).First(&stored).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if stored.Status != batchdomain.TxFailed {
		t.Fatalf("expected transaction FAILED, got %s", stored.Status)
	}

	var commission commissiondomain.Commission
	if err := h.db.Where("affiliate_id = ?", affiliate).First(&commission).Error; err != nil {
		t.Fatalf("load commission: %v", err)
	}
	if commission.Status != commissiondomain.StatusApproved || commission.TransactionID != nil {
		t.Fatalf("expected commission released, got status=%s link=%v", commission.Status, commission.TransactionID)
	}
}

func TestWebhookAccountUpdatedSyncsKYC(t *testing.T) {
	h := newServerHarness(t)
	affiliate := h.node.Generate()
	h.seedAccount(t, affiliate, risedomain.KYCPending)

	body := []byte(fmt.Sprintf(
		`{"id":"evt_6","event":"account.updated","affiliateId":"%d","kycStatus":"approved","accountId":"rise_acct_9"}`,
		affiliate,
	))
	rec := h.do(http.MethodPost, "/webhooks/rise", body, signedHeaders(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var account risedomain.Account
	if err := h.db.Where("affiliate_id = ?", affiliate).First(&account).Error; err != nil {
		t.Fatalf("load account: %v", err)
	}
	if account.KYCStatus != risedomain.KYCApproved {
		t.Fatalf("expected APPROVED, got %s", account.KYCStatus)
	}
	if account.ProviderAccountID == nil || *account.ProviderAccountID != "rise_acct_9" {
		t.Fatalf("expected provider account id synced, got %v", account.ProviderAccountID)
	}
	if account.LastSyncAt == nil {
		t.Fatal("expected last_sync_at stamped")
	}
}

func TestCronRequiresSecret(t *testing.T) {
	h := newServerHarness(t)

	rec := h.do(http.MethodPost, "/cron/disbursements", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", rec.Code)
	}

	rec = h.do(http.MethodPost, "/cron/disbursements", nil, map[string]string{
		"Authorization": "Bearer wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
}

func TestCronRunDisbursements(t *testing.T) {
	h := newServerHarness(t)
	affiliate := h.node.Generate()
	h.seedAccount(t, affiliate, risedomain.KYCApproved)
	h.seedCommission(t, affiliate, "50.00", commissiondomain.StatusApproved)

	rec := h.do(http.MethodPost, "/cron/disbursements", nil, map[string]string{
		"Authorization": "Bearer " + testCronSecret,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Result  struct {
			BatchesCreated int `json:"batches_created"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Result.BatchesCreated != 1 {
		t.Fatalf("expected successful run with one batch, got %s", rec.Body.String())
	}
}

func TestCronRunRiseSync(t *testing.T) {
	h := newServerHarness(t)
	affiliate := h.node.Generate()
	h.seedAccount(t, affiliate, risedomain.KYCPending)

	rec := h.do(http.MethodPost, "/cron/rise-sync", nil, map[string]string{
		"Authorization": "Bearer " + testCronSecret,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Result  struct {
			AccountsSynced int `json:"accounts_synced"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Result.AccountsSynced != 1 {
		t.Fatalf("expected one synced account, got %s", rec.Body.String())
	}

	var account risedomain.Account
	if err := h.db.Where("affiliate_id = ?", affiliate).First(&account).Error; err != nil {
		t.Fatalf("load account: %v", err)
	}
	if account.KYCStatus != risedomain.KYCApproved {
		t.Fatalf("expected APPROVED after sync, got %s", account.KYCStatus)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	h := newServerHarness(t)

	rec := h.do(http.MethodGet, "/admin/batches", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin token, got %d", rec.Code)
	}
}

func TestAdminCreateBatchValidation(t *testing.T) {
	h := newServerHarness(t)
	headers := map[string]string{"X-Admin-Token": testAdminToken}

	// No payable affiliates at all.
	rec := h.do(http.MethodPost, "/admin/batches", []byte(`{}`), headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 with nothing payable, got %d: %s", rec.Code, rec.Body.String())
	}

	// Unknown provider.
	rec = h.do(http.MethodPost, "/admin/batches", []byte(`{"provider":"paypal"}`), headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown provider, got %d", rec.Code)
	}
}

func TestAdminListBatchesStatusFilter(t *testing.T) {
	h := newServerHarness(t)
	headers := map[string]string{"X-Admin-Token": testAdminToken}

	rec := h.do(http.MethodGet, "/admin/batches?status=ARCHIVED", nil, headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown status, got %d: %s", rec.Code, rec.Body.String())
	}

	// Known statuses pass case-insensitively.
	rec = h.do(http.MethodGet, "/admin/batches?status=completed", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a known status, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminPreviewRejectsOutOfRangeFee(t *testing.T) {
	h := newServerHarness(t)
	headers := map[string]string{"X-Admin-Token": testAdminToken}

	affiliate := h.node.Generate()
	h.seedAccount(t, affiliate, risedomain.KYCApproved)
	h.seedCommission(t, affiliate, "25.00", commissiondomain.StatusApproved)

	for _, fee := range []string{"150", "-3"} {
		body := []byte(fmt.Sprintf(`{"fee_percent":%q}`, fee))
		rec := h.do(http.MethodPost, "/admin/batches/preview", body, headers)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("fee %s: expected 400, got %d: %s", fee, rec.Code, rec.Body.String())
		}
		var resp errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("fee %s: decode response: %v", fee, err)
		}
		if resp.Error.Type != payout.ErrInvalidFee.Error() {
			t.Fatalf("fee %s: expected %q error, got %q", fee, payout.ErrInvalidFee, resp.Error.Type)
		}
	}

	// A fee inside the range still previews.
	rec := h.do(http.MethodPost, "/admin/batches/preview", []byte(`{"fee_percent":"2.5"}`), headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an in-range fee, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminBatchLifecycle(t *testing.T) {
	h := newServerHarness(t)
	headers := map[string]string{"X-Admin-Token": testAdminToken}

	affiliate := h.node.Generate()
	h.seedAccount(t, affiliate, risedomain.KYCApproved)
	h.seedCommission(t, affiliate, "80.00", commissiondomain.StatusApproved)

	rec := h.do(http.MethodPost, "/admin/batches", []byte(`{}`), headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Batch struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"batch"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Batch.Status != string(batchdomain.BatchPending) {
		t.Fatalf("expected PENDING batch, got %s", created.Batch.Status)
	}

	rec = h.do(http.MethodGet, "/admin/batches/"+created.Batch.ID, nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("get batch: expected 200, got %d", rec.Code)
	}

	rec = h.do(http.MethodPost, "/admin/batches/"+created.Batch.ID+"/cancel", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel batch: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Cancelled commissions return to the payable pool.
	var commission commissiondomain.Commission
	if err := h.db.Where("affiliate_id = ?", affiliate).First(&commission).Error; err != nil {
		t.Fatalf("load commission: %v", err)
	}
	if commission.TransactionID != nil {
		t.Fatal("expected commission unlinked after cancel")
	}

	// A terminal batch cannot be cancelled twice.
	rec = h.do(http.MethodPost, "/admin/batches/"+created.Batch.ID+"/cancel", nil, headers)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a cancelled batch, got %d", rec.Code)
	}
}

func TestAdminApproveCommission(t *testing.T) {
	h := newServerHarness(t)
	headers := map[string]string{"X-Admin-Token": testAdminToken}

	affiliate := h.node.Generate()
	id := h.seedCommission(t, affiliate, "10.00", commissiondomain.StatusPending)

	rec := h.do(http.MethodPost, fmt.Sprintf("/admin/commissions/%d/approve", id), nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Approving twice conflicts.
	rec = h.do(http.MethodPost, fmt.Sprintf("/admin/commissions/%d/approve", id), nil, headers)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on re-approval, got %d", rec.Code)
	}

	// Unknown commission is a 404.
	rec = h.do(http.MethodPost, fmt.Sprintf("/admin/commissions/%d/approve", h.node.Generate()), nil, headers)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown commission, got %d", rec.Code)
	}
}

func TestAdminLinkRiseAccount(t *testing.T) {
	h := newServerHarness(t)
	headers := map[string]string{
		"X-Admin-Token": testAdminToken,
		"Content-Type":  "application/json",
	}

	affiliate := h.node.Generate()
	body := []byte(fmt.Sprintf(`{"affiliate_id":"%d","email":"pay@example.com"}`, affiliate))

	rec := h.do(http.MethodPost, "/admin/rise-accounts", body, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Linking the same affiliate twice conflicts.
	rec = h.do(http.MethodPost, "/admin/rise-accounts", body, headers)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate link, got %d", rec.Code)
	}

	rec = h.do(http.MethodGet, fmt.Sprintf("/admin/rise-accounts/%d", affiliate), nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAdminListAuditLogs(t *testing.T) {
	h := newServerHarness(t)
	headers := map[string]string{"X-Admin-Token": testAdminToken}

	affiliate := h.node.Generate()
	h.seedAccount(t, affiliate, risedomain.KYCApproved)
	h.seedCommission(t, affiliate, "30.00", commissiondomain.StatusApproved)
	if _, err := h.batchSvc.CreateBatch(context.Background(), batchdomain.CreateBatchRequest{}); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	rec := h.do(http.MethodGet, "/admin/audit-logs?action=batch.created", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data []struct {
			Action string `json:"action"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Action != "batch.created" {
		t.Fatalf("expected one batch.created entry, got %s", rec.Body.String())
	}
}
