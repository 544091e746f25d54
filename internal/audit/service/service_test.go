package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/disburse/internal/audit/domain"
	auditrepository "github.com/smallbiznis/disburse/internal/audit/repository"
	auditcontext "github.com/smallbiznis/disburse/internal/auditcontext"
	"github.com/smallbiznis/disburse/internal/clock"
	"github.com/smallbiznis/disburse/pkg/db/pagination"
)

type harness struct {
	db  *gorm.DB
	clk *clock.FakeClock
	svc auditdomain.Service
}

func newHarness(t *testing.T) *harness {
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

	err = db.Exec(`CREATE TABLE audit_logs (
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
	)`).Error
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})

	return &harness{db: db, clk: clk, svc: svc}
}

func (h *harness) record(t *testing.T, entry auditdomain.Entry) {
	t.Helper()
	if err := h.svc.Record(context.Background(), entry); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestRecordDefaultsAndMasking(t *testing.T) {
	h := newHarness(t)

	h.record(t, auditdomain.Entry{
		Action: "webhook.received",
		Status: auditdomain.StatusSuccess,
		Details: map[string]any{
			"signature": "whsec_abcdef123456",
			"provider":  "RISE",
		},
	})

	var stored auditdomain.AuditLog
	if err := h.db.First(&stored).Error; err != nil {
		t.Fatalf("load audit log: %v", err)
	}
	if stored.ActorType != string(auditdomain.ActorTypeSystem) {
		t.Fatalf("expected system actor default, got %q", stored.ActorType)
	}
	if stored.TargetType != "unknown" {
		t.Fatalf("expected unknown target type default, got %q", stored.TargetType)
	}
	if got, _ := stored.Details["provider"].(string); got != "RISE" {
		t.Fatalf("expected provider detail untouched, got %q", got)
	}
	masked, _ := stored.Details["signature"].(string)
	if masked == "whsec_abcdef123456" {
		t.Fatal("expected signature masked")
	}
	if masked != "whsec_****3456" {
		t.Fatalf("unexpected masked signature %q", masked)
	}
}

func TestRecordUsesContextActor(t *testing.T) {
	h := newHarness(t)

	ctx := auditcontext.WithActor(context.Background(), "admin", "ops-1")
	if err := h.svc.Record(ctx, auditdomain.Entry{
		Action: "batch.cancelled",
		Status: auditdomain.StatusWarning,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	var stored auditdomain.AuditLog
	if err := h.db.First(&stored).Error; err != nil {
		t.Fatalf("load audit log: %v", err)
	}
	if stored.ActorType != "admin" {
		t.Fatalf("expected admin actor, got %q", stored.ActorType)
	}
	if stored.ActorID == nil || *stored.ActorID != "ops-1" {
		t.Fatalf("expected actor id ops-1, got %v", stored.ActorID)
	}
}

func TestRecordValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.Record(ctx, auditdomain.Entry{Action: "  "}); err != auditdomain.ErrInvalidAction {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	if err := h.svc.Record(ctx, auditdomain.Entry{
		Action: "batch.created",
		Status: auditdomain.Status("BOGUS"),
	}); err != auditdomain.ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 3; i++ {
		h.record(t, auditdomain.Entry{
			Action:     "disbursement.run",
			Status:     auditdomain.StatusSuccess,
			TargetType: "payment_batch",
		})
		h.clk.Advance(time.Minute)
	}
	h.record(t, auditdomain.Entry{
		Action:     "rise.sync",
		Status:     auditdomain.StatusWarning,
		TargetType: "rise_account",
	})

	// Action filter.
	resp, err := h.svc.List(context.Background(), auditdomain.ListAuditLogRequest{
		Action: "rise.sync",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.AuditLogs) != 1 || resp.AuditLogs[0].Action != "rise.sync" {
		t.Fatalf("expected one rise.sync entry, got %d", len(resp.AuditLogs))
	}

	// Cursor pagination, newest first.
	first, err := h.svc.List(context.Background(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		Action:     "disbursement.run",
	})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(first.AuditLogs) != 2 {
		t.Fatalf("expected 2 entries on first page, got %d", len(first.AuditLogs))
	}
	if !first.PageInfo.HasMore || first.PageInfo.NextPageToken == "" {
		t.Fatalf("expected more pages, got %+v", first.PageInfo)
	}
	if first.AuditLogs[0].CreatedAt.Before(first.AuditLogs[1].CreatedAt) {
		t.Fatal("expected newest entry first")
	}

	second, err := h.svc.List(context.Background(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{
			PageToken: first.PageInfo.NextPageToken,
			PageSize:  2,
		},
		Action: "disbursement.run",
	})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.AuditLogs) != 1 {
		t.Fatalf("expected 1 entry on second page, got %d", len(second.AuditLogs))
	}
	if second.AuditLogs[0].ID == first.AuditLogs[0].ID || second.AuditLogs[0].ID == first.AuditLogs[1].ID {
		t.Fatal("expected second page to hold the remaining entry")
	}
}

func TestListRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "not-base64!"},
	}); err != auditdomain.ErrInvalidPageToken {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}

	start := h.clk.Now()
	end := start.Add(-time.Hour)
	if _, err := h.svc.List(ctx, auditdomain.ListAuditLogRequest{
		StartAt: &start,
		EndAt:   &end,
	}); err != auditdomain.ErrInvalidTimeRange {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}
}
