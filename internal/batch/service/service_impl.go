package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/disburse/internal/audit/domain"
	batchdomain "github.com/smallbiznis/disburse/internal/batch/domain"
	"github.com/smallbiznis/disburse/internal/clock"
	commissiondomain "github.com/smallbiznis/disburse/internal/commission/domain"
	"github.com/smallbiznis/disburse/internal/config"
	"github.com/smallbiznis/disburse/internal/payout"
	"github.com/smallbiznis/disburse/internal/provider"
	risedomain "github.com/smallbiznis/disburse/internal/riseaccount/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const currency = "USDC"

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Payout         *config.PayoutConfigHolder
	Registry       *provider.Registry
	Repo           batchdomain.Repository
	Commissions    commissiondomain.Service
	CommissionRepo commissiondomain.Repository
	Accounts       risedomain.Service
	Audit          auditdomain.Service
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	payout         *config.PayoutConfigHolder
	registry       *provider.Registry
	repo           batchdomain.Repository
	commissions    commissiondomain.Service
	commissionRepo commissiondomain.Repository
	accounts       risedomain.Service
	audit          auditdomain.Service
}

func NewService(p Params) batchdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("batch.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		payout:         p.Payout,
		registry:       p.Registry,
		repo:           p.Repo,
		commissions:    p.Commissions,
		commissionRepo: p.CommissionRepo,
		accounts:       p.Accounts,
		audit:          p.Audit,
	}
}

func (s *Service) Preview(ctx context.Context, req batchdomain.PreviewRequest) (batchdomain.PreviewResponse, error) {
	aggregates, err := s.collectAggregates(ctx, req.AffiliateIDs)
	if err != nil {
		return batchdomain.PreviewResponse{}, err
	}

	feePercent := s.payout.Current().Fee()
	if req.FeePercent != nil {
		feePercent = *req.FeePercent
	}

	accounts, err := s.accountsFor(ctx, aggregates)
	if err != nil {
		return batchdomain.PreviewResponse{}, err
	}

	resp := batchdomain.PreviewResponse{
		Items:      make([]batchdomain.PreviewItem, 0, len(aggregates)),
		TotalGross: decimal.Zero,
		TotalFee:   decimal.Zero,
		TotalNet:   decimal.Zero,
	}
	for _, aggregate := range aggregates {
		amounts, err := payout.Calculate(aggregate.TotalAmount, feePercent)
		if err != nil {
			return batchdomain.PreviewResponse{}, err
		}
		eligible, reason := resolveEligibility(aggregate, accounts[aggregate.AffiliateID])
		item := batchdomain.PreviewItem{
			AffiliateID:     aggregate.AffiliateID.String(),
			CommissionCount: aggregate.CommissionCount,
			GrossAmount:     amounts.Gross,
			FeeAmount:       amounts.Fee,
			NetAmount:       amounts.Net,
			Eligible:        eligible,
			Reason:          reason,
		}
		resp.Items = append(resp.Items, item)

		if !eligible {
			resp.IneligibleCount++
			continue
		}
		resp.EligibleCount++
		resp.TotalGross = resp.TotalGross.Add(amounts.Gross)
		resp.TotalFee = resp.TotalFee.Add(amounts.Fee)
		resp.TotalNet = resp.TotalNet.Add(amounts.Net)
	}
	return resp, nil
}

func (s *Service) CreateBatch(ctx context.Context, req batchdomain.CreateBatchRequest) (*batchdomain.BatchDetail, error) {
	providerName := strings.ToUpper(strings.TrimSpace(req.Provider))
	if providerName == "" {
		providerName = strings.ToUpper(s.payout.Current().DefaultProvider)
	}
	if !s.registry.ProviderExists(providerName) {
		return nil, batchdomain.ErrInvalidProvider
	}
	if !s.registry.IsProviderAvailable(providerName) {
		return nil, batchdomain.ErrProviderUnavailable
	}

	aggregates, err := s.collectAggregates(ctx, req.AffiliateIDs)
	if err != nil {
		return nil, err
	}
	accounts, err := s.accountsFor(ctx, aggregates)
	if err != nil {
		return nil, err
	}

	eligible := make([]commissiondomain.Aggregate, 0, len(aggregates))
	for _, aggregate := range aggregates {
		if ok, _ := resolveEligibility(aggregate, accounts[aggregate.AffiliateID]); ok {
			eligible = append(eligible, aggregate)
		}
	}
	if len(eligible) == 0 {
		return nil, batchdomain.ErrNoPayableAffiliates
	}

	policy := s.payout.Current()
	if max := policy.MaxBatchSize; max > 0 && len(eligible) > max {
		eligible = eligible[:max]
	}
	feePercent := policy.Fee()

	now := s.clock.Now()
	batch := &batchdomain.PaymentBatch{
		ID:          s.genID.Generate(),
		BatchNumber: newBatchNumber(now),
		Provider:    providerName,
		Status:      batchdomain.BatchPending,
		Currency:    currency,
		CreatedBy:   req.CreatedBy,
		ScheduledAt: &now,
		TotalAmount: decimal.Zero,
		FeeAmount:   decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	transactions := make([]*batchdomain.Transaction, 0, len(eligible))
	commissionIDs := make(map[snowflake.ID][]snowflake.ID, len(eligible))
	for _, aggregate := range eligible {
		amounts, err := payout.Calculate(aggregate.TotalAmount, feePercent)
		if err != nil {
			return nil, err
		}
		tx := &batchdomain.Transaction{
			ID:          s.genID.Generate(),
			BatchID:     batch.ID,
			AffiliateID: aggregate.AffiliateID,
			GrossAmount: amounts.Gross,
			FeeAmount:   amounts.Fee,
			Amount:      amounts.Net,
			Currency:    currency,
			Status:      batchdomain.TxPending,
			Provider:    providerName,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		transactions = append(transactions, tx)
		commissionIDs[tx.ID] = aggregate.CommissionIDs

		batch.TotalAmount = batch.TotalAmount.Add(amounts.Net)
		batch.FeeAmount = batch.FeeAmount.Add(amounts.Fee)
	}
	batch.PaymentCount = len(transactions)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertBatch(ctx, tx, batch); err != nil {
			return err
		}
		for _, transaction := range transactions {
			if err := s.repo.InsertTransaction(ctx, tx, transaction); err != nil {
				return err
			}
			ids := commissionIDs[transaction.ID]
			linked, err := s.commissionRepo.LinkToTransaction(ctx, tx, ids, transaction.ID)
			if err != nil {
				return err
			}
			// A shortfall means a concurrent batch claimed one of the
			// commissions first. Abort the whole batch rather than pay a
			// partial aggregate.
			if linked != int64(len(ids)) {
				return batchdomain.ErrCommissionConflict
			}
		}
		return nil
	})
	if err != nil {
		s.auditBatch(ctx, batch, auditdomain.StatusFailure, map[string]any{"error": err.Error()})
		return nil, err
	}

	s.log.Info("payment batch created",
		zap.String("batch_number", batch.BatchNumber),
		zap.String("provider", providerName),
		zap.Int("payment_count", batch.PaymentCount),
		zap.String("total_amount", batch.TotalAmount.StringFixed(2)),
	)
	s.auditBatch(ctx, batch, auditdomain.StatusSuccess, map[string]any{
		"payment_count": batch.PaymentCount,
		"total_amount":  batch.TotalAmount.StringFixed(2),
		"provider":      providerName,
	})

	counts := map[string]int{string(batchdomain.TxPending): len(transactions)}
	return &batchdomain.BatchDetail{
		Batch:        *batch,
		Transactions: transactions,
		StatusCounts: counts,
	}, nil
}

func (s *Service) GetBatch(ctx context.Context, id snowflake.ID) (*batchdomain.BatchDetail, error) {
	batch, err := s.repo.FindBatchByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	transactions, err := s.repo.ListTransactionsByBatch(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.statusCounts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &batchdomain.BatchDetail{
		Batch:        *batch,
		Transactions: transactions,
		StatusCounts: counts,
	}, nil
}

func (s *Service) ListBatches(ctx context.Context, status batchdomain.BatchStatus, limit int) ([]batchdomain.BatchSummary, error) {
	if status != "" && !batchdomain.ValidStatus(status) {
		return nil, batchdomain.ErrInvalidStatus
	}
	if limit <= 0 {
		limit = 50
	}
	batches, err := s.repo.ListBatches(ctx, s.db, status, limit)
	if err != nil {
		return nil, err
	}

	summaries := make([]batchdomain.BatchSummary, 0, len(batches))
	for _, batch := range batches {
		if batch == nil {
			continue
		}
		counts, err := s.statusCounts(ctx, batch.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, batchdomain.BatchSummary{
			Batch:        *batch,
			StatusCounts: counts,
		})
	}
	return summaries, nil
}

func (s *Service) Statistics(ctx context.Context) (batchdomain.Statistics, error) {
	return s.repo.Statistics(ctx, s.db)
}

func (s *Service) CancelBatch(ctx context.Context, id snowflake.ID) (*batchdomain.PaymentBatch, error) {
	batch, err := s.repo.FindBatchByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if batch.Status.Terminal() {
		return nil, batchdomain.ErrBatchNotCancellable
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		transactions, err := s.repo.ListTransactionsByBatch(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, transaction := range transactions {
			if transaction == nil || transaction.Status.Terminal() {
				continue
			}
			cancelled, err := s.repo.MarkTransactionCancelled(ctx, tx, transaction.ID, now)
			if err != nil {
				return err
			}
			if cancelled {
				if _, err := s.commissionRepo.ReleaseByTransaction(ctx, tx, transaction.ID); err != nil {
					return err
				}
			}
		}
		updated, err := s.repo.UpdateBatchStatus(ctx, tx, id, batch.Status, batchdomain.BatchCancelled, now, nil)
		if err != nil {
			return err
		}
		if !updated {
			return batchdomain.ErrBatchNotCancellable
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditAction(ctx, "batch.cancelled", batch, auditdomain.StatusWarning, nil)
	return s.repo.FindBatchByID(ctx, s.db, id)
}

func (s *Service) RollupBatch(ctx context.Context, id snowflake.ID) (batchdomain.BatchStatus, error) {
	batch, err := s.repo.FindBatchByID(ctx, s.db, id)
	if err != nil {
		return "", err
	}
	if batch.Status.Terminal() {
		return batch.Status, nil
	}

	counts, err := s.statusCounts(ctx, id)
	if err != nil {
		return "", err
	}

	total := 0
	terminal := 0
	failed := counts[string(batchdomain.TxFailed)]
	for status, count := range counts {
		total += count
		if batchdomain.TransactionStatus(status).Terminal() {
			terminal += count
		}
	}
	// Never declare an outcome while any transaction is still in flight.
	if total == 0 || terminal < total {
		return batch.Status, nil
	}

	target := batchdomain.BatchCompleted
	var errorMessage *string
	if failed > 0 {
		target = batchdomain.BatchFailed
		msg := fmt.Sprintf("%d of %d transactions failed", failed, total)
		errorMessage = &msg
	}

	updated, err := s.repo.UpdateBatchStatus(ctx, s.db, id, batch.Status, target, s.clock.Now(), errorMessage)
	if err != nil {
		return "", err
	}
	if !updated {
		// Lost a race with another rollup; report what the row says now.
		current, err := s.repo.FindBatchByID(ctx, s.db, id)
		if err != nil {
			return "", err
		}
		return current.Status, nil
	}

	status := auditdomain.StatusSuccess
	if target == batchdomain.BatchFailed {
		status = auditdomain.StatusFailure
	}
	s.auditAction(ctx, "batch.rolled_up", batch, status, map[string]any{
		"status":       string(target),
		"failed_count": failed,
		"total_count":  total,
	})
	return target, nil
}

func (s *Service) collectAggregates(ctx context.Context, affiliateIDs []snowflake.ID) ([]commissiondomain.Aggregate, error) {
	if len(affiliateIDs) == 0 {
		return s.commissions.AllPayable(ctx)
	}

	aggregates := make([]commissiondomain.Aggregate, 0, len(affiliateIDs))
	for _, affiliateID := range affiliateIDs {
		aggregate, err := s.commissions.AggregateFor(ctx, affiliateID)
		if err != nil {
			return nil, err
		}
		aggregates = append(aggregates, aggregate)
	}
	sort.Slice(aggregates, func(i, j int) bool {
		return aggregates[i].AffiliateID < aggregates[j].AffiliateID
	})
	return aggregates, nil
}

func (s *Service) accountsFor(ctx context.Context, aggregates []commissiondomain.Aggregate) (map[snowflake.ID]*risedomain.Account, error) {
	affiliateIDs := make([]snowflake.ID, 0, len(aggregates))
	for _, aggregate := range aggregates {
		affiliateIDs = append(affiliateIDs, aggregate.AffiliateID)
	}
	return s.accounts.ForAffiliates(ctx, affiliateIDs)
}

func (s *Service) statusCounts(ctx context.Context, batchID snowflake.ID) (map[string]int, error) {
	rows, err := s.repo.CountTransactionsByStatus(ctx, s.db, batchID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[string(row.Status)] = int(row.Count)
	}
	return counts, nil
}

func (s *Service) auditBatch(ctx context.Context, batch *batchdomain.PaymentBatch, status auditdomain.Status, details map[string]any) {
	s.auditAction(ctx, "batch.created", batch, status, details)
}

func (s *Service) auditAction(ctx context.Context, action string, batch *batchdomain.PaymentBatch, status auditdomain.Status, details map[string]any) {
	if s.audit == nil || batch == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["batch_number"] = batch.BatchNumber
	targetID := batch.ID.String()
	_ = s.audit.Record(ctx, auditdomain.Entry{
		Action:     action,
		Status:     status,
		TargetType: "payment_batch",
		TargetID:   &targetID,
		Details:    details,
	})
}

// resolveEligibility layers the account checks on top of the aggregate's
// threshold check.
func resolveEligibility(aggregate commissiondomain.Aggregate, account *risedomain.Account) (bool, string) {
	if !aggregate.CanPayout {
		return false, commissiondomain.ReasonBelowThreshold
	}
	if account == nil {
		return false, commissiondomain.ReasonNoRiseAccount
	}
	if !account.Payable() {
		return false, commissiondomain.ReasonKYCPending
	}
	return true, commissiondomain.ReasonReady
}

// newBatchNumber yields a unique, time-sortable human-readable identifier.
func newBatchNumber(at time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy())
	return "PAY-" + id.String()
}
