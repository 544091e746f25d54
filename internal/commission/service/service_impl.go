package service

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/disburse/internal/clock"
	commissiondomain "github.com/smallbiznis/disburse/internal/commission/domain"
	"github.com/smallbiznis/disburse/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Payout *config.PayoutConfigHolder
	Repo   commissiondomain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	payout *config.PayoutConfigHolder
	repo   commissiondomain.Repository
}

func NewService(p Params) commissiondomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("commission.service"),
		clock:  p.Clock,
		payout: p.Payout,
		repo:   p.Repo,
	}
}

func (s *Service) AggregateFor(ctx context.Context, affiliateID snowflake.ID) (commissiondomain.Aggregate, error) {
	commissions, err := s.repo.ListPayable(ctx, s.db, []snowflake.ID{affiliateID})
	if err != nil {
		return commissiondomain.Aggregate{}, err
	}
	return buildAggregate(affiliateID, commissions, s.payout.Current().MinimumPayout()), nil
}

func (s *Service) AllPayable(ctx context.Context) ([]commissiondomain.Aggregate, error) {
	commissions, err := s.repo.ListPayable(ctx, s.db, nil)
	if err != nil {
		return nil, err
	}

	minimum := s.payout.Current().MinimumPayout()
	grouped := map[snowflake.ID][]*commissiondomain.Commission{}
	for _, commission := range commissions {
		if commission == nil {
			continue
		}
		grouped[commission.AffiliateID] = append(grouped[commission.AffiliateID], commission)
	}

	aggregates := make([]commissiondomain.Aggregate, 0, len(grouped))
	for affiliateID, items := range grouped {
		aggregates = append(aggregates, buildAggregate(affiliateID, items, minimum))
	}
	sort.Slice(aggregates, func(i, j int) bool {
		return aggregates[i].AffiliateID < aggregates[j].AffiliateID
	})
	return aggregates, nil
}

func (s *Service) Approve(ctx context.Context, id snowflake.ID) (*commissiondomain.Commission, error) {
	updated, err := s.repo.Approve(ctx, s.db, id, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !updated {
		// Distinguish a missing commission from one in the wrong state.
		if _, err := s.repo.FindByID(ctx, s.db, id); err != nil {
			return nil, err
		}
		return nil, commissiondomain.ErrNotApprovable
	}

	commission, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("commission approved",
		zap.String("commission_id", id.String()),
		zap.String("affiliate_id", commission.AffiliateID.String()),
	)
	return commission, nil
}

func buildAggregate(affiliateID snowflake.ID, commissions []*commissiondomain.Commission, minimum decimal.Decimal) commissiondomain.Aggregate {
	aggregate := commissiondomain.Aggregate{
		AffiliateID:   affiliateID,
		CommissionIDs: make([]snowflake.ID, 0, len(commissions)),
		TotalAmount:   decimal.Zero,
	}
	for _, commission := range commissions {
		if commission == nil {
			continue
		}
		aggregate.CommissionIDs = append(aggregate.CommissionIDs, commission.ID)
		aggregate.TotalAmount = aggregate.TotalAmount.Add(commission.CommissionAmount)
	}
	aggregate.CommissionCount = len(aggregate.CommissionIDs)

	if aggregate.TotalAmount.GreaterThanOrEqual(minimum) && aggregate.CommissionCount > 0 {
		aggregate.CanPayout = true
		aggregate.Reason = commissiondomain.ReasonReady
	} else {
		aggregate.CanPayout = false
		aggregate.Reason = commissiondomain.ReasonBelowThreshold
	}
	return aggregate
}
