package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/disburse/internal/clock"
	"github.com/smallbiznis/disburse/internal/riseaccount/domain"
	"github.com/smallbiznis/disburse/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("riseaccount.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Link(ctx context.Context, affiliateID snowflake.ID, email string) (*domain.Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}

	now := s.clock.Now()
	account := &domain.Account{
		ID:          s.genID.Generate(),
		AffiliateID: affiliateID,
		Email:       email,
		KYCStatus:   domain.KYCPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Insert(ctx, s.db, account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAccountAlreadyLinked
		}
		return nil, err
	}

	s.log.Info("rise account linked",
		zap.String("affiliate_id", affiliateID.String()),
		zap.String("account_id", account.ID.String()),
	)
	return account, nil
}

func (s *Service) Get(ctx context.Context, affiliateID snowflake.ID) (*domain.Account, error) {
	return s.repo.FindByAffiliate(ctx, s.db, affiliateID)
}

func (s *Service) ForAffiliates(ctx context.Context, affiliateIDs []snowflake.ID) (map[snowflake.ID]*domain.Account, error) {
	return s.repo.FindByAffiliates(ctx, s.db, affiliateIDs)
}

func (s *Service) ListAll(ctx context.Context) ([]*domain.Account, error) {
	return s.repo.ListAll(ctx, s.db)
}

func (s *Service) ApplySync(ctx context.Context, account *domain.Account, kycStatus domain.KYCStatus, providerAccountID *string) (bool, error) {
	if account == nil {
		return false, domain.ErrAccountNotFound
	}
	if !domain.ValidKYCStatus(kycStatus) {
		return false, domain.ErrInvalidKYCStatus
	}

	changed := account.KYCStatus != kycStatus
	if providerAccountID != nil {
		current := ""
		if account.ProviderAccountID != nil {
			current = *account.ProviderAccountID
		}
		if strings.TrimSpace(*providerAccountID) != current {
			changed = true
		}
	}

	now := s.clock.Now()
	if _, err := s.repo.UpdateSync(ctx, s.db, account.ID, kycStatus, providerAccountID, now); err != nil {
		return false, err
	}

	if changed {
		s.log.Info("rise account synced",
			zap.String("affiliate_id", account.AffiliateID.String()),
			zap.String("kyc_status", string(kycStatus)),
		)
	}

	account.KYCStatus = kycStatus
	if providerAccountID != nil {
		account.ProviderAccountID = providerAccountID
	}
	account.LastSyncAt = &now
	return changed, nil
}
