package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// AggregateFor builds the payout candidate for one affiliate.
	AggregateFor(ctx context.Context, affiliateID snowflake.ID) (Aggregate, error)
	// AllPayable builds payout candidates for every affiliate holding payable
	// commissions. Read-only; safe to call repeatedly.
	AllPayable(ctx context.Context) ([]Aggregate, error)
	// Approve moves a PENDING commission to APPROVED.
	Approve(ctx context.Context, id snowflake.ID) (*Commission, error)
}

var (
	ErrCommissionNotFound = errors.New("commission_not_found")
	ErrNotApprovable      = errors.New("commission_not_approvable")
)
