package riseaccount

import (
	"github.com/smallbiznis/disburse/internal/riseaccount/repository"
	"github.com/smallbiznis/disburse/internal/riseaccount/service"
	"go.uber.org/fx"
)

var Module = fx.Module("riseaccount.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
