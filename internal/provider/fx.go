package provider

import (
	"github.com/smallbiznis/disburse/internal/config"
	"github.com/smallbiznis/disburse/internal/provider/mock"
	"github.com/smallbiznis/disburse/internal/provider/rise"
	"go.uber.org/fx"
)

var Module = fx.Module("provider",
	fx.Provide(provideRegistry),
)

func provideRegistry(cfg config.Config) *Registry {
	return NewRegistry(cfg,
		mock.NewFactory(),
		rise.NewFactory(),
	)
}
