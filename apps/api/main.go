package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/disburse/internal/audit"
	"github.com/smallbiznis/disburse/internal/batch"
	"github.com/smallbiznis/disburse/internal/clock"
	"github.com/smallbiznis/disburse/internal/commission"
	"github.com/smallbiznis/disburse/internal/config"
	"github.com/smallbiznis/disburse/internal/migration"
	"github.com/smallbiznis/disburse/internal/observability"
	"github.com/smallbiznis/disburse/internal/processor"
	"github.com/smallbiznis/disburse/internal/provider"
	"github.com/smallbiznis/disburse/internal/ratelimit"
	"github.com/smallbiznis/disburse/internal/riseaccount"
	"github.com/smallbiznis/disburse/internal/server"
	"github.com/smallbiznis/disburse/internal/webhook"
	"github.com/smallbiznis/disburse/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Disbursement domain
		audit.Module,
		commission.Module,
		riseaccount.Module,
		provider.Module,
		batch.Module,
		webhook.Module,
		ratelimit.Module,
		processor.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
