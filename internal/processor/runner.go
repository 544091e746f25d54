package processor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunnerConfig controls the worker loop intervals.
type RunnerConfig struct {
	DisbursementInterval time.Duration
	SyncInterval         time.Duration
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		DisbursementInterval: time.Hour,
		SyncInterval:         6 * time.Hour,
	}
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	defaults := DefaultRunnerConfig()
	if c.DisbursementInterval <= 0 {
		c.DisbursementInterval = defaults.DisbursementInterval
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = defaults.SyncInterval
	}
	return c
}

// RunForever drives the payout pipeline on a fixed cadence for deployments
// without an external cron. The distributed lock keeps it safe to run next to
// the HTTP cron endpoints.
func (s *Processor) RunForever(ctx context.Context, cfg RunnerConfig) {
	cfg = cfg.withDefaults()

	disburse := time.NewTicker(cfg.DisbursementInterval)
	defer disburse.Stop()
	sync := time.NewTicker(cfg.SyncInterval)
	defer sync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-disburse.C:
			result, err := s.ProcessAutomatedDisbursements(ctx)
			if err != nil {
				s.log.Warn("disbursement run failed", zap.Error(err))
			} else if !result.Success {
				s.log.Warn("disbursement run completed with errors",
					zap.Strings("errors", result.Errors))
			}
		case <-sync.C:
			result, err := s.SyncRiseAccounts(ctx)
			if err != nil {
				s.log.Warn("rise sync failed", zap.Error(err))
			} else if !result.Success {
				s.log.Warn("rise sync completed with errors",
					zap.Strings("errors", result.Errors))
			}
		}
	}
}
