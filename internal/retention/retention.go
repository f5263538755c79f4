// Package retention purges soft-deleted messages once they age past the
// configured period, on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/config"
	"chatsync/pkg/history"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
)

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, ret config.RetentionConfig) (context.CancelFunc, error) {
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	period, err := ret.PeriodDuration()
	if err != nil {
		return nil, err
	}
	if period <= 0 {
		return nil, fmt.Errorf("retention enabled but no period configured")
	}

	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", ret.Period)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, period, ret.BatchSize)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until it.
func runScheduler(ctx context.Context, cronExpr string, period time.Duration, batch int) {
	for {
		next, err := gronx.NextTick(cronExpr, false)
		if err != nil {
			logger.Error("retention_next_tick_failed", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		RunOnce(period, batch)
	}
}

// RunOnce performs a single purge pass. Exposed for tests and for admin
// triggers.
func RunOnce(period time.Duration, batch int) {
	cutoff := time.Now().Add(-period).UTC().UnixNano()
	n, err := history.PurgeTombstones(cutoff, batch)
	if err != nil {
		logger.Error("retention_run_failed", "error", err)
		return
	}
	metrics.TombstonesPurged.Add(float64(n))
	logger.Info("retention_run_complete", "purged", n)
}
