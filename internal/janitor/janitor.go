// Package janitor runs the idle-time maintenance sweeps that keep the
// store from accumulating stale leases and expired tokens: reclaiming
// UpdateJob/RunJob leases whose owner has died mid-heartbeat, pruning
// expired ActionTokens, and periodically flushing the MetricCounter
// table to the log as a cheap liveness signal.
package janitor

import (
	"context"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/telecore/telecore/internal/store"
)

// ActionTokenRetention is how long past expiry a consumed or expired
// ActionToken is kept before PruneExpiredActionTokens deletes its row.
const ActionTokenRetention = 24 * time.Hour

// Config holds the dependencies for the janitor.
type Config struct {
	Store  *store.Store
	Logger *slog.Logger
	// Schedule is a standard 5-field cron expression or a "@every" shorthand,
	// e.g. "@every 1m". Defaults to "@every 1m" if empty.
	Schedule string
	// BotIDs lists the bots whose counters get logged on each sweep.
	BotIDs []string
}

// Janitor wraps a robfig/cron scheduler driving the maintenance sweep.
type Janitor struct {
	store    *store.Store
	logger   *slog.Logger
	botIDs   []string
	schedule string

	cron *cronlib.Cron
}

// New creates a Janitor from the given config.
func New(cfg Config) *Janitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Janitor{
		store:    cfg.Store,
		logger:   logger,
		botIDs:   cfg.BotIDs,
		schedule: schedule,
	}
}

// Start registers the sweep with the cron scheduler and starts it running
// in its own goroutine. Call Stop to shut it down.
func (j *Janitor) Start(ctx context.Context) error {
	j.cron = cronlib.New()
	_, err := j.cron.AddFunc(j.schedule, func() { j.sweep(ctx) })
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("janitor started", "schedule", j.schedule)
	return nil
}

// Stop cancels pending runs and waits for any in-flight sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
	j.logger.Info("janitor stopped")
}

// sweep runs one maintenance pass: lease reclaim, token pruning, counter
// flush. Errors are logged, never fatal — a failed sweep just waits for
// the next tick. A panic anywhere in the pass is caught here so it costs at
// most one missed sweep rather than killing the cron scheduler's goroutine.
func (j *Janitor) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("janitor sweep panicked", "recover", r)
		}
	}()

	if reclaimed, err := j.store.ReclaimExpiredUpdateJobs(ctx); err != nil {
		j.logger.Error("janitor: reclaim update jobs failed", "error", err)
	} else if reclaimed > 0 {
		j.logger.Info("janitor: reclaimed expired update job leases", "count", reclaimed)
	}

	if reclaimed, err := j.store.ReclaimExpiredRunJobs(ctx); err != nil {
		j.logger.Error("janitor: reclaim run jobs failed", "error", err)
	} else if reclaimed > 0 {
		j.logger.Info("janitor: reclaimed expired run job leases", "count", reclaimed)
	}

	if pruned, err := j.store.PruneExpiredActionTokens(ctx, ActionTokenRetention); err != nil {
		j.logger.Error("janitor: prune action tokens failed", "error", err)
	} else if pruned > 0 {
		j.logger.Info("janitor: pruned expired action tokens", "count", pruned)
	}

	for _, botID := range j.botIDs {
		counters, err := j.store.AllCounters(ctx, botID)
		if err != nil {
			j.logger.Error("janitor: counter flush failed", "bot_id", botID, "error", err)
			continue
		}
		j.logger.Info("janitor: counter snapshot", "bot_id", botID, "counters", counters)
	}
}
