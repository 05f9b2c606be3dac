// Package retention is the archival hook of the pipeline. The core never
// deletes events or groups; the only data it ages out itself is the
// idempotency records, and this hook is where an external retention
// policy can attach additional jobs.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/error-pipeline/internal/adapter/metrics"
	"github.com/user/error-pipeline/internal/domain"
)

// Runner schedules retention jobs.
type Runner struct {
	cron    *cron.Cron
	groups  domain.GroupStore
	metrics *metrics.PipelineMetrics
	logger  *slog.Logger
}

func NewRunner(groups domain.GroupStore, m *metrics.PipelineMetrics, logger *slog.Logger) *Runner {
	return &Runner{
		cron:    cron.New(),
		groups:  groups,
		metrics: m,
		logger:  logger.With("component", "retention"),
	}
}

// Start registers the idempotency-record pruning job on the given cron
// schedule and launches the scheduler.
func (r *Runner) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, r.pruneIdentities)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// AddJob attaches an external retention job to the scheduler.
func (r *Runner) AddJob(schedule string, job func()) error {
	_, err := r.cron.AddFunc(schedule, job)
	return err
}

// Stop halts the scheduler and waits for running jobs.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Runner) pruneIdentities() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pruned, err := r.groups.PruneExpiredIdentities(ctx, time.Now().UTC())
	if err != nil {
		r.logger.Error("failed to prune idempotency records", "error", err)
		return
	}
	if pruned > 0 {
		r.logger.Info("pruned expired idempotency records", "count", pruned)
		if r.metrics != nil {
			r.metrics.IdentitiesPruned.Add(float64(pruned))
		}
	}
}
