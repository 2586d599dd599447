// Package scheduler runs DocFinder's periodic maintenance jobs.
//
// Jobs are registered with standard 5-field cron expressions or the
// @every/@hourly descriptors and run with panic recovery.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// InboundPruner deletes webhook dedup records older than a cutoff.
type InboundPruner interface {
	PruneInbound(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneInboundJob returns a job that drops dedup records older than retention.
func PruneInboundJob(pruner InboundPruner, retention time.Duration, timeout time.Duration) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		cutoff := time.Now().Add(-retention)
		n, err := pruner.PruneInbound(ctx, cutoff)
		if err != nil {
			slog.Error("scheduler.PruneInboundJob: prune failed", "error", err, "cutoff", cutoff)
			return
		}
		slog.Debug("scheduler.PruneInboundJob: pruned", "removed", n, "cutoff", cutoff)
	}
}
