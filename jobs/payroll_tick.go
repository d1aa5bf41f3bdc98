package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/horizon-pm/horizon/internal/jobs"
	"github.com/horizon-pm/horizon/internal/payroll"
)

// NewTickHandler adapts the payroll scheduler's tick to an Asynq handler so
// the cron scheduler can drive it.
func NewTickHandler(scheduler *payroll.Scheduler, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("payroll_cycle_tick")
		return tracker.End(scheduler.Tick(ctx))
	}
}
