package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/horizon-pm/horizon/internal/jobs"
	"github.com/horizon-pm/horizon/internal/payroll"
)

// Calculator performs the actual payroll computation for one cycle. The
// implementation lives outside this service; it must be idempotent because
// queue delivery is at-least-once.
type Calculator interface {
	PrepareReport(ctx context.Context, cycle payroll.CycleSnapshot) error
}

// CalculatorFunc adapts a function to the Calculator interface.
type CalculatorFunc func(ctx context.Context, cycle payroll.CycleSnapshot) error

// PrepareReport implements Calculator.
func (f CalculatorFunc) PrepareReport(ctx context.Context, cycle payroll.CycleSnapshot) error {
	return f(ctx, cycle)
}

// Completer receives the settlement completion report. The payroll service
// satisfies it.
type Completer interface {
	CompleteCycle(ctx context.Context, id uuid.UUID) error
}

// SettlementJob consumes payroll:prepareReport tasks: run the external
// calculation for the cycle snapshot, then report completion so the cycle
// flips to processed.
type SettlementJob struct {
	calculator Calculator
	completer  Completer
	logger     *slog.Logger
	metrics    *jobmetrics.Metrics
}

// NewSettlementJob constructs the consumer.
func NewSettlementJob(calculator Calculator, completer Completer, logger *slog.Logger, metrics *jobmetrics.Metrics) *SettlementJob {
	return &SettlementJob{
		calculator: calculator,
		completer:  completer,
		logger:     logger,
		metrics:    metrics,
	}
}

// Handle processes one settlement task.
func (j *SettlementJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("payroll_settlement")

	var job payroll.ReportJob
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		j.logger.Error("payroll settlement payload", slog.Any("error", err))
		_ = tracker.End(err)
		return asynq.SkipRetry
	}

	if err := j.calculator.PrepareReport(ctx, job.Cycle); err != nil {
		j.logger.Error("payroll report preparation",
			slog.String("cycle_id", job.CycleID.String()),
			slog.Any("error", err))
		return tracker.End(fmt.Errorf("prepare report for cycle %s: %w", job.CycleID, err))
	}

	if err := j.completer.CompleteCycle(ctx, job.CycleID); err != nil {
		return tracker.End(fmt.Errorf("complete cycle %s: %w", job.CycleID, err))
	}

	j.logger.Info("payroll settlement completed", slog.String("cycle_id", job.CycleID.String()))
	return tracker.End(nil)
}
