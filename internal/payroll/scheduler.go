package payroll

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/horizon-pm/horizon/internal/jobs"
	"github.com/horizon-pm/horizon/internal/shared"
)

// TickLocker serialises scheduler ticks across processes.
type TickLocker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisTickLock implements TickLocker with a redis SET NX advisory lock.
type RedisTickLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisTickLock constructs the lock. The ttl bounds how long a crashed
// tick can block successors.
func NewRedisTickLock(client *redis.Client, ttl time.Duration) *RedisTickLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisTickLock{client: client, key: shared.PayrollTickLockKey, ttl: ttl}
}

// Acquire attempts to take the lock without blocking.
func (l *RedisTickLock) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
}

// Release frees the lock.
func (l *RedisTickLock) Release(ctx context.Context) error {
	return l.client.Del(ctx, l.key).Err()
}

// SchedulerConfig bundles tick policy.
type SchedulerConfig struct {
	CycleSpanDays int
	StuckAfter    time.Duration
}

// Scheduler runs the daily payroll maintenance tick: promote the oldest due
// cycle, keep the timeline gap-free by provisioning the next window, and
// dispatch exactly one settlement job per promotion.
type Scheduler struct {
	svc     *Service
	lock    TickLocker
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	cfg     SchedulerConfig
	now     func() time.Time
}

// NewScheduler constructs a Scheduler.
func NewScheduler(svc *Service, lock TickLocker, logger *slog.Logger, metrics *jobmetrics.Metrics, cfg SchedulerConfig) *Scheduler {
	if cfg.CycleSpanDays <= 0 {
		cfg.CycleSpanDays = 30
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 24 * time.Hour
	}
	return &Scheduler{
		svc:     svc,
		lock:    lock,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Scheduler) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
		s.svc.WithNow(now)
	}
}

// Tick performs one bounded unit of maintenance work. At most one due cycle
// is promoted per run; a backlog drains across successive runs. Errors
// abandon the tick without partial state, to be retried on the next run.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.lock != nil {
		held, err := s.lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if !held {
			s.logger.Info("payroll tick skipped, lock held elsewhere")
			return nil
		}
		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				s.logger.Warn("payroll tick lock release", slog.Any("error", err))
			}
		}()
	}

	today := NormalizeDate(s.now())

	due, err := s.svc.store.FindDue(ctx, today)
	if err != nil {
		return err
	}
	if due == nil {
		s.logger.Info("payroll tick: no cycle due")
		s.sweepStuck(ctx)
		return nil
	}

	if err := s.provisionNext(ctx); err != nil {
		return err
	}

	if err := due.CanPromote(today); err != nil {
		// FindDue filters on pending, so this only trips when another
		// promoter slipped in between the query and the guard.
		s.logger.Warn("payroll tick: due cycle no longer promotable",
			slog.String("cycle_id", due.ID.String()),
			slog.Any("reason", err))
		s.sweepStuck(ctx)
		return nil
	}
	if err := s.svc.promoteAndDispatch(ctx, *due); err != nil {
		return err
	}

	s.sweepStuck(ctx)
	return nil
}

// provisionNext extends the timeline off the anchor cycle. The new window is
// system-provisioned continuation, so manual-entry validation is bypassed;
// the exact-span check keeps repeated ticks from duplicating it.
func (s *Scheduler) provisionNext(ctx context.Context) error {
	anchor, err := s.svc.store.FindAnchor(ctx)
	if err != nil {
		return err
	}
	if anchor == nil {
		return nil
	}
	nextFrom, nextTo := NextWindow(anchor.ToDate, s.cfg.CycleSpanDays)
	exists, err := s.svc.store.ExistsSpan(ctx, nextFrom, NormalizeDate(nextTo))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	created, err := s.svc.store.Create(ctx, nextFrom, nextTo)
	if err != nil {
		return err
	}
	s.logger.Info("payroll cycle provisioned",
		slog.String("cycle_id", created.ID.String()),
		slog.Time("from", created.FromDate),
		slog.Time("to", created.ToDate))
	return nil
}

// sweepStuck surfaces cycles stuck in processing past the bound. There is no
// auto-revert; the gauge makes the condition alertable.
func (s *Scheduler) sweepStuck(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.StuckAfter)
	count, err := s.svc.store.CountStuck(ctx, cutoff)
	if err != nil {
		s.logger.Warn("payroll stuck sweep", slog.Any("error", err))
		return
	}
	if count > 0 {
		s.logger.Error("payroll cycles stuck in processing",
			slog.Int("count", count),
			slog.Duration("older_than", s.cfg.StuckAfter))
	}
	s.metrics.SetStuckCycles(count)
}
