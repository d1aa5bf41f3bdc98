package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/horizon-pm/horizon/internal/shared"
)

// Store is the persistence contract the service depends on. The pgx
// Repository satisfies it; tests substitute an in-memory implementation.
type Store interface {
	Create(ctx context.Context, fromDate, toDate time.Time) (Cycle, error)
	GetByID(ctx context.Context, id uuid.UUID) (Cycle, error)
	List(ctx context.Context, limit, offset int) ([]Cycle, int, error)
	FindOverlapping(ctx context.Context, fromDate, toDate time.Time, excludeID *uuid.UUID) (*Cycle, error)
	FindDue(ctx context.Context, today time.Time) (*Cycle, error)
	FindAnchor(ctx context.Context) (*Cycle, error)
	ExistsSpan(ctx context.Context, fromDate, toDate time.Time) (bool, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, at time.Time) error
	ResetProcessing(ctx context.Context, id uuid.UUID) error
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	UpdateDates(ctx context.Context, id uuid.UUID, fromDate, toDate time.Time) (Cycle, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountStuck(ctx context.Context, before time.Time) (int, error)
}

// ReportJob is the payload handed to the dispatch queue when a cycle is
// promoted: the cycle id plus a full record snapshot for the settlement
// worker.
type ReportJob struct {
	CycleID uuid.UUID     `json:"cycleId"`
	Cycle   CycleSnapshot `json:"cycle"`
}

// CycleSnapshot is the wire form of a cycle at promotion time.
type CycleSnapshot struct {
	ID        uuid.UUID  `json:"id"`
	FromDate  time.Time  `json:"fromDate"`
	ToDate    time.Time  `json:"toDate"`
	State     CycleState `json:"state"`
	AddedDate time.Time  `json:"addedDate"`
}

// Snapshot captures the cycle for queue transport.
func (c Cycle) Snapshot() CycleSnapshot {
	return CycleSnapshot{
		ID:        c.ID,
		FromDate:  c.FromDate,
		ToDate:    c.ToDate,
		State:     c.State,
		AddedDate: c.AddedDate,
	}
}

// Enqueuer places settlement jobs on the background queue. Delivery is
// at-least-once; the service guarantees a single enqueue per promotion.
type Enqueuer interface {
	EnqueuePayrollReport(ctx context.Context, job ReportJob) error
}

// ServiceConfig carries the payroll policy knobs.
type ServiceConfig struct {
	MaxBackdateDays int
	CycleSpanDays   int
}

// Service orchestrates the payroll cycle lifecycle.
type Service struct {
	store    Store
	enqueuer Enqueuer
	logger   *slog.Logger
	cfg      ServiceConfig
	now      func() time.Time
}

// NewService constructs a Service instance.
func NewService(store Store, enqueuer Enqueuer, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.MaxBackdateDays <= 0 {
		cfg.MaxBackdateDays = 60
	}
	if cfg.CycleSpanDays <= 0 {
		cfg.CycleSpanDays = 30
	}
	return &Service{
		store:    store,
		enqueuer: enqueuer,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create validates and inserts a manually entered cycle. The candidate is
// rejected when malformed, older than the backdate window, or overlapping
// any existing cycle in any state.
func (s *Service) Create(ctx context.Context, in CreateCycleInput) (Cycle, error) {
	if err := in.Validate(); err != nil {
		return Cycle{}, err
	}
	today := s.now()
	if err := CheckBackdate(in.FromDate, today, s.cfg.MaxBackdateDays); err != nil {
		return Cycle{}, err
	}
	if err := s.checkOverlap(ctx, in.FromDate, in.ToDate, nil); err != nil {
		return Cycle{}, err
	}
	return s.store.Create(ctx, NormalizeDate(in.FromDate), NormalizeDate(in.ToDate))
}

// Get loads a single cycle.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Cycle, error) {
	return s.store.GetByID(ctx, id)
}

// List returns a page of cycles plus pagination metadata.
func (s *Service) List(ctx context.Context, page, perPage int) ([]Cycle, shared.Pagination, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	cycles, total, err := s.store.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return cycles, shared.NewPagination(page, perPage, total), nil
}

// UpdateDates changes a pending cycle's window. Overlap is re-validated;
// the backdate rule is intentionally not re-applied on update.
func (s *Service) UpdateDates(ctx context.Context, in UpdateCycleInput) (Cycle, error) {
	if err := (CreateCycleInput{FromDate: in.FromDate, ToDate: in.ToDate}).Validate(); err != nil {
		return Cycle{}, err
	}
	cycle, err := s.store.GetByID(ctx, in.ID)
	if err != nil {
		return Cycle{}, err
	}
	if err := cycle.CanUpdate(); err != nil {
		return Cycle{}, err
	}
	if err := s.checkOverlap(ctx, in.FromDate, in.ToDate, &in.ID); err != nil {
		return Cycle{}, err
	}
	return s.store.UpdateDates(ctx, in.ID, NormalizeDate(in.FromDate), NormalizeDate(in.ToDate))
}

// Delete removes a pending cycle. Processing and processed cycles are
// immutable history and cannot be deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	cycle, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := cycle.CanDelete(); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// Process is the operator-initiated promotion path. It enforces the same
// guards as the scheduler before promoting and dispatching.
func (s *Service) Process(ctx context.Context, id uuid.UUID) (Cycle, error) {
	cycle, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Cycle{}, err
	}
	if err := cycle.CanPromote(s.now()); err != nil {
		return Cycle{}, err
	}
	if err := s.promoteAndDispatch(ctx, cycle); err != nil {
		return Cycle{}, err
	}
	return s.store.GetByID(ctx, id)
}

// CompleteCycle is the worker's completion callback, flipping the cycle to
// processed. It is never reachable from a user-facing operation.
func (s *Service) CompleteCycle(ctx context.Context, id uuid.UUID) error {
	if err := s.store.MarkProcessed(ctx, id); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("payroll cycle settled", slog.String("cycle_id", id.String()))
	}
	return nil
}

// promoteAndDispatch flips the cycle to processing and emits exactly one
// settlement job. The conditional update makes the flip race-safe; an
// enqueue failure rolls the flip back so the cycle is never stranded.
func (s *Service) promoteAndDispatch(ctx context.Context, cycle Cycle) error {
	startedAt := s.now()
	if err := s.store.MarkProcessing(ctx, cycle.ID, startedAt); err != nil {
		return err
	}
	cycle.State = StateProcessing
	cycle.ProcessingStartedAt = &startedAt
	if err := s.enqueuer.EnqueuePayrollReport(ctx, ReportJob{CycleID: cycle.ID, Cycle: cycle.Snapshot()}); err != nil {
		if resetErr := s.store.ResetProcessing(ctx, cycle.ID); resetErr != nil && s.logger != nil {
			s.logger.Error("payroll rollback after enqueue failure",
				slog.String("cycle_id", cycle.ID.String()),
				slog.Any("error", resetErr))
		}
		return fmt.Errorf("payroll: dispatch cycle %s: %w", cycle.ID, err)
	}
	if s.logger != nil {
		s.logger.Info("payroll cycle dispatched", slog.String("cycle_id", cycle.ID.String()))
	}
	return nil
}

func (s *Service) checkOverlap(ctx context.Context, fromDate, toDate time.Time, excludeID *uuid.UUID) error {
	conflict, err := s.store.FindOverlapping(ctx, NormalizeDate(fromDate), NormalizeDate(toDate), excludeID)
	if err != nil {
		return err
	}
	if conflict != nil {
		return &OverlapError{
			ConflictID:   conflict.ID,
			ConflictFrom: conflict.FromDate,
			ConflictTo:   conflict.ToDate,
		}
	}
	return nil
}
