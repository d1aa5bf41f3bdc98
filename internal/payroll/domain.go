package payroll

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CycleState enumerates the payroll cycle lifecycle stages.
type CycleState string

const (
	StatePending    CycleState = "PENDING"
	StateProcessing CycleState = "PROCESSING"
	StateProcessed  CycleState = "PROCESSED"
)

// Cycle defines one payroll settlement period. FromDate and ToDate form an
// inclusive interval; interval math always runs on midnight-normalized dates.
type Cycle struct {
	ID                  uuid.UUID
	FromDate            time.Time
	ToDate              time.Time
	State               CycleState
	ProcessingStartedAt *time.Time
	AddedDate           time.Time
}

// ErrIllegalFlagState is returned when storage reports a cycle as both
// processed and processing. The enum makes the combination unrepresentable
// in domain logic; a row carrying it is corrupt.
var ErrIllegalFlagState = errors.New("payroll: cycle flagged both processed and processing")

// StateFromFlags maps the persisted flag pair onto the lifecycle enum.
func StateFromFlags(processed, processing bool) (CycleState, error) {
	switch {
	case processed && processing:
		return "", ErrIllegalFlagState
	case processed:
		return StateProcessed, nil
	case processing:
		return StateProcessing, nil
	default:
		return StatePending, nil
	}
}

// Flags converts the lifecycle enum back to the persisted flag pair.
func (s CycleState) Flags() (processed, processing bool) {
	switch s {
	case StateProcessed:
		return true, false
	case StateProcessing:
		return false, true
	default:
		return false, false
	}
}

// State guard errors, surfaced verbatim to operators.
var (
	ErrCycleNotFound      = errors.New("payroll: cycle not found")
	ErrCycleProcessed     = errors.New("payroll: cycle already processed")
	ErrCycleProcessing    = errors.New("payroll: cycle currently processing")
	ErrCycleNotProcessing = errors.New("payroll: cycle is not processing")
	ErrPayDateNotReached  = errors.New("payroll: pay date not yet reached")
	ErrCycleNotDeletable  = errors.New("payroll: cannot delete processed/processing cycle")
	ErrCycleNotEditable   = errors.New("payroll: cannot update processed/processing cycle")
)

// CanPromote reports whether the cycle may move to processing. Promotion
// requires a pending cycle whose pay window has fully elapsed, meaning today
// is at least one day past the cycle's end date.
func (c Cycle) CanPromote(today time.Time) error {
	switch c.State {
	case StateProcessed:
		return ErrCycleProcessed
	case StateProcessing:
		return ErrCycleProcessing
	}
	if NormalizeDate(today).Before(NormalizeDate(c.ToDate).AddDate(0, 0, 1)) {
		return ErrPayDateNotReached
	}
	return nil
}

// CanDelete permits deletion only while the cycle is pending.
func (c Cycle) CanDelete() error {
	if c.State != StatePending {
		return ErrCycleNotDeletable
	}
	return nil
}

// CanUpdate permits date changes only while the cycle is pending.
func (c Cycle) CanUpdate() error {
	if c.State != StatePending {
		return ErrCycleNotEditable
	}
	return nil
}

// CreateCycleInput carries a manually entered cycle window.
type CreateCycleInput struct {
	FromDate time.Time
	ToDate   time.Time
}

// Validate checks the window is well formed before interval rules run.
func (in CreateCycleInput) Validate() error {
	if in.FromDate.IsZero() || in.ToDate.IsZero() {
		return fmt.Errorf("%w: from and to dates required", ErrInvalidInterval)
	}
	if NormalizeDate(in.FromDate).After(NormalizeDate(in.ToDate)) {
		return fmt.Errorf("%w: from date after to date", ErrInvalidInterval)
	}
	return nil
}

// UpdateCycleInput carries a date change for a pending cycle.
type UpdateCycleInput struct {
	ID       uuid.UUID
	FromDate time.Time
	ToDate   time.Time
}
