package payroll

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidInterval indicates a malformed candidate window.
var ErrInvalidInterval = errors.New("payroll: invalid interval")

// OverlapError rejects a candidate window that intersects an existing cycle.
// It names the conflicting cycle so operators can resolve the clash.
type OverlapError struct {
	ConflictID   uuid.UUID
	ConflictFrom time.Time
	ConflictTo   time.Time
}

func (e *OverlapError) Error() string {
	if e.ConflictID == uuid.Nil {
		return "payroll: interval overlaps an existing cycle"
	}
	return fmt.Sprintf("payroll: interval overlaps cycle %s [%s, %s]",
		e.ConflictID,
		e.ConflictFrom.Format("2006-01-02"),
		e.ConflictTo.Format("2006-01-02"))
}

// StaleCycleError rejects a candidate window starting too far in the past.
type StaleCycleError struct {
	AgeDays int
	MaxDays int
}

func (e *StaleCycleError) Error() string {
	return fmt.Sprintf("payroll: cycle start is %d days old, limit is %d", e.AgeDays, e.MaxDays)
}

// NormalizeDate truncates time-of-day to midnight so it never perturbs
// interval math.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay pins t to the last representable millisecond of its calendar day.
// Auto-provisioned windows store their end date this way.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// Overlaps reports whether two inclusive date intervals intersect:
// [a1,a2] and [b1,b2] overlap iff a1 <= b2 and b1 <= a2. Inputs are
// normalized to midnight before comparison.
func Overlaps(aFrom, aTo, bFrom, bTo time.Time) bool {
	a1, a2 := NormalizeDate(aFrom), NormalizeDate(aTo)
	b1, b2 := NormalizeDate(bFrom), NormalizeDate(bTo)
	return !a1.After(b2) && !b1.After(a2)
}

// CheckBackdate enforces the staleness rule on manual creation: a cycle may
// start in the past, but no more than maxDays before today. Exactly maxDays
// is still accepted.
func CheckBackdate(fromDate, today time.Time, maxDays int) error {
	from := NormalizeDate(fromDate)
	now := NormalizeDate(today)
	if !now.After(from) {
		return nil
	}
	age := int(now.Sub(from).Hours() / 24)
	if age > maxDays {
		return &StaleCycleError{AgeDays: age, MaxDays: maxDays}
	}
	return nil
}

// NextWindow derives the auto-provisioned continuation of the timeline from
// the anchor cycle's end date: starts the following midnight and ends
// spanDays after that start, at end of day. An anchor ending 2024-01-31
// with a 30 day span yields [2024-02-01 00:00, 2024-03-02 23:59:59.999].
func NextWindow(anchorTo time.Time, spanDays int) (from, to time.Time) {
	base := NormalizeDate(anchorTo)
	from = base.AddDate(0, 0, 1)
	to = EndOfDay(from.AddDate(0, 0, spanDays))
	return from, to
}
