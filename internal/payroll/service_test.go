package payroll

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	cycles  map[uuid.UUID]*Cycle
	deleted map[uuid.UUID]bool
	order   []uuid.UUID
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		cycles:  make(map[uuid.UUID]*Cycle),
		deleted: make(map[uuid.UUID]bool),
	}
}

func (m *memoryStore) seed(c Cycle) uuid.UUID {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.State == "" {
		c.State = StatePending
	}
	m.cycles[c.ID] = &c
	m.order = append(m.order, c.ID)
	return c.ID
}

func (m *memoryStore) live() []*Cycle {
	out := make([]*Cycle, 0, len(m.order))
	for _, id := range m.order {
		if !m.deleted[id] {
			out = append(out, m.cycles[id])
		}
	}
	return out
}

func (m *memoryStore) Create(ctx context.Context, fromDate, toDate time.Time) (Cycle, error) {
	c := Cycle{
		ID:        uuid.New(),
		FromDate:  fromDate,
		ToDate:    toDate,
		State:     StatePending,
		AddedDate: time.Now(),
	}
	m.cycles[c.ID] = &c
	m.order = append(m.order, c.ID)
	return c, nil
}

func (m *memoryStore) GetByID(ctx context.Context, id uuid.UUID) (Cycle, error) {
	c, ok := m.cycles[id]
	if !ok || m.deleted[id] {
		return Cycle{}, ErrCycleNotFound
	}
	return *c, nil
}

func (m *memoryStore) List(ctx context.Context, limit, offset int) ([]Cycle, int, error) {
	live := m.live()
	sort.Slice(live, func(i, j int) bool { return live[i].FromDate.After(live[j].FromDate) })
	total := len(live)
	if offset >= len(live) {
		return nil, total, nil
	}
	live = live[offset:]
	if limit < len(live) {
		live = live[:limit]
	}
	out := make([]Cycle, 0, len(live))
	for _, c := range live {
		out = append(out, *c)
	}
	return out, total, nil
}

func (m *memoryStore) FindOverlapping(ctx context.Context, fromDate, toDate time.Time, excludeID *uuid.UUID) (*Cycle, error) {
	for _, c := range m.live() {
		if excludeID != nil && c.ID == *excludeID {
			continue
		}
		if Overlaps(c.FromDate, c.ToDate, fromDate, toDate) {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) FindDue(ctx context.Context, today time.Time) (*Cycle, error) {
	var due *Cycle
	for _, c := range m.live() {
		if c.State != StatePending {
			continue
		}
		if !NormalizeDate(c.ToDate).Before(NormalizeDate(today)) {
			continue
		}
		if due == nil || NormalizeDate(c.ToDate).Before(NormalizeDate(due.ToDate)) {
			due = c
		}
	}
	if due == nil {
		return nil, nil
	}
	copied := *due
	return &copied, nil
}

func (m *memoryStore) FindAnchor(ctx context.Context) (*Cycle, error) {
	var anchor *Cycle
	for _, c := range m.live() {
		if anchor == nil || NormalizeDate(c.ToDate).After(NormalizeDate(anchor.ToDate)) {
			anchor = c
		}
	}
	if anchor == nil {
		return nil, nil
	}
	copied := *anchor
	return &copied, nil
}

func (m *memoryStore) ExistsSpan(ctx context.Context, fromDate, toDate time.Time) (bool, error) {
	for _, c := range m.live() {
		if NormalizeDate(c.FromDate).Equal(NormalizeDate(fromDate)) &&
			NormalizeDate(c.ToDate).Equal(NormalizeDate(toDate)) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) MarkProcessing(ctx context.Context, id uuid.UUID, at time.Time) error {
	c, ok := m.cycles[id]
	if !ok || m.deleted[id] {
		return ErrCycleNotFound
	}
	switch c.State {
	case StateProcessed:
		return ErrCycleProcessed
	case StateProcessing:
		return ErrCycleProcessing
	}
	c.State = StateProcessing
	started := at
	c.ProcessingStartedAt = &started
	return nil
}

func (m *memoryStore) ResetProcessing(ctx context.Context, id uuid.UUID) error {
	c, ok := m.cycles[id]
	if !ok || m.deleted[id] || c.State != StateProcessing {
		return nil
	}
	c.State = StatePending
	c.ProcessingStartedAt = nil
	return nil
}

func (m *memoryStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	c, ok := m.cycles[id]
	if !ok || m.deleted[id] {
		return ErrCycleNotFound
	}
	switch c.State {
	case StateProcessed:
		return ErrCycleProcessed
	case StatePending:
		return ErrCycleNotProcessing
	}
	c.State = StateProcessed
	return nil
}

func (m *memoryStore) UpdateDates(ctx context.Context, id uuid.UUID, fromDate, toDate time.Time) (Cycle, error) {
	c, ok := m.cycles[id]
	if !ok || m.deleted[id] || c.State != StatePending {
		return Cycle{}, ErrCycleNotEditable
	}
	c.FromDate = fromDate
	c.ToDate = toDate
	return *c, nil
}

func (m *memoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	c, ok := m.cycles[id]
	if !ok || m.deleted[id] || c.State != StatePending {
		return ErrCycleNotDeletable
	}
	m.deleted[id] = true
	return nil
}

func (m *memoryStore) CountStuck(ctx context.Context, before time.Time) (int, error) {
	count := 0
	for _, c := range m.live() {
		if c.State == StateProcessing && c.ProcessingStartedAt != nil && c.ProcessingStartedAt.Before(before) {
			count++
		}
	}
	return count, nil
}

type fakeEnqueuer struct {
	jobs []ReportJob
	err  error
}

func (f *fakeEnqueuer) EnqueuePayrollReport(ctx context.Context, job ReportJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(store Store, enq Enqueuer, today time.Time) *Service {
	svc := NewService(store, enq, testLogger(), ServiceConfig{MaxBackdateDays: 60, CycleSpanDays: 30})
	svc.WithNow(func() time.Time { return today })
	return svc
}

func TestCreateRejectsOverlap(t *testing.T) {
	store := newMemoryStore()
	existingID := store.seed(Cycle{FromDate: date(2024, 1, 1), ToDate: date(2024, 1, 31)})
	svc := newTestService(store, &fakeEnqueuer{}, date(2024, 1, 10))

	_, err := svc.Create(context.Background(), CreateCycleInput{
		FromDate: date(2024, 1, 15),
		ToDate:   date(2024, 2, 15),
	})
	var overlapErr *OverlapError
	require.ErrorAs(t, err, &overlapErr)
	require.Equal(t, existingID, overlapErr.ConflictID)
}

func TestCreateAcceptsAdjacentWindow(t *testing.T) {
	store := newMemoryStore()
	store.seed(Cycle{FromDate: date(2024, 1, 1), ToDate: date(2024, 1, 31)})
	svc := newTestService(store, &fakeEnqueuer{}, date(2024, 2, 1))

	cycle, err := svc.Create(context.Background(), CreateCycleInput{
		FromDate: date(2024, 2, 1),
		ToDate:   date(2024, 2, 28),
	})
	require.NoError(t, err)
	require.Equal(t, StatePending, cycle.State)
	require.Equal(t, date(2024, 2, 1), cycle.FromDate)
}

func TestCreateBackdateBoundary(t *testing.T) {
	today := date(2024, 3, 1)

	store := newMemoryStore()
	svc := newTestService(store, &fakeEnqueuer{}, today)
	_, err := svc.Create(context.Background(), CreateCycleInput{
		FromDate: today.AddDate(0, 0, -60),
		ToDate:   today.AddDate(0, 0, -31),
	})
	require.NoError(t, err, "exactly 60 days back must pass")

	store = newMemoryStore()
	svc = newTestService(store, &fakeEnqueuer{}, today)
	_, err = svc.Create(context.Background(), CreateCycleInput{
		FromDate: today.AddDate(0, 0, -61),
		ToDate:   today.AddDate(0, 0, -31),
	})
	var staleErr *StaleCycleError
	require.ErrorAs(t, err, &staleErr)
	require.Equal(t, 61, staleErr.AgeDays)
}

func TestCreateRejectsInvertedWindow(t *testing.T) {
	svc := newTestService(newMemoryStore(), &fakeEnqueuer{}, date(2024, 1, 1))
	_, err := svc.Create(context.Background(), CreateCycleInput{
		FromDate: date(2024, 2, 1),
		ToDate:   date(2024, 1, 1),
	})
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestCreateNormalizesTimeOfDay(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, &fakeEnqueuer{}, date(2024, 1, 1))

	cycle, err := svc.Create(context.Background(), CreateCycleInput{
		FromDate: time.Date(2024, 1, 1, 13, 45, 12, 0, time.UTC),
		ToDate:   time.Date(2024, 1, 31, 1, 2, 3, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, date(2024, 1, 1), cycle.FromDate)
	require.Equal(t, date(2024, 1, 31), cycle.ToDate)
}

func TestUpdateDatesGuardsAndOverlap(t *testing.T) {
	store := newMemoryStore()
	pendingID := store.seed(Cycle{FromDate: date(2024, 3, 1), ToDate: date(2024, 3, 31)})
	store.seed(Cycle{FromDate: date(2024, 4, 1), ToDate: date(2024, 4, 30)})
	processedID := store.seed(Cycle{FromDate: date(2024, 1, 1), ToDate: date(2024, 1, 31), State: StateProcessed})
	svc := newTestService(store, &fakeEnqueuer{}, date(2024, 3, 10))

	_, err := svc.UpdateDates(context.Background(), UpdateCycleInput{
		ID: processedID, FromDate: date(2024, 5, 1), ToDate: date(2024, 5, 31),
	})
	require.ErrorIs(t, err, ErrCycleNotEditable)

	_, err = svc.UpdateDates(context.Background(), UpdateCycleInput{
		ID: pendingID, FromDate: date(2024, 4, 15), ToDate: date(2024, 5, 15),
	})
	var overlapErr *OverlapError
	require.ErrorAs(t, err, &overlapErr)

	// Shrinking within its own window only "overlaps" itself, which is excluded.
	updated, err := svc.UpdateDates(context.Background(), UpdateCycleInput{
		ID: pendingID, FromDate: date(2024, 3, 5), ToDate: date(2024, 3, 25),
	})
	require.NoError(t, err)
	require.Equal(t, date(2024, 3, 5), updated.FromDate)
}

func TestDeleteOnlyPending(t *testing.T) {
	store := newMemoryStore()
	pendingID := store.seed(Cycle{FromDate: date(2024, 3, 1), ToDate: date(2024, 3, 31)})
	processingID := store.seed(Cycle{FromDate: date(2024, 1, 1), ToDate: date(2024, 1, 31), State: StateProcessing})
	processedID := store.seed(Cycle{FromDate: date(2023, 12, 1), ToDate: date(2023, 12, 31), State: StateProcessed})
	svc := newTestService(store, &fakeEnqueuer{}, date(2024, 3, 10))

	require.ErrorIs(t, svc.Delete(context.Background(), processingID), ErrCycleNotDeletable)
	require.ErrorIs(t, svc.Delete(context.Background(), processedID), ErrCycleNotDeletable)
	require.NoError(t, svc.Delete(context.Background(), pendingID))

	_, err := svc.Get(context.Background(), pendingID)
	require.ErrorIs(t, err, ErrCycleNotFound)
}

func TestProcessGuards(t *testing.T) {
	store := newMemoryStore()
	id := store.seed(Cycle{FromDate: date(2024, 1, 1), ToDate: date(2024, 1, 31)})

	svc := newTestService(store, &fakeEnqueuer{}, date(2024, 1, 31))
	_, err := svc.Process(context.Background(), id)
	require.ErrorIs(t, err, ErrPayDateNotReached)

	enq := &fakeEnqueuer{}
	svc = newTestService(store, enq, date(2024, 2, 1))
	cycle, err := svc.Process(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StateProcessing, cycle.State)
	require.Len(t, enq.jobs, 1)
	require.Equal(t, id, enq.jobs[0].CycleID)
	require.Equal(t, StateProcessing, enq.jobs[0].Cycle.State)

	_, err = svc.Process(context.Background(), id)
	require.ErrorIs(t, err, ErrCycleProcessing)

	require.NoError(t, svc.CompleteCycle(context.Background(), id))
	_, err = svc.Process(context.Background(), id)
	require.ErrorIs(t, err, ErrCycleProcessed)
}

func TestProcessRollsBackWhenEnqueueFails(t *testing.T) {
	store := newMemoryStore()
	id := store.seed(Cycle{FromDate: date(2024, 1, 1), ToDate: date(2024, 1, 31)})
	enq := &fakeEnqueuer{err: errors.New("queue unavailable")}
	svc := newTestService(store, enq, date(2024, 2, 5))

	_, err := svc.Process(context.Background(), id)
	require.Error(t, err)

	cycle, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatePending, cycle.State, "cycle must not be stranded in processing")
	require.Nil(t, cycle.ProcessingStartedAt)
}

func TestCompleteCycleRequiresProcessing(t *testing.T) {
	store := newMemoryStore()
	id := store.seed(Cycle{FromDate: date(2024, 1, 1), ToDate: date(2024, 1, 31)})
	svc := newTestService(store, &fakeEnqueuer{}, date(2024, 2, 5))

	// Still pending: completion is premature, not a repeat.
	require.ErrorIs(t, svc.CompleteCycle(context.Background(), id), ErrCycleNotProcessing)

	_, err := svc.Process(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, svc.CompleteCycle(context.Background(), id))

	// A duplicate completion report and an unknown cycle are distinct failures.
	require.ErrorIs(t, svc.CompleteCycle(context.Background(), id), ErrCycleProcessed)
	require.ErrorIs(t, svc.CompleteCycle(context.Background(), uuid.New()), ErrCycleNotFound)
}

func TestListPaginates(t *testing.T) {
	store := newMemoryStore()
	for i := 0; i < 5; i++ {
		store.seed(Cycle{
			FromDate: date(2024, time.Month(i+1), 1),
			ToDate:   date(2024, time.Month(i+1), 28),
		})
	}
	svc := newTestService(store, &fakeEnqueuer{}, date(2024, 6, 1))

	cycles, meta, err := svc.List(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	require.Equal(t, 5, meta.Total)
	require.Equal(t, 3, meta.TotalPages)
	// Descending by from date: page 2 holds March and February.
	require.Equal(t, date(2024, 3, 1), cycles[0].FromDate)
}
