package payroll

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/horizon-pm/horizon/internal/platform/db"
)

// pgExclusionViolation is raised by the payroll_cycles daterange exclusion
// constraint, the database-level backstop for the overlap invariant.
const pgExclusionViolation = "23P01"

func mapConstraintErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return &OverlapError{}
	}
	return err
}

// Repository provides PostgreSQL backed persistence for payroll cycles.
//
// Every lifecycle mutation is a single conditional statement keyed on the
// current flag pair, so a scheduler tick racing a manual trigger can never
// double-promote or resurrect a processed cycle.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const cycleColumns = `id, from_date, to_date, processed, processing, processing_started_at, added_date`

func scanCycle(row pgx.Row) (Cycle, error) {
	var (
		c          Cycle
		processed  bool
		processing bool
	)
	err := row.Scan(&c.ID, &c.FromDate, &c.ToDate, &processed, &processing, &c.ProcessingStartedAt, &c.AddedDate)
	if err != nil {
		return Cycle{}, err
	}
	state, err := StateFromFlags(processed, processing)
	if err != nil {
		return Cycle{}, err
	}
	c.State = state
	return c, nil
}

// Create inserts a new pending cycle and returns it.
func (r *Repository) Create(ctx context.Context, fromDate, toDate time.Time) (Cycle, error) {
	const query = `
		INSERT INTO payroll_cycles (id, from_date, to_date, processed, processing, added_date)
		VALUES ($1, $2, $3, FALSE, FALSE, NOW())
		RETURNING ` + cycleColumns
	c, err := scanCycle(r.pool.QueryRow(ctx, query, uuid.New(), fromDate, toDate))
	if err != nil {
		return Cycle{}, mapConstraintErr(err)
	}
	return c, nil
}

// GetByID loads a cycle, excluding soft-deleted rows.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Cycle, error) {
	const query = `
		SELECT ` + cycleColumns + `
		FROM payroll_cycles
		WHERE id = $1 AND deleted_at IS NULL`
	c, err := scanCycle(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cycle{}, ErrCycleNotFound
		}
		return Cycle{}, err
	}
	return c, nil
}

// List returns cycles ordered by from_date descending plus the total count.
// Page and count read from one repeatable-read snapshot so the total always
// matches the rows.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Cycle, int, error) {
	const query = `
		SELECT ` + cycleColumns + `
		FROM payroll_cycles
		WHERE deleted_at IS NULL
		ORDER BY from_date DESC
		LIMIT $1 OFFSET $2`

	var cycles []Cycle
	var total int
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			c, err := scanCycle(rows)
			if err != nil {
				return err
			}
			cycles = append(cycles, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		// The connection must be free before the count query runs.
		rows.Close()
		return tx.QueryRow(ctx, `SELECT COUNT(*) FROM payroll_cycles WHERE deleted_at IS NULL`).Scan(&total)
	})
	if err != nil {
		return nil, 0, err
	}
	return cycles, total, nil
}

// FindOverlapping returns the first non-deleted cycle whose inclusive date
// interval intersects [fromDate, toDate], regardless of cycle state.
// excludeID skips the cycle being updated.
func (r *Repository) FindOverlapping(ctx context.Context, fromDate, toDate time.Time, excludeID *uuid.UUID) (*Cycle, error) {
	const query = `
		SELECT ` + cycleColumns + `
		FROM payroll_cycles
		WHERE deleted_at IS NULL
		  AND from_date::date <= $2::date
		  AND $1::date <= to_date::date
		  AND ($3::uuid IS NULL OR id <> $3::uuid)
		ORDER BY from_date
		LIMIT 1`
	c, err := scanCycle(r.pool.QueryRow(ctx, query, fromDate, toDate, excludeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// FindDue returns the earliest pending cycle whose pay date has been reached,
// meaning its end date lies strictly before today. The bound matches the
// promotion guard: a cycle ending today is not yet promotable.
func (r *Repository) FindDue(ctx context.Context, today time.Time) (*Cycle, error) {
	const query = `
		SELECT ` + cycleColumns + `
		FROM payroll_cycles
		WHERE deleted_at IS NULL
		  AND NOT processed AND NOT processing
		  AND to_date::date < $1::date
		ORDER BY to_date
		LIMIT 1`
	c, err := scanCycle(r.pool.QueryRow(ctx, query, today))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// FindAnchor returns the cycle with the greatest end date. The lookup is
// state-blind: the overlap invariant guarantees the max to_date row is the
// timeline frontier whatever its state.
func (r *Repository) FindAnchor(ctx context.Context) (*Cycle, error) {
	const query = `
		SELECT ` + cycleColumns + `
		FROM payroll_cycles
		WHERE deleted_at IS NULL
		ORDER BY to_date DESC
		LIMIT 1`
	c, err := scanCycle(r.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ExistsSpan reports whether a non-deleted cycle already covers exactly the
// given calendar window.
func (r *Repository) ExistsSpan(ctx context.Context, fromDate, toDate time.Time) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM payroll_cycles
			WHERE deleted_at IS NULL
			  AND from_date::date = $1::date
			  AND to_date::date = $2::date
		)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, fromDate, toDate).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MarkProcessing flips a pending cycle to processing. When the conditional
// update matches no row the cycle is re-read to report why: gone, already
// processed, or a concurrent promotion won the race.
func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID, at time.Time) error {
	const query = `
		UPDATE payroll_cycles
		SET processing = TRUE, processing_started_at = $2
		WHERE id = $1 AND deleted_at IS NULL AND NOT processing AND NOT processed`
	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.explainSkippedFlip(ctx, id, ErrCycleProcessing)
	}
	return nil
}

// ResetProcessing reverts a processing cycle back to pending. Used as the
// compensating step when enqueueing the settlement job fails.
func (r *Repository) ResetProcessing(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE payroll_cycles
		SET processing = FALSE, processing_started_at = NULL
		WHERE id = $1 AND deleted_at IS NULL AND processing AND NOT processed`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// MarkProcessed records settlement completion. The transition is terminal
// and only legal from processing; a zero-row update is re-read to tell a
// missing cycle and a still-pending one apart from a repeated completion.
func (r *Repository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE payroll_cycles
		SET processed = TRUE, processing = FALSE
		WHERE id = $1 AND deleted_at IS NULL AND processing AND NOT processed`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.explainSkippedFlip(ctx, id, ErrCycleNotProcessing)
	}
	return nil
}

// explainSkippedFlip resolves a zero-row conditional update into a precise
// guard error: not found, already processed, or the supplied fallback for a
// cycle in the wrong live state.
func (r *Repository) explainSkippedFlip(ctx context.Context, id uuid.UUID, fallback error) error {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.State == StateProcessed {
		return ErrCycleProcessed
	}
	return fallback
}

// UpdateDates rewrites a pending cycle's window.
func (r *Repository) UpdateDates(ctx context.Context, id uuid.UUID, fromDate, toDate time.Time) (Cycle, error) {
	const query = `
		UPDATE payroll_cycles
		SET from_date = $2, to_date = $3
		WHERE id = $1 AND deleted_at IS NULL AND NOT processing AND NOT processed
		RETURNING ` + cycleColumns
	c, err := scanCycle(r.pool.QueryRow(ctx, query, id, fromDate, toDate))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cycle{}, ErrCycleNotEditable
		}
		return Cycle{}, mapConstraintErr(err)
	}
	return c, nil
}

// Delete soft-deletes a pending cycle.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE payroll_cycles
		SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL AND NOT processing AND NOT processed`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCycleNotDeletable
	}
	return nil
}

// CountStuck counts cycles that have been processing since before the cutoff
// without a completion report.
func (r *Repository) CountStuck(ctx context.Context, before time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM payroll_cycles
		WHERE deleted_at IS NULL
		  AND processing AND NOT processed
		  AND processing_started_at < $1`
	var count int
	if err := r.pool.QueryRow(ctx, query, before).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
