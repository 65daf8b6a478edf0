package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entryColumns = `
	id, account_id, title, description, start_time, end_time, duration,
	priority, location, attendees, has_conflict, conflicting_schedules,
	active, version, created_at, updated_at`

// ScheduleRepository stores schedule entries. Every write bumps the owning
// account's row in schedule_accounts inside the same transaction, which is
// what lets a conflict check and the write it justified commit atomically.
type ScheduleRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ repository.ScheduleRepository = (*ScheduleRepository)(nil)

func NewScheduleRepository(pool *pgxpool.Pool, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{pool: pool, logger: logger.With("component", "schedule_repo")}
}

func (r *ScheduleRepository) Snapshot(ctx context.Context, accountID string, from, to time.Time, excludeID string) (repository.Snapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return repository.Snapshot{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var snap repository.Snapshot
	err = tx.QueryRow(ctx, `
		SELECT COALESCE((SELECT version FROM schedule_accounts WHERE account_id = $1), 0)`,
		accountID,
	).Scan(&snap.AccountVersion)
	if err != nil {
		return repository.Snapshot{}, fmt.Errorf("read account version: %w", err)
	}

	args := []any{accountID, from, to}
	where := []string{"account_id = $1", "active", "start_time < $3", "end_time > $2"}
	if excludeID != "" {
		args = append(args, excludeID)
		where = append(where, fmt.Sprintf("id::text <> $%d", len(args)))
	}
	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM schedule_entries
		WHERE %s
		ORDER BY start_time, id`,
		entryColumns, strings.Join(where, " AND ")), args...)
	if err != nil {
		return repository.Snapshot{}, fmt.Errorf("query busy entries: %w", err)
	}
	snap.Entries, err = collectEntries(rows)
	if err != nil {
		return repository.Snapshot{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return repository.Snapshot{}, fmt.Errorf("commit tx: %w", err)
	}
	return snap, nil
}

func (r *ScheduleRepository) Create(ctx context.Context, e *domain.ScheduleEntry, accountVersion int64) (*domain.ScheduleEntry, error) {
	var created *domain.ScheduleEntry
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := bumpAccount(ctx, tx, e.AccountID, accountVersion); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO schedule_entries (
				account_id, title, description, start_time, end_time, duration,
				priority, location, attendees, has_conflict, conflicting_schedules,
				active, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			RETURNING `+entryColumns,
			e.AccountID, e.Title, e.Description, e.StartTime, e.EndTime, e.Duration,
			e.Priority, e.Location, orEmpty(e.Attendees), e.HasConflict, orEmpty(e.ConflictingSchedules),
			e.Active, e.Version, e.CreatedAt, e.UpdatedAt,
		)
		var err error
		created, err = scanEntry(row)
		if err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id, accountID string) (*domain.ScheduleEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM schedule_entries
		WHERE id = $1 AND account_id = $2`,
		id, accountID)
	return scanEntry(row)
}

func (r *ScheduleRepository) List(ctx context.Context, input repository.ListSchedulesInput) ([]*domain.ScheduleEntry, error) {
	args := []any{input.AccountID}
	where := []string{"account_id = $1"}

	if input.ActiveOnly {
		where = append(where, "active")
	}
	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(start_time, id) > ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, input.Limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM schedule_entries
		WHERE %s
		ORDER BY start_time ASC, id ASC
		LIMIT $%d`,
		entryColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return collectEntries(rows)
}

func (r *ScheduleRepository) Update(ctx context.Context, e *domain.ScheduleEntry, expectedVersion, accountVersion int64, audit *domain.ResolutionAudit) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := bumpAccount(ctx, tx, e.AccountID, accountVersion); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE schedule_entries
			SET title                 = $4,
			    description           = $5,
			    start_time            = $6,
			    end_time              = $7,
			    duration              = $8,
			    priority              = $9,
			    location              = $10,
			    attendees             = $11,
			    has_conflict          = $12,
			    conflicting_schedules = $13,
			    active                = $14,
			    version               = $15,
			    updated_at            = $16
			WHERE id = $1 AND account_id = $2 AND version = $3`,
			e.ID, e.AccountID, expectedVersion,
			e.Title, e.Description, e.StartTime, e.EndTime, e.Duration,
			e.Priority, e.Location, orEmpty(e.Attendees), e.HasConflict, orEmpty(e.ConflictingSchedules),
			e.Active, e.Version, e.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update schedule: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM schedule_entries WHERE id = $1 AND account_id = $2)`,
				e.ID, e.AccountID,
			).Scan(&exists); err != nil {
				if invalidID(err) {
					return domain.ErrScheduleNotFound
				}
				return fmt.Errorf("check schedule: %w", err)
			}
			if !exists {
				return domain.ErrScheduleNotFound
			}
			return &domain.ConcurrencyConflict{Entity: "schedule", ID: e.ID, ExpectedVersion: expectedVersion}
		}

		if audit == nil {
			return nil
		}
		changes := make([]changeJSON, 0, len(audit.Changes))
		for _, c := range audit.Changes {
			changes = append(changes, changeJSON(c))
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO resolution_audits (
				schedule_id, account_id, strategy, previous_start_time, previous_end_time, changes, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			audit.ScheduleID, audit.AccountID, audit.Strategy,
			audit.PreviousStartTime, audit.PreviousEndTime, changes, audit.CreatedAt,
		).Scan(&audit.ID)
		if err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
		return nil
	})
}

func (r *ScheduleRepository) ListAudits(ctx context.Context, scheduleID, accountID string) ([]*domain.ResolutionAudit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, schedule_id, account_id, strategy, previous_start_time, previous_end_time, changes, created_at
		FROM resolution_audits
		WHERE schedule_id = $1 AND account_id = $2
		ORDER BY created_at DESC, id DESC`,
		scheduleID, accountID)
	if err != nil {
		if invalidID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer rows.Close()

	var audits []*domain.ResolutionAudit
	for rows.Next() {
		var (
			a       domain.ResolutionAudit
			changes []changeJSON
		)
		if err := rows.Scan(&a.ID, &a.ScheduleID, &a.AccountID, &a.Strategy,
			&a.PreviousStartTime, &a.PreviousEndTime, &changes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		for _, c := range changes {
			a.Changes = append(a.Changes, domain.FieldChange(c))
		}
		audits = append(audits, &a)
	}
	if err := rows.Err(); err != nil {
		if invalidID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("iterate audits: %w", err)
	}
	return audits, nil
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (r *ScheduleRepository) inTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// bumpAccount increments the account version, requiring it to still equal
// expected unless expected is repository.AnyAccountVersion. An account
// without a row is at version 0.
func bumpAccount(ctx context.Context, tx pgx.Tx, accountID string, expected int64) error {
	var (
		version int64
		err     error
	)
	if expected == repository.AnyAccountVersion {
		err = tx.QueryRow(ctx, `
			INSERT INTO schedule_accounts (account_id, version) VALUES ($1, 1)
			ON CONFLICT (account_id) DO UPDATE SET version = schedule_accounts.version + 1
			RETURNING version`,
			accountID,
		).Scan(&version)
	} else if expected == 0 {
		err = tx.QueryRow(ctx, `
			INSERT INTO schedule_accounts (account_id, version) VALUES ($1, 1)
			ON CONFLICT (account_id) DO NOTHING
			RETURNING version`,
			accountID,
		).Scan(&version)
	} else {
		err = tx.QueryRow(ctx, `
			UPDATE schedule_accounts SET version = version + 1
			WHERE account_id = $1 AND version = $2
			RETURNING version`,
			accountID, expected,
		).Scan(&version)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.ConcurrencyConflict{Entity: "account", ID: accountID, ExpectedVersion: expected}
	}
	if err != nil {
		return fmt.Errorf("bump account version: %w", err)
	}
	return nil
}

func collectEntries(rows pgx.Rows) ([]*domain.ScheduleEntry, error) {
	defer rows.Close()

	var entries []*domain.ScheduleEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return entries, nil
}

func scanEntry(row rowScanner) (*domain.ScheduleEntry, error) {
	var e domain.ScheduleEntry
	err := row.Scan(
		&e.ID, &e.AccountID, &e.Title, &e.Description, &e.StartTime, &e.EndTime, &e.Duration,
		&e.Priority, &e.Location, &e.Attendees, &e.HasConflict, &e.ConflictingSchedules,
		&e.Active, &e.Version, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidID(err) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	if len(e.ConflictingSchedules) == 0 {
		e.ConflictingSchedules = nil
	}
	return &e, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
