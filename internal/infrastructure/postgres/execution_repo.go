package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const executionColumns = `
	id, task_id, attempt, COALESCE(outcome, ''), worker_id,
	started_at, finished_at, duration_ms, error`

type ExecutionRepository struct {
	pool *pgxpool.Pool
}

var _ repository.ExecutionRepository = (*ExecutionRepository)(nil)

func NewExecutionRepository(pool *pgxpool.Pool) *ExecutionRepository {
	return &ExecutionRepository{pool: pool}
}

func (r *ExecutionRepository) Create(ctx context.Context, rec *domain.ExecutionRecord) (*domain.ExecutionRecord, error) {
	var outcome *string
	if rec.Outcome != "" {
		o := string(rec.Outcome)
		outcome = &o
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO execution_records (
			task_id, attempt, outcome, worker_id, started_at, finished_at, duration_ms, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+executionColumns,
		rec.TaskID, rec.Attempt, outcome, rec.WorkerID, rec.StartedAt, rec.FinishedAt, rec.DurationMS, rec.Error,
	)
	created, err := scanExecution(row)
	if err != nil {
		return nil, fmt.Errorf("insert execution: %w", err)
	}
	return created, nil
}

func (r *ExecutionRepository) Complete(ctx context.Context, rec *domain.ExecutionRecord) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE execution_records
		SET outcome     = $2,
		    finished_at = $3,
		    duration_ms = $4,
		    error       = $5
		WHERE id = $1 AND outcome IS NULL`,
		rec.ID, rec.Outcome, rec.FinishedAt, rec.DurationMS, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	return nil
}

func (r *ExecutionRepository) ListByTaskID(ctx context.Context, taskID string, limit int) ([]*domain.ExecutionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM execution_records
		WHERE task_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return collectExecutions(rows)
}

// CloseStale times out records left open by a dispatcher that died mid-run.
// SKIP LOCKED lets several reapers work the backlog without blocking.
func (r *ExecutionRepository) CloseStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.ExecutionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE execution_records
		SET outcome     = 'timeout',
		    finished_at = NOW(),
		    duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::BIGINT,
		    error       = 'dispatcher stopped before the run finished'
		WHERE id IN (
			SELECT id FROM execution_records
			WHERE outcome IS NULL AND started_at < $1
			ORDER BY started_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+executionColumns,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("close stale executions: %w", err)
	}
	return collectExecutions(rows)
}

func collectExecutions(rows pgx.Rows) ([]*domain.ExecutionRecord, error) {
	defer rows.Close()

	var recs []*domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return recs, nil
}

func scanExecution(row rowScanner) (*domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	err := row.Scan(
		&rec.ID, &rec.TaskID, &rec.Attempt, &rec.Outcome, &rec.WorkerID,
		&rec.StartedAt, &rec.FinishedAt, &rec.DurationMS, &rec.Error,
	)
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	return &rec, nil
}
