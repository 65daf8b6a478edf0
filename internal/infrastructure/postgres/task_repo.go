package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const taskColumns = `
	id, account_id, name, description, task_type, payload, created_by,
	source_module, source_entity_id,
	scheduled_time, recurrence_rule, timezone, recurring, priority, status, next_execution_time,
	execution_count, max_retries, current_retries, timeout_seconds, backoff,
	total_executions, successful_executions, last_executed_at, last_error, recent_executions,
	alert_config, tags, enabled, version, created_at, updated_at`

type TaskRepository struct {
	pool *pgxpool.Pool
}

var _ repository.TaskRepository = (*TaskRepository)(nil)

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

func (r *TaskRepository) Create(ctx context.Context, t *domain.ScheduleTask) (*domain.ScheduleTask, error) {
	query := `
		INSERT INTO schedule_tasks (
			account_id, name, description, task_type, payload, created_by,
			source_module, source_entity_id,
			scheduled_time, recurrence_rule, timezone, recurring, priority, status, next_execution_time,
			execution_count, max_retries, current_retries, timeout_seconds, backoff,
			total_executions, successful_executions, last_executed_at, last_error, recent_executions,
			alert_config, tags, enabled, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		          $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)
		RETURNING ` + taskColumns

	row := r.pool.QueryRow(ctx, query,
		t.AccountID, t.Basic.Name, t.Basic.Description, t.Basic.TaskType, t.Basic.Payload, t.Basic.CreatedBy,
		t.Source.Module, t.Source.EntityID,
		t.Scheduling.ScheduledTime, t.Scheduling.RecurrenceRule, t.Scheduling.Timezone, t.Scheduling.Recurring,
		t.Scheduling.Priority, t.Scheduling.Status, t.Scheduling.NextExecutionTime,
		t.Execution.ExecutionCount, t.Execution.MaxRetries, t.Execution.CurrentRetries, t.Execution.TimeoutSeconds, t.Execution.Backoff,
		t.Execution.TotalExecutions, t.Execution.SuccessfulExecutions, t.Execution.LastExecutedAt, t.Execution.LastError,
		toRecordsJSON(t.Execution.Recent),
		toAlertJSON(t.AlertConfig), orEmpty(t.Metadata.Tags), t.Metadata.Enabled, t.Metadata.Version,
		t.Lifecycle.CreatedAt, t.Lifecycle.UpdatedAt,
	)
	created, err := scanTask(row)
	if err != nil {
		if uniqueViolation(err, "schedule_tasks_live_source_idx") {
			return nil, domain.ErrDuplicateSource
		}
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return created, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.ScheduleTask, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM schedule_tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (r *TaskRepository) GetForAccount(ctx context.Context, id, accountID string) (*domain.ScheduleTask, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM schedule_tasks WHERE id = $1 AND account_id = $2`, id, accountID)
	return scanTask(row)
}

func (r *TaskRepository) GetBySource(ctx context.Context, accountID, module, entityID string) (*domain.ScheduleTask, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM schedule_tasks
		WHERE account_id = $1 AND source_module = $2 AND source_entity_id = $3
		ORDER BY status IN ('completed', 'cancelled'), created_at DESC
		LIMIT 1`,
		accountID, module, entityID)
	return scanTask(row)
}

func (r *TaskRepository) List(ctx context.Context, input repository.ListTasksInput) ([]*domain.ScheduleTask, error) {
	args := []any{input.AccountID}
	where := []string{"account_id = $1"}

	if input.Status != "" {
		args = append(args, input.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if input.SourceModule != "" {
		args = append(args, input.SourceModule)
		where = append(where, fmt.Sprintf("source_module = $%d", len(args)))
	}
	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, input.Limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM schedule_tasks
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`,
		taskColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

func (r *TaskRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduleTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM schedule_tasks
		WHERE enabled
		  AND status IN ('pending', 'active')
		  AND next_execution_time <= $1
		ORDER BY next_execution_time ASC
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	return collectTasks(rows)
}

func (r *TaskRepository) Update(ctx context.Context, t *domain.ScheduleTask, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE schedule_tasks
		SET name                  = $3,
		    description           = $4,
		    task_type             = $5,
		    payload               = $6,
		    scheduled_time        = $7,
		    recurrence_rule       = $8,
		    timezone              = $9,
		    recurring             = $10,
		    priority              = $11,
		    status                = $12,
		    next_execution_time   = $13,
		    execution_count       = $14,
		    max_retries           = $15,
		    current_retries       = $16,
		    timeout_seconds       = $17,
		    backoff               = $18,
		    total_executions      = $19,
		    successful_executions = $20,
		    last_executed_at      = $21,
		    last_error            = $22,
		    recent_executions     = $23,
		    alert_config          = $24,
		    tags                  = $25,
		    enabled               = $26,
		    version               = $27,
		    updated_at            = $28
		WHERE id = $1 AND version = $2`,
		t.ID, expectedVersion,
		t.Basic.Name, t.Basic.Description, t.Basic.TaskType, t.Basic.Payload,
		t.Scheduling.ScheduledTime, t.Scheduling.RecurrenceRule, t.Scheduling.Timezone, t.Scheduling.Recurring,
		t.Scheduling.Priority, t.Scheduling.Status, t.Scheduling.NextExecutionTime,
		t.Execution.ExecutionCount, t.Execution.MaxRetries, t.Execution.CurrentRetries, t.Execution.TimeoutSeconds, t.Execution.Backoff,
		t.Execution.TotalExecutions, t.Execution.SuccessfulExecutions, t.Execution.LastExecutedAt, t.Execution.LastError,
		toRecordsJSON(t.Execution.Recent), toAlertJSON(t.AlertConfig), orEmpty(t.Metadata.Tags),
		t.Metadata.Enabled, t.Metadata.Version, t.Lifecycle.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish not-found vs stale version
		if _, err := r.GetByID(ctx, t.ID); err != nil {
			return err
		}
		return &domain.ConcurrencyConflict{Entity: "task", ID: t.ID, ExpectedVersion: expectedVersion}
	}
	return nil
}

func collectTasks(rows pgx.Rows) ([]*domain.ScheduleTask, error) {
	defer rows.Close()

	var tasks []*domain.ScheduleTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row rowScanner) (*domain.ScheduleTask, error) {
	var (
		t      domain.ScheduleTask
		recent []recordJSON
		alert  alertJSON
	)
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Basic.Name, &t.Basic.Description, &t.Basic.TaskType, &t.Basic.Payload, &t.Basic.CreatedBy,
		&t.Source.Module, &t.Source.EntityID,
		&t.Scheduling.ScheduledTime, &t.Scheduling.RecurrenceRule, &t.Scheduling.Timezone, &t.Scheduling.Recurring,
		&t.Scheduling.Priority, &t.Scheduling.Status, &t.Scheduling.NextExecutionTime,
		&t.Execution.ExecutionCount, &t.Execution.MaxRetries, &t.Execution.CurrentRetries, &t.Execution.TimeoutSeconds, &t.Execution.Backoff,
		&t.Execution.TotalExecutions, &t.Execution.SuccessfulExecutions, &t.Execution.LastExecutedAt, &t.Execution.LastError, &recent,
		&alert, &t.Metadata.Tags, &t.Metadata.Enabled, &t.Metadata.Version, &t.Lifecycle.CreatedAt, &t.Lifecycle.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || invalidID(err) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Execution.Recent = fromRecordsJSON(recent)
	t.AlertConfig = alert.toDomain()
	return &t, nil
}

func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// invalidID reports a malformed uuid, which can never match a row.
func invalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
