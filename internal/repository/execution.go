package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

type ExecutionRepository interface {
	// Create opens a record at the moment execution starts. Records created
	// with an outcome (skipped runs) are stored already closed.
	Create(ctx context.Context, rec *domain.ExecutionRecord) (*domain.ExecutionRecord, error)

	// Complete closes an open record with its outcome, duration and error.
	Complete(ctx context.Context, rec *domain.ExecutionRecord) error

	// ListByTaskID returns the newest records first. Ownership is assumed to
	// have been verified by the caller.
	ListByTaskID(ctx context.Context, taskID string, limit int) ([]*domain.ExecutionRecord, error)

	// CloseStale closes records left open since before cutoff as timed out
	// and returns them.
	CloseStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.ExecutionRecord, error)
}
