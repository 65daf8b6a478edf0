package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/metrics"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
)

// ResolveRequest carries the strategy and its fields. Times are required for
// RESCHEDULE, NewDuration (minutes) for ADJUST_DURATION.
type ResolveRequest struct {
	ScheduleID   string
	AccountID    string
	Strategy     domain.ResolutionStrategy
	NewStartTime *time.Time
	NewEndTime   *time.Time
	NewDuration  *int
}

type Resolution struct {
	Schedule  *domain.ScheduleEntry
	Conflicts domain.ConflictDetectionResult
	// Applied reports whether the entry changed and the audit was stored.
	Applied bool
	Audit   domain.ResolutionAudit
	Warning *domain.ConflictPersistsWarning
}

type Resolver struct {
	schedules repository.ScheduleRepository
	detector  *Detector
	logger    *slog.Logger
	now       func() time.Time
}

func NewResolver(schedules repository.ScheduleRepository, detector *Detector, logger *slog.Logger) *Resolver {
	return &Resolver{
		schedules: schedules,
		detector:  detector,
		logger:    logger.With("component", "conflict_resolver"),
		now:       time.Now,
	}
}

func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error) {
	if !req.Strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStrategy, req.Strategy)
	}

	entry, err := r.schedules.GetByID(ctx, req.ScheduleID, req.AccountID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	expected := entry.Version
	res := &Resolution{
		Schedule:  entry,
		Conflicts: domain.ConflictDetectionResult{Conflicts: []domain.Conflict{}, Suggestions: []domain.Suggestion{}},
		Audit: domain.ResolutionAudit{
			ScheduleID:        entry.ID,
			AccountID:         entry.AccountID,
			Strategy:          req.Strategy,
			PreviousStartTime: entry.StartTime,
			PreviousEndTime:   entry.EndTime,
			Changes:           []domain.FieldChange{},
			CreatedAt:         now,
		},
	}
	accountVersion := repository.AnyAccountVersion

	switch req.Strategy {
	case domain.StrategyIgnore:
		det, err := r.detectCurrent(ctx, entry)
		if err != nil {
			return nil, err
		}
		res.Conflicts = det.Result
		r.warn(res)
		r.finish(res)
		return res, nil

	case domain.StrategyCancel:
		if !entry.Deactivate(now) {
			r.finish(res)
			return res, nil
		}
		res.Audit.Changes = append(res.Audit.Changes, domain.FieldChange{Field: "active", From: "true", To: "false"})

	case domain.StrategyReschedule:
		if req.NewStartTime == nil || req.NewEndTime == nil {
			return nil, fmt.Errorf("%w: new_start_time and new_end_time are required", domain.ErrInvalidTimeRange)
		}
		if err := entry.Reschedule(*req.NewStartTime, *req.NewEndTime, now); err != nil {
			return nil, err
		}
		res.Audit.Changes = diff(res.Audit, entry, req.Strategy)

	case domain.StrategyAdjustDuration:
		if req.NewDuration == nil {
			return nil, fmt.Errorf("%w: new_duration is required", domain.ErrInvalidTimeRange)
		}
		if err := entry.AdjustDuration(*req.NewDuration, now); err != nil {
			return nil, err
		}
		res.Audit.Changes = diff(res.Audit, entry, req.Strategy)
	}

	if entry.Active {
		det, err := r.detectCurrent(ctx, entry)
		if err != nil {
			return nil, err
		}
		accountVersion = det.AccountVersion
		res.Conflicts = det.Result
		entry.MarkConflicts(det.Result.ConflictIDs())
	}

	if err := r.schedules.Update(ctx, entry, expected, accountVersion, &res.Audit); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	res.Applied = true
	r.warn(res)
	r.finish(res)

	r.logger.Info("conflict resolved",
		"schedule_id", entry.ID,
		"strategy", req.Strategy,
		"remaining_conflicts", len(res.Conflicts.Conflicts),
	)
	return res, nil
}

func (r *Resolver) detectCurrent(ctx context.Context, entry *domain.ScheduleEntry) (Detection, error) {
	det, err := r.detector.Detect(ctx, DetectRequest{
		AccountID:         entry.AccountID,
		StartTime:         entry.StartTime,
		EndTime:           entry.EndTime,
		ExcludeScheduleID: entry.ID,
	})
	if err != nil {
		return Detection{}, fmt.Errorf("detect conflicts: %w", err)
	}
	return det, nil
}

func (r *Resolver) warn(res *Resolution) {
	if res.Conflicts.HasConflict {
		res.Warning = &domain.ConflictPersistsWarning{ScheduleID: res.Schedule.ID, Remaining: len(res.Conflicts.Conflicts)}
	}
}

func (r *Resolver) finish(res *Resolution) {
	metrics.ResolutionsTotal.WithLabelValues(string(res.Audit.Strategy), strconv.FormatBool(res.Applied)).Inc()
}

// diff lists the fields a time mutation changed. Times are Unix milliseconds.
func diff(audit domain.ResolutionAudit, e *domain.ScheduleEntry, strategy domain.ResolutionStrategy) []domain.FieldChange {
	changes := []domain.FieldChange{}
	if strategy == domain.StrategyReschedule && !e.StartTime.Equal(audit.PreviousStartTime) {
		changes = append(changes, domain.FieldChange{Field: "start_time", From: millis(audit.PreviousStartTime), To: millis(e.StartTime)})
	}
	if !e.EndTime.Equal(audit.PreviousEndTime) {
		changes = append(changes, domain.FieldChange{Field: "end_time", From: millis(audit.PreviousEndTime), To: millis(e.EndTime)})
	}
	prev := domain.DurationMinutes(audit.PreviousStartTime, audit.PreviousEndTime)
	if prev != e.Duration {
		changes = append(changes, domain.FieldChange{Field: "duration", From: strconv.Itoa(prev), To: strconv.Itoa(e.Duration)})
	}
	return changes
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
