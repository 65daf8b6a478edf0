package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/conflict"
	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
)

type ScheduleUsecase struct {
	repo     repository.ScheduleRepository
	detector *conflict.Detector
	resolver *conflict.Resolver
	now      func() time.Time
}

func NewScheduleUsecase(repo repository.ScheduleRepository, detector *conflict.Detector, resolver *conflict.Resolver) *ScheduleUsecase {
	return &ScheduleUsecase{repo: repo, detector: detector, resolver: resolver, now: time.Now}
}

type CreateScheduleInput struct {
	AccountID           string
	Title               string
	Description         *string
	StartTime           time.Time
	EndTime             time.Time
	Duration            int // minutes, 0 = derived from the range
	Priority            *domain.Priority
	Location            *string
	Attendees           []string
	AutoDetectConflicts bool
}

type CreateScheduleResult struct {
	Schedule  *domain.ScheduleEntry
	Conflicts *domain.ConflictDetectionResult // nil unless detection was requested
}

// CreateSchedule stores the entry whether or not it overlaps others; when
// detection is requested the overlaps are reported and recorded on the entry.
func (u *ScheduleUsecase) CreateSchedule(ctx context.Context, input CreateScheduleInput) (CreateScheduleResult, error) {
	if err := domain.ValidateRange(input.StartTime, input.EndTime, input.Duration); err != nil {
		return CreateScheduleResult{}, err
	}

	now := u.now().UTC()
	e := &domain.ScheduleEntry{
		AccountID:   input.AccountID,
		Title:       input.Title,
		Description: input.Description,
		StartTime:   input.StartTime.UTC(),
		EndTime:     input.EndTime.UTC(),
		Duration:    domain.DurationMinutes(input.StartTime, input.EndTime),
		Priority:    input.Priority,
		Location:    input.Location,
		Attendees:   input.Attendees,
		Active:      true,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	accountVersion := repository.AnyAccountVersion
	var result *domain.ConflictDetectionResult
	if input.AutoDetectConflicts {
		det, err := u.detector.Detect(ctx, conflict.DetectRequest{
			AccountID: input.AccountID,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
		})
		if err != nil {
			return CreateScheduleResult{}, fmt.Errorf("detect conflicts: %w", err)
		}
		accountVersion = det.AccountVersion
		e.MarkConflicts(det.Result.ConflictIDs())
		result = &det.Result
	}

	created, err := u.repo.Create(ctx, e, accountVersion)
	if err != nil {
		return CreateScheduleResult{}, fmt.Errorf("create schedule: %w", err)
	}
	return CreateScheduleResult{Schedule: created, Conflicts: result}, nil
}

type DetectConflictsInput struct {
	AccountID         string
	StartTime         time.Time
	EndTime           time.Time
	ExcludeScheduleID string
}

func (u *ScheduleUsecase) DetectConflicts(ctx context.Context, input DetectConflictsInput) (domain.ConflictDetectionResult, error) {
	det, err := u.detector.Detect(ctx, conflict.DetectRequest(input))
	if err != nil {
		return domain.ConflictDetectionResult{}, fmt.Errorf("detect conflicts: %w", err)
	}
	return det.Result, nil
}

func (u *ScheduleUsecase) ResolveConflict(ctx context.Context, req conflict.ResolveRequest) (*conflict.Resolution, error) {
	res, err := u.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("resolve conflict: %w", err)
	}
	return res, nil
}

func (u *ScheduleUsecase) GetSchedule(ctx context.Context, id, accountID string) (*domain.ScheduleEntry, error) {
	e, err := u.repo.GetByID(ctx, id, accountID)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return e, nil
}

type ListSchedulesInput struct {
	AccountID  string
	ActiveOnly bool
	Cursor     string
	Limit      int
}

type ListSchedulesResult struct {
	Schedules  []*domain.ScheduleEntry
	NextCursor *string
}

type pageCursor struct {
	At time.Time `json:"c"`
	ID string    `json:"i"`
}

func decodeCursor(s string) (*time.Time, string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidCursor, err)
	}
	var c pageCursor
	if err := json.Unmarshal(b, &c); err != nil || c.ID == "" {
		return nil, "", domain.ErrInvalidCursor
	}
	return &c.At, c.ID, nil
}

func encodeCursor(at time.Time, id string) string {
	b, _ := json.Marshal(pageCursor{At: at, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func (u *ScheduleUsecase) ListSchedules(ctx context.Context, input ListSchedulesInput) (ListSchedulesResult, error) {
	limit := clampLimit(input.Limit)

	repoInput := repository.ListSchedulesInput{
		AccountID:  input.AccountID,
		ActiveOnly: input.ActiveOnly,
		Limit:      limit + 1,
	}
	if input.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(input.Cursor)
		if err != nil {
			return ListSchedulesResult{}, err
		}
		repoInput.CursorTime = cursorTime
		repoInput.CursorID = cursorID
	}

	schedules, err := u.repo.List(ctx, repoInput)
	if err != nil {
		return ListSchedulesResult{}, fmt.Errorf("list schedules: %w", err)
	}

	var nextCursor *string
	if len(schedules) == limit+1 {
		// The cursor is exclusive, so it points at the last returned entry.
		last := schedules[limit-1]
		s := encodeCursor(last.StartTime, last.ID)
		nextCursor = &s
		schedules = schedules[:limit]
	}
	return ListSchedulesResult{Schedules: schedules, NextCursor: nextCursor}, nil
}

func (u *ScheduleUsecase) ListResolutions(ctx context.Context, id, accountID string) ([]*domain.ResolutionAudit, error) {
	// Verify ownership
	if _, err := u.repo.GetByID(ctx, id, accountID); err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	audits, err := u.repo.ListAudits(ctx, id, accountID)
	if err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}
	return audits, nil
}
