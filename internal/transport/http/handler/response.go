package handler

import (
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/conflict"
	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

// All timestamps on the wire are Unix milliseconds.

func ms(t time.Time) int64 { return t.UnixMilli() }

func msPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func fromMSPtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := fromMS(*v)
	return &t
}

type scheduleResponse struct {
	ID                   string           `json:"id"`
	Title                string           `json:"title"`
	Description          *string          `json:"description,omitempty"`
	StartTime            int64            `json:"start_time"`
	EndTime              int64            `json:"end_time"`
	Duration             int              `json:"duration"`
	Priority             *domain.Priority `json:"priority,omitempty"`
	Location             *string          `json:"location,omitempty"`
	Attendees            []string         `json:"attendees"`
	HasConflict          bool             `json:"has_conflict"`
	ConflictingSchedules []string         `json:"conflicting_schedules"`
	Active               bool             `json:"active"`
	Version              int64            `json:"version"`
	CreatedAt            int64            `json:"created_at"`
	UpdatedAt            int64            `json:"updated_at"`
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toScheduleResponse(e *domain.ScheduleEntry) scheduleResponse {
	return scheduleResponse{
		ID:                   e.ID,
		Title:                e.Title,
		Description:          e.Description,
		StartTime:            ms(e.StartTime),
		EndTime:              ms(e.EndTime),
		Duration:             e.Duration,
		Priority:             e.Priority,
		Location:             e.Location,
		Attendees:            orEmpty(e.Attendees),
		HasConflict:          e.HasConflict,
		ConflictingSchedules: orEmpty(e.ConflictingSchedules),
		Active:               e.Active,
		Version:              e.Version,
		CreatedAt:            ms(e.CreatedAt),
		UpdatedAt:            ms(e.UpdatedAt),
	}
}

type conflictResponse struct {
	ScheduleID             string          `json:"schedule_id"`
	ScheduleTitle          string          `json:"schedule_title"`
	OverlapStart           int64           `json:"overlap_start"`
	OverlapEnd             int64           `json:"overlap_end"`
	OverlapDurationMinutes int             `json:"overlap_duration_minutes"`
	Severity               domain.Severity `json:"severity"`
}

type suggestionResponse struct {
	Type         domain.SuggestionType `json:"type"`
	NewStartTime int64                 `json:"new_start_time"`
	NewEndTime   int64                 `json:"new_end_time"`
	Description  string                `json:"description"`
}

type detectionResponse struct {
	HasConflict bool                 `json:"has_conflict"`
	Conflicts   []conflictResponse   `json:"conflicts"`
	Suggestions []suggestionResponse `json:"suggestions"`
}

func toDetectionResponse(r domain.ConflictDetectionResult) detectionResponse {
	out := detectionResponse{
		HasConflict: r.HasConflict,
		Conflicts:   make([]conflictResponse, 0, len(r.Conflicts)),
		Suggestions: make([]suggestionResponse, 0, len(r.Suggestions)),
	}
	for _, c := range r.Conflicts {
		out.Conflicts = append(out.Conflicts, conflictResponse{
			ScheduleID:             c.ScheduleID,
			ScheduleTitle:          c.ScheduleTitle,
			OverlapStart:           ms(c.OverlapStart),
			OverlapEnd:             ms(c.OverlapEnd),
			OverlapDurationMinutes: c.OverlapDurationMinutes,
			Severity:               c.Severity,
		})
	}
	for _, s := range r.Suggestions {
		out.Suggestions = append(out.Suggestions, suggestionResponse{
			Type:         s.Type,
			NewStartTime: ms(s.NewStartTime),
			NewEndTime:   ms(s.NewEndTime),
			Description:  s.Description,
		})
	}
	return out
}

type changeResponse struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

type auditResponse struct {
	ID                string                    `json:"id,omitempty"`
	ScheduleID        string                    `json:"schedule_id"`
	Strategy          domain.ResolutionStrategy `json:"strategy"`
	PreviousStartTime int64                     `json:"previous_start_time"`
	PreviousEndTime   int64                     `json:"previous_end_time"`
	Changes           []changeResponse          `json:"changes"`
	CreatedAt         int64                     `json:"created_at"`
}

func toAuditResponse(a domain.ResolutionAudit) auditResponse {
	out := auditResponse{
		ID:                a.ID,
		ScheduleID:        a.ScheduleID,
		Strategy:          a.Strategy,
		PreviousStartTime: ms(a.PreviousStartTime),
		PreviousEndTime:   ms(a.PreviousEndTime),
		Changes:           make([]changeResponse, 0, len(a.Changes)),
		CreatedAt:         ms(a.CreatedAt),
	}
	for _, c := range a.Changes {
		out.Changes = append(out.Changes, changeResponse(c))
	}
	return out
}

type resolutionResponse struct {
	Schedule  scheduleResponse                `json:"schedule"`
	Conflicts detectionResponse               `json:"conflicts"`
	Applied   bool                            `json:"applied"`
	Audit     auditResponse                   `json:"audit"`
	Warning   *domain.ConflictPersistsWarning `json:"warning,omitempty"`
}

func toResolutionResponse(r *conflict.Resolution) resolutionResponse {
	return resolutionResponse{
		Schedule:  toScheduleResponse(r.Schedule),
		Conflicts: toDetectionResponse(r.Conflicts),
		Applied:   r.Applied,
		Audit:     toAuditResponse(r.Audit),
		Warning:   r.Warning,
	}
}

type executionResponse struct {
	ID         string         `json:"id"`
	Attempt    int            `json:"attempt"`
	Outcome    domain.Outcome `json:"outcome,omitempty"`
	WorkerID   string         `json:"worker_id"`
	StartedAt  int64          `json:"started_at"`
	FinishedAt *int64         `json:"finished_at,omitempty"`
	DurationMS *int64         `json:"duration_ms,omitempty"`
	Error      *string        `json:"error,omitempty"`
}

func toExecutionResponse(r domain.ExecutionRecord) executionResponse {
	return executionResponse{
		ID:         r.ID,
		Attempt:    r.Attempt,
		Outcome:    r.Outcome,
		WorkerID:   r.WorkerID,
		StartedAt:  ms(r.StartedAt),
		FinishedAt: msPtr(r.FinishedAt),
		DurationMS: r.DurationMS,
		Error:      r.Error,
	}
}

type taskResponse struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Basic     struct {
		Name        string         `json:"name"`
		Description *string        `json:"description,omitempty"`
		TaskType    string         `json:"task_type"`
		Payload     map[string]any `json:"payload"`
		CreatedBy   string         `json:"created_by"`
	} `json:"basic"`
	Source struct {
		Module   string `json:"module,omitempty"`
		EntityID string `json:"entity_id,omitempty"`
	} `json:"source"`
	Scheduling struct {
		ScheduledTime     int64           `json:"scheduled_time"`
		RecurrenceRule    *string         `json:"recurrence_rule,omitempty"`
		Timezone          string          `json:"timezone"`
		Recurring         bool            `json:"recurring"`
		Priority          domain.Priority `json:"priority"`
		Status            domain.Status   `json:"status"`
		NextExecutionTime *int64          `json:"next_execution_time"`
	} `json:"scheduling"`
	Execution struct {
		ExecutionCount       int                 `json:"execution_count"`
		MaxRetries           int                 `json:"max_retries"`
		CurrentRetries       int                 `json:"current_retries"`
		TimeoutSeconds       *int                `json:"timeout_seconds,omitempty"`
		Backoff              domain.Backoff      `json:"backoff"`
		TotalExecutions      int                 `json:"total_executions"`
		SuccessfulExecutions int                 `json:"successful_executions"`
		SuccessRate          float64             `json:"success_rate"`
		LastExecutedAt       *int64              `json:"last_executed_at,omitempty"`
		LastError            *string             `json:"last_error,omitempty"`
		Recent               []executionResponse `json:"recent"`
	} `json:"execution"`
	AlertConfig struct {
		Methods       []domain.AlertMethod `json:"methods"`
		AllowSnooze   bool                 `json:"allow_snooze"`
		SnoozeOptions []int                `json:"snooze_options"`
	} `json:"alert_config"`
	Metadata struct {
		Tags    []string `json:"tags"`
		Enabled bool     `json:"enabled"`
		Version int64    `json:"version"`
	} `json:"metadata"`
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

func toTaskResponse(t *domain.ScheduleTask) taskResponse {
	var r taskResponse
	r.ID = t.ID
	r.AccountID = t.AccountID

	r.Basic.Name = t.Basic.Name
	r.Basic.Description = t.Basic.Description
	r.Basic.TaskType = t.Basic.TaskType
	r.Basic.Payload = t.Basic.Payload
	r.Basic.CreatedBy = t.Basic.CreatedBy

	r.Source.Module = t.Source.Module
	r.Source.EntityID = t.Source.EntityID

	r.Scheduling.ScheduledTime = ms(t.Scheduling.ScheduledTime)
	r.Scheduling.RecurrenceRule = t.Scheduling.RecurrenceRule
	r.Scheduling.Timezone = t.Scheduling.Timezone
	r.Scheduling.Recurring = t.Scheduling.Recurring
	r.Scheduling.Priority = t.Scheduling.Priority
	r.Scheduling.Status = t.Scheduling.Status
	r.Scheduling.NextExecutionTime = msPtr(t.Scheduling.NextExecutionTime)

	e := t.Execution
	r.Execution.ExecutionCount = e.ExecutionCount
	r.Execution.MaxRetries = e.MaxRetries
	r.Execution.CurrentRetries = e.CurrentRetries
	r.Execution.TimeoutSeconds = e.TimeoutSeconds
	r.Execution.Backoff = e.Backoff
	r.Execution.TotalExecutions = e.TotalExecutions
	r.Execution.SuccessfulExecutions = e.SuccessfulExecutions
	r.Execution.SuccessRate = t.SuccessRate()
	r.Execution.LastExecutedAt = msPtr(e.LastExecutedAt)
	r.Execution.LastError = e.LastError
	r.Execution.Recent = make([]executionResponse, 0, len(e.Recent))
	for _, rec := range e.Recent {
		r.Execution.Recent = append(r.Execution.Recent, toExecutionResponse(rec))
	}

	r.AlertConfig.Methods = t.AlertConfig.Methods
	if r.AlertConfig.Methods == nil {
		r.AlertConfig.Methods = []domain.AlertMethod{}
	}
	r.AlertConfig.AllowSnooze = t.AlertConfig.AllowSnooze
	r.AlertConfig.SnoozeOptions = t.AlertConfig.SnoozeOptions
	if r.AlertConfig.SnoozeOptions == nil {
		r.AlertConfig.SnoozeOptions = []int{}
	}

	r.Metadata.Tags = orEmpty(t.Metadata.Tags)
	r.Metadata.Enabled = t.Metadata.Enabled
	r.Metadata.Version = t.Metadata.Version

	r.CreatedAt = ms(t.Lifecycle.CreatedAt)
	r.UpdatedAt = ms(t.Lifecycle.UpdatedAt)
	return r
}
