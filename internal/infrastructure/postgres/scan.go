package postgres

import (
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

// recordJSON is the JSONB shape of one entry in schedule_tasks.recent_executions.
type recordJSON struct {
	ID         string     `json:"id"`
	Attempt    int        `json:"attempt"`
	Outcome    string     `json:"outcome"`
	WorkerID   string     `json:"worker_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS *int64     `json:"duration_ms,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

func toRecordsJSON(recs []domain.ExecutionRecord) []recordJSON {
	out := make([]recordJSON, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordJSON{
			ID:         r.ID,
			Attempt:    r.Attempt,
			Outcome:    string(r.Outcome),
			WorkerID:   r.WorkerID,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			DurationMS: r.DurationMS,
			Error:      r.Error,
		})
	}
	return out
}

func fromRecordsJSON(recs []recordJSON) []domain.ExecutionRecord {
	if len(recs) == 0 {
		return nil
	}
	out := make([]domain.ExecutionRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.ExecutionRecord{
			ID:         r.ID,
			Attempt:    r.Attempt,
			Outcome:    domain.Outcome(r.Outcome),
			WorkerID:   r.WorkerID,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			DurationMS: r.DurationMS,
			Error:      r.Error,
		})
	}
	return out
}

type alertJSON struct {
	Methods       []string `json:"methods,omitempty"`
	AllowSnooze   bool     `json:"allow_snooze"`
	SnoozeOptions []int    `json:"snooze_options,omitempty"`
}

func toAlertJSON(c domain.AlertConfig) alertJSON {
	a := alertJSON{AllowSnooze: c.AllowSnooze, SnoozeOptions: c.SnoozeOptions}
	for _, m := range c.Methods {
		a.Methods = append(a.Methods, string(m))
	}
	return a
}

func (a alertJSON) toDomain() domain.AlertConfig {
	c := domain.AlertConfig{AllowSnooze: a.AllowSnooze, SnoozeOptions: a.SnoozeOptions}
	for _, m := range a.Methods {
		c.Methods = append(c.Methods, domain.AlertMethod(m))
	}
	return c
}

type changeJSON struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}
