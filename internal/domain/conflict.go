package domain

import "time"

type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// SeverityFor grades an overlap by its share of the proposed duration:
// up to 20% is minor, up to 60% moderate, anything above severe.
func SeverityFor(overlap, proposed time.Duration) Severity {
	if proposed <= 0 {
		return SeveritySevere
	}
	// Integer comparison keeps the 20% and 60% boundaries exact.
	switch {
	case overlap*100 <= proposed*20:
		return SeverityMinor
	case overlap*100 <= proposed*60:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

type SuggestionType string

const (
	SuggestMoveEarlier SuggestionType = "move_earlier"
	SuggestMoveLater   SuggestionType = "move_later"
	SuggestShorten     SuggestionType = "shorten"
)

// Rank orders suggestion types when their displacement ties.
func (t SuggestionType) Rank() int {
	switch t {
	case SuggestMoveEarlier:
		return 0
	case SuggestMoveLater:
		return 1
	default:
		return 2
	}
}

type Conflict struct {
	ScheduleID             string
	ScheduleTitle          string
	OverlapStart           time.Time
	OverlapEnd             time.Time
	OverlapDurationMinutes int
	Severity               Severity
}

type Suggestion struct {
	Type         SuggestionType
	NewStartTime time.Time
	NewEndTime   time.Time
	Description  string
}

type ConflictDetectionResult struct {
	HasConflict bool
	Conflicts   []Conflict
	Suggestions []Suggestion
}

// ConflictIDs lists the ids of the conflicting schedules in result order.
func (r ConflictDetectionResult) ConflictIDs() []string {
	ids := make([]string, 0, len(r.Conflicts))
	for _, c := range r.Conflicts {
		ids = append(ids, c.ScheduleID)
	}
	return ids
}

type ResolutionStrategy string

const (
	StrategyReschedule     ResolutionStrategy = "RESCHEDULE"
	StrategyCancel         ResolutionStrategy = "CANCEL"
	StrategyAdjustDuration ResolutionStrategy = "ADJUST_DURATION"
	StrategyIgnore         ResolutionStrategy = "IGNORE"
)

func (s ResolutionStrategy) Valid() bool {
	switch s {
	case StrategyReschedule, StrategyCancel, StrategyAdjustDuration, StrategyIgnore:
		return true
	}
	return false
}

type FieldChange struct {
	Field string
	From  string
	To    string
}

// ResolutionAudit records what a resolution did to a schedule.
type ResolutionAudit struct {
	ID                string
	ScheduleID        string
	AccountID         string
	Strategy          ResolutionStrategy
	PreviousStartTime time.Time
	PreviousEndTime   time.Time
	Changes           []FieldChange
	CreatedAt         time.Time
}
