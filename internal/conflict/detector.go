package conflict

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
	"github.com/ErlanBelekov/schedule-engine/internal/metrics"
	"github.com/ErlanBelekov/schedule-engine/internal/repository"
)

type Options struct {
	// Window bounds how far before and after the proposed range suggestions
	// may move it.
	Window time.Duration
	// MinSlot is the shortest range a shorten suggestion may leave.
	MinSlot time.Duration
}

func DefaultOptions() Options {
	return Options{Window: 24 * time.Hour, MinSlot: 15 * time.Minute}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Window <= 0 {
		o.Window = d.Window
	}
	if o.MinSlot <= 0 {
		o.MinSlot = d.MinSlot
	}
	return o
}

type DetectRequest struct {
	AccountID         string
	StartTime         time.Time
	EndTime           time.Time
	ExcludeScheduleID string
}

// Detection is a detection result together with the account version of the
// snapshot it was computed from.
type Detection struct {
	Result         domain.ConflictDetectionResult
	AccountVersion int64
}

type Detector struct {
	schedules repository.ScheduleRepository
	opts      Options
	logger    *slog.Logger
}

func NewDetector(schedules repository.ScheduleRepository, opts Options, logger *slog.Logger) *Detector {
	return &Detector{
		schedules: schedules,
		opts:      opts.withDefaults(),
		logger:    logger.With("component", "conflict_detector"),
	}
}

func (d *Detector) Detect(ctx context.Context, req DetectRequest) (Detection, error) {
	if err := domain.ValidateRange(req.StartTime, req.EndTime, 0); err != nil {
		return Detection{}, err
	}

	snap, err := d.schedules.Snapshot(ctx, req.AccountID, req.StartTime.Add(-d.opts.Window), req.EndTime.Add(d.opts.Window), req.ExcludeScheduleID)
	if err != nil {
		return Detection{}, fmt.Errorf("load schedules: %w", err)
	}

	result := Evaluate(req, snap.Entries, d.opts)
	if result.HasConflict {
		metrics.ConflictChecksTotal.WithLabelValues("conflict").Inc()
		d.logger.Debug("conflicts found", "account_id", req.AccountID, "conflicts", len(result.Conflicts), "suggestions", len(result.Suggestions))
	} else {
		metrics.ConflictChecksTotal.WithLabelValues("clear").Inc()
	}
	return Detection{Result: result, AccountVersion: snap.AccountVersion}, nil
}

type interval struct {
	start, end time.Time
}

// Evaluate computes conflicts and suggestions for req against others. Entries
// of other accounts, inactive entries and the excluded id are ignored.
func Evaluate(req DetectRequest, others []*domain.ScheduleEntry, opts Options) domain.ConflictDetectionResult {
	opts = opts.withDefaults()
	proposed := req.EndTime.Sub(req.StartTime)

	var busy []interval
	conflicts := []domain.Conflict{}
	for _, e := range others {
		if e.AccountID != req.AccountID || !e.Active || e.ID == req.ExcludeScheduleID {
			continue
		}
		busy = append(busy, interval{e.StartTime, e.EndTime})
		if !domain.Overlaps(req.StartTime, req.EndTime, e.StartTime, e.EndTime) {
			continue
		}
		start := later(req.StartTime, e.StartTime)
		end := earlier(req.EndTime, e.EndTime)
		conflicts = append(conflicts, domain.Conflict{
			ScheduleID:             e.ID,
			ScheduleTitle:          e.Title,
			OverlapStart:           start,
			OverlapEnd:             end,
			OverlapDurationMinutes: int(end.Sub(start) / time.Minute),
			Severity:               domain.SeverityFor(end.Sub(start), proposed),
		})
	}

	slices.SortFunc(conflicts, func(a, b domain.Conflict) int {
		return cmp.Or(a.OverlapStart.Compare(b.OverlapStart), cmp.Compare(a.ScheduleID, b.ScheduleID))
	})

	result := domain.ConflictDetectionResult{
		HasConflict: len(conflicts) > 0,
		Conflicts:   conflicts,
		Suggestions: []domain.Suggestion{},
	}
	if !result.HasConflict {
		return result
	}

	busy = merge(busy)
	firstStart, lastEnd := conflictBounds(conflicts, busy, req)

	if s, ok := moveEarlier(busy, firstStart, proposed, req.StartTime.Add(-opts.Window)); ok {
		result.Suggestions = append(result.Suggestions, domain.Suggestion{
			Type:         domain.SuggestMoveEarlier,
			NewStartTime: s,
			NewEndTime:   s.Add(proposed),
			Description:  fmt.Sprintf("Move earlier to start at %s", s.UTC().Format(time.RFC3339)),
		})
	}
	if s, ok := moveLater(busy, lastEnd, proposed, req.StartTime.Add(opts.Window)); ok {
		result.Suggestions = append(result.Suggestions, domain.Suggestion{
			Type:         domain.SuggestMoveLater,
			NewStartTime: s,
			NewEndTime:   s.Add(proposed),
			Description:  fmt.Sprintf("Move later to start at %s", s.UTC().Format(time.RFC3339)),
		})
	}
	if end, ok := shorten(busy, req.StartTime, req.EndTime, opts.MinSlot); ok {
		result.Suggestions = append(result.Suggestions, domain.Suggestion{
			Type:         domain.SuggestShorten,
			NewStartTime: req.StartTime,
			NewEndTime:   end,
			Description:  fmt.Sprintf("Shorten to %d minutes", int(end.Sub(req.StartTime)/time.Minute)),
		})
	}

	slices.SortStableFunc(result.Suggestions, func(a, b domain.Suggestion) int {
		return cmp.Or(
			cmp.Compare(displacement(req, a), displacement(req, b)),
			cmp.Compare(a.Type.Rank(), b.Type.Rank()),
		)
	})
	return result
}

// conflictBounds returns the earliest start and latest end over the busy
// blocks that touch the proposed range.
func conflictBounds(conflicts []domain.Conflict, busy []interval, req DetectRequest) (time.Time, time.Time) {
	first, last := conflicts[0].OverlapStart, conflicts[0].OverlapEnd
	for _, b := range busy {
		if !domain.Overlaps(req.StartTime, req.EndTime, b.start, b.end) {
			continue
		}
		first = earlier(first, b.start)
		last = later(last, b.end)
	}
	return first, last
}

// moveEarlier finds the latest start s >= floor such that [s, s+length) is
// free and ends at or before ceiling.
func moveEarlier(busy []interval, ceiling time.Time, length time.Duration, floor time.Time) (time.Time, bool) {
	end := ceiling
	for {
		start := end.Add(-length)
		if start.Before(floor) {
			return time.Time{}, false
		}
		blocker, ok := lastOverlap(busy, start, end)
		if !ok {
			return start, true
		}
		end = blocker.start
	}
}

// moveLater finds the earliest start s <= limit at or after floor such that
// [s, s+length) is free.
func moveLater(busy []interval, floor time.Time, length time.Duration, limit time.Time) (time.Time, bool) {
	start := floor
	for {
		if start.After(limit) {
			return time.Time{}, false
		}
		blocker, ok := firstOverlap(busy, start, start.Add(length))
		if !ok {
			return start, true
		}
		start = blocker.end
	}
}

// shorten keeps the proposed start and trims the end to the first busy block
// inside the range. The start itself must be free.
func shorten(busy []interval, start, end time.Time, minSlot time.Duration) (time.Time, bool) {
	cut := end
	for _, b := range busy {
		if !b.start.After(start) && b.end.After(start) {
			return time.Time{}, false
		}
		if b.start.After(start) && b.start.Before(cut) {
			cut = b.start
		}
	}
	if cut.Equal(end) || cut.Sub(start) < minSlot {
		return time.Time{}, false
	}
	return cut, true
}

func firstOverlap(busy []interval, start, end time.Time) (interval, bool) {
	for _, b := range busy {
		if domain.Overlaps(start, end, b.start, b.end) {
			return b, true
		}
	}
	return interval{}, false
}

func lastOverlap(busy []interval, start, end time.Time) (interval, bool) {
	for i := len(busy) - 1; i >= 0; i-- {
		if domain.Overlaps(start, end, busy[i].start, busy[i].end) {
			return busy[i], true
		}
	}
	return interval{}, false
}

// merge sorts intervals and joins the ones that overlap or touch.
func merge(in []interval) []interval {
	if len(in) == 0 {
		return nil
	}
	slices.SortFunc(in, func(a, b interval) int { return a.start.Compare(b.start) })
	out := []interval{in[0]}
	for _, iv := range in[1:] {
		last := &out[len(out)-1]
		if !iv.start.After(last.end) {
			last.end = later(last.end, iv.end)
			continue
		}
		out = append(out, iv)
	}
	return out
}

func displacement(req DetectRequest, s domain.Suggestion) time.Duration {
	return max(abs(s.NewStartTime.Sub(req.StartTime)), abs(s.NewEndTime.Sub(req.EndTime)))
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
