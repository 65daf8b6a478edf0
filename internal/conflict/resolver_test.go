package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

func newTestResolver(repo *memSchedules) *Resolver {
	r := NewResolver(repo, NewDetector(repo, DefaultOptions(), discardLogger()), discardLogger())
	r.now = func() time.Time { return at(8, 0) }
	return r
}

func TestResolve_AdjustDurationClearsConflict(t *testing.T) {
	repo := newMemSchedules()
	target := repo.seed("acct-1", "review", at(10, 0), at(11, 0))
	repo.seed("acct-1", "1:1", at(10, 30), at(12, 0))

	minutes := 30
	res, err := newTestResolver(repo).Resolve(context.Background(), ResolveRequest{
		ScheduleID: target.ID, AccountID: "acct-1", Strategy: domain.StrategyAdjustDuration, NewDuration: &minutes,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Conflicts.HasConflict {
		t.Fatalf("expected no conflict after shortening, got %+v", res.Conflicts.Conflicts)
	}
	if !res.Applied || res.Warning != nil {
		t.Fatalf("expected applied without warning, applied=%v warning=%v", res.Applied, res.Warning)
	}

	stored := repo.get(target.ID)
	if !stored.EndTime.Equal(at(10, 30)) || stored.Duration != 30 {
		t.Fatalf("expected 10:00-10:30, got end %s duration %d", stored.EndTime, stored.Duration)
	}
	if stored.HasConflict {
		t.Fatal("expected hasConflict cleared")
	}
	if stored.Version != target.Version+1 {
		t.Fatalf("expected version bump, got %d", stored.Version)
	}

	if len(repo.audits) != 1 {
		t.Fatalf("expected one audit, got %d", len(repo.audits))
	}
	audit := repo.audits[0]
	if audit.Strategy != domain.StrategyAdjustDuration || !audit.PreviousEndTime.Equal(at(11, 0)) {
		t.Fatalf("unexpected audit %+v", audit)
	}
	if len(audit.Changes) != 2 || audit.Changes[0].Field != "end_time" || audit.Changes[1].Field != "duration" {
		t.Fatalf("expected end_time and duration changes, got %+v", audit.Changes)
	}
	if audit.Changes[1].From != "60" || audit.Changes[1].To != "30" {
		t.Fatalf("unexpected duration change %+v", audit.Changes[1])
	}
}

func TestResolve_RescheduleWithResidualConflict(t *testing.T) {
	repo := newMemSchedules()
	target := repo.seed("acct-1", "review", at(10, 0), at(11, 0))
	blocker := repo.seed("acct-1", "offsite", at(14, 0), at(16, 0))

	start, end := at(15, 0), at(16, 0)
	res, err := newTestResolver(repo).Resolve(context.Background(), ResolveRequest{
		ScheduleID: target.ID, AccountID: "acct-1", Strategy: domain.StrategyReschedule,
		NewStartTime: &start, NewEndTime: &end,
	})
	if err != nil {
		t.Fatalf("residual conflicts must not be an error: %v", err)
	}
	if !res.Applied {
		t.Fatal("expected rescheduling to be applied")
	}
	if res.Warning == nil || res.Warning.Remaining != 1 {
		t.Fatalf("expected a warning for one remaining conflict, got %+v", res.Warning)
	}

	stored := repo.get(target.ID)
	if !stored.StartTime.Equal(start) || !stored.HasConflict {
		t.Fatalf("expected moved entry flagged as conflicting, got %+v", stored)
	}
	if len(stored.ConflictingSchedules) != 1 || stored.ConflictingSchedules[0] != blocker.ID {
		t.Fatalf("expected conflicting schedule %s, got %v", blocker.ID, stored.ConflictingSchedules)
	}
	if len(res.Audit.Changes) != 2 || res.Audit.Changes[0].Field != "start_time" {
		t.Fatalf("expected start_time and end_time changes (same duration), got %+v", res.Audit.Changes)
	}
}

func TestResolve_RescheduleRequiresTimes(t *testing.T) {
	repo := newMemSchedules()
	target := repo.seed("acct-1", "review", at(10, 0), at(11, 0))

	start := at(12, 0)
	_, err := newTestResolver(repo).Resolve(context.Background(), ResolveRequest{
		ScheduleID: target.ID, AccountID: "acct-1", Strategy: domain.StrategyReschedule, NewStartTime: &start,
	})
	if !errors.Is(err, domain.ErrInvalidTimeRange) {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation kind, got %s", domain.KindOf(err))
	}
}

func TestResolve_CancelTwiceIsNoop(t *testing.T) {
	repo := newMemSchedules()
	target := repo.seed("acct-1", "review", at(10, 0), at(11, 0))
	r := newTestResolver(repo)
	req := ResolveRequest{ScheduleID: target.ID, AccountID: "acct-1", Strategy: domain.StrategyCancel}

	first, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if !first.Applied || first.Schedule.Active {
		t.Fatalf("expected entry deactivated, got %+v", first)
	}
	version := repo.get(target.ID).Version

	second, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("second cancel must not fail: %v", err)
	}
	if second.Applied {
		t.Fatal("expected second cancel not applied")
	}
	if got := repo.get(target.ID).Version; got != version {
		t.Fatalf("expected version unchanged at %d, got %d", version, got)
	}
	if len(repo.audits) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(repo.audits))
	}
	if second.Audit.Strategy != domain.StrategyCancel {
		t.Fatal("expected an audit to be returned even when nothing changed")
	}
}

func TestResolve_IgnoreEchoesConflicts(t *testing.T) {
	repo := newMemSchedules()
	target := repo.seed("acct-1", "review", at(10, 0), at(11, 0))
	repo.seed("acct-1", "1:1", at(10, 30), at(11, 30))

	res, err := newTestResolver(repo).Resolve(context.Background(), ResolveRequest{
		ScheduleID: target.ID, AccountID: "acct-1", Strategy: domain.StrategyIgnore,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Applied {
		t.Fatal("expected ignore not to mutate")
	}
	if !res.Conflicts.HasConflict || len(res.Conflicts.Conflicts) != 1 {
		t.Fatalf("expected the existing conflict echoed, got %+v", res.Conflicts)
	}
	if res.Warning == nil {
		t.Fatal("expected a conflict-persists warning")
	}
	if len(repo.audits) != 0 {
		t.Fatalf("expected nothing persisted, got %d audits", len(repo.audits))
	}
}

func TestResolve_Errors(t *testing.T) {
	repo := newMemSchedules()
	target := repo.seed("acct-1", "review", at(10, 0), at(11, 0))
	r := newTestResolver(repo)

	if _, err := r.Resolve(context.Background(), ResolveRequest{ScheduleID: target.ID, AccountID: "acct-1", Strategy: "MERGE"}); !errors.Is(err, domain.ErrInvalidStrategy) {
		t.Fatalf("expected ErrInvalidStrategy, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), ResolveRequest{ScheduleID: target.ID, AccountID: "acct-2", Strategy: domain.StrategyCancel}); !errors.Is(err, domain.ErrScheduleNotFound) {
		t.Fatalf("expected another account's entry to be not found, got %v", err)
	}
}

func TestResolve_ConcurrentWriteRejected(t *testing.T) {
	repo := newMemSchedules()
	target := repo.seed("acct-1", "review", at(10, 0), at(11, 0))
	repo.afterSnapshot = func() { repo.bump("acct-1") }

	start, end := at(13, 0), at(14, 0)
	_, err := newTestResolver(repo).Resolve(context.Background(), ResolveRequest{
		ScheduleID: target.ID, AccountID: "acct-1", Strategy: domain.StrategyReschedule,
		NewStartTime: &start, NewEndTime: &end,
	})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if stored := repo.get(target.ID); !stored.StartTime.Equal(at(10, 0)) {
		t.Fatalf("expected entry unchanged, got start %s", stored.StartTime)
	}
}
