// Package recurrence turns producer recurrence specs into cron expressions.
package recurrence

import (
	"fmt"
	"time"

	"github.com/ErlanBelekov/schedule-engine/internal/cronexpr"
	"github.com/ErlanBelekov/schedule-engine/internal/domain"
)

// Translation is the canonical form of a RecurrenceSpec.
type Translation struct {
	Cron string
	// Timezone is set only when the expression is already pinned to one
	// (absolute timestamps); otherwise the caller's timezone applies.
	Timezone  string
	Recurring bool
}

// Translate is pure: the same spec always yields the same expression.
func Translate(spec domain.RecurrenceSpec) (Translation, error) {
	if spec == nil {
		return Translation{}, &domain.TranslationError{Reason: "recurrence spec is required"}
	}

	switch s := spec.(type) {
	case domain.Daily:
		if err := checkClock(s.Kind(), s.Hour, s.Minute); err != nil {
			return Translation{}, err
		}
		return recurring(fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)), nil

	case domain.Weekly:
		if err := checkRange(s.Kind(), "weekday", s.Weekday, 0, 6); err != nil {
			return Translation{}, err
		}
		if err := checkClock(s.Kind(), s.Hour, s.Minute); err != nil {
			return Translation{}, err
		}
		return recurring(fmt.Sprintf("%d %d * * %d", s.Minute, s.Hour, s.Weekday)), nil

	case domain.Monthly:
		if err := checkRange(s.Kind(), "day", s.Day, 1, 31); err != nil {
			return Translation{}, err
		}
		if err := checkClock(s.Kind(), s.Hour, s.Minute); err != nil {
			return Translation{}, err
		}
		// Months without the day are skipped by the evaluator.
		return recurring(fmt.Sprintf("%d %d %d * *", s.Minute, s.Hour, s.Day)), nil

	case domain.EveryNMinutes:
		if err := checkAtLeastOne(s.Kind(), s.N); err != nil {
			return Translation{}, err
		}
		// A step restarts at each hour, so it is only even for divisors of 60.
		if s.N < 60 && 60%s.N == 0 {
			return recurring(fmt.Sprintf("*/%d * * * *", s.N)), nil
		}
		return recurring(fmt.Sprintf("@every %dm", s.N)), nil

	case domain.EveryNHours:
		if err := checkAtLeastOne(s.Kind(), s.N); err != nil {
			return Translation{}, err
		}
		if err := checkRange(s.Kind(), "minute_offset", s.MinuteOffset, 0, 59); err != nil {
			return Translation{}, err
		}
		if s.N < 24 && 24%s.N == 0 {
			return recurring(fmt.Sprintf("%d */%d * * *", s.MinuteOffset, s.N)), nil
		}
		return recurring(fmt.Sprintf("@every %dh", s.N)), nil

	case domain.AbsoluteOnce:
		if s.Timestamp.IsZero() {
			return Translation{}, &domain.TranslationError{Kind: s.Kind(), Field: "timestamp", Reason: "is required"}
		}
		at := s.Timestamp.UTC()
		if trunc := at.Truncate(time.Minute); !trunc.Equal(at) {
			at = trunc.Add(time.Minute)
		}
		expr := fmt.Sprintf("%d %d %d %d * %d", at.Minute(), at.Hour(), at.Day(), int(at.Month()), at.Year())
		if err := cronexpr.Validate(expr); err != nil {
			return Translation{}, &domain.TranslationError{Kind: s.Kind(), Field: "timestamp", Value: s.Timestamp.UnixMilli(), Reason: "outside the supported year range"}
		}
		return Translation{Cron: expr, Timezone: "UTC", Recurring: false}, nil

	case domain.RawCron:
		sched, err := cronexpr.Parse(s.Expression)
		if err != nil {
			return Translation{}, &domain.TranslationError{Kind: s.Kind(), Field: "expression", Value: s.Expression, Reason: err.Error()}
		}
		return Translation{Cron: sched.String(), Recurring: sched.Recurring()}, nil
	}

	return Translation{}, &domain.TranslationError{Kind: spec.Kind(), Field: "kind", Value: spec.Kind(), Reason: "unknown recurrence kind"}
}

func recurring(expr string) Translation {
	return Translation{Cron: expr, Recurring: true}
}

func checkClock(kind domain.RecurrenceKind, hour, minute int) error {
	if err := checkRange(kind, "hour", hour, 0, 23); err != nil {
		return err
	}
	return checkRange(kind, "minute", minute, 0, 59)
}

func checkRange(kind domain.RecurrenceKind, field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return &domain.TranslationError{Kind: kind, Field: field, Value: v, Reason: fmt.Sprintf("must be between %d and %d", lo, hi)}
	}
	return nil
}

func checkAtLeastOne(kind domain.RecurrenceKind, n int) error {
	if n < 1 {
		return &domain.TranslationError{Kind: kind, Field: "n", Value: n, Reason: "must be at least 1"}
	}
	return nil
}
