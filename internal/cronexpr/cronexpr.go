// Package cronexpr evaluates cron expressions in a timezone.
//
// The five standard fields are parsed with robfig/cron. An optional sixth
// field restricts the year, which lets one-shot timestamps be written as a
// cron expression that cannot fire again. Field schedules are walked on the
// civil calendar of the target timezone rather than on absolute time, so
// daylight saving transitions neither repeat nor drop a run:
//
//   - a wall time that occurs twice (clocks fall back) fires once, at its
//     first occurrence;
//   - a wall time that does not exist (clocks spring forward) fires at the
//     transition instant.
package cronexpr

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidExpression = errors.New("invalid cron expression")
	ErrNoNextRun         = errors.New("cron expression has no future occurrence")
)

// starBit mirrors robfig/cron: set on a field written as "*" or "?".
const starBit = 1 << 63

const (
	minYear = 1970
	maxYear = 2199

	// Nine years covers Feb 29 across a skipped leap year (2096 -> 2104).
	searchDays = 9 * 366
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a parsed expression.
type Schedule struct {
	expr  string
	spec  *cron.SpecSchedule
	every *cron.ConstantDelaySchedule
	years []int // sorted; nil means every year
}

// String returns the canonical text of the expression.
func (s *Schedule) String() string { return s.expr }

// Recurring is false when the expression is pinned to a single year.
func (s *Schedule) Recurring() bool { return len(s.years) != 1 }

// Parse accepts standard five-field expressions, descriptors such as
// "@daily" and "@every 90m", and five fields followed by a year field.
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	if strings.HasPrefix(fields[0], "TZ=") || strings.HasPrefix(fields[0], "CRON_TZ=") {
		return nil, fmt.Errorf("%w: timezone prefixes are not supported, pass the timezone separately", ErrInvalidExpression)
	}

	s := &Schedule{}
	if strings.HasPrefix(fields[0], "@") {
		if fields[0] == "@every" && len(fields) != 2 || fields[0] != "@every" && len(fields) != 1 {
			return nil, fmt.Errorf("%w: malformed descriptor %q", ErrInvalidExpression, expr)
		}
	} else {
		switch len(fields) {
		case 5:
		case 6:
			years, err := parseYears(fields[5])
			if err != nil {
				return nil, err
			}
			s.years = years
			fields = fields[:5]
		default:
			return nil, fmt.Errorf("%w: expected 5 or 6 fields, got %d", ErrInvalidExpression, len(fields))
		}
	}

	sched, err := parser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	switch v := sched.(type) {
	case *cron.SpecSchedule:
		s.spec = v
	case cron.ConstantDelaySchedule:
		s.every = &v
	default:
		return nil, fmt.Errorf("%w: unsupported schedule %T", ErrInvalidExpression, sched)
	}

	s.expr = strings.Join(fields, " ")
	if s.years != nil {
		s.expr += " " + formatYears(s.years)
	}
	return s, nil
}

// Validate reports whether expr parses.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// NextRun parses expr and evaluates it in the named timezone.
func NextRun(expr, timezone string, after time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(loc, after)
}

// LoadLocation treats an empty name as UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// Next returns the first time strictly after after that satisfies every
// field, evaluated in loc.
func (s *Schedule) Next(loc *time.Location, after time.Time) (time.Time, error) {
	if s.every != nil {
		return s.every.Next(after), nil
	}
	if loc == nil {
		loc = time.UTC
	}

	local := after.In(loc)
	// Dates are carried in UTC so that stepping a day never meets a DST edge.
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	for i := 0; i < searchDays; i++ {
		if !s.yearAllowed(day.Year()) {
			year, ok := s.nextYear(day.Year())
			if !ok {
				return time.Time{}, ErrNoNextRun
			}
			day = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
			continue
		}
		if s.dayMatches(day) {
			if t, ok := s.firstOnDay(loc, day, after); ok {
				return t, nil
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, ErrNoNextRun
}

func (s *Schedule) firstOnDay(loc *time.Location, day time.Time, after time.Time) (time.Time, bool) {
	for h := 0; h < 24; h++ {
		if s.spec.Hour&(1<<uint(h)) == 0 {
			continue
		}
		for m := 0; m < 60; m++ {
			if s.spec.Minute&(1<<uint(m)) == 0 {
				continue
			}
			t := resolve(loc, day.Year(), day.Month(), day.Day(), h, m)
			if t.After(after) {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// dayMatches follows cron: day-of-month and day-of-week are ANDed when
// either is a wildcard, ORed otherwise.
func (s *Schedule) dayMatches(day time.Time) bool {
	if s.spec.Month&(1<<uint(day.Month())) == 0 {
		return false
	}
	domMatch := s.spec.Dom&(1<<uint(day.Day())) > 0
	dowMatch := s.spec.Dow&(1<<uint(day.Weekday())) > 0
	if s.spec.Dom&starBit > 0 || s.spec.Dow&starBit > 0 {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}

func (s *Schedule) yearAllowed(y int) bool {
	if s.years == nil {
		return true
	}
	i := sort.SearchInts(s.years, y)
	return i < len(s.years) && s.years[i] == y
}

func (s *Schedule) nextYear(y int) (int, bool) {
	i := sort.SearchInts(s.years, y+1)
	if i == len(s.years) {
		return 0, false
	}
	return s.years[i], true
}

// resolve maps a wall-clock minute in loc to an instant. Ambiguous wall
// times resolve to their first occurrence; wall times inside a gap resolve
// to the end of the gap.
func resolve(loc *time.Location, y int, mo time.Month, d, h, mi int) time.Time {
	wall := time.Date(y, mo, d, h, mi, 0, 0, time.UTC)

	// Offsets in force a day and a half either side of the wall time cover
	// both sides of any single transition.
	_, before := wall.Add(-36 * time.Hour).In(loc).Zone()
	_, at := wall.In(loc).Zone()
	_, after := wall.Add(36 * time.Hour).In(loc).Zone()

	var best time.Time
	for _, off := range []int{before, at, after} {
		t := wall.Add(-time.Duration(off) * time.Second).In(loc)
		if !sameWall(t, y, mo, d, h, mi) {
			continue
		}
		if best.IsZero() || t.Before(best) {
			best = t
		}
	}
	if !best.IsZero() {
		return best
	}

	if after > before {
		// The gap starts at wall-after (still on the old offset) and ends at
		// wall-before (already on the new one). Find the transition.
		lo := wall.Add(-time.Duration(after) * time.Second)
		hi := wall.Add(-time.Duration(before) * time.Second)
		for hi.Sub(lo) > time.Nanosecond {
			mid := lo.Add(hi.Sub(lo) / 2)
			if _, off := mid.In(loc).Zone(); off == after {
				hi = mid
			} else {
				lo = mid
			}
		}
		return hi.In(loc)
	}
	return time.Date(y, mo, d, h, mi, 0, 0, loc)
}

func sameWall(t time.Time, y int, mo time.Month, d, h, mi int) bool {
	return t.Year() == y && t.Month() == mo && t.Day() == d && t.Hour() == h && t.Minute() == mi
}

func parseYears(field string) ([]int, error) {
	if field == "*" || field == "?" {
		return nil, nil
	}
	seen := map[int]bool{}
	for _, part := range strings.Split(field, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := parseYear(lo)
		if err != nil {
			return nil, err
		}
		end := start
		if isRange {
			if end, err = parseYear(hi); err != nil {
				return nil, err
			}
			if end < start {
				return nil, fmt.Errorf("%w: year range %q is reversed", ErrInvalidExpression, part)
			}
		}
		for y := start; y <= end; y++ {
			seen[y] = true
		}
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad year %q", ErrInvalidExpression, s)
	}
	if y < minYear || y > maxYear {
		return 0, fmt.Errorf("%w: year %d outside %d-%d", ErrInvalidExpression, y, minYear, maxYear)
	}
	return y, nil
}

// formatYears writes years as a comma list, folding consecutive runs into
// ranges.
func formatYears(years []int) string {
	var parts []string
	for i := 0; i < len(years); {
		j := i
		for j+1 < len(years) && years[j+1] == years[j]+1 {
			j++
		}
		if j == i {
			parts = append(parts, strconv.Itoa(years[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", years[i], years[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}
