package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type RecurrenceKind string

const (
	RecurrenceDaily         RecurrenceKind = "DAILY"
	RecurrenceWeekly        RecurrenceKind = "WEEKLY"
	RecurrenceMonthly       RecurrenceKind = "MONTHLY"
	RecurrenceEveryNMinutes RecurrenceKind = "EVERY_N_MINUTES"
	RecurrenceEveryNHours   RecurrenceKind = "EVERY_N_HOURS"
	RecurrenceAbsoluteOnce  RecurrenceKind = "ABSOLUTE_ONCE"
	RecurrenceRawCron       RecurrenceKind = "RAW_CRON"
)

// RecurrenceSpec is a producer's "how often" description. The set of
// implementations is closed: only the variants below satisfy it.
type RecurrenceSpec interface {
	Kind() RecurrenceKind
	recurrence()
}

type Daily struct {
	Hour   int
	Minute int
}

type Weekly struct {
	Weekday int // 0 = Sunday
	Hour    int
	Minute  int
}

type Monthly struct {
	Day    int
	Hour   int
	Minute int
}

type EveryNMinutes struct {
	N int
}

type EveryNHours struct {
	N            int
	MinuteOffset int
}

type AbsoluteOnce struct {
	Timestamp time.Time
}

type RawCron struct {
	Expression string
}

func (Daily) Kind() RecurrenceKind         { return RecurrenceDaily }
func (Weekly) Kind() RecurrenceKind        { return RecurrenceWeekly }
func (Monthly) Kind() RecurrenceKind       { return RecurrenceMonthly }
func (EveryNMinutes) Kind() RecurrenceKind { return RecurrenceEveryNMinutes }
func (EveryNHours) Kind() RecurrenceKind   { return RecurrenceEveryNHours }
func (AbsoluteOnce) Kind() RecurrenceKind  { return RecurrenceAbsoluteOnce }
func (RawCron) Kind() RecurrenceKind       { return RecurrenceRawCron }

func (Daily) recurrence()         {}
func (Weekly) recurrence()        {}
func (Monthly) recurrence()       {}
func (EveryNMinutes) recurrence() {}
func (EveryNHours) recurrence()   {}
func (AbsoluteOnce) recurrence()  {}
func (RawCron) recurrence()       {}

// recurrenceWire is the JSON shape: a "kind" discriminant plus the fields of
// the variant. Absent numeric fields decode as nil so a missing field can be
// told apart from zero.
type recurrenceWire struct {
	Kind         RecurrenceKind `json:"kind"`
	Hour         *int           `json:"hour,omitempty"`
	Minute       *int           `json:"minute,omitempty"`
	Weekday      *int           `json:"weekday,omitempty"`
	Day          *int           `json:"day,omitempty"`
	N            *int           `json:"n,omitempty"`
	MinuteOffset *int           `json:"minute_offset,omitempty"`
	Timestamp    *int64         `json:"timestamp,omitempty"` // unix ms
	Expression   *string        `json:"expression,omitempty"`
}

// DecodeRecurrenceSpec parses the wire form of a RecurrenceSpec.
func DecodeRecurrenceSpec(data []byte) (RecurrenceSpec, error) {
	var w recurrenceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: decode recurrence spec: %v", ErrInvalidEvent, err)
	}

	missing := func(field string) error {
		return &TranslationError{Kind: w.Kind, Field: field, Reason: "is required"}
	}
	switch w.Kind {
	case RecurrenceDaily:
		if w.Hour == nil || w.Minute == nil {
			return nil, missing("hour/minute")
		}
		return Daily{Hour: *w.Hour, Minute: *w.Minute}, nil
	case RecurrenceWeekly:
		if w.Weekday == nil || w.Hour == nil || w.Minute == nil {
			return nil, missing("weekday/hour/minute")
		}
		return Weekly{Weekday: *w.Weekday, Hour: *w.Hour, Minute: *w.Minute}, nil
	case RecurrenceMonthly:
		if w.Day == nil || w.Hour == nil || w.Minute == nil {
			return nil, missing("day/hour/minute")
		}
		return Monthly{Day: *w.Day, Hour: *w.Hour, Minute: *w.Minute}, nil
	case RecurrenceEveryNMinutes:
		if w.N == nil {
			return nil, missing("n")
		}
		return EveryNMinutes{N: *w.N}, nil
	case RecurrenceEveryNHours:
		if w.N == nil {
			return nil, missing("n")
		}
		offset := 0
		if w.MinuteOffset != nil {
			offset = *w.MinuteOffset
		}
		return EveryNHours{N: *w.N, MinuteOffset: offset}, nil
	case RecurrenceAbsoluteOnce:
		if w.Timestamp == nil {
			return nil, missing("timestamp")
		}
		return AbsoluteOnce{Timestamp: time.UnixMilli(*w.Timestamp).UTC()}, nil
	case RecurrenceRawCron:
		if w.Expression == nil {
			return nil, missing("expression")
		}
		return RawCron{Expression: *w.Expression}, nil
	}
	return nil, &TranslationError{Kind: w.Kind, Field: "kind", Value: w.Kind, Reason: "unknown recurrence kind"}
}

// EncodeRecurrenceSpec is the inverse of DecodeRecurrenceSpec.
func EncodeRecurrenceSpec(spec RecurrenceSpec) ([]byte, error) {
	w := recurrenceWire{Kind: spec.Kind()}
	switch s := spec.(type) {
	case Daily:
		w.Hour, w.Minute = &s.Hour, &s.Minute
	case Weekly:
		w.Weekday, w.Hour, w.Minute = &s.Weekday, &s.Hour, &s.Minute
	case Monthly:
		w.Day, w.Hour, w.Minute = &s.Day, &s.Hour, &s.Minute
	case EveryNMinutes:
		w.N = &s.N
	case EveryNHours:
		w.N, w.MinuteOffset = &s.N, &s.MinuteOffset
	case AbsoluteOnce:
		ms := s.Timestamp.UnixMilli()
		w.Timestamp = &ms
	case RawCron:
		w.Expression = &s.Expression
	}
	return json.Marshal(w)
}
