// Package timeutil normalizes timestamps coming back from the job stores.
//
// Drivers disagree on what a timestamp looks like: pgx returns timestamptz
// as an instant but "timestamp without time zone" as a wall clock, SQLite
// hands back text with or without an offset. Every component that computes
// an age goes through ToUTC so the comparison never mixes the two.
package timeutil

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// NaiveLayout is the text layout the SQLite store writes. It carries no
// offset and is always UTC wall clock.
const NaiveLayout = "2006-01-02 15:04:05.000000"

var naiveLayouts = []string{
	NaiveLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

var awareLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05-07",
}

// ToUTC converts a driver timestamp value to an aware UTC time.
// Values without an offset are read as UTC wall clock. ok is false for
// NULL values.
func ToUTC(v any) (t time.Time, ok bool, err error) {
	switch ts := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return ts.UTC(), true, nil
	case *time.Time:
		if ts == nil {
			return time.Time{}, false, nil
		}
		return ts.UTC(), true, nil
	case pgtype.Timestamptz:
		if !ts.Valid {
			return time.Time{}, false, nil
		}
		return ts.Time.UTC(), true, nil
	case pgtype.Timestamp:
		if !ts.Valid {
			return time.Time{}, false, nil
		}
		return wallClockUTC(ts.Time), true, nil
	case sql.NullTime:
		if !ts.Valid {
			return time.Time{}, false, nil
		}
		return ts.Time.UTC(), true, nil
	case sql.NullString:
		if !ts.Valid {
			return time.Time{}, false, nil
		}
		return parseText(ts.String)
	case *string:
		if ts == nil {
			return time.Time{}, false, nil
		}
		return parseText(*ts)
	case string:
		return parseText(ts)
	case []byte:
		if ts == nil {
			return time.Time{}, false, nil
		}
		return parseText(string(ts))
	case int64:
		return time.Unix(ts, 0).UTC(), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("timeutil: unsupported timestamp type %T", v)
	}
}

// MustUTC is ToUTC for values the caller already knows are valid; it
// returns the zero time when conversion fails.
func MustUTC(v any) time.Time {
	t, _, _ := ToUTC(v)
	return t
}

// Age returns now - ts with both sides normalized to UTC.
func Age(now time.Time, ts any) (time.Duration, error) {
	t, ok, err := ToUTC(ts)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("timeutil: timestamp is null")
	}
	return now.UTC().Sub(t), nil
}

// FormatNaive renders t as UTC wall clock text in NaiveLayout.
func FormatNaive(t time.Time) string {
	return t.UTC().Format(NaiveLayout)
}

func parseText(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range awareLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true, nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), true, nil
	}
	return time.Time{}, false, fmt.Errorf("timeutil: unrecognized timestamp %q", s)
}

func wallClockUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
