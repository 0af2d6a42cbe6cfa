// Package timefmt parses user supplied times of day and renders the short
// durations and clock times used in timer views.
package timefmt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidFormat = errors.New("invalid time format")

// ParseTimeOfDay accepts "HH:MM", "HHhMM" or a bare "HH".
//
// Only the shape is checked; "25:99" parses and ValidateTimeOfDay rejects it.
func ParseTimeOfDay(input string) (hour, minute int, err error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, 0, ErrInvalidFormat
	}

	hs, ms, found := strings.Cut(s, ":")
	if !found {
		if i := strings.IndexAny(s, "hH"); i >= 0 {
			hs, ms, found = s[:i], s[i+1:], true
		}
	}
	if !found {
		ms = "0"
	}

	hour, err = atoiStrict(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidFormat, input)
	}
	minute, err = atoiStrict(ms)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidFormat, input)
	}
	return hour, minute, nil
}

// atoiStrict accepts ASCII digits only (no sign, no spaces).
func atoiStrict(s string) (int, error) {
	if s == "" || len(s) > 4 {
		return 0, ErrInvalidFormat
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, ErrInvalidFormat
		}
	}
	return strconv.Atoi(s)
}

func ValidateTimeOfDay(hour, minute int) bool {
	return hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59
}

// Remaining formats target-now as "HHh MMm", truncating seconds. It never
// goes negative: a target at or before now yields "00h 00m".
func Remaining(target, now time.Time) string {
	d := target.Sub(now)
	if d < 0 {
		d = 0
	}
	mins := int64(d / time.Minute)
	return fmt.Sprintf("%02dh %02dm", mins/60, mins%60)
}

// ResolveDeath places hour:minute on the most recent past occurrence in loc.
// With yesterday set the naive "today" value is moved back one day regardless.
func ResolveDeath(now time.Time, hour, minute int, yesterday bool, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	t := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if yesterday || t.After(now) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// Clock renders t as "HH:MM" in loc.
func Clock(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "--:--"
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("15:04")
}

// LoadLocation resolves a configured timezone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}
