package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
	SpecRandom
)

// ParsedSpec is a normalized schedule string.
//
// Supported forms:
//   - Cron: "0 4 * * *", "@daily", "@every 6h"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "06:00" (every 6 hours)
//   - Random interval: "30m..60m" (re-drawn after each run)
//
// Optional prefixes "cron:", "interval:"/"every:" and "random:" force a kind.
type ParsedSpec struct {
	Kind     SpecKind
	Cron     string
	Every    time.Duration
	Min, Max time.Duration // SpecRandom
	Source   string        // "cron" | "duration" | "hhmm" | "random"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	case strings.HasPrefix(low, "interval:"), strings.HasPrefix(low, "every:"):
		_, v, _ := strings.Cut(s, ":")
		d, src, err := parseInterval(v)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
	case strings.HasPrefix(low, "random:"):
		return parseRandom(s[len("random:"):])
	}

	if strings.Contains(s, "..") {
		return parseRandom(s)
	}
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}
	if d, src, err := parseInterval(s); err == nil {
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
	}
	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '0 4 * * *', HH:MM like '06:00', a duration like '55m' or a range like '30m..60m')",
		raw,
	)
}

func parseRandom(v string) (ParsedSpec, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(v), "..")
	if !ok {
		return ParsedSpec{}, fmt.Errorf("random schedule %q: expected MIN..MAX", v)
	}
	min, _, err := parseInterval(lo)
	if err != nil {
		return ParsedSpec{}, err
	}
	max, _, err := parseInterval(hi)
	if err != nil {
		return ParsedSpec{}, err
	}
	if max < min {
		return ParsedSpec{}, fmt.Errorf("random schedule %q: max is below min", v)
	}
	return ParsedSpec{Kind: SpecRandom, Min: min, Max: max, Source: "random"}, nil
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, "", fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, "", fmt.Errorf("interval must be > 0")
		}
		return d, "hhmm", nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}
