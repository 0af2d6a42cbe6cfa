package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "respawnbot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		kind SpecKind
		src  string
		min  time.Duration
		max  time.Duration
	}{
		{in: "0 4 * * *", kind: SpecCron, src: "cron"},
		{in: "@daily", kind: SpecCron, src: "cron"},
		{in: "cron:*/5 * * * *", kind: SpecCron, src: "cron"},
		{in: "55m", kind: SpecInterval, src: "duration", min: 55 * time.Minute},
		{in: "06:00", kind: SpecInterval, src: "hhmm", min: 6 * time.Hour},
		{in: "every:1h30m", kind: SpecInterval, src: "duration", min: 90 * time.Minute},
		{in: "30m..60m", kind: SpecRandom, src: "random", min: 30 * time.Minute, max: time.Hour},
		{in: "random:00:30..01:00", kind: SpecRandom, src: "random", min: 30 * time.Minute, max: time.Hour},
	}
	for _, tc := range cases {
		ps, err := ParseSchedule(tc.in)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tc.in, err)
		}
		if ps.Kind != tc.kind || ps.Source != tc.src {
			t.Fatalf("ParseSchedule(%q) = %+v", tc.in, ps)
		}
		switch ps.Kind {
		case SpecInterval:
			if ps.Every != tc.min {
				t.Fatalf("ParseSchedule(%q).Every = %v", tc.in, ps.Every)
			}
		case SpecRandom:
			if ps.Min != tc.min || ps.Max != tc.max {
				t.Fatalf("ParseSchedule(%q) range = %v..%v", tc.in, ps.Min, ps.Max)
			}
		}
	}

	for _, bad := range []string{"", "soon", "-5m", "00:00", "1h..30m", "12:75"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Fatalf("ParseSchedule(%q) should fail", bad)
		}
	}
}

func TestRandomScheduleStaysInRange(t *testing.T) {
	t.Parallel()
	r := newRandomSchedule(30*time.Minute, time.Hour, 42)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seen := map[time.Duration]bool{}
	for i := 0; i < 500; i++ {
		d := r.Next(now).Sub(now)
		if d < 30*time.Minute || d > time.Hour {
			t.Fatalf("draw %v out of range", d)
		}
		seen[d] = true
	}
	if len(seen) < 10 {
		t.Fatalf("draws are not varying: %d distinct", len(seen))
	}

	fixed := newRandomSchedule(time.Minute, time.Minute, 1)
	if d := fixed.Next(now).Sub(now); d != time.Minute {
		t.Fatalf("degenerate range = %v", d)
	}
}

func TestStartupSpreadOnlyDelaysFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := intervalWithSpread(time.Minute, now, "job")
	if jitter < 0 || jitter >= 30*time.Second {
		t.Fatalf("jitter = %v", jitter)
	}
	first := sched.Next(now)
	if want := now.Add(time.Minute + jitter); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}
	if second := sched.Next(first); second.Sub(first) != time.Minute {
		t.Fatalf("second run gap = %v", second.Sub(first))
	}
}

func TestAddReplaceRemove(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	noop := func(context.Context) error { return nil }

	if err := s.Add("backup", "0 4 * * *", time.Minute, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("backup", "@every 6h", time.Minute, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("bad", "61 * * * *", 0, noop); err == nil {
		t.Fatal("invalid cron accepted")
	}
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Spec != "@every 6h" {
		t.Fatalf("entries = %+v", entries)
	}
	if !s.Remove("backup") || s.Remove("backup") {
		t.Fatal("Remove should succeed once")
	}
}

func TestRandomJobRuns(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	var runs atomic.Int32
	done := make(chan struct{})
	err := s.AddRandom("repost", 10*time.Millisecond, 20*time.Millisecond, time.Second, func(ctx context.Context) error {
		if runs.Add(1) == 2 {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer func() {
		stopCtx, c := context.WithTimeout(context.Background(), time.Second)
		defer c()
		s.Stop(stopCtx)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("job ran %d times", runs.Load())
	}
	if e := s.Entries(); len(e) != 1 || e[0].Next.IsZero() {
		t.Fatalf("entries = %+v", e)
	}
}
