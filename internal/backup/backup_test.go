package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"respawnbot/internal/boss"
	"respawnbot/internal/scheduler"
	"respawnbot/internal/timer"
)

var t0 = time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

// Now advances one second per call so every backup gets its own timestamp.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTimers(t *testing.T) *timer.Service {
	t.Helper()
	reg, err := boss.New(boss.Default())
	if err != nil {
		t.Fatal(err)
	}
	return timer.New(timer.Options{Registry: reg, Now: func() time.Time { return t0 }})
}

func newService(t *testing.T, cfg Config, src Source) *Service {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	clk := &stepClock{t: t0}
	s, err := New(cfg, src, Options{Now: clk.Now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "zstd"}[compress], func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			ts := newTimers(t)
			by := timer.Recorder{ID: "7", Name: "Ann"}
			if _, err := ts.Record(ctx, "hm", 2, t0.Add(-time.Hour), by); err != nil {
				t.Fatal(err)
			}
			if _, _, err := ts.Subscribe(ctx, "7", "Medusa"); err != nil {
				t.Fatal(err)
			}
			want := ts.Export()

			s := newService(t, Config{Compress: compress}, ts)
			info, err := s.Create(ctx)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if compress != strings.HasSuffix(info.File, ".json.zst") {
				t.Fatalf("file = %q", info.File)
			}

			if _, err := ts.Clear(ctx, "hm", 0, by); err != nil {
				t.Fatal(err)
			}
			doc, err := s.Restore(ctx, info.ID)
			if err != nil {
				t.Fatalf("Restore: %v", err)
			}
			if !doc.Timestamp.Equal(info.Created) {
				t.Fatalf("timestamp %v != %v", doc.Timestamp, info.Created)
			}
			if got := ts.Export(); !reflect.DeepEqual(got, want) {
				t.Fatalf("restored state differs:\n got %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestDocumentUsesSchemaFieldNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := newTimers(t)
	if _, err := ts.Record(ctx, "Kundun", 1, t0.Add(-time.Hour), timer.Recorder{ID: "1", Name: "Bo"}); err != nil {
		t.Fatal(err)
	}
	s := newService(t, Config{}, ts)
	info, err := s.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(filepath.Join(s.config().Dir, info.File))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"boss_timers"`, `"user_stats"`, `"user_notifications": []`, `"timestamp"`, `"death_time"`, `"opened_notified"`, `"display_name"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("document missing %s:\n%s", key, raw)
		}
	}
}

func TestChecksumMismatchRejected(t *testing.T) {
	t.Parallel()
	s := newService(t, Config{}, newTimers(t))
	info, err := s.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	sum := filepath.Join(s.config().Dir, info.File+extSum)
	if err := os.WriteFile(sum, []byte("00\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Load(info.ID); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Load err = %v, want checksum mismatch", err)
	}
}

func TestNormalizeID(t *testing.T) {
	t.Parallel()
	good := "backup-20250506-070809-0a1b2c3d"
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{good, good, false},
		{good + ".json", good, false},
		{"  " + good + ".json.zst ", good, false},
		{"../../etc/passwd", "", true},
		{"backup-2025-bad", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeID(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("NormalizeID(%q) = %q, %v", tc.in, got, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidID) {
			t.Fatalf("error %v is not ErrInvalidID", err)
		}
	}
	if !idPattern.MatchString(NewID(t0)) {
		t.Fatalf("NewID does not match its own pattern: %s", NewID(t0))
	}
}

func TestListNewestFirstAndRetention(t *testing.T) {
	t.Parallel()
	s := newService(t, Config{Keep: 2}, newTimers(t))
	ctx := context.Background()
	var last Info
	for range 4 {
		info, err := s.Create(ctx)
		if err != nil {
			t.Fatal(err)
		}
		last = info
	}
	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != last.ID || !list[0].Created.After(list[1].Created) {
		t.Fatalf("list = %+v", list)
	}
	ents, _ := os.ReadDir(s.config().Dir)
	if len(ents) != 4 {
		t.Fatalf("expected 2 backups + 2 sidecars, got %d files", len(ents))
	}
	if _, _, err := s.Load("backup-20000101-000000-deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing backup err = %v", err)
	}
}

type fakeScheduler struct {
	added   map[string]string
	removed []string
}

func (f *fakeScheduler) Add(name, spec string, timeout time.Duration, job scheduler.Job) error {
	f.added[name] = spec
	return nil
}

func (f *fakeScheduler) Remove(name string) bool {
	f.removed = append(f.removed, name)
	return true
}

func TestScheduleFollowsConfig(t *testing.T) {
	t.Parallel()
	s := newService(t, Config{Schedule: "every:6h"}, newTimers(t))
	sched := &fakeScheduler{added: map[string]string{}}
	if err := s.Schedule(sched); err != nil {
		t.Fatal(err)
	}
	if sched.added[autoJob] != "every:6h" {
		t.Fatalf("added = %v", sched.added)
	}
	if err := s.Apply(Config{Dir: s.config().Dir}); err != nil {
		t.Fatal(err)
	}
	if err := s.Schedule(sched); err != nil {
		t.Fatal(err)
	}
	if len(sched.removed) != 1 || sched.removed[0] != autoJob {
		t.Fatalf("removed = %v", sched.removed)
	}
}
