package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"respawnbot/internal/boss"
	"respawnbot/internal/eventbus"
	"respawnbot/internal/scheduler"
	"respawnbot/internal/timer"
	kit "respawnbot/internal/transport"
)

var t0 = time.Date(2025, 2, 3, 12, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []string
	edits   []string
	dms     map[string]string
	sendErr []error // consumed one per SendText call
	editErr error
	dmErr   map[string]error
	nextID  int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{dms: map[string]string{}, dmErr: map[string]error{}}
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	if len(f.sendErr) > 0 {
		err := f.sendErr[0]
		f.sendErr = f.sendErr[1:]
		if err != nil {
			return kit.MessageRef{}, err
		}
	}
	f.nextID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: string(rune('a' + f.nextID))}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return f.editErr
}

func (f *fakeAdapter) SendDirect(ctx context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.dmErr[userID]; err != nil {
		return err
	}
	f.dms[userID] = text
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, id, text string) error { return nil }

func (f *fakeAdapter) counts() (sent, edits, dms int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), len(f.edits), len(f.dms)
}

type fakeScheduler struct {
	mu       sync.Mutex
	name     string
	min, max time.Duration
	removed  []string
}

func (f *fakeScheduler) AddRandom(name string, min, max, timeout time.Duration, job scheduler.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name, f.min, f.max = name, min, max
	return nil
}

func (f *fakeScheduler) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return true
}

func newTimers(t *testing.T) *timer.Service {
	t.Helper()
	reg, err := boss.New(boss.Default())
	if err != nil {
		t.Fatal(err)
	}
	return timer.New(timer.Options{Registry: reg, Now: func() time.Time { return t0 }})
}

func record(t *testing.T, ts *timer.Service, name string, room int, death time.Time) {
	t.Helper()
	if _, err := ts.Record(context.Background(), name, room, death, timer.Recorder{ID: "r", Name: "Rec"}); err != nil {
		t.Fatalf("Record(%s, %d): %v", name, room, err)
	}
}

func baseConfig() Config {
	return Config{
		Enabled:         true,
		ChatID:          "chan",
		PollInterval:    time.Hour,
		DMDelay:         time.Millisecond,
		MaxThrottleWait: 10 * time.Millisecond,
	}
}

func TestTickBroadcastsInCatalogOrderAndSendsDMs(t *testing.T) {
	ts := newTimers(t)
	ctx := context.Background()
	open := t0.Add(-timer.RespawnDelay - time.Minute)
	record(t, ts, "Medusa", 1, open)
	record(t, ts, "Hell Maine", 2, open)
	for _, uid := range []string{"u1", "u2", "u3"} {
		if _, _, err := ts.Subscribe(ctx, uid, "Medusa"); err != nil {
			t.Fatal(err)
		}
	}

	ad := newFakeAdapter()
	ad.dmErr["u2"] = kit.Forbidden(errors.New("bot was blocked"))
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	n := New(baseConfig(), Options{Timers: ts, Adapter: ad, Bus: bus})
	n.Start(ctx)
	defer n.Stop(ctx)

	trs := n.Tick(ctx, t0)
	if len(trs) != 2 {
		t.Fatalf("transitions = %d", len(trs))
	}
	if len(ad.sent) != 1 {
		t.Fatalf("expected one combined broadcast, got %q", ad.sent)
	}
	msg := ad.sent[0]
	hm, med := strings.Index(msg, "Hell Maine #2"), strings.Index(msg, "Medusa #1")
	if hm < 0 || med < 0 || hm > med {
		t.Fatalf("broadcast order wrong:\n%s", msg)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, dms := ad.counts(); dms == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	ad.mu.Lock()
	_, got1 := ad.dms["u1"]
	_, got3 := ad.dms["u3"]
	ad.mu.Unlock()
	if !got1 || !got3 {
		t.Fatalf("forbidden recipient stopped the batch: %v", ad.dms)
	}

	var sawBroadcast bool
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.NotifierBroadcast {
			sawBroadcast = true
		}
	}
	if !sawBroadcast {
		t.Fatal("missing broadcast event")
	}

	if again := n.Tick(ctx, t0.Add(time.Minute)); len(again) != 0 {
		t.Fatalf("second tick repeated transitions: %v", again)
	}
}

func TestDeliverRetriesOnceWhenThrottled(t *testing.T) {
	t.Parallel()
	throttled := kit.Throttled(errors.New("429"), time.Millisecond)
	cases := []struct {
		name    string
		errs    []error
		wantErr bool
		calls   int
	}{
		{"recovers", []error{throttled, nil}, false, 2},
		{"gives up", []error{throttled, throttled, nil}, true, 2},
		{"plain error not retried", []error{errors.New("boom"), nil}, true, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			n := New(baseConfig(), Options{Timers: newTimers(t), Adapter: newFakeAdapter()})
			calls := 0
			errs := tc.errs
			err := n.deliver(context.Background(), "test", func(context.Context) error {
				calls++
				e := errs[0]
				errs = errs[1:]
				return e
			})
			if (err != nil) != tc.wantErr || calls != tc.calls {
				t.Fatalf("err=%v calls=%d, want err=%v calls=%d", err, calls, tc.wantErr, tc.calls)
			}
		})
	}
}

func TestThrottleWaitIsCapped(t *testing.T) {
	t.Parallel()
	n := New(baseConfig(), Options{Timers: newTimers(t), Adapter: newFakeAdapter()})
	start := time.Now()
	calls := 0
	_ = n.deliver(context.Background(), "test", func(context.Context) error {
		calls++
		if calls == 1 {
			return kit.Throttled(nil, time.Hour)
		}
		return nil
	})
	if time.Since(start) > time.Second {
		t.Fatal("throttle wait was not capped")
	}
}

func TestLiveTableEditsAndFallsBack(t *testing.T) {
	t.Parallel()
	ts := newTimers(t)
	record(t, ts, "Kundun", 1, t0.Add(-time.Hour))
	ad := newFakeAdapter()
	cfg := baseConfig()
	cfg.LiveTable = true
	n := New(cfg, Options{Timers: ts, Adapter: ad})
	ctx := context.Background()

	n.Tick(ctx, t0)
	first := n.LiveTable()
	if sent, _, _ := ad.counts(); sent != 1 || first.IsZero() {
		t.Fatalf("first tick should post the table (sent=%d ref=%+v)", sent, first)
	}

	n.Tick(ctx, t0)
	if _, edits, _ := ad.counts(); edits != 0 {
		t.Fatal("unchanged table should not be edited")
	}

	n.Tick(ctx, t0.Add(time.Minute))
	if sent, edits, _ := ad.counts(); sent != 1 || edits != 1 {
		t.Fatalf("changed table should be edited (sent=%d edits=%d)", sent, edits)
	}

	ad.mu.Lock()
	ad.editErr = kit.NotFound(errors.New("message to edit not found"))
	ad.mu.Unlock()
	n.Tick(ctx, t0.Add(2*time.Minute))
	if sent, _, _ := ad.counts(); sent != 2 {
		t.Fatalf("missing message should fall back to a new post (sent=%d)", sent)
	}
	if n.LiveTable() == first {
		t.Fatal("live table ref not replaced")
	}
}

func TestRepostSchedulingFollowsConfig(t *testing.T) {
	t.Parallel()
	sched := &fakeScheduler{}
	cfg := baseConfig()
	cfg.LiveTable = true
	cfg.RepostMin = 10 * time.Minute
	cfg.RepostMax = 20 * time.Minute
	ad := newFakeAdapter()
	n := New(cfg, Options{Timers: newTimers(t), Adapter: ad, Scheduler: sched})
	ctx := context.Background()
	n.Start(ctx)

	sched.mu.Lock()
	if sched.name != repostJob || sched.min != 10*time.Minute || sched.max != 20*time.Minute {
		t.Fatalf("repost registered as %q [%s, %s]", sched.name, sched.min, sched.max)
	}
	sched.mu.Unlock()

	if err := n.Repost(ctx); err != nil {
		t.Fatalf("Repost: %v", err)
	}
	if err := n.Repost(ctx); err != nil {
		t.Fatalf("Repost: %v", err)
	}
	if sent, edits, _ := ad.counts(); sent != 2 || edits != 0 {
		t.Fatalf("repost should always send fresh (sent=%d edits=%d)", sent, edits)
	}

	n.Stop(ctx)
	sched.mu.Lock()
	defer sched.mu.Unlock()
	if len(sched.removed) == 0 || sched.removed[len(sched.removed)-1] != repostJob {
		t.Fatalf("repost job not removed on stop: %v", sched.removed)
	}
}

func TestDMDroppedWhenStopped(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	n := New(baseConfig(), Options{Timers: newTimers(t), Adapter: newFakeAdapter(), Bus: bus})

	n.enqueueDM(dm{userID: "u", boss: "Medusa", text: "x"})
	select {
	case e := <-events:
		ev, ok := e.Data.(DMEvent)
		if e.Type != eventbus.NotifierDMDropped || !ok || ev.Error != ErrStopped.Error() {
			t.Fatalf("unexpected event %+v", e)
		}
	default:
		t.Fatal("drop was not published")
	}
}

func TestRepostRegisteredWithoutLiveTable(t *testing.T) {
	t.Parallel()
	sched := &fakeScheduler{}
	cfg := baseConfig()
	cfg.LiveTable = false
	ad := newFakeAdapter()
	n := New(cfg, Options{Timers: newTimers(t), Adapter: ad, Scheduler: sched})
	ctx := context.Background()
	n.Start(ctx)
	defer n.Stop(ctx)

	sched.mu.Lock()
	name, removed := sched.name, len(sched.removed)
	sched.mu.Unlock()
	if name != repostJob || removed != 0 {
		t.Fatalf("repost job registered=%q removed=%d, want registered with live_table off", name, removed)
	}

	// Ticks leave the table alone; only the repost posts it.
	n.Tick(ctx, t0)
	if sent, edits, _ := ad.counts(); sent != 0 || edits != 0 {
		t.Fatalf("tick touched the table with live_table off (sent=%d edits=%d)", sent, edits)
	}
	if err := n.Repost(ctx); err != nil {
		t.Fatalf("Repost: %v", err)
	}
	if sent, _, _ := ad.counts(); sent != 1 {
		t.Fatalf("repost sent %d messages, want 1", sent)
	}
}
