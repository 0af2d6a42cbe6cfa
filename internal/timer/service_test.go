package timer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"respawnbot/internal/boss"
	"respawnbot/internal/eventbus"
	"respawnbot/internal/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, st storage.Store) (*Service, *fakeClock) {
	t.Helper()
	reg, err := boss.New(boss.Default())
	if err != nil {
		t.Fatal(err)
	}
	if st == nil {
		st = storage.NewMemory()
	}
	clk := &fakeClock{t: t0}
	return New(Options{Registry: reg, Store: st, Now: clk.Now}), clk
}

func entryOf(t *testing.T, s *Service, name string, room int) Entry {
	t.Helper()
	for _, e := range s.Snapshot().Entries {
		if e.Boss == name && e.Room == room {
			return e
		}
	}
	t.Fatalf("no entry for %s #%d", name, room)
	return Entry{}
}

var alice = Recorder{ID: "1", Name: "Alice"}

func TestRecordComputesWindow(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, nil)
	death := t0.Add(-time.Hour)

	e, err := s.Record(context.Background(), "dbk", 2, death, alice)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if e.Boss != "Death Beam Knight" || e.Room != 2 {
		t.Fatalf("entry pair = %+v", e.Pair)
	}
	if !e.RespawnTime.Equal(death.Add(8*time.Hour)) || !e.ClosedTime.Equal(death.Add(12*time.Hour)) {
		t.Fatalf("window = %v..%v", e.RespawnTime, e.ClosedTime)
	}
	if e.OpenedNotified || e.RecordedBy != "Alice" {
		t.Fatalf("unexpected state %+v", e.State)
	}

	snap := s.Snapshot()
	if len(snap.Stats) != 1 || snap.Stats[0].Count != 1 || !snap.Stats[0].LastRecorded.Equal(t0) {
		t.Fatalf("stats = %+v", snap.Stats)
	}
}

func TestRecordRejectsBadInput(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := s.Record(ctx, "nobody", 1, t0, alice); !errors.Is(err, boss.ErrUnknownBoss) {
		t.Fatalf("unknown boss err = %v", err)
	}
	if _, err := s.Record(ctx, "Kundun", 3, t0, alice); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("bad room err = %v", err)
	}
	if snap := s.Snapshot(); len(snap.Stats) != 0 {
		t.Fatalf("failed records must not touch stats: %+v", snap.Stats)
	}
}

func TestRecordOnActiveTimerFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clk := newTestService(t, nil)
	first, err := s.Record(ctx, "Kundun", 1, t0.Add(-time.Hour), alice)
	if err != nil {
		t.Fatal(err)
	}

	// Scheduled.
	if _, err := s.Record(ctx, "Kundun", 1, t0.Add(-30*time.Minute), Recorder{ID: "2", Name: "Bob"}); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("scheduled err = %v", err)
	}
	// Open.
	clk.Set(first.RespawnTime.Add(time.Minute))
	if _, err := s.Record(ctx, "Kundun", 1, clk.Now(), Recorder{ID: "2", Name: "Bob"}); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("open err = %v", err)
	}
	if got := entryOf(t, s, "Kundun", 1); got.State != first.State {
		t.Fatalf("state modified: %+v != %+v", got.State, first.State)
	}
	if snap := s.Snapshot(); len(snap.Stats) != 1 {
		t.Fatalf("rejected record counted: %+v", snap.Stats)
	}

	// Closed but not yet reset by a poll: allowed.
	clk.Set(first.ClosedTime.Add(time.Minute))
	if _, err := s.Record(ctx, "Kundun", 1, clk.Now().Add(-time.Minute), alice); err != nil {
		t.Fatalf("record over closed: %v", err)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	s, _ := newTestService(t, st)

	for room := 1; room <= 3; room++ {
		if _, err := s.Record(ctx, "hm", room, t0.Add(-time.Hour), alice); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Clear(ctx, "hm", 2, alice)
	if err != nil || n != 1 {
		t.Fatalf("Clear(room 2) = %d, %v", n, err)
	}
	if e := entryOf(t, s, "Hell Maine", 2); e.Phase(t0) != PhaseEmpty {
		t.Fatalf("room 2 not empty: %+v", e)
	}

	n, err = s.Clear(ctx, "hm", 0, alice)
	if err != nil || n != 2 {
		t.Fatalf("Clear(all) = %d, %v", n, err)
	}
	n, err = s.Clear(ctx, "hm", 0, alice)
	if err != nil || n != 0 {
		t.Fatalf("Clear(all, empty) = %d, %v", n, err)
	}
	d, _ := st.LoadAll(ctx)
	if len(d.Timers) != 0 {
		t.Fatalf("persisted timers remain: %+v", d.Timers)
	}

	if _, err := s.Clear(ctx, "hm", 9, alice); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("bad room err = %v", err)
	}
	if _, err := s.Clear(ctx, "zzz", 0, alice); !errors.Is(err, boss.ErrUnknownBoss) {
		t.Fatalf("unknown boss err = %v", err)
	}
}

func kinds(trs []Transition) []TransitionKind {
	out := make([]TransitionKind, len(trs))
	for i, tr := range trs {
		out[i] = tr.Kind
	}
	return out
}

func TestPollLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	s, _ := newTestService(t, st)
	death := t0
	if _, err := s.Record(ctx, "Medusa", 1, death, alice); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Subscribe(ctx, "u2", "med"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Subscribe(ctx, "u1", "Medusa"); err != nil {
		t.Fatal(err)
	}
	respawn := death.Add(8 * time.Hour)

	if trs := s.Poll(ctx, respawn.Add(-time.Hour)); len(trs) != 0 {
		t.Fatalf("early poll fired %v", kinds(trs))
	}

	trs := s.Poll(ctx, respawn.Add(-4*time.Minute))
	if !slices.Equal(kinds(trs), []TransitionKind{TransitionPreOpen}) {
		t.Fatalf("pre-open poll = %v", kinds(trs))
	}
	if trs := s.Poll(ctx, respawn.Add(-2*time.Minute)); len(trs) != 0 {
		t.Fatalf("pre-open repeated: %v", kinds(trs))
	}

	trs = s.Poll(ctx, respawn)
	if !slices.Equal(kinds(trs), []TransitionKind{TransitionOpened}) {
		t.Fatalf("open poll = %v", kinds(trs))
	}
	if !slices.Equal(trs[0].Subscribers, []string{"u1", "u2"}) {
		t.Fatalf("subscribers = %v", trs[0].Subscribers)
	}
	if !entryOf(t, s, "Medusa", 1).OpenedNotified {
		t.Fatal("openedNotified not set")
	}
	d, _ := st.LoadAll(ctx)
	if len(d.Timers) != 1 || !d.Timers[0].OpenedNotified {
		t.Fatalf("openedNotified not persisted: %+v", d.Timers)
	}

	if trs := s.Poll(ctx, respawn.Add(time.Hour)); len(trs) != 0 {
		t.Fatalf("open notice repeated: %v", kinds(trs))
	}

	trs = s.Poll(ctx, respawn.Add(4*time.Hour))
	if !slices.Equal(kinds(trs), []TransitionKind{TransitionClosed}) {
		t.Fatalf("close poll = %v", kinds(trs))
	}
	if trs[0].State.RecordedBy != "Alice" {
		t.Fatalf("closed transition lost prior state: %+v", trs[0].State)
	}
	if e := entryOf(t, s, "Medusa", 1); e.State != (State{}) {
		t.Fatalf("not reset: %+v", e.State)
	}
	d, _ = st.LoadAll(ctx)
	if len(d.Timers) != 0 {
		t.Fatalf("row not deleted: %+v", d.Timers)
	}
}

func TestPollClosedUnseen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestService(t, nil)
	if _, err := s.Record(ctx, "Selupan", 2, t0, alice); err != nil {
		t.Fatal(err)
	}
	// Jump straight past the close time: no open notice ever fired.
	trs := s.Poll(ctx, t0.Add(13*time.Hour))
	if !slices.Equal(kinds(trs), []TransitionKind{TransitionClosedUnseen}) {
		t.Fatalf("poll = %v", kinds(trs))
	}
	if e := entryOf(t, s, "Selupan", 2); e.Phase(t0) != PhaseEmpty {
		t.Fatal("pair not reset")
	}
}

func TestPollOrderFollowsCatalog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestService(t, nil)
	// Record in reverse catalog order; all open at the same poll.
	for _, name := range []string{"Kundun", "Genocider", "Death Beam Knight"} {
		if _, err := s.Record(ctx, name, 1, t0, alice); err != nil {
			t.Fatal(err)
		}
	}
	trs := s.Poll(ctx, t0.Add(9*time.Hour))
	var got []string
	for _, tr := range trs {
		got = append(got, tr.Pair.Boss)
	}
	if !slices.Equal(got, []string{"Death Beam Knight", "Genocider", "Kundun"}) {
		t.Fatalf("order = %v", got)
	}
}

func TestSubscriptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestService(t, nil)

	added, name, err := s.Subscribe(ctx, "u", "geno")
	if err != nil || !added || name != "Genocider" {
		t.Fatalf("Subscribe = %v %q %v", added, name, err)
	}
	if added, _, _ := s.Subscribe(ctx, "u", "Genocider"); added {
		t.Fatal("duplicate subscribe reported added")
	}
	_, _, _ = s.Subscribe(ctx, "u", "dbk")
	if got := s.Subscriptions("u"); !slices.Equal(got, []string{"Death Beam Knight", "Genocider"}) {
		t.Fatalf("Subscriptions = %v", got)
	}
	if removed, _, _ := s.Unsubscribe(ctx, "u", "geno"); !removed {
		t.Fatal("unsubscribe failed")
	}
	if removed, _, _ := s.Unsubscribe(ctx, "u", "geno"); removed {
		t.Fatal("second unsubscribe reported removed")
	}
	if _, _, err := s.Subscribe(ctx, "u", "???"); !errors.Is(err, boss.ErrUnknownBoss) {
		t.Fatalf("err = %v", err)
	}
}

type failingStore struct {
	*storage.Memory
}

var errDown = errors.New("db down")

func (failingStore) SaveTimer(context.Context, storage.TimerRow) error { return errDown }
func (failingStore) ClearTimer(context.Context, string, int) error     { return errDown }
func (failingStore) SaveUserStat(context.Context, storage.UserStatRow) error {
	return errDown
}
func (failingStore) ReplaceAll(context.Context, storage.Dataset) error { return errDown }

func TestPersistenceFailureStillAdvancesMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	reg, _ := boss.New(boss.Default())
	s := New(Options{Registry: reg, Store: failingStore{storage.NewMemory()}, Bus: bus, Now: func() time.Time { return t0 }})

	e, err := s.Record(ctx, "Nightmare", 1, t0, alice)
	if !errors.Is(err, ErrPersistenceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if e.DeathTime.IsZero() || entryOf(t, s, "Nightmare", 1).DeathTime.IsZero() {
		t.Fatal("memory did not advance")
	}
	trs := s.Poll(ctx, t0.Add(13*time.Hour))
	if len(trs) != 1 {
		t.Fatalf("poll = %v", kinds(trs))
	}

	sawStoreError := false
	for len(events) > 0 {
		if ev := <-events; ev.Type == eventbus.StoreError {
			sawStoreError = true
		}
	}
	if !sawStoreError {
		t.Fatal("store.error not published")
	}

	if err := s.Restore(ctx, storage.Dataset{}); !errors.Is(err, ErrPersistenceUnavailable) {
		t.Fatalf("Restore err = %v", err)
	}
}

func TestExportRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src, clk := newTestService(t, nil)

	_, _ = src.Record(ctx, "dbk", 1, t0.Add(-2*time.Hour), alice)
	_, _ = src.Record(ctx, "dbk", 3, t0.Add(-9*time.Hour), Recorder{ID: "2", Name: "Bob"})
	_, _ = src.Record(ctx, "pod", 2, t0.Add(-20*time.Hour), alice)
	_, _ = src.Record(ctx, "kun", 2, t0.Add(-time.Hour), alice)
	_, _ = src.Clear(ctx, "kun", 2, alice)
	_, _, _ = src.Subscribe(ctx, "2", "dbk")
	clk.Set(t0)
	src.Poll(ctx, t0)

	dst, _ := newTestService(t, nil)
	if err := dst.Restore(ctx, src.Export()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	a, b := src.Snapshot(), dst.Snapshot()
	for i := range a.Entries {
		ea, eb := a.Entries[i], b.Entries[i]
		if ea.Pair != eb.Pair || !ea.DeathTime.Equal(eb.DeathTime) || !ea.RespawnTime.Equal(eb.RespawnTime) ||
			!ea.ClosedTime.Equal(eb.ClosedTime) || ea.RecordedBy != eb.RecordedBy || ea.OpenedNotified != eb.OpenedNotified {
			t.Fatalf("entry %d differs: %+v vs %+v", i, ea, eb)
		}
	}
	if !slices.Equal(a.Stats, b.Stats) {
		t.Fatalf("stats differ: %+v vs %+v", a.Stats, b.Stats)
	}
	if !slices.Equal(dst.Subscribers("Death Beam Knight"), []string{"2"}) {
		t.Fatal("subscriptions not restored")
	}
}

func TestLoadSkipsUnknownRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	_ = st.SaveTimer(ctx, storage.TimerRow{Boss: "Kundun", Room: 1, DeathTime: t0})
	_ = st.SaveTimer(ctx, storage.TimerRow{Boss: "Kundun", Room: 7, DeathTime: t0})
	_ = st.SaveTimer(ctx, storage.TimerRow{Boss: "Ghost", Room: 1, DeathTime: t0})

	s, _ := newTestService(t, st)
	if err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}
	e := entryOf(t, s, "Kundun", 1)
	if !e.RespawnTime.Equal(t0.Add(8*time.Hour)) || !e.ClosedTime.Equal(t0.Add(12*time.Hour)) {
		t.Fatalf("derived window not filled: %+v", e.State)
	}
	if n := len(s.Export().Timers); n != 1 {
		t.Fatalf("exported %d timers, want 1", n)
	}
}

func TestClearRemovesStaleStoredRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	s, _ := newTestService(t, st)

	// Memory is empty but the store still holds a row, as after a failed delete.
	_ = st.SaveTimer(ctx, storage.TimerRow{Boss: "Kundun", Room: 1, DeathTime: t0})

	n, err := s.Clear(ctx, "kun", 1, alice)
	if err != nil || n != 0 {
		t.Fatalf("Clear() = %d, %v; want 0, nil", n, err)
	}
	ds, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Timers) != 0 {
		t.Fatalf("stale row survived clear: %+v", ds.Timers)
	}
}
