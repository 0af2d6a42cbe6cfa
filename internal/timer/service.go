package timer

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"respawnbot/internal/boss"
	"respawnbot/internal/eventbus"
	"respawnbot/internal/storage"
	logx "respawnbot/pkg/logx"
)

type Options struct {
	Registry *boss.Registry
	Store    storage.Store
	Bus      eventbus.Bus
	Log      logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service is the single owner of timer state. Every mutation and its
// write-through happen under one mutex, so callers observe a total order.
type Service struct {
	reg   *boss.Registry
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	mu     sync.Mutex
	timers map[boss.Pair]*State
	stats  []UserStat
	statIx map[string]int
	subs   []storage.SubscriptionRow
}

func New(opts Options) *Service {
	s := &Service{
		reg:   opts.Registry,
		store: opts.Store,
		bus:   opts.Bus,
		log:   opts.Log,
		now:   opts.Now,
	}
	if s.store == nil {
		s.store = storage.NewMemory()
	}
	if s.bus == nil {
		s.bus = eventbus.Nop{}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "timer"))
	if s.now == nil {
		s.now = time.Now
	}
	s.resetLocked()
	return s
}

func (s *Service) Registry() *boss.Registry { return s.reg }

func (s *Service) resetLocked() {
	s.timers = make(map[boss.Pair]*State)
	for _, p := range s.reg.Pairs() {
		s.timers[p] = &State{}
	}
	s.stats = nil
	s.statIx = map[string]int{}
	s.subs = nil
}

// storeFailed logs and publishes a persistence failure and returns it wrapped
// as ErrPersistenceUnavailable. In-memory state is never rolled back.
func (s *Service) storeFailed(op string, err error, fields ...logx.Field) error {
	if err == nil {
		return nil
	}
	s.log.Warn("store write failed", append(fields, logx.String("op", op), logx.Err(err))...)
	s.bus.Publish(eventbus.Event{Type: eventbus.StoreError, Data: map[string]string{"op": op, "err": err.Error()}})
	return fmt.Errorf("%w: %s: %v", ErrPersistenceUnavailable, op, err)
}

func rowOf(p boss.Pair, st *State) storage.TimerRow {
	return storage.TimerRow{
		Boss:           p.Boss,
		Room:           p.Room,
		DeathTime:      st.DeathTime,
		RespawnTime:    st.RespawnTime,
		ClosedTime:     st.ClosedTime,
		RecordedBy:     st.RecordedBy,
		OpenedNotified: st.OpenedNotified,
	}
}

// Record starts a new cycle for (boss, room) from a kill at death.
//
// Scheduled and Open timers are rejected with ErrAlreadyActive and left
// untouched; a Closed timer that Poll has not reset yet may be recorded over.
// When only the write-through fails, the entry is still returned together
// with an ErrPersistenceUnavailable error.
func (s *Service) Record(ctx context.Context, bossInput string, room int, death time.Time, by Recorder) (Entry, error) {
	b, err := s.reg.Resolve(bossInput)
	if err != nil {
		return Entry{}, err
	}
	if !b.HasRoom(room) {
		return Entry{}, fmt.Errorf("%w: room %d for %s (valid: %v)", ErrOutOfRange, room, b.Name, b.Rooms)
	}
	pair := boss.Pair{Boss: b.Name, Room: room}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := s.timers[pair]
	if ph := st.Phase(now); ph == PhaseScheduled || ph == PhaseOpen {
		return Entry{Pair: pair, State: *st}, fmt.Errorf("%w: %s is %s", ErrAlreadyActive, pair, ph)
	}

	respawn := death.Add(RespawnDelay)
	*st = State{
		DeathTime:   death,
		RespawnTime: respawn,
		ClosedTime:  respawn.Add(OpenWindow),
		RecordedBy:  by.Name,
	}

	var perr error
	if err := s.store.SaveTimer(ctx, rowOf(pair, st)); err != nil {
		perr = s.storeFailed("save timer", err, logx.String("boss", pair.Boss), logx.Int("room", room))
	}

	stat := s.bumpStatLocked(by, now)
	if err := s.store.SaveUserStat(ctx, storage.UserStatRow(stat)); err != nil {
		if e := s.storeFailed("save user stat", err, logx.String("user", by.ID)); perr == nil {
			perr = e
		}
	}
	s.auditLocked(ctx, storage.AuditEntry{
		At: now, ActorID: by.ID, ActorName: by.Name, Action: "record",
		Boss: pair.Boss, Room: room, Detail: death.UTC().Format(time.RFC3339),
	})

	entry := Entry{Pair: pair, State: *st}
	s.log.Info("timer recorded",
		logx.String("boss", pair.Boss), logx.Int("room", room),
		logx.Time("death", death), logx.Time("respawn", st.RespawnTime), logx.String("by", by.Name))
	s.bus.Publish(eventbus.Event{Type: eventbus.TimerRecorded, Time: now, Data: entry})
	return entry, perr
}

func (s *Service) bumpStatLocked(by Recorder, now time.Time) UserStat {
	i, ok := s.statIx[by.ID]
	if !ok {
		i = len(s.stats)
		s.statIx[by.ID] = i
		s.stats = append(s.stats, UserStat{UserID: by.ID})
	}
	st := &s.stats[i]
	st.Count++
	st.LastRecorded = now
	if by.Name != "" {
		st.DisplayName = by.Name
	}
	return *st
}

func (s *Service) auditLocked(ctx context.Context, e storage.AuditEntry) {
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Debug("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

// Clear resets one room, or every room of the boss when room is 0, and
// returns how many rooms held a timer. The stored rows are deleted even when
// memory is already empty, so a row left by an earlier failed delete does not
// come back on the next Load.
func (s *Service) Clear(ctx context.Context, bossInput string, room int, by Recorder) (int, error) {
	b, err := s.reg.Resolve(bossInput)
	if err != nil {
		return 0, err
	}
	if room != 0 && !b.HasRoom(room) {
		return 0, fmt.Errorf("%w: room %d for %s (valid: %v)", ErrOutOfRange, room, b.Name, b.Rooms)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for _, r := range b.Rooms {
		if room != 0 && r != room {
			continue
		}
		st := s.timers[boss.Pair{Boss: b.Name, Room: r}]
		if !st.DeathTime.IsZero() {
			cleared++
		}
		*st = State{}
	}

	var perr error
	if err := s.store.ClearTimer(ctx, b.Name, room); err != nil {
		perr = s.storeFailed("clear timer", err, logx.String("boss", b.Name), logx.Int("room", room))
	}
	if cleared == 0 {
		return 0, perr
	}
	now := s.now()
	s.auditLocked(ctx, storage.AuditEntry{At: now, ActorID: by.ID, ActorName: by.Name, Action: "clear", Boss: b.Name, Room: room})

	s.log.Info("timer cleared", logx.String("boss", b.Name), logx.Int("room", room), logx.Int("cleared", cleared))
	s.bus.Publish(eventbus.Event{Type: eventbus.TimerCleared, Time: now, Data: boss.Pair{Boss: b.Name, Room: room}})
	return cleared, perr
}

// Poll advances every timer against now, in catalog order, and returns the
// transitions that fired.
func (s *Service) Poll(ctx context.Context, now time.Time) []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Transition
	for _, p := range s.reg.Pairs() {
		st := s.timers[p]
		switch st.Phase(now) {
		case PhaseScheduled:
			if !st.preOpenNotified && st.RespawnTime.Sub(now) <= PreOpenLead {
				st.preOpenNotified = true
				out = append(out, Transition{Kind: TransitionPreOpen, Pair: p, State: *st})
			}

		case PhaseOpen:
			if st.OpenedNotified {
				continue
			}
			st.OpenedNotified = true
			st.preOpenNotified = true
			if err := s.store.SaveTimer(ctx, rowOf(p, st)); err != nil {
				_ = s.storeFailed("save timer", err, logx.String("boss", p.Boss), logx.Int("room", p.Room))
			}
			out = append(out, Transition{Kind: TransitionOpened, Pair: p, State: *st, Subscribers: s.subscribersLocked(p.Boss)})

		case PhaseClosed:
			kind := TransitionClosedUnseen
			if st.OpenedNotified {
				kind = TransitionClosed
			}
			out = append(out, Transition{Kind: kind, Pair: p, State: *st})
			*st = State{}
			if err := s.store.ClearTimer(ctx, p.Boss, p.Room); err != nil {
				_ = s.storeFailed("clear timer", err, logx.String("boss", p.Boss), logx.Int("room", p.Room))
			}
		}
	}

	for _, tr := range out {
		s.bus.Publish(eventbus.Event{Type: transitionEvent(tr.Kind), Time: now, Data: tr})
		s.log.Debug("timer transition", logx.String("kind", tr.Kind.String()), logx.String("boss", tr.Pair.Boss), logx.Int("room", tr.Pair.Room))
	}
	return out
}

func transitionEvent(k TransitionKind) string {
	switch k {
	case TransitionPreOpen:
		return eventbus.TimerPreOpen
	case TransitionOpened:
		return eventbus.TimerOpened
	default:
		return eventbus.TimerClosed
	}
}

// ---- subscriptions ----

// Subscribe adds (userID, boss). added is false when it already existed.
func (s *Service) Subscribe(ctx context.Context, userID, bossInput string) (added bool, name string, err error) {
	b, err := s.reg.Resolve(bossInput)
	if err != nil {
		return false, "", err
	}
	row := storage.SubscriptionRow{UserID: userID, Boss: b.Name}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.subs, row) {
		return false, b.Name, nil
	}
	s.subs = append(s.subs, row)
	if _, err := s.store.AddSubscription(ctx, userID, b.Name); err != nil {
		return true, b.Name, s.storeFailed("add subscription", err, logx.String("user", userID))
	}
	return true, b.Name, nil
}

// Unsubscribe removes (userID, boss). removed is false when it did not exist.
func (s *Service) Unsubscribe(ctx context.Context, userID, bossInput string) (removed bool, name string, err error) {
	b, err := s.reg.Resolve(bossInput)
	if err != nil {
		return false, "", err
	}
	row := storage.SubscriptionRow{UserID: userID, Boss: b.Name}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.subs, row)
	if i < 0 {
		return false, b.Name, nil
	}
	s.subs = slices.Delete(s.subs, i, i+1)
	if _, err := s.store.RemoveSubscription(ctx, userID, b.Name); err != nil {
		return true, b.Name, s.storeFailed("remove subscription", err, logx.String("user", userID))
	}
	return true, b.Name, nil
}

// Subscriptions lists the bosses userID follows, in catalog order.
func (s *Service) Subscriptions(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, name := range s.reg.Names() {
		if slices.Contains(s.subs, storage.SubscriptionRow{UserID: userID, Boss: name}) {
			out = append(out, name)
		}
	}
	return out
}

func (s *Service) Subscribers(bossName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribersLocked(bossName)
}

func (s *Service) subscribersLocked(bossName string) []string {
	var out []string
	for _, r := range s.subs {
		if r.Boss == bossName {
			out = append(out, r.UserID)
		}
	}
	slices.Sort(out)
	return out
}

// ---- snapshots, load, backup ----

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	pairs := s.reg.Pairs()
	snap := Snapshot{
		Entries: make([]Entry, 0, len(pairs)),
		Stats:   slices.Clone(s.stats),
	}
	for _, p := range pairs {
		snap.Entries = append(snap.Entries, Entry{Pair: p, State: *s.timers[p]})
	}
	return snap
}

// Load overlays the persisted dataset on the current state. Rows for bosses
// or rooms missing from the catalog are skipped.
func (s *Service) Load(ctx context.Context) error {
	d, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %v", ErrPersistenceUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlayLocked(d)
	s.log.Info("timers loaded",
		logx.Int("timers", len(d.Timers)), logx.Int("stats", len(d.Stats)), logx.Int("subscriptions", len(d.Subscriptions)))
	return nil
}

func (s *Service) overlayLocked(d storage.Dataset) {
	for _, row := range d.Timers {
		p := boss.Pair{Boss: row.Boss, Room: row.Room}
		st, ok := s.timers[p]
		if !ok {
			s.log.Warn("skipping timer for unknown boss or room", logx.String("boss", row.Boss), logx.Int("room", row.Room))
			continue
		}
		*st = State{
			DeathTime:      row.DeathTime,
			RespawnTime:    row.RespawnTime,
			ClosedTime:     row.ClosedTime,
			RecordedBy:     row.RecordedBy,
			OpenedNotified: row.OpenedNotified,
		}
		if !st.DeathTime.IsZero() {
			// Older rows may lack derived fields.
			if st.RespawnTime.IsZero() {
				st.RespawnTime = st.DeathTime.Add(RespawnDelay)
			}
			if st.ClosedTime.IsZero() {
				st.ClosedTime = st.RespawnTime.Add(OpenWindow)
			}
		}
	}
	for _, row := range d.Stats {
		if i, ok := s.statIx[row.UserID]; ok {
			s.stats[i] = UserStat(row)
			continue
		}
		s.statIx[row.UserID] = len(s.stats)
		s.stats = append(s.stats, UserStat(row))
	}
	for _, row := range d.Subscriptions {
		if _, ok := s.reg.Lookup(row.Boss); !ok {
			s.log.Warn("skipping subscription for unknown boss", logx.String("boss", row.Boss))
			continue
		}
		if !slices.Contains(s.subs, row) {
			s.subs = append(s.subs, row)
		}
	}
}

// Export returns the persistable state: non-empty timers in catalog order,
// stats in first-seen order and subscriptions in insertion order.
func (s *Service) Export() storage.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d storage.Dataset
	for _, p := range s.reg.Pairs() {
		if st := s.timers[p]; !st.DeathTime.IsZero() {
			d.Timers = append(d.Timers, rowOf(p, st))
		}
	}
	for _, st := range s.stats {
		d.Stats = append(d.Stats, storage.UserStatRow(st))
	}
	d.Subscriptions = slices.Clone(s.subs)
	return d
}

// Restore replaces the persisted dataset with d and then rebuilds memory from
// it. If the store rejects the replacement, memory is left untouched.
func (s *Service) Restore(ctx context.Context, d storage.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.ReplaceAll(ctx, d); err != nil {
		return s.storeFailed("replace all", err)
	}
	s.resetLocked()
	s.overlayLocked(d)
	s.log.Info("timers restored", logx.Int("timers", len(d.Timers)), logx.Int("stats", len(d.Stats)))
	return nil
}
