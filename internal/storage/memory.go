package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
)

type pairKey struct {
	boss string
	room int
}

// Memory keeps the dataset in process. The file backend embeds it and
// snapshots after every mutation.
type Memory struct {
	mu     sync.Mutex
	closed bool

	timers map[pairKey]TimerRow
	stats  []UserStatRow
	statIx map[string]int
	subs   []SubscriptionRow
	audit  []AuditEntry
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	m := &Memory{}
	m.resetLocked()
	return m
}

func (m *Memory) resetLocked() {
	m.timers = map[pairKey]TimerRow{}
	m.stats = nil
	m.statIx = map[string]int{}
	m.subs = nil
}

func (m *Memory) SaveTimer(ctx context.Context, t TimerRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.timers[pairKey{t.Boss, t.Room}] = t
	return nil
}

func (m *Memory) ClearTimer(ctx context.Context, boss string, room int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.clearLocked(boss, room)
	return nil
}

func (m *Memory) clearLocked(boss string, room int) {
	for k := range m.timers {
		if k.boss == boss && (room == 0 || k.room == room) {
			delete(m.timers, k)
		}
	}
}

func (m *Memory) SaveUserStat(ctx context.Context, s UserStatRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.saveStatLocked(s)
	return nil
}

func (m *Memory) saveStatLocked(s UserStatRow) {
	if i, ok := m.statIx[s.UserID]; ok {
		m.stats[i] = s
		return
	}
	m.statIx[s.UserID] = len(m.stats)
	m.stats = append(m.stats, s)
}

func (m *Memory) AddSubscription(ctx context.Context, userID, boss string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	return m.addSubLocked(SubscriptionRow{UserID: userID, Boss: boss}), nil
}

func (m *Memory) addSubLocked(row SubscriptionRow) bool {
	if slices.Contains(m.subs, row) {
		return false
	}
	m.subs = append(m.subs, row)
	return true
}

func (m *Memory) RemoveSubscription(ctx context.Context, userID, boss string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	row := SubscriptionRow{UserID: userID, Boss: boss}
	i := slices.Index(m.subs, row)
	if i < 0 {
		return false, nil
	}
	m.subs = slices.Delete(m.subs, i, i+1)
	return true, nil
}

func (m *Memory) LoadAll(ctx context.Context) (Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Dataset{}, ErrClosed
	}
	return m.datasetLocked(), nil
}

// datasetLocked returns a copy with timers ordered by (boss, room).
func (m *Memory) datasetLocked() Dataset {
	d := Dataset{
		Timers:        make([]TimerRow, 0, len(m.timers)),
		Stats:         slices.Clone(m.stats),
		Subscriptions: slices.Clone(m.subs),
	}
	for _, t := range m.timers {
		d.Timers = append(d.Timers, t)
	}
	slices.SortFunc(d.Timers, func(a, b TimerRow) int {
		if c := strings.Compare(a.Boss, b.Boss); c != 0 {
			return c
		}
		return a.Room - b.Room
	})
	return d
}

func (m *Memory) ReplaceAll(ctx context.Context, d Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.replaceLocked(d)
	return nil
}

func (m *Memory) replaceLocked(d Dataset) {
	m.resetLocked()
	for _, t := range d.Timers {
		m.timers[pairKey{t.Boss, t.Room}] = t
	}
	for _, s := range d.Stats {
		m.saveStatLocked(s)
	}
	for _, s := range d.Subscriptions {
		m.addSubLocked(s)
	}
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	// Bounded: the memory backend is for tests and dry runs.
	if len(m.audit) >= 1000 {
		m.audit = slices.Delete(m.audit, 0, 1)
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns the retained audit entries, oldest first.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.audit)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
