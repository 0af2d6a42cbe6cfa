package eventbus

import (
	"sync"
	"time"
)

// Event types published by the bot. Payloads are small structs owned by the
// publishing package.
const (
	TimerRecorded = "timer.recorded"
	TimerCleared  = "timer.cleared"
	TimerPreOpen  = "timer.preopen"
	TimerOpened   = "timer.opened"
	TimerClosed   = "timer.closed"
	StoreError    = "store.error"

	NotifierBroadcast     = "notifier.broadcast"
	NotifierDMSent        = "notifier.dm.sent"
	NotifierDMDropped     = "notifier.dm.dropped"
	NotifierTableReposted = "notifier.table.reposted"

	BackupCreated  = "backup.created"
	BackupRestored = "backup.restored"
	ConfigReloaded = "config.reloaded"
)

// Event is an in-memory signal between components.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus with no goroutines of its own.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// The read lock is held across the sends so unsubscribe cannot close a
	// channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Nop discards everything. Components use it when no bus is wired.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
