package notifier

import (
	"context"
	"time"

	"respawnbot/internal/scheduler"
	"respawnbot/internal/timer"
)

type Config struct {
	Enabled bool

	// ChatID and ThreadID name the channel that receives broadcasts and the
	// live table.
	ChatID   string
	ThreadID string

	PollInterval    time.Duration
	RepostMin       time.Duration
	RepostMax       time.Duration
	DMDelay         time.Duration
	DMQueueSize     int
	MaxThrottleWait time.Duration

	// LiveTable edits the last posted table on every tick. Reposts happen
	// either way.
	LiveTable    bool
	TableCompact bool
}

// Timers is the part of timer.Service the notifier drives.
type Timers interface {
	Poll(ctx context.Context, now time.Time) []timer.Transition
	Snapshot() timer.Snapshot
}

// Scheduler registers the repost job. *scheduler.Service satisfies it.
type Scheduler interface {
	AddRandom(name string, min, max, timeout time.Duration, job scheduler.Job) error
	Remove(name string) bool
}

// BroadcastEvent is published after a combined channel message went out.
type BroadcastEvent struct {
	Transitions int    `json:"transitions"`
	MessageID   string `json:"message_id"`
}

// DMEvent is published for every direct notice that was sent or dropped.
type DMEvent struct {
	UserID string `json:"user_id"`
	Boss   string `json:"boss"`
	Error  string `json:"error,omitempty"`
}

type TableEvent struct {
	MessageID string `json:"message_id"`
}
