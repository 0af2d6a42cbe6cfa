// Package timer owns the boss respawn timers and drives their lifecycle:
// Empty, Scheduled, Open, Closed and back to Empty.
package timer

import (
	"errors"
	"time"

	"respawnbot/internal/boss"
)

const (
	RespawnDelay = 8 * time.Hour
	OpenWindow   = 4 * time.Hour
	PreOpenLead  = 5 * time.Minute
)

var (
	ErrOutOfRange             = errors.New("out of range")
	ErrAlreadyActive          = errors.New("timer already active")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseScheduled
	PhaseOpen
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseScheduled:
		return "scheduled"
	case PhaseOpen:
		return "open"
	case PhaseClosed:
		return "closed"
	default:
		return "empty"
	}
}

// State is one room's timer. Zero times mean unset.
type State struct {
	DeathTime      time.Time
	RespawnTime    time.Time
	ClosedTime     time.Time
	RecordedBy     string
	OpenedNotified bool

	// preOpenNotified is per cycle and never persisted.
	preOpenNotified bool
}

func (s State) Phase(now time.Time) Phase {
	switch {
	case s.DeathTime.IsZero():
		return PhaseEmpty
	case now.Before(s.RespawnTime):
		return PhaseScheduled
	case now.Before(s.ClosedTime):
		return PhaseOpen
	default:
		return PhaseClosed
	}
}

// Entry is a read-only copy of one (boss, room) timer.
type Entry struct {
	boss.Pair
	State
}

type UserStat struct {
	UserID       string
	DisplayName  string
	Count        int
	LastRecorded time.Time
}

// Snapshot is a point-in-time copy of the service state. Entries cover every
// (boss, room) in catalog order, Empty ones included. Stats keep first-seen
// order.
type Snapshot struct {
	Entries []Entry
	Stats   []UserStat
}

// Recorder identifies who recorded a kill.
type Recorder struct {
	ID   string
	Name string
}

type TransitionKind int

const (
	TransitionPreOpen TransitionKind = iota + 1
	TransitionOpened
	TransitionClosed
	// TransitionClosedUnseen is a window that closed without an open notice
	// ever having fired (e.g. the bot was down for the whole window).
	TransitionClosedUnseen
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionPreOpen:
		return "preopen"
	case TransitionOpened:
		return "opened"
	case TransitionClosed:
		return "closed"
	case TransitionClosedUnseen:
		return "closed_unseen"
	default:
		return "unknown"
	}
}

// Transition is one observable change found by Poll. State is the timer as it
// was when the transition fired (before the reset for closures).
type Transition struct {
	Kind  TransitionKind
	Pair  boss.Pair
	State State
	// Subscribers is set for TransitionOpened only, sorted.
	Subscribers []string
}
