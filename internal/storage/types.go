package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values: "memory" (also "" and "none"), "file", "sqlite", "sqlserver".
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	BusyTimeout time.Duration // sqlite only; 0 means 5s

	// sqlserver
	DSN      string // overrides the fields below when set
	Server   string
	Port     int
	User     string
	Password string
	Database string
	Encrypt  string
}

// Store is the persistence API used by the timer service and backups.
//
// All writes are upserts or idempotent deletes so a retried call is harmless.
type Store interface {
	SaveTimer(ctx context.Context, t TimerRow) error
	// ClearTimer deletes one room, or every room of boss when room is 0.
	ClearTimer(ctx context.Context, boss string, room int) error
	SaveUserStat(ctx context.Context, s UserStatRow) error
	AddSubscription(ctx context.Context, userID, boss string) (added bool, err error)
	RemoveSubscription(ctx context.Context, userID, boss string) (removed bool, err error)

	LoadAll(ctx context.Context) (Dataset, error)
	// ReplaceAll swaps the whole dataset in one transaction.
	ReplaceAll(ctx context.Context, d Dataset) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// TimerRow is one persisted (boss, room) timer. Zero times are stored as NULL.
type TimerRow struct {
	Boss           string    `json:"boss"`
	Room           int       `json:"room"`
	DeathTime      time.Time `json:"death_time"`
	RespawnTime    time.Time `json:"respawn_time"`
	ClosedTime     time.Time `json:"closed_time"`
	RecordedBy     string    `json:"recorded_by"`
	OpenedNotified bool      `json:"opened_notified"`
}

type UserStatRow struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Count        int       `json:"count"`
	LastRecorded time.Time `json:"last_recorded,omitzero"`
}

type SubscriptionRow struct {
	UserID string `json:"user_id"`
	Boss   string `json:"boss"`
}

// Dataset is everything LoadAll returns. Stats keep first-seen order.
type Dataset struct {
	Timers        []TimerRow        `json:"boss_timers"`
	Stats         []UserStatRow     `json:"user_stats"`
	Subscriptions []SubscriptionRow `json:"user_notifications"`
}

// AuditEntry records a user or operator action.
type AuditEntry struct {
	At        time.Time `json:"at"`
	ActorID   string    `json:"actor_id,omitempty"`
	ActorName string    `json:"actor_name,omitempty"`
	Action    string    `json:"action"`
	Boss      string    `json:"boss,omitempty"`
	Room      int       `json:"room,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}
