package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "respawnbot/pkg/logx"
)

//go:embed migrations.sql
var sqliteMigrations string

var sqliteDialect = dialect{
	name: "sqlite",
	upsertTimer: `INSERT INTO boss_timers(boss, room, death_time, respawn_time, closed_time, recorded_by, opened_notified)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(boss, room) DO UPDATE SET
			death_time=excluded.death_time, respawn_time=excluded.respawn_time, closed_time=excluded.closed_time,
			recorded_by=excluded.recorded_by, opened_notified=excluded.opened_notified`,
	deleteTimer: `DELETE FROM boss_timers WHERE boss = ? AND room = ?`,
	deleteBoss:  `DELETE FROM boss_timers WHERE boss = ?`,
	upsertStat: `INSERT INTO user_stats(user_id, display_name, count, last_recorded) VALUES(?,?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name=excluded.display_name, count=excluded.count, last_recorded=excluded.last_recorded`,
	insertStat:  `INSERT INTO user_stats(user_id, display_name, count, last_recorded) VALUES(?,?,?,?)`,
	addSub:      `INSERT INTO user_notifications(user_id, boss) VALUES(?,?) ON CONFLICT(user_id, boss) DO NOTHING`,
	removeSub:   `DELETE FROM user_notifications WHERE user_id = ? AND boss = ?`,
	insertAudit: `INSERT INTO audit(at, actor_id, actor_name, action, boss, room, detail) VALUES(?,?,?,?,?,?,?)`,

	selectTimers: `SELECT boss, room, death_time, respawn_time, closed_time, recorded_by, opened_notified
		FROM boss_timers ORDER BY boss, room`,
	selectStats: `SELECT user_id, display_name, count, last_recorded FROM user_stats ORDER BY seq`,
	selectSubs:  `SELECT user_id, boss FROM user_notifications ORDER BY seq`,
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite is a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	ctx := context.Background()
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	log.Info("sqlite store ready", logx.String("path", path))
	return &sqlStore{db: db, d: sqliteDialect, log: log}, nil
}
