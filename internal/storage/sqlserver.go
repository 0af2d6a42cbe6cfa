package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb"

	logx "respawnbot/pkg/logx"
)

//go:embed migrations_sqlserver.sql
var sqlserverMigrations string

var sqlserverDialect = dialect{
	name: "sqlserver",
	upsertTimer: `MERGE boss_timers AS t
		USING (SELECT @p1 AS boss, @p2 AS room) AS s ON t.boss = s.boss AND t.room = s.room
		WHEN MATCHED THEN UPDATE SET
			death_time = @p3, respawn_time = @p4, closed_time = @p5, recorded_by = @p6, opened_notified = @p7
		WHEN NOT MATCHED THEN INSERT (boss, room, death_time, respawn_time, closed_time, recorded_by, opened_notified)
			VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7);`,
	deleteTimer: `DELETE FROM boss_timers WHERE boss = @p1 AND room = @p2`,
	deleteBoss:  `DELETE FROM boss_timers WHERE boss = @p1`,
	upsertStat: `MERGE user_stats AS t
		USING (SELECT @p1 AS user_id) AS s ON t.user_id = s.user_id
		WHEN MATCHED THEN UPDATE SET display_name = @p2, count = @p3, last_recorded = @p4
		WHEN NOT MATCHED THEN INSERT (user_id, display_name, count, last_recorded) VALUES (@p1, @p2, @p3, @p4);`,
	insertStat: `INSERT INTO user_stats(user_id, display_name, count, last_recorded) VALUES (@p1, @p2, @p3, @p4)`,
	addSub: `INSERT INTO user_notifications(user_id, boss)
		SELECT @p1, @p2 WHERE NOT EXISTS (SELECT 1 FROM user_notifications WHERE user_id = @p1 AND boss = @p2)`,
	removeSub:   `DELETE FROM user_notifications WHERE user_id = @p1 AND boss = @p2`,
	insertAudit: `INSERT INTO audit(at, actor_id, actor_name, action, boss, room, detail) VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7)`,

	selectTimers: `SELECT boss, room, death_time, respawn_time, closed_time, recorded_by, opened_notified
		FROM boss_timers ORDER BY boss, room`,
	selectStats: `SELECT user_id, display_name, count, last_recorded FROM user_stats ORDER BY seq`,
	selectSubs:  `SELECT user_id, boss FROM user_notifications ORDER BY seq`,
}

func sqlserverDSN(cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, nil
	}
	if strings.TrimSpace(cfg.Server) == "" || strings.TrimSpace(cfg.Database) == "" {
		return "", errors.New("storage.server and storage.database are required for sqlserver driver")
	}
	encrypt := strings.TrimSpace(cfg.Encrypt)
	if encrypt == "" {
		encrypt = "true"
	}
	dsn := fmt.Sprintf("server=%s;user id=%s;password=%s;database=%s;encrypt=%s",
		cfg.Server, cfg.User, cfg.Password, cfg.Database, encrypt)
	if cfg.Port > 0 {
		dsn += fmt.Sprintf(";port=%d", cfg.Port)
	}
	return dsn, nil
}

func openSQLServer(cfg Config, log logx.Logger) (Store, error) {
	dsn, err := sqlserverDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlserver: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqlserverMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlserver: migrate: %w", err)
	}

	log.Info("sqlserver store ready", logx.String("server", cfg.Server), logx.String("database", cfg.Database))
	return &sqlStore{db: db, d: sqlserverDialect, log: log}, nil
}
