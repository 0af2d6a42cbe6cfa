package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	logx "respawnbot/pkg/logx"
)

// dialect carries the statements that differ between SQL backends.
// Every statement takes its arguments in the order documented on the field.
type dialect struct {
	name string

	upsertTimer string // boss, room, death, respawn, closed, recorded_by, opened_notified
	deleteTimer string // boss, room
	deleteBoss  string // boss
	upsertStat  string // user_id, display_name, count, last_recorded
	addSub      string // user_id, boss
	removeSub   string // user_id, boss
	insertAudit string // at, actor_id, actor_name, action, boss, room, detail

	selectTimers string
	selectStats  string
	selectSubs   string
	insertStat   string // user_id, display_name, count, last_recorded
}

// sqlStore implements Store over database/sql.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) SaveTimer(ctx context.Context, t TimerRow) error {
	_, err := s.db.ExecContext(ctx, s.d.upsertTimer,
		t.Boss, t.Room, toNullMillis(t.DeathTime), toNullMillis(t.RespawnTime), toNullMillis(t.ClosedTime),
		nullStr(t.RecordedBy), boolToInt(t.OpenedNotified),
	)
	return wrapSQL(s.d.name, "save timer", err)
}

func (s *sqlStore) ClearTimer(ctx context.Context, boss string, room int) error {
	var err error
	if room == 0 {
		_, err = s.db.ExecContext(ctx, s.d.deleteBoss, boss)
	} else {
		_, err = s.db.ExecContext(ctx, s.d.deleteTimer, boss, room)
	}
	return wrapSQL(s.d.name, "clear timer", err)
}

func (s *sqlStore) SaveUserStat(ctx context.Context, st UserStatRow) error {
	_, err := s.db.ExecContext(ctx, s.d.upsertStat,
		st.UserID, st.DisplayName, st.Count, toNullMillis(st.LastRecorded),
	)
	return wrapSQL(s.d.name, "save user stat", err)
}

func (s *sqlStore) AddSubscription(ctx context.Context, userID, boss string) (bool, error) {
	return s.execAffected(ctx, "add subscription", s.d.addSub, userID, boss)
}

func (s *sqlStore) RemoveSubscription(ctx context.Context, userID, boss string) (bool, error) {
	return s.execAffected(ctx, "remove subscription", s.d.removeSub, userID, boss)
}

func (s *sqlStore) execAffected(ctx context.Context, op, q string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, wrapSQL(s.d.name, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapSQL(s.d.name, op, err)
	}
	return n > 0, nil
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.d.insertAudit,
		e.At.UnixMilli(), nullStr(e.ActorID), nullStr(e.ActorName), e.Action, nullStr(e.Boss), e.Room, nullStr(e.Detail),
	)
	return wrapSQL(s.d.name, "append audit", err)
}

func (s *sqlStore) LoadAll(ctx context.Context) (Dataset, error) {
	var d Dataset

	rows, err := s.db.QueryContext(ctx, s.d.selectTimers)
	if err != nil {
		return Dataset{}, wrapSQL(s.d.name, "load timers", err)
	}
	for rows.Next() {
		var (
			t                      TimerRow
			death, respawn, closed sql.NullInt64
			recordedBy             sql.NullString
			opened                 int
		)
		if err := rows.Scan(&t.Boss, &t.Room, &death, &respawn, &closed, &recordedBy, &opened); err != nil {
			rows.Close()
			return Dataset{}, wrapSQL(s.d.name, "scan timer", err)
		}
		t.DeathTime = fromNullMillis(death)
		t.RespawnTime = fromNullMillis(respawn)
		t.ClosedTime = fromNullMillis(closed)
		t.RecordedBy = recordedBy.String
		t.OpenedNotified = opened != 0
		d.Timers = append(d.Timers, t)
	}
	if err := closeRows(rows); err != nil {
		return Dataset{}, wrapSQL(s.d.name, "load timers", err)
	}

	rows, err = s.db.QueryContext(ctx, s.d.selectStats)
	if err != nil {
		return Dataset{}, wrapSQL(s.d.name, "load stats", err)
	}
	for rows.Next() {
		var (
			st   UserStatRow
			last sql.NullInt64
		)
		if err := rows.Scan(&st.UserID, &st.DisplayName, &st.Count, &last); err != nil {
			rows.Close()
			return Dataset{}, wrapSQL(s.d.name, "scan stat", err)
		}
		st.LastRecorded = fromNullMillis(last)
		d.Stats = append(d.Stats, st)
	}
	if err := closeRows(rows); err != nil {
		return Dataset{}, wrapSQL(s.d.name, "load stats", err)
	}

	rows, err = s.db.QueryContext(ctx, s.d.selectSubs)
	if err != nil {
		return Dataset{}, wrapSQL(s.d.name, "load subscriptions", err)
	}
	for rows.Next() {
		var sub SubscriptionRow
		if err := rows.Scan(&sub.UserID, &sub.Boss); err != nil {
			rows.Close()
			return Dataset{}, wrapSQL(s.d.name, "scan subscription", err)
		}
		d.Subscriptions = append(d.Subscriptions, sub)
	}
	if err := closeRows(rows); err != nil {
		return Dataset{}, wrapSQL(s.d.name, "load subscriptions", err)
	}
	return d, nil
}

// ReplaceAll deletes every row and inserts d inside one transaction.
// Stats are inserted in slice order so first-seen order survives.
func (s *sqlStore) ReplaceAll(ctx context.Context, d Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQL(s.d.name, "begin restore", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM boss_timers",
		"DELETE FROM user_stats",
		"DELETE FROM user_notifications",
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return wrapSQL(s.d.name, "restore", err)
		}
	}
	for _, t := range d.Timers {
		if _, err := tx.ExecContext(ctx, s.d.upsertTimer,
			t.Boss, t.Room, toNullMillis(t.DeathTime), toNullMillis(t.RespawnTime), toNullMillis(t.ClosedTime),
			nullStr(t.RecordedBy), boolToInt(t.OpenedNotified),
		); err != nil {
			return wrapSQL(s.d.name, "restore timer", err)
		}
	}
	for _, st := range d.Stats {
		if _, err := tx.ExecContext(ctx, s.d.insertStat,
			st.UserID, st.DisplayName, st.Count, toNullMillis(st.LastRecorded),
		); err != nil {
			return wrapSQL(s.d.name, "restore stat", err)
		}
	}
	for _, sub := range d.Subscriptions {
		if _, err := tx.ExecContext(ctx, s.d.addSub, sub.UserID, sub.Boss); err != nil {
			return wrapSQL(s.d.name, "restore subscription", err)
		}
	}
	return wrapSQL(s.d.name, "commit restore", tx.Commit())
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func wrapSQL(driver, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %s: %w", driver, op, err)
}

func toNullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
