package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"respawnbot/internal/boss"
	"respawnbot/internal/timefmt"
	"respawnbot/internal/timer"
	"respawnbot/internal/transport/router"
	"respawnbot/internal/view"
	"respawnbot/pkg/chatui"
	logx "respawnbot/pkg/logx"
)

const (
	msgUnknownBoss = "Unknown boss. See /bosses for names and aliases."
	msgBadTime     = "Time must look like 14:30, 14h30 or 14."
	msgTimeRange   = "Time out of range: hours 0-23, minutes 0-59."
	msgInternal    = "Something went wrong. Try again in a moment."
	msgDegraded    = "⚠️ Storage is unavailable; this change is kept in memory only."
)

// reply sends one escaped line.
func reply(ctx context.Context, req *router.Request, text string) error {
	return send(ctx, req, chatui.New(req.Style).Line(text).Build())
}

func usage(ctx context.Context, req *router.Request, u string) error {
	return send(ctx, req, chatui.New(req.Style).RawLine("Usage: "+req.Style.Code(u)).Build())
}

// internal logs err and answers with the generic line. The error is
// returned so the request log marks the request failed.
func internal(ctx context.Context, req *router.Request, what string, err error) error {
	req.Logger.Error(what, logx.Err(err))
	_ = reply(ctx, req, msgInternal)
	return err
}

func (s *Set) roomHint(bossInput string) string {
	b, err := s.timers.Registry().Resolve(bossInput)
	if err != nil {
		return "Unknown room."
	}
	rooms := make([]string, len(b.Rooms))
	for i, r := range b.Rooms {
		rooms[i] = strconv.Itoa(r)
	}
	return fmt.Sprintf("%s has rooms %s.", b.Name, strings.Join(rooms, ", "))
}

// parseRoom accepts "2" and "#2".
func parseRoom(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	return n, err == nil
}

func (s *Set) record(ctx context.Context, req *router.Request) error {
	const u = "/record <boss> <room> <HH:MM> [-y]"
	args := req.Args
	if len(args) < 3 {
		return usage(ctx, req, u)
	}
	bossInput := strings.Join(args[:len(args)-2], " ")
	room, ok := parseRoom(args[len(args)-2])
	if !ok {
		return reply(ctx, req, "Room must be a number. "+s.roomHint(bossInput))
	}
	hour, minute, err := timefmt.ParseTimeOfDay(args[len(args)-1])
	if err != nil {
		return reply(ctx, req, msgBadTime)
	}
	if !timefmt.ValidateTimeOfDay(hour, minute) {
		return reply(ctx, req, msgTimeRange)
	}

	now := s.now()
	death := timefmt.ResolveDeath(now, hour, minute, req.Flag("y", "yesterday"), s.loc)
	entry, err := s.timers.Record(ctx, bossInput, room, death, recorder(req))
	switch {
	case err == nil, errors.Is(err, timer.ErrPersistenceUnavailable):
	case errors.Is(err, boss.ErrUnknownBoss):
		return reply(ctx, req, msgUnknownBoss)
	case errors.Is(err, timer.ErrOutOfRange):
		return reply(ctx, req, s.roomHint(bossInput))
	case errors.Is(err, timer.ErrAlreadyActive):
		return reply(ctx, req, fmt.Sprintf("%s is already tracked (opens %s, closes %s). Use /clear %s %d first.",
			entry.Pair, timefmt.Clock(entry.RespawnTime, s.loc), timefmt.Clock(entry.ClosedTime, s.loc), entry.Boss, entry.Room))
	default:
		return internal(ctx, req, "record failed", err)
	}

	deathText := timefmt.Clock(entry.DeathTime, s.loc)
	if entry.DeathTime.In(s.loc).YearDay() != now.In(s.loc).YearDay() {
		deathText += " (yesterday)"
	}
	b := chatui.New(req.Style).
		Title("✅", entry.Pair.String()+" recorded").
		KV("Death", deathText).
		KV("Opens", timefmt.Clock(entry.RespawnTime, s.loc)).
		KV("Closes", timefmt.Clock(entry.ClosedTime, s.loc)).
		KV("By", entry.RecordedBy)
	if st := view.Status(entry.State, now); st != "" {
		b.Line(st)
	}
	if err != nil {
		b.Blank().Line(msgDegraded)
	}
	return send(ctx, req, b.Build())
}

func (s *Set) clear(ctx context.Context, req *router.Request) error {
	args := req.Args
	if len(args) == 0 {
		return usage(ctx, req, "/clear <boss> [room]")
	}
	room := 0
	if len(args) > 1 {
		if n, ok := parseRoom(args[len(args)-1]); ok {
			room = n
			args = args[:len(args)-1]
		}
	}
	bossInput := strings.Join(args, " ")

	n, err := s.timers.Clear(ctx, bossInput, room, recorder(req))
	switch {
	case err == nil, errors.Is(err, timer.ErrPersistenceUnavailable):
	case errors.Is(err, boss.ErrUnknownBoss):
		return reply(ctx, req, msgUnknownBoss)
	case errors.Is(err, timer.ErrOutOfRange):
		return reply(ctx, req, s.roomHint(bossInput))
	default:
		return internal(ctx, req, "clear failed", err)
	}

	b, _ := s.timers.Registry().Resolve(bossInput)
	target := b.Name
	if room != 0 {
		target = boss.Pair{Boss: b.Name, Room: room}.String()
	}
	text := "Nothing to clear for " + target + "."
	if n > 0 {
		text = fmt.Sprintf("🧹 Cleared %s (%d %s).", target, n, plural(n, "room", "rooms"))
	}
	msg := chatui.New(req.Style).Line(text)
	if err != nil {
		msg.Line(msgDegraded)
	}
	return send(ctx, req, msg.Build())
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func (s *Set) subscribe(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return usage(ctx, req, "/sub <boss>")
	}
	text, err := s.doSubscribe(ctx, req, strings.Join(req.Args, " "))
	if err != nil {
		return internal(ctx, req, "subscribe failed", err)
	}
	return reply(ctx, req, text)
}

// doSubscribe returns the user-facing outcome. Only unexpected failures come
// back as errors.
func (s *Set) doSubscribe(ctx context.Context, req *router.Request, bossInput string) (string, error) {
	added, name, err := s.timers.Subscribe(ctx, req.FromID, bossInput)
	switch {
	case errors.Is(err, boss.ErrUnknownBoss):
		return msgUnknownBoss, nil
	case err != nil && !errors.Is(err, timer.ErrPersistenceUnavailable):
		return "", err
	case !added:
		return "You are already subscribed to " + name + ".", nil
	}
	text := "🔔 Subscribed to " + name + ". You will get a DM when it opens."
	if err != nil {
		text += " " + msgDegraded
	}
	return text, nil
}

func (s *Set) unsubscribe(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return usage(ctx, req, "/unsub <boss>")
	}
	removed, name, err := s.timers.Unsubscribe(ctx, req.FromID, strings.Join(req.Args, " "))
	switch {
	case errors.Is(err, boss.ErrUnknownBoss):
		return reply(ctx, req, msgUnknownBoss)
	case err != nil && !errors.Is(err, timer.ErrPersistenceUnavailable):
		return internal(ctx, req, "unsubscribe failed", err)
	case !removed:
		return reply(ctx, req, "You were not subscribed to "+name+".")
	}
	text := "🔕 Unsubscribed from " + name + "."
	if err != nil {
		text += " " + msgDegraded
	}
	return reply(ctx, req, text)
}

func (s *Set) subscriptions(ctx context.Context, req *router.Request) error {
	names := s.timers.Subscriptions(req.FromID)
	if len(names) == 0 {
		return reply(ctx, req, "No subscriptions. Use /sub <boss> to get a DM when a boss opens.")
	}
	return send(ctx, req, chatui.New(req.Style).Title("🔔", "Your subscriptions").Bullets(names...).Build())
}

func (s *Set) table(ctx context.Context, req *router.Request) error {
	compact := req.Flag("c", "compact")
	return send(ctx, req, view.TableMessage(s.timers.Snapshot(), s.now(), s.viewOpts(req, compact)))
}

func (s *Set) ranking(ctx context.Context, req *router.Request) error {
	return send(ctx, req, view.Ranking(s.timers.Snapshot().Stats, s.now(), s.rankN, s.viewOpts(req, false)))
}

func (s *Set) next(ctx context.Context, req *router.Request) error {
	return send(ctx, req, view.NextUp(s.timers.Snapshot(), s.now(), s.viewOpts(req, true)))
}

func (s *Set) bosses(ctx context.Context, req *router.Request) error {
	return send(ctx, req, view.Bosses(s.timers.Registry().Bosses(), s.viewOpts(req, false)))
}
