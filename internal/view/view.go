// Package view renders timer state for chat. Everything here is a pure
// function of a snapshot, the current time and a display location.
package view

import (
	"fmt"
	"strings"
	"time"

	"respawnbot/internal/timefmt"
	"respawnbot/internal/timer"
	"respawnbot/pkg/chatui"
)

// Callback data used by the table buttons.
const (
	CallbackPlugin = "timer"

	ActionRefresh = "refresh"
	ActionCompact = "compact"
	ActionFull    = "full"
	ActionNext    = "next"
	ActionSub     = "sub"

	// PayloadCompact on a refresh keeps the compact layout.
	PayloadCompact = "compact"
)

const (
	markScheduled = "⏳"
	markOpen      = "🟢"
	markClosed    = "🔴"
	emptyRoom     = "—"
)

type Options struct {
	Loc     *time.Location
	Style   chatui.Style
	Compact bool
}

func (o Options) style() chatui.Style {
	if o.Style == nil {
		return chatui.Plain{}
	}
	return o.Style
}

func (o Options) loc() *time.Location {
	if o.Loc == nil {
		return time.UTC
	}
	return o.Loc
}

// Status is the trailing status column of a table row. Empty timers have no
// status.
func Status(st timer.State, now time.Time) string {
	switch st.Phase(now) {
	case timer.PhaseScheduled:
		return markScheduled + " " + timefmt.Remaining(st.RespawnTime, now)
	case timer.PhaseOpen:
		return markOpen + " open, closes in " + timefmt.Remaining(st.ClosedTime, now)
	case timer.PhaseClosed:
		return markClosed + " closed"
	default:
		return ""
	}
}

// Row renders "room: death [open–close] status (recordedBy)" unescaped.
func Row(e timer.Entry, now time.Time, loc *time.Location) string {
	if e.Phase(now) == timer.PhaseEmpty {
		return fmt.Sprintf("%d: %s", e.Room, emptyRoom)
	}
	line := fmt.Sprintf("%d: %s [%s–%s] %s",
		e.Room,
		timefmt.Clock(e.DeathTime, loc),
		timefmt.Clock(e.RespawnTime, loc),
		timefmt.Clock(e.ClosedTime, loc),
		Status(e.State, now),
	)
	if by := strings.TrimSpace(e.RecordedBy); by != "" {
		line += " (" + by + ")"
	}
	return line
}

// Table renders one header per boss followed by its rooms. Compact mode drops
// empty rooms and bosses left without rows.
func Table(snap timer.Snapshot, now time.Time, opt Options) string {
	st := opt.style()
	loc := opt.loc()
	b := chatui.New(st).Title("⏱", "Boss timers")

	rows := 0
	for i := 0; i < len(snap.Entries); {
		name := snap.Entries[i].Boss
		j := i
		var lines []string
		for ; j < len(snap.Entries) && snap.Entries[j].Boss == name; j++ {
			e := snap.Entries[j]
			if opt.Compact && e.Phase(now) == timer.PhaseEmpty {
				continue
			}
			lines = append(lines, Row(e, now, loc))
		}
		i = j
		if len(lines) == 0 {
			continue
		}
		b.Blank().Section(name)
		for _, l := range lines {
			b.Line(l)
		}
		rows += len(lines)
	}

	if rows == 0 {
		b.Blank().Line("No timers recorded.")
	}
	b.Blank().RawLine(st.Italic("Updated " + timefmt.Clock(now, loc) + " " + loc.String()))
	return b.Build().Text
}

// TableKeyboard is attached to every table message.
func TableKeyboard(compact bool) *chatui.Keyboard {
	toggle := kitButton("🗂 Full", ActionFull)
	if !compact {
		toggle = kitButton("📋 Compact", ActionCompact)
	}
	refresh := kitButton("🔄 Refresh", ActionRefresh)
	if compact {
		refresh.Data = chatui.Data(CallbackPlugin, ActionRefresh, PayloadCompact)
	}
	kb := &chatui.Keyboard{}
	kb.Row(refresh, toggle, kitButton("⏭ Next", ActionNext))
	return kb
}

// TableMessage is Table plus its keyboard and parse mode.
func TableMessage(snap timer.Snapshot, now time.Time, opt Options) chatui.Message {
	msg := chatui.New(opt.style()).RawLine(Table(snap, now, opt)).Keyboard(TableKeyboard(opt.Compact)).Build()
	return msg
}
