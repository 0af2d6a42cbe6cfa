package view

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"respawnbot/internal/boss"
	"respawnbot/internal/timefmt"
	"respawnbot/internal/timer"
	kit "respawnbot/internal/transport"
	"respawnbot/pkg/chatui"
)

// TransitionLine is one line of the combined channel broadcast.
func TransitionLine(tr timer.Transition, now time.Time, loc *time.Location) string {
	switch tr.Kind {
	case timer.TransitionPreOpen:
		return fmt.Sprintf("⚠️ %s opens in %s (%s)", tr.Pair, timefmt.Remaining(tr.State.RespawnTime, now), timefmt.Clock(tr.State.RespawnTime, loc))
	case timer.TransitionOpened:
		return fmt.Sprintf("%s %s is open until %s", markOpen, tr.Pair, timefmt.Clock(tr.State.ClosedTime, loc))
	case timer.TransitionClosed:
		return fmt.Sprintf("%s %s window closed", markClosed, tr.Pair)
	case timer.TransitionClosedUnseen:
		return fmt.Sprintf("⚫ %s closed with no record", tr.Pair)
	default:
		return ""
	}
}

// Broadcast joins transition lines in the order given. The message text is
// empty when nothing needs announcing.
func Broadcast(trs []timer.Transition, now time.Time, opt Options) chatui.Message {
	b := chatui.New(opt.style()).Title("🔔", "Boss update")
	n := 0
	for _, tr := range trs {
		if line := TransitionLine(tr, now, opt.loc()); line != "" {
			b.Line(line)
			n++
		}
	}
	if n == 0 {
		return chatui.Message{}
	}
	return b.Build()
}

// DirectNotice is the plain-text DM sent to subscribers when a window opens.
func DirectNotice(tr timer.Transition, loc *time.Location) string {
	return fmt.Sprintf("🔔 %s is open now (until %s). Use /unsub %s to stop these.", tr.Pair, timefmt.Clock(tr.State.ClosedTime, loc), tr.Pair.Boss)
}

// Bosses lists the catalog with one subscribe button per boss, two per row.
func Bosses(bosses []boss.Boss, opt Options) chatui.Message {
	st := opt.style()
	b := chatui.New(st).Title("📜", "Bosses")
	kb := &chatui.Keyboard{}
	var row []kit.Button
	for _, bs := range bosses {
		line := st.Bold(bs.Name) + st.Esc(fmt.Sprintf(" · rooms %s", roomList(bs.Rooms)))
		if len(bs.Aliases) > 0 {
			line += st.Esc(" · ") + st.Code(strings.Join(bs.Aliases, " "))
		}
		b.RawLine(line)
		row = append(row, SubButton(bs.Name))
		if len(row) == 2 {
			kb.Row(row...)
			row = row[:0]
		}
	}
	if len(row) > 0 {
		kb.Row(row...)
	}
	return b.Keyboard(kb).Build()
}

func roomList(rooms []int) string {
	parts := make([]string, len(rooms))
	for i, r := range rooms {
		parts[i] = strconv.Itoa(r)
	}
	return strings.Join(parts, ", ")
}
