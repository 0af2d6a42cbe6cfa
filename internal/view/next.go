package view

import (
	"fmt"
	"slices"
	"time"

	"respawnbot/internal/timefmt"
	"respawnbot/internal/timer"
	"respawnbot/pkg/chatui"
)

// NextLimit caps each list of the next-up view.
const NextLimit = 5

type Upcoming struct {
	Scheduled []timer.Entry // by respawn time
	Open      []timer.Entry // by close time
}

func Next(snap timer.Snapshot, now time.Time) Upcoming {
	var up Upcoming
	for _, e := range snap.Entries {
		switch e.Phase(now) {
		case timer.PhaseScheduled:
			up.Scheduled = append(up.Scheduled, e)
		case timer.PhaseOpen:
			up.Open = append(up.Open, e)
		}
	}
	slices.SortStableFunc(up.Scheduled, func(a, b timer.Entry) int { return a.RespawnTime.Compare(b.RespawnTime) })
	slices.SortStableFunc(up.Open, func(a, b timer.Entry) int { return a.ClosedTime.Compare(b.ClosedTime) })
	if len(up.Scheduled) > NextLimit {
		up.Scheduled = up.Scheduled[:NextLimit]
	}
	if len(up.Open) > NextLimit {
		up.Open = up.Open[:NextLimit]
	}
	return up
}

func NextUp(snap timer.Snapshot, now time.Time, opt Options) chatui.Message {
	loc := opt.loc()
	up := Next(snap, now)
	b := chatui.New(opt.style()).Title("⏭", "Next up")

	if len(up.Open) > 0 {
		b.Blank().Section(markOpen + " Open now")
		for _, e := range up.Open {
			b.Line(fmt.Sprintf("%s · closes %s (in %s)", e.Pair, timefmt.Clock(e.ClosedTime, loc), timefmt.Remaining(e.ClosedTime, now)))
		}
	}
	if len(up.Scheduled) > 0 {
		b.Blank().Section(markScheduled + " Respawning")
		for _, e := range up.Scheduled {
			b.Line(fmt.Sprintf("%s · %s (in %s)", e.Pair, timefmt.Clock(e.RespawnTime, loc), timefmt.Remaining(e.RespawnTime, now)))
		}
	}
	if len(up.Open) == 0 && len(up.Scheduled) == 0 {
		b.Blank().Line("Nothing scheduled.")
	}
	return b.Keyboard(TableKeyboard(true)).Build()
}
