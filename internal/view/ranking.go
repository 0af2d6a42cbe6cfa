package view

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"respawnbot/internal/timer"
	"respawnbot/pkg/chatui"
)

var medals = [...]string{"🥇", "🥈", "🥉"}

type RankEntry struct {
	Position int
	Medal    string
	timer.UserStat
}

// RankingEntries orders stats by count, highest first. Ties keep the input
// (first-seen) order. The first three positions get a medal.
func RankingEntries(stats []timer.UserStat) []RankEntry {
	sorted := slices.Clone(stats)
	slices.SortStableFunc(sorted, func(a, b timer.UserStat) int { return b.Count - a.Count })

	out := make([]RankEntry, len(sorted))
	for i, s := range sorted {
		out[i] = RankEntry{Position: i + 1, UserStat: s}
		if i < len(medals) {
			out[i].Medal = medals[i]
		}
	}
	return out
}

// Ranking renders at most limit entries (all when limit <= 0).
func Ranking(stats []timer.UserStat, now time.Time, limit int, opt Options) chatui.Message {
	st := opt.style()
	b := chatui.New(st).Title("🏆", "Kill ranking")

	entries := RankingEntries(stats)
	if len(entries) == 0 {
		return b.Blank().Line("Nobody has recorded a kill yet.").Build()
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	b.Blank()
	for _, e := range entries {
		prefix := e.Medal
		if prefix == "" {
			prefix = strconv.Itoa(e.Position) + "."
		}
		name := e.DisplayName
		if name == "" {
			name = e.UserID
		}
		line := fmt.Sprintf("%s %s: %s", prefix, st.Bold(name), st.Esc(humanize.Comma(int64(e.Count))))
		if !e.LastRecorded.IsZero() {
			line += st.Esc(" · last " + humanize.RelTime(e.LastRecorded, now, "ago", "from now"))
		}
		b.RawLine(line)
	}
	return b.Build()
}
