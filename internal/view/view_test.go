package view

import (
	"strings"
	"testing"
	"time"

	"respawnbot/internal/boss"
	"respawnbot/internal/timer"
	"respawnbot/pkg/chatui"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func entry(name string, room int, death time.Time, by string) timer.Entry {
	e := timer.Entry{Pair: boss.Pair{Boss: name, Room: room}}
	if !death.IsZero() {
		e.State = timer.State{
			DeathTime:   death,
			RespawnTime: death.Add(timer.RespawnDelay),
			ClosedTime:  death.Add(timer.RespawnDelay + timer.OpenWindow),
			RecordedBy:  by,
		}
	}
	return e
}

func TestStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		death time.Time
		want  string
	}{
		{"empty", time.Time{}, ""},
		{"scheduled", base.Add(-2 * time.Hour), "⏳ 06h 00m"},
		{"open", base.Add(-9 * time.Hour), "🟢 open, closes in 03h 00m"},
		{"closed", base.Add(-13 * time.Hour), "🔴 closed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := entry("Medusa", 1, tc.death, "")
			if got := Status(e.State, base); got != tc.want {
				t.Fatalf("Status = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRow(t *testing.T) {
	t.Parallel()
	e := entry("Medusa", 1, base.Add(-2*time.Hour), "Ann")
	want := "1: 10:00 [18:00–22:00] ⏳ 06h 00m (Ann)"
	if got := Row(e, base, time.UTC); got != want {
		t.Fatalf("Row = %q, want %q", got, want)
	}
	if got := Row(entry("Medusa", 2, time.Time{}, ""), base, time.UTC); got != "2: —" {
		t.Fatalf("empty Row = %q", got)
	}
}

func TestTableModes(t *testing.T) {
	t.Parallel()
	snap := timer.Snapshot{Entries: []timer.Entry{
		entry("Hell Maine", 1, base.Add(-2*time.Hour), "Ann"),
		entry("Hell Maine", 2, time.Time{}, ""),
		entry("Kundun", 1, time.Time{}, ""),
	}}

	full := Table(snap, base, Options{Loc: time.UTC})
	for _, want := range []string{"Hell Maine", "1: 10:00 [18:00–22:00]", "2: —", "Kundun"} {
		if !strings.Contains(full, want) {
			t.Fatalf("full table missing %q:\n%s", want, full)
		}
	}

	compact := Table(snap, base, Options{Loc: time.UTC, Compact: true})
	if strings.Contains(compact, "2: —") || strings.Contains(compact, "Kundun") {
		t.Fatalf("compact table kept empty rows:\n%s", compact)
	}

	none := Table(timer.Snapshot{Entries: snap.Entries[1:]}, base, Options{Compact: true})
	if !strings.Contains(none, "No timers recorded.") {
		t.Fatalf("empty compact table:\n%s", none)
	}
}

func TestTableEscapesHTML(t *testing.T) {
	t.Parallel()
	snap := timer.Snapshot{Entries: []timer.Entry{entry("Medusa", 1, base.Add(-time.Hour), "<script>")}}
	msg := TableMessage(snap, base, Options{Style: chatui.HTML{}})
	if strings.Contains(msg.Text, "<script>") || !strings.Contains(msg.Text, "&lt;script&gt;") {
		t.Fatalf("recorder not escaped:\n%s", msg.Text)
	}
	if msg.Opt.ParseMode != chatui.ModeHTML || len(msg.Opt.Buttons) != 1 {
		t.Fatalf("opts = %+v", msg.Opt)
	}
	if got := msg.Opt.Buttons[0][1].Data; got != "timer:compact" {
		t.Fatalf("toggle = %q", got)
	}
}

func TestRankingStableWithMedals(t *testing.T) {
	t.Parallel()
	stats := []timer.UserStat{
		{UserID: "a", DisplayName: "A", Count: 5},
		{UserID: "d", DisplayName: "D", Count: 1},
		{UserID: "b", DisplayName: "B", Count: 5},
		{UserID: "c", DisplayName: "C", Count: 2},
	}
	got := RankingEntries(stats)
	order := []string{"A", "B", "C", "D"}
	for i, e := range got {
		if e.DisplayName != order[i] || e.Position != i+1 {
			t.Fatalf("pos %d = %+v", i, e)
		}
		if (i < 3) != (e.Medal != "") {
			t.Fatalf("medal at %d = %q", i, e.Medal)
		}
	}
	if stats[1].DisplayName != "D" {
		t.Fatal("input slice was reordered")
	}

	stats[0].LastRecorded = base.Add(-2 * time.Hour)
	msg := Ranking(stats, base, 0, Options{})
	if !strings.Contains(msg.Text, "🥇 A: 5 · last 2 hours ago") || !strings.Contains(msg.Text, "4. D: 1") {
		t.Fatalf("ranking text:\n%s", msg.Text)
	}
}

func TestNextLimitsAndOrders(t *testing.T) {
	t.Parallel()
	var snap timer.Snapshot
	for i := 1; i <= 7; i++ {
		// later rooms die earlier and so respawn sooner
		snap.Entries = append(snap.Entries, entry("Nightmare", i, base.Add(-time.Duration(i)*time.Minute), ""))
	}
	snap.Entries = append(snap.Entries,
		entry("Kundun", 1, base.Add(-10*time.Hour), ""),
		entry("Kundun", 2, base.Add(-11*time.Hour), ""),
	)

	up := Next(snap, base)
	if len(up.Scheduled) != NextLimit {
		t.Fatalf("scheduled = %d", len(up.Scheduled))
	}
	if up.Scheduled[0].Room != 7 || up.Scheduled[4].Room != 3 {
		t.Fatalf("scheduled order = %v", up.Scheduled)
	}
	if len(up.Open) != 2 || up.Open[0].Room != 2 {
		t.Fatalf("open order = %v", up.Open)
	}

	msg := NextUp(timer.Snapshot{}, base, Options{})
	if !strings.Contains(msg.Text, "Nothing scheduled.") {
		t.Fatalf("empty next:\n%s", msg.Text)
	}
}

func TestBroadcast(t *testing.T) {
	t.Parallel()
	if msg := Broadcast(nil, base, Options{}); msg.Text != "" {
		t.Fatalf("empty broadcast = %q", msg.Text)
	}
	st := entry("Medusa", 1, base.Add(-8*time.Hour), "").State
	trs := []timer.Transition{
		{Kind: timer.TransitionOpened, Pair: boss.Pair{Boss: "Medusa", Room: 1}, State: st},
		{Kind: timer.TransitionClosedUnseen, Pair: boss.Pair{Boss: "Kundun", Room: 2}},
	}
	msg := Broadcast(trs, base, Options{})
	lines := strings.Split(msg.Text, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if lines[1] != "🟢 Medusa #1 is open until 16:00" || lines[2] != "⚫ Kundun #2 closed with no record" {
		t.Fatalf("broadcast lines = %q", lines)
	}
	if !strings.Contains(DirectNotice(trs[0], time.UTC), "Medusa #1 is open now") {
		t.Fatal("direct notice text")
	}
}

func TestBossesKeyboard(t *testing.T) {
	t.Parallel()
	msg := Bosses(boss.Default(), Options{})
	if len(msg.Opt.Buttons) != 4 {
		t.Fatalf("rows = %d", len(msg.Opt.Buttons))
	}
	if got := msg.Opt.Buttons[0][0].Data; got != "timer:sub:Death Beam Knight" {
		t.Fatalf("first button = %q", got)
	}
	if !strings.Contains(msg.Text, "Hell Maine · rooms 1, 2, 3 · hm") {
		t.Fatalf("bosses text:\n%s", msg.Text)
	}
}
