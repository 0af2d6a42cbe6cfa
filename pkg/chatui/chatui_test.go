package chatui

import (
	"strings"
	"testing"

	kit "respawnbot/internal/transport"
)

func TestStylesEscape(t *testing.T) {
	t.Parallel()
	cases := []struct {
		style Style
		bold  string
		esc   string
	}{
		{HTML{}, "<b>a&lt;b</b>", "x &amp; y"},
		{Markdown{}, `**a<b**`, `x & y`},
		{Plain{}, "a<b", "x & y"},
	}
	for _, tc := range cases {
		if got := tc.style.Bold("a<b"); got != tc.bold {
			t.Fatalf("%T.Bold = %q, want %q", tc.style, got, tc.bold)
		}
		if got := tc.style.Esc("x & y"); got != tc.esc {
			t.Fatalf("%T.Esc = %q, want %q", tc.style, got, tc.esc)
		}
	}
	if got := (Markdown{}).Esc("a*b_c"); got != `a\*b\_c` {
		t.Fatalf("markdown escape = %q", got)
	}
	if ForParseMode("html").ParseMode() != ModeHTML || ForParseMode("").ParseMode() != ModePlain {
		t.Fatal("ForParseMode mapping broken")
	}
}

func TestDataRoundTrip(t *testing.T) {
	t.Parallel()
	d := Data("timer", "sub", "Hell Maine")
	if d != "timer:sub:Hell Maine" {
		t.Fatalf("Data = %q", d)
	}
	p, a, payload, ok := ParseData(d)
	if !ok || p != "timer" || a != "sub" || payload != "Hell Maine" {
		t.Fatalf("ParseData = %q %q %q %v", p, a, payload, ok)
	}
	if _, _, _, ok := ParseData("nocolon"); ok {
		t.Fatal("expected invalid data")
	}
	if _, err := Btn("x", strings.Repeat("a", MaxCallbackDataLen+1)); err != ErrCallbackDataTooLong {
		t.Fatalf("Btn err = %v", err)
	}
}

func TestKeyboardSkipsInvalidButtons(t *testing.T) {
	t.Parallel()
	var kb Keyboard
	kb.Row(mustBtn(t, "Refresh", "timer:refresh"), kit.Button{Text: "bad"})
	kb.Row()
	rows := kb.Rows()
	if len(rows) != 1 || len(rows[0]) != 1 || rows[0][0].Data != "timer:refresh" {
		t.Fatalf("rows = %+v", rows)
	}
	var empty *Keyboard
	if empty.Rows() != nil {
		t.Fatal("nil keyboard should have no rows")
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"ñandú", 2, "ña…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestSplitPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 30)
	text := strings.Join([]string{line, line, line, line}, "\n")
	chunks := Split(text, 70, ModePlain)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d (%q)", len(chunks), chunks)
	}
	for _, c := range chunks {
		if len([]rune(c)) > 70 {
			t.Fatalf("chunk too long: %d", len(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has edge newline: %q", c)
		}
	}
	if got := Split("short", 100, ModePlain); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short split = %q", got)
	}
}

func TestSplitAvoidsBreakingTags(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 8) + "<b>bold</b>"
	chunks := Split(text, 10, ModeHTML)
	if chunks[0] != strings.Repeat("x", 8) {
		t.Fatalf("first chunk = %q", chunks[0])
	}
}

func TestBuilder(t *testing.T) {
	t.Parallel()
	var kb Keyboard
	kb.Row(mustBtn(t, "Refresh", "timer:refresh"))
	msg := New(HTML{}).
		Title("⏱", "Timers").
		Section("Hell Maine").
		Line("1: a<b").
		KV("by", "Ann & Bo").
		Blank().
		Keyboard(&kb).
		Build()

	want := "⏱ <b>Timers</b>\n<b>Hell Maine</b>\n1: a&lt;b\n• <b>by</b>: Ann &amp; Bo"
	if msg.Text != want {
		t.Fatalf("text = %q, want %q", msg.Text, want)
	}
	if msg.Opt.ParseMode != ModeHTML || !msg.Opt.DisablePreview || len(msg.Opt.Buttons) != 1 {
		t.Fatalf("opts = %+v", msg.Opt)
	}
}

func mustBtn(t *testing.T, text, data string) kit.Button {
	t.Helper()
	b, err := Btn(text, data)
	if err != nil {
		t.Fatalf("Btn: %v", err)
	}
	return b
}
