package chatui

import (
	"strings"

	kit "respawnbot/internal/transport"
)

// Message is rendered text plus send options, ready for an adapter.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Builder assembles a message line by line in one Style.
// Previews are disabled by default.
type Builder struct {
	style          Style
	disablePreview bool
	lines          []string
	kb             *Keyboard
}

func New(style Style) *Builder {
	if style == nil {
		style = Plain{}
	}
	return &Builder{style: style, disablePreview: true}
}

func (b *Builder) Style() Style { return b.style }

func (b *Builder) DisablePreview(v bool) *Builder {
	b.disablePreview = v
	return b
}

func (b *Builder) Keyboard(kb *Keyboard) *Builder {
	b.kb = kb
	return b
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	line := b.style.Bold(t)
	if e != "" {
		line = b.style.Esc(e) + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

func (b *Builder) Section(title string) *Builder {
	if t := strings.TrimSpace(title); t != "" {
		b.lines = append(b.lines, b.style.Bold(t))
	}
	return b
}

// Line adds an escaped line. A blank s adds an empty line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	b.lines = append(b.lines, b.style.Esc(s))
	return b
}

// RawLine appends s unescaped; callers build it from Style calls.
func (b *Builder) RawLine(s string) *Builder {
	b.lines = append(b.lines, s)
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.Line("• " + it)
		}
	}
	return b
}

// KV adds a "• key: value" row with the key in bold.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+b.style.Bold(key)+": "+b.style.Esc(strings.TrimSpace(value)))
	return b
}

func (b *Builder) Code(s string) *Builder {
	b.lines = append(b.lines, b.style.Code(s))
	return b
}

// Len reports the number of lines added so far.
func (b *Builder) Len() int { return len(b.lines) }

func (b *Builder) Build() Message {
	text := strings.TrimRight(strings.Join(b.lines, "\n"), "\n")
	return Message{
		Text: text,
		Opt: &kit.SendOptions{
			ParseMode:      b.style.ParseMode(),
			DisablePreview: b.disablePreview,
			Buttons:        b.kb.Rows(),
		},
	}
}
