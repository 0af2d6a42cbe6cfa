package chatui

import (
	"html"
	"strings"
)

// Parse modes understood by the adapters.
const (
	ModeHTML     = "HTML"
	ModeMarkdown = "Markdown"
	ModePlain    = ""
)

// Style renders inline formatting for one platform. Text passed to Bold and
// Code is raw and gets escaped; Esc is for plain fragments.
type Style interface {
	ParseMode() string
	Esc(s string) string
	Bold(s string) string
	Italic(s string) string
	Code(s string) string
}

// HTML is Telegram's HTML parse mode.
type HTML struct{}

func (HTML) ParseMode() string      { return ModeHTML }
func (HTML) Esc(s string) string    { return html.EscapeString(s) }
func (HTML) Bold(s string) string   { return "<b>" + html.EscapeString(s) + "</b>" }
func (HTML) Italic(s string) string { return "<i>" + html.EscapeString(s) + "</i>" }
func (HTML) Code(s string) string   { return "<code>" + html.EscapeString(s) + "</code>" }

// Markdown is Discord flavoured markdown.
type Markdown struct{}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"~", `\~`,
	"|", `\|`,
	">", `\>`,
)

func (Markdown) ParseMode() string      { return ModeMarkdown }
func (Markdown) Esc(s string) string    { return mdEscaper.Replace(s) }
func (Markdown) Bold(s string) string   { return "**" + mdEscaper.Replace(s) + "**" }
func (Markdown) Italic(s string) string { return "_" + mdEscaper.Replace(s) + "_" }

// Code drops backticks instead of escaping them; markdown has no escape
// inside inline code.
func (Markdown) Code(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "'") + "`"
}

// Plain is for the console and logs.
type Plain struct{}

func (Plain) ParseMode() string      { return ModePlain }
func (Plain) Esc(s string) string    { return s }
func (Plain) Bold(s string) string   { return s }
func (Plain) Italic(s string) string { return s }
func (Plain) Code(s string) string   { return s }

// ForParseMode maps an adapter parse mode back to a Style.
func ForParseMode(mode string) Style {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "html":
		return HTML{}
	case "markdown", "markdownv2", "md":
		return Markdown{}
	default:
		return Plain{}
	}
}
