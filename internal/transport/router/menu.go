package router

import (
	"strings"
	"unicode"

	kit "respawnbot/internal/transport"
)

// sanitizeMenuCommand maps a route or alias onto [a-z0-9_]{1,32}, the
// command-name alphabet of Telegram's menu.
func sanitizeMenuCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
		if len(out) > 32 {
			out = strings.TrimRight(out[:32], "_")
		}
	}
	return out
}

func menuNameFromRoute(route []string) (string, bool) {
	if len(route) == 0 {
		return "", false
	}
	out := sanitizeMenuCommand(strings.Join(route, "_"))
	return out, out != ""
}

// buildMenuCommands lists the top-level commands, sorted, capped at 100.
func buildMenuCommands(root *cmdNode) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(root.children))
	for _, name := range root.childNames() {
		cmd := sanitizeMenuCommand(name)
		if cmd == "" {
			continue
		}
		n, _ := root.child(name)
		desc := strings.ReplaceAll(summarizeNodeDesc(n), "\n", " ")
		if desc == "" {
			desc = cmd
		}
		if nodeIsOwnerOnly(n) {
			desc = "🔒 " + desc
		}
		out = append(out, kit.BotCommand{Command: cmd, Description: desc})
		if len(out) >= 100 {
			break
		}
	}
	return out
}
