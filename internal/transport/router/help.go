package router

import (
	"slices"
	"strings"

	"respawnbot/pkg/chatui"
)

func (r *Router) helpMessage(path []string, style chatui.Style) chatui.Message {
	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(strings.TrimLeft(p, "/!"))
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && leaf != nil && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return chatui.New(style).
				Title("❓", "Unknown command").
				Line("Send /help for the command list.").
				Build()
		}
		cur = n
		full = append(full, p)
	}
	if len(full) == 0 {
		return helpTop(root, style)
	}
	return helpNode(cur, full, style)
}

type topRow struct {
	name string
	desc string
	lock bool
}

func helpTop(root *cmdNode, style chatui.Style) chatui.Message {
	rows := make([]topRow, 0, len(root.children))
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		rows = append(rows, topRow{name: name, desc: summarizeNodeDesc(n), lock: nodeIsOwnerOnly(n)})
	}
	// owner-only commands go last
	slices.SortStableFunc(rows, func(a, b topRow) int {
		switch {
		case a.lock == b.lock:
			return strings.Compare(a.name, b.name)
		case !a.lock:
			return -1
		default:
			return 1
		}
	})

	b := chatui.New(style).
		Title("📚", "Commands").
		RawLine("Send " + style.Code("/help <command>") + " for details.").
		Blank()
	for _, row := range rows {
		line := "• "
		if row.lock {
			line += "🔒 "
		}
		line += style.Code("/" + row.name)
		if row.desc != "" {
			line += " · " + style.Esc(row.desc)
		}
		b.RawLine(line)
	}
	return b.Build()
}

func helpNode(cur *cmdNode, full []string, style chatui.Style) chatui.Message {
	b := chatui.New(style).Title("📚", "/"+strings.Join(full, " "))

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			b.Line(d)
		}
		if c.Access == AccessOwnerOnly {
			b.RawLine("🔒 " + style.Italic("owner only"))
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			b.Blank().Section("Usage").RawLine(style.Code(u))
		}
		if short := shortcuts(*c); len(short) > 0 {
			b.Blank().Section("Shortcuts")
			for _, s := range short {
				b.RawLine("• " + style.Code("/"+s))
			}
		}
	} else if nodeIsOwnerOnly(cur) {
		b.RawLine("🔒 " + style.Italic("owner only"))
	}

	if len(cur.children) > 0 {
		b.Blank().Section("Subcommands")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			line := "• "
			if nodeIsOwnerOnly(n) {
				line += "🔒 "
			}
			line += style.Code("/" + strings.Join(append(slices.Clone(full), name), " "))
			if d := summarizeNodeDesc(n); d != "" {
				line += " · " + style.Esc(d)
			}
			b.RawLine(line)
		}
	}
	return b.Build()
}

func summarizeNodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	k := min(3, len(kids))
	s := strings.Join(kids[:k], ", ")
	if len(kids) > k {
		s += ", …"
	}
	return "subcommands: " + s
}

// nodeIsOwnerOnly is true for an owner-only command, or for a group whose
// every command is owner-only.
func nodeIsOwnerOnly(n *cmdNode) bool {
	if n == nil {
		return false
	}
	if n.cmd != nil {
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, ch := range n.children {
		if !nodeIsOwnerOnly(ch) {
			return false
		}
	}
	return len(n.children) > 0
}

func shortcuts(c Command) []string {
	var out []string
	if menu, ok := menuNameFromRoute(splitRoute(c.Route)); ok && strings.Contains(c.Route, " ") {
		out = append(out, menu)
	}
	for _, a := range c.Aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" && !strings.Contains(a, " ") && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return out
}
