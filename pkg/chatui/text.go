package chatui

import (
	"strings"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes, with "…" appended when
// something was cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			return s[:cut] + "…"
		}
	}
	return s
}

// Split breaks s into chunks of at most limit runes. It prefers newline
// boundaries and, in HTML mode, avoids cutting through a tag.
func Split(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		return []string{s}
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, ModeHTML) && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
