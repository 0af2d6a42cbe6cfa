package router

import (
	"strings"

	"github.com/google/uuid"
)

func newReqID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// tokenizeCommandLine splits command text into tokens, honoring single and
// double quotes and backslash escapes:
//
//	/record "hell maine" 1 12:30 --yesterday
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
		quote bool // token had quotes, keep it even if empty
	)
	flush := func() {
		if buf.Len() > 0 || quote {
			out = append(out, buf.String())
			buf.Reset()
		}
		quote = false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			quote = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// parseFlags splits raw args into positionals and flags.
//
// Supported:
//
//	--k=v, --k v, --flag
//	-k=v, -k v, -abc (bool flags a, b, c)
//
// Names in known are always boolean and never consume the next token. A lone
// "-" and negative numbers stay positional.
func parseFlags(args []string, known map[string]bool) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	takesValue := func(key string, i int) bool {
		return !known[key] && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-")
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case strings.HasPrefix(a, "--") && len(a) > 2:
			key := strings.ToLower(a[2:])
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[key[:eq]] = a[2+eq+1:]
				continue
			}
			if takesValue(key, i) {
				flags[key] = args[i+1]
				i++
				continue
			}
			bools[key] = true
		case strings.HasPrefix(a, "-") && len(a) > 1 && !isNumber(a[1:]):
			key := a[1:]
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[strings.ToLower(key[:eq])] = key[eq+1:]
				continue
			}
			key = strings.ToLower(key)
			if len(key) == 1 {
				if takesValue(key, i) {
					flags[key] = args[i+1]
					i++
					continue
				}
				bools[key] = true
				continue
			}
			if known[key] {
				bools[key] = true
				continue
			}
			for j := 0; j < len(key); j++ {
				bools[string(key[j])] = true
			}
		default:
			pos = append(pos, a)
		}
	}
	return pos, flags, bools
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if (s[i] < '0' || s[i] > '9') && s[i] != '.' && s[i] != ':' {
			return false
		}
	}
	return true
}
