package tgui

import (
	"strings"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes, with "…" appended when cut.
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
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// Split breaks text into chunks of at most limit runes, cutting only at line
// breaks so inline tags stay balanced. A single line longer than limit is
// truncated. limit <= 0 uses a default below MaxMessageLen.
func Split(text string, limit int) []string {
	if limit <= 0 || limit > MaxMessageLen {
		limit = defaultChunkLen
	}
	text = strings.Trim(text, "\n")
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		out   []string
		cur   strings.Builder
		runes int
	)
	flush := func() {
		if s := strings.Trim(cur.String(), "\n"); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		runes = 0
	}
	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)
		if n > limit {
			line = TruncRunes(line, limit-1)
			n = limit
		}
		if runes > 0 && runes+1+n > limit {
			flush()
		}
		if runes > 0 {
			cur.WriteByte('\n')
			runes++
		}
		cur.WriteString(line)
		runes += n
	}
	flush()
	return out
}
