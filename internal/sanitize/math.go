package sanitize

import (
	"strings"
)

// IsolateDisplayMath puts every $$ delimiter on a line of its own. Lines
// are only broken where the delimiter shares its line with other text.
// Escaped dollars (\$) and fenced code blocks are left alone.
func IsolateDisplayMath(s string) string {
	if !strings.Contains(s, "$$") {
		return s
	}

	var b, prose strings.Builder
	b.Grow(len(s) + 16)
	flush := func() {
		b.WriteString(isolateDisplayMath(prose.String()))
		prose.Reset()
	}

	fence := ""
	for _, line := range strings.SplitAfter(s, "\n") {
		marker := fenceMarker(line)
		switch {
		case fence != "":
			b.WriteString(line)
			if marker == fence {
				fence = ""
			}
		case marker != "":
			flush()
			b.WriteString(line)
			fence = marker
		default:
			prose.WriteString(line)
		}
	}
	flush()
	return b.String()
}

// fenceMarker returns "```" or "~~~" when line opens or closes a fenced
// code block, and "" otherwise.
func fenceMarker(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	for _, marker := range []string{"```", "~~~"} {
		if strings.HasPrefix(trimmed, marker) {
			return marker
		}
	}
	return ""
}

func isolateDisplayMath(s string) string {
	if !strings.Contains(s, "$$") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 16)
	lineHasText := false

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			lineHasText = true
			i += 2
		case c == '$' && i+1 < len(s) && s[i+1] == '$':
			if lineHasText {
				b.WriteByte('\n')
			}
			b.WriteString("$$")
			i += 2
			j := i
			for j < len(s) && isBlank(s[j]) {
				j++
			}
			// breaking before a fence marker would open a code block
			if j < len(s) && s[j] != '\n' && fenceMarker(s[j:]) == "" {
				b.WriteByte('\n')
				i = j
				lineHasText = false
			} else {
				lineHasText = true
			}
		case c == '\n':
			b.WriteByte(c)
			lineHasText = false
			i++
		default:
			b.WriteByte(c)
			if !isBlank(c) {
				lineHasText = true
			}
			i++
		}
	}
	return b.String()
}

// StripTags removes HTML tags and comments, copying inline ($...$) and
// display ($$...$$) math regions through untouched. A '<' only opens a tag
// when followed by a letter, '/', '!' or '?' and closed by a later '>';
// anything else is kept as text. Stripping repeats until no tag remains.
func StripTags(s string) string {
	for {
		next := stripOnce(s)
		if next == s {
			return next
		}
		s = next
	}
}

func stripOnce(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		switch c {
		case '\\':
			if i+1 < len(s) {
				b.WriteString(s[i : i+2])
				i += 2
				continue
			}
		case '$':
			if end := mathEnd(s, i); end > i {
				b.WriteString(s[i:end])
				i = end
				continue
			}
			if strings.HasPrefix(s[i:], "$$") {
				// unterminated display math is plain text
				b.WriteString("$$")
				i += 2
				continue
			}
		case '<':
			if end := tagEnd(s, i); end > i {
				i = end
				continue
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

// mathEnd returns the index just past the math region opening at s[i], or
// -1 if the dollar at i does not open one.
func mathEnd(s string, i int) int {
	if strings.HasPrefix(s[i:], "$$") {
		closing := findUnescaped(s, i+2, "$$", false)
		if closing < 0 {
			return -1
		}
		return closing + 2
	}

	if i+1 >= len(s) || isSpace(s[i+1]) || s[i+1] == '$' {
		return -1
	}
	closing := findUnescaped(s, i+1, "$", true)
	if closing < 0 {
		return -1
	}
	return closing + 1
}

// findUnescaped finds needle at or after from, skipping backslash escapes.
// When stopAtBlankLine is set the search gives up at a paragraph break.
func findUnescaped(s string, from int, needle string, stopAtBlankLine bool) int {
	for j := from; j < len(s); j++ {
		switch {
		case s[j] == '\\':
			j++
		case stopAtBlankLine && s[j] == '\n' && isParagraphBreak(s, j):
			return -1
		case strings.HasPrefix(s[j:], needle):
			return j
		}
	}
	return -1
}

func isParagraphBreak(s string, nl int) bool {
	for j := nl + 1; j < len(s); j++ {
		switch s[j] {
		case '\n':
			return true
		case ' ', '\t', '\r':
		default:
			return false
		}
	}
	return false
}

// tagEnd returns the index just past the tag or comment starting at s[i],
// or -1 if s[i] does not start one.
func tagEnd(s string, i int) int {
	if i+1 >= len(s) {
		return -1
	}
	if strings.HasPrefix(s[i:], "<!--") {
		end := strings.Index(s[i+4:], "-->")
		if end < 0 {
			return -1
		}
		return i + 4 + end + 3
	}

	next := s[i+1]
	if !isLetter(next) && next != '/' && next != '!' && next != '?' {
		return -1
	}
	end := strings.IndexByte(s[i+1:], '>')
	if end < 0 {
		return -1
	}
	return i + 1 + end + 1
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r'
}

func isSpace(c byte) bool {
	return isBlank(c) || c == '\n'
}
