// Package sanitize cleans markdown produced by the LaTeX converter so that
// common markdown renderers display it: figures become placeholders, a few
// unsupported macros are rewritten, display math is isolated on its own
// lines, and leftover HTML tags are removed without touching math.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// maxPasses bounds the fixed-point loop in Sanitize. Real converter output
// settles after the first pass; the loop only matters for inputs where
// removing a tag exposes a new pattern.
const maxPasses = 3

var (
	figureRe     = regexp.MustCompile(`(?is)<figure\b[^>]*>(.*?)</figure\s*>`)
	figcaptionRe = regexp.MustCompile(`(?is)<figcaption\b[^>]*>(.*?)</figcaption\s*>`)
)

// Sanitize applies, in order: figure placeholders, macro rewrites, display
// math isolation and math-aware tag stripping. It repeats the sequence until
// the text stops changing, so Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(s string) string {
	out := s
	for i := 0; i < maxPasses; i++ {
		next := pass(out)
		if next == out {
			return out
		}
		out = next
	}
	return out
}

func pass(s string) string {
	s = ReplaceFigures(s)
	s = RewriteMacros(s)
	s = IsolateDisplayMath(s)
	return StripTags(s)
}

// ReplaceFigures replaces each <figure> block with a numbered blockquote
// placeholder carrying the figure's caption text.
func ReplaceFigures(s string) string {
	n := 0
	return figureRe.ReplaceAllStringFunc(s, func(block string) string {
		n++
		body := figureRe.FindStringSubmatch(block)[1]
		return figurePlaceholder(n, caption(body))
	})
}

func caption(body string) string {
	m := figcaptionRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.Join(strings.Fields(StripTags(m[1])), " ")
}

func figurePlaceholder(n int, caption string) string {
	if caption == "" {
		return fmt.Sprintf("> **Figure %d.** _(no caption)_", n)
	}
	return fmt.Sprintf("> **Figure %d.** %s", n, caption)
}
