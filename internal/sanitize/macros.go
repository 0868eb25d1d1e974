package sanitize

import (
	"strings"
)

// macroRewrites maps LaTeX commands that markdown math renderers
// (KaTeX, MathJax defaults) reject onto equivalents they accept. The table
// is intentionally small; it is a text substitution, not a macro expander.
var macroRewrites = strings.NewReplacer(
	`\bm{`, `\boldsymbol{`,
	`\bold{`, `\mathbf{`,
	`\mathbbm{`, `\mathbb{`,
	`\mathds{`, `\mathbb{`,
	`\textsc{`, `\text{`,
	`\operatorname*{`, `\operatorname{`,
	`\coloneqq`, `:=`,
	`\eqqcolon`, `=:`,
)

// blackboardLetters are the number-set shorthands (\R, \N, ...) that papers
// define locally and renderers do not know.
var blackboardLetters = map[byte]bool{'R': true, 'N': true, 'Z': true, 'Q': true, 'C': true}

// RewriteMacros applies the fixed substitution table and expands the
// blackboard-bold shorthands \R \N \Z \Q \C into \mathbb{X}.
func RewriteMacros(s string) string {
	s = macroRewrites.Replace(s)
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		next := s[i+1]
		switch {
		case next == '\\':
			// escaped backslash, never the start of a command
			b.WriteString(`\\`)
			i++
		case blackboardLetters[next] && (i+2 >= len(s) || !isLetter(s[i+2])):
			b.WriteString(`\mathbb{`)
			b.WriteByte(next)
			b.WriteByte('}')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
