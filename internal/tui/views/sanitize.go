package views

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/tview"
)

// text prepares user content for a tview cell or text view: it drops
// codepoints tcell renders badly and escapes tview color tags.
func text(s string) string {
	return tview.Escape(sanitizeForTerminal(s))
}

// line is text for single-line cells; newlines and tabs become spaces.
func line(s string) string {
	return text(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, s))
}

// sanitizeForTerminal strips skin tone modifiers, zero width joiners,
// variation selectors and other control characters. A modified emoji is
// reduced to its base, which tcell draws as one 2-cell glyph.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isProblematicRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func isProblematicRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	case r == '\n' || r == '\t':
		return false
	}
	return unicode.IsControl(r)
}
