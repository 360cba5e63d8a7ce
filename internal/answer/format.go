// Package answer implements the Answer Formatter: it renders
// the final four-part structured answer and sanitises it for transport.
package answer

import (
	"strings"
	"unicode"

	"github.com/govrag/govrag/internal/citation"
	"github.com/govrag/govrag/internal/model"
)

// Formatted is the rendered answer ready for persistence and transport.
type Formatted struct {
	Text    string
	Sources string
}

// Format renders the core answer, bullets, optional elaboration, and a
// machine-parseable sources section, then sanitises the whole text.
func Format(core string, bullets []string, elaboration string, citationMap *model.CitationMap) Formatted {
	var b strings.Builder
	b.WriteString(Sanitize(strings.TrimSpace(core)))
	b.WriteString("\n")

	for _, bullet := range bullets {
		b.WriteString("- ")
		b.WriteString(Sanitize(strings.TrimSpace(bullet)))
		b.WriteString("\n")
	}

	if elaboration = strings.TrimSpace(elaboration); elaboration != "" {
		b.WriteString("\n")
		b.WriteString(Sanitize(elaboration))
		b.WriteString("\n")
	}

	sources := citation.FormatSources(citationMap)
	if sources != "" {
		b.WriteString("\nSources:\n")
		b.WriteString(sources)
	}

	return Formatted{Text: b.String(), Sources: sources}
}

// Sanitize strips control codepoints and Unicode private-use-area
// characters introduced by upstream parsing, and escapes the sentinel
// delimiter used by the sources section so it can never be forged by
// untrusted model output.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if isPrivateUse(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ReplaceAll(b.String(), "->", "→")
}

func isPrivateUse(r rune) bool {
	switch {
	case r >= 0xE000 && r <= 0xF8FF: // BMP Private Use Area
		return true
	case r >= 0xF0000 && r <= 0xFFFFD: // Supplementary PUA-A
		return true
	case r >= 0x100000 && r <= 0x10FFFD: // Supplementary PUA-B
		return true
	default:
		return false
	}
}
