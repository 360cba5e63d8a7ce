package answer

import (
	"strings"
	"testing"

	"github.com/govrag/govrag/internal/model"
)

func TestFormat_RendersCoreBulletsAndElaboration(t *testing.T) {
	f := Format("The fee is due quarterly.", []string{"first point", "second point"}, "Additional context here.", nil)

	if !strings.Contains(f.Text, "The fee is due quarterly.") {
		t.Error("expected core text in output")
	}
	if !strings.Contains(f.Text, "- first point") || !strings.Contains(f.Text, "- second point") {
		t.Error("expected bullets rendered with leading dashes")
	}
	if !strings.Contains(f.Text, "Additional context here.") {
		t.Error("expected elaboration in output")
	}
}

func TestFormat_EmptyElaboration_Omitted(t *testing.T) {
	f := Format("core", nil, "   ", nil)
	if strings.Contains(f.Text, "\n\n\n") {
		t.Error("expected no extra blank section for whitespace-only elaboration")
	}
}

func TestFormat_IncludesSourcesSection(t *testing.T) {
	m := model.NewCitationMap()
	m.Set(1, model.Locator{DocID: "doc-a", Page: 2, CharStart: 0, CharEnd: 10})

	f := Format("core with [1]", nil, "", m)
	if !strings.Contains(f.Text, "Sources:") {
		t.Error("expected a Sources: section when citation map is non-empty")
	}
	if f.Sources == "" {
		t.Error("expected non-empty Sources field")
	}
}

func TestFormat_NilCitationMap_NoSourcesSection(t *testing.T) {
	f := Format("core", nil, "", nil)
	if strings.Contains(f.Text, "Sources:") {
		t.Error("expected no Sources: section for a nil citation map")
	}
	if f.Sources != "" {
		t.Errorf("Sources = %q, want empty", f.Sources)
	}
}

func TestSanitize_StripsControlCharsButKeepsNewlineAndTab(t *testing.T) {
	in := "hello\x00world\n\ttab"
	out := Sanitize(in)
	if strings.Contains(out, "\x00") {
		t.Error("expected control character to be stripped")
	}
	if !strings.Contains(out, "\n") || !strings.Contains(out, "\t") {
		t.Error("expected newline and tab to be preserved")
	}
}

func TestSanitize_StripsPrivateUseCharacters(t *testing.T) {
	in := "hello" + string(rune(0xE000)) + "world"
	out := Sanitize(in)
	if strings.Contains(out, string(rune(0xE000))) {
		t.Error("expected private-use character to be stripped")
	}
}

func TestSanitize_EscapesArrowSentinel(t *testing.T) {
	out := Sanitize("a -> b")
	if strings.Contains(out, "->") {
		t.Error("expected -> sentinel to be escaped")
	}
	if !strings.Contains(out, "→") {
		t.Error("expected -> to be replaced with →")
	}
}
