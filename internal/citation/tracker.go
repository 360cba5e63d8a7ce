// Package citation implements the Citation Tracker: it parses
// bracketed citations out of generated text, reconciles them against a
// session's frozen citation map, and emits a stable, dense, injective
// CitationMap for the turn.
package citation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/govrag/govrag/internal/model"
)

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// Result is the Citation Tracker's output for a single turn.
type Result struct {
	Text string // answer text with ordinals rewritten where necessary
	Map  *model.CitationMap
}

// Track runs four steps: parse, reconcile against the
// frozen map, drop orphans, and emit the per-turn map.
//
// The bracketed number the LLM writes is this turn's evidence rank_final
// (dense 1..N, reassigned every turn by the Evidence Set Builder as
// reranking reorders the set) — it is NOT a session-wide citation ordinal.
// So a parsed marker must be resolved to a locator first (via rank_final),
// and the locator then looked up *by value* against the frozen map, never
// by treating the marker's raw number as a frozen-map key.
func Track(answerText string, evidences []model.Evidence, frozen *model.CitationMap) Result {
	byRank := make(map[int]model.Evidence, len(evidences))
	for _, e := range evidences {
		byRank[e.RankFinal] = e
	}

	parsed := parseOrdinals(answerText)

	out := model.NewCitationMap()
	frozenByLocator := make(map[model.Locator]int)
	if frozen != nil {
		for _, n := range frozen.Ordinals() {
			loc, _ := frozen.Get(n)
			out.Set(n, loc)
			frozenByLocator[loc] = n
		}
	}

	rewrites := make(map[int]int) // this turn's rank_final -> emitted ordinal
	assignedByLocator := make(map[model.Locator]int)

	for _, n := range parsed {
		ev, known := byRank[n]
		if !known {
			// Citation to an evidence that doesn't exist in this turn's set;
			// treated as an orphan and dropped below.
			continue
		}
		loc := model.LocatorFromEvidence(ev)

		if frozenOrd, bound := frozenByLocator[loc]; bound {
			// This locator was already cited in a prior turn: its ordinal
			// is frozen and must not change, regardless of what rank_final
			// it happens to hold this turn.
			rewrites[n] = frozenOrd
			continue
		}
		if assignedOrd, already := assignedByLocator[loc]; already {
			// Same locator cited more than once in this turn's text: reuse
			// the ordinal already minted for it, preserving injectivity.
			rewrites[n] = assignedOrd
			continue
		}

		newN := out.NextFree()
		out.Set(newN, loc)
		assignedByLocator[loc] = newN
		rewrites[n] = newN
	}

	rewritten := rewriteText(answerText, rewrites)
	cited := citedOrdinals(rewritten)
	final := dropOrphans(out, cited)

	return Result{Text: rewritten, Map: final}
}

func parseOrdinals(text string) []int {
	var out []int
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func rewriteText(text string, rewrites map[int]int) string {
	if len(rewrites) == 0 {
		return text
	}
	return citationRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := citationRe.FindStringSubmatch(m)
		n, _ := strconv.Atoi(sub[1])
		if newN, ok := rewrites[n]; ok {
			return fmt.Sprintf("[%d]", newN)
		}
		return m
	})
}

func citedOrdinals(text string) map[int]bool {
	cited := make(map[int]bool)
	for _, n := range parseOrdinals(text) {
		cited[n] = true
	}
	return cited
}

// dropOrphans ensures that every evidence actually
// cited appears in the sources list, and every listed source is cited at
// least once. Ordinals not referenced anywhere in the answer text are
// dropped from the emitted map (the frozen map itself is untouched by the
// caller, which persists it separately only on the first successful turn).
func dropOrphans(m *model.CitationMap, cited map[int]bool) *model.CitationMap {
	out := model.NewCitationMap()
	for _, n := range m.Ordinals() {
		if cited[n] {
			loc, _ := m.Get(n)
			out.Set(n, loc)
		}
	}
	return out
}

// FormatSources renders the machine-parseable sources section the Answer
// Formatter embeds verbatim.
func FormatSources(m *model.CitationMap) string {
	var b strings.Builder
	for _, n := range m.Ordinals() {
		loc, _ := m.Get(n)
		fmt.Fprintf(&b, "[%d] -> (%s, %d, %d, %d)\n", n, loc.DocID, loc.Page, loc.CharStart, loc.CharEnd)
	}
	return b.String()
}
