// Package ground implements the Evidence Enforcer: post-hoc grounding
// checks on a generated answer against its evidence set.
package ground

import (
	"math"
	"regexp"
	"strings"

	"github.com/govrag/govrag/internal/model"
)

// Outcome is the Enforcer's verdict.
type Outcome string

const (
	OutcomeAccepted             Outcome = "accepted"
	OutcomeRegenerate           Outcome = "regenerate"
	OutcomeInsufficientEvidence Outcome = "insufficient_evidence"
)

// Thresholds holds the grounding acceptance thresholds.
type Thresholds struct {
	EvidenceJaccard float64
	CitationSentSim float64
	CitationSpanIOU float64
}

// SentenceEmbedder embeds individual sentences for the per-sentence
// grounding check.
type SentenceEmbedder interface {
	Embed(sentence string) ([]float32, error)
}

// Verdict is the Enforcer's full result, including the failing detail used
// to strengthen a regeneration instruction.
type Verdict struct {
	Outcome Outcome
	Reason  string
}

var (
	numberRe       = regexp.MustCompile(`\d[\d,.]*`)
	isoDateRe      = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	legalArticleRe = regexp.MustCompile(`(?i)(제\s*\d+\s*조|article\s+\d+|§\s*\d+)`)
	citationRe     = regexp.MustCompile(`\[(\d+)\]`)
)

// Check runs every grounding rule against answerBody (parts
// 1-3 of the structured answer, excluding the sources section).
func Check(answerBody string, evidences []model.Evidence, thresholds Thresholds, embedder SentenceEmbedder) Verdict {
	if len(evidences) == 0 {
		return Verdict{Outcome: OutcomeInsufficientEvidence, Reason: "no evidences available"}
	}

	evidenceText := concatEvidenceText(evidences)

	if j := jaccard(tokenSet(answerBody), tokenSet(evidenceText)); j < thresholds.EvidenceJaccard {
		return Verdict{Outcome: OutcomeRegenerate, Reason: "lexical overlap with evidences is too low"}
	}

	if !regexFactsGrounded(answerBody, evidenceText) {
		return Verdict{Outcome: OutcomeRegenerate, Reason: "a number, date, or legal citation in the answer does not appear in any evidence"}
	}

	if ok, reason := perSentenceGrounded(answerBody, evidences, thresholds, embedder); !ok {
		return Verdict{Outcome: OutcomeRegenerate, Reason: reason}
	}

	return Verdict{Outcome: OutcomeAccepted}
}

func concatEvidenceText(evidences []model.Evidence) string {
	var b strings.Builder
	for _, e := range evidences {
		b.WriteString(e.Chunk.Text)
		b.WriteByte(' ')
	}
	return b.String()
}

func tokenSet(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isWordRune(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = true
		}
	}
	return set
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r >= 0xAC00 && r <= 0xD7A3, r >= 0x1100 && r <= 0x11FF, r >= 0x3130 && r <= 0x318F:
		return true
	default:
		return false
	}
}

// jaccard computes |a ∩ b| / |a ∪ b| over token sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// regexFactsGrounded requires every number, ISO date, and legal-article
// pattern in the answer to appear verbatim in the evidence text. Bracketed
// citation markers like [1] are removed first: their ordinals are not facts.
func regexFactsGrounded(answer, evidenceText string) bool {
	answer = citationRe.ReplaceAllString(answer, " ")
	for _, re := range []*regexp.Regexp{numberRe, isoDateRe, legalArticleRe} {
		for _, match := range re.FindAllString(answer, -1) {
			if !strings.Contains(evidenceText, match) {
				return false
			}
		}
	}
	return true
}

// perSentenceGrounded checks, for every sentence in the answer, either a
// valid citation or a high embedding similarity to some evidence sentence.
// A citation counts as valid when its ordinal names one of the evidences;
// the span overlap between a quoted fragment and that evidence is not
// checked, so Thresholds.CitationSpanIOU is not applied.
func perSentenceGrounded(answer string, evidences []model.Evidence, t Thresholds, embedder SentenceEmbedder) (bool, string) {
	sentences := splitSentences(answer)
	evidenceSentences := evidenceSentenceEmbeddings(evidences, embedder)

	for i, sentence := range sentences {
		if strings.TrimSpace(sentence) == "" {
			continue
		}

		// A citation written after the closing period ("... fee. [1]") is
		// split off as its own fragment; it also counts for this sentence.
		cited := sentence
		if i+1 < len(sentences) && strings.TrimSpace(citationRe.ReplaceAllString(sentences[i+1], "")) == "" {
			cited += " " + sentences[i+1]
		}
		if hasValidCitation(cited, len(evidences)) {
			continue
		}

		if embedder == nil {
			return false, "sentence has no citation and no embedder is available to check similarity"
		}

		emb, err := embedder.Embed(sentence)
		if err != nil {
			return false, "failed to embed answer sentence for grounding check"
		}

		best := 0.0
		for _, es := range evidenceSentences {
			if sim := cosineSimilarity(emb, es); sim > best {
				best = sim
			}
		}
		if best < t.CitationSentSim {
			return false, "a sentence lacks both a valid citation and sufficient embedding similarity to any evidence"
		}
	}
	return true, ""
}

func hasValidCitation(sentence string, numEvidences int) bool {
	for _, m := range citationRe.FindAllStringSubmatch(sentence, -1) {
		n := 0
		for _, c := range m[1] {
			n = n*10 + int(c-'0')
		}
		if n >= 1 && n <= numEvidences {
			return true
		}
	}
	return false
}

func evidenceSentenceEmbeddings(evidences []model.Evidence, embedder SentenceEmbedder) [][]float32 {
	if embedder == nil {
		return nil
	}
	var out [][]float32
	for _, e := range evidences {
		for _, s := range splitSentences(e.Chunk.Text) {
			if strings.TrimSpace(s) == "" {
				continue
			}
			if emb, err := embedder.Embed(s); err == nil {
				out = append(out, emb)
			}
		}
	}
	return out
}

func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// cosineSimilarity is the dot product over the product of L2 norms.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// SpanIOU computes the intersection-over-union of two character spans.
// Check does not call it.
func SpanIOU(aStart, aEnd, bStart, bEnd int) float64 {
	interStart := max(aStart, bStart)
	interEnd := min(aEnd, bEnd)
	inter := interEnd - interStart
	if inter < 0 {
		inter = 0
	}
	union := (aEnd - aStart) + (bEnd - bStart) - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
