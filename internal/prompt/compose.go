// Package prompt implements the Prompt Composer: a pure,
// synchronous function building the two-part evidence-grounded prompt the
// Generator Adapter sends to the LLM backend.
package prompt

import (
	"fmt"
	"strings"

	"github.com/govrag/govrag/internal/model"
)

// SystemPrompt is the strict evidence-only policy sent on every turn.
const SystemPrompt = `Only state facts present in the evidences below. Quote numbers, dates, and legal citations verbatim as they appear in the evidences. If the evidences do not answer the question, say so plainly. Never invent document names, page numbers, or facts not present in the evidences.

Respond using exactly this structure:
1. A one-to-two-sentence core answer.
2. 3-5 bullet points of key facts.
3. An optional elaboration paragraph.
4. A sources section listing each evidence used as "[i] -> (doc_id, page, char_start, char_end)".

Every factual claim in parts 1-3 must carry one or more bracketed citation markers like [1] or [2][3], referencing the evidence blocks below.`

// Composed is the two-part prompt the Generator Adapter sends upstream.
type Composed struct {
	System string
	User   string
}

// Compose builds the prompt from the (possibly rewritten) query and the
// final evidence set.
func Compose(queryText string, evidences []model.Evidence) Composed {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", queryText)
	b.WriteString("Evidences:\n\n")
	for _, e := range evidences {
		fmt.Fprintf(&b, "[%d] doc_id=%s, page=%d, span=[%d..%d]\n%s\n\n",
			e.RankFinal, e.Chunk.DocID, e.Chunk.Page, e.Chunk.CharStart, e.Chunk.CharEnd, e.Chunk.Text)
	}
	return Composed{System: SystemPrompt, User: b.String()}
}
