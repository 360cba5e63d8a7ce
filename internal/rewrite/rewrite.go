// Package rewrite implements the Query Rewriter: it turns a
// possibly anaphoric follow-up query into a standalone one, using the
// session's summary, recent entities, and a short window of prior turns.
package rewrite

import (
	"context"
	"strings"

	"github.com/govrag/govrag/internal/generate"
	"github.com/govrag/govrag/internal/model"
)

// DestructiveRewriteThreshold bounds how much of the original query a
// rewrite may remove before it is considered destructive and discarded in
// favour of the original query.
const DestructiveRewriteThreshold = 0.6

// MaxRewriteTokens caps the rewritten query's length.
const MaxRewriteTokens = 64

const systemPrompt = `Rewrite the user's latest message into a standalone question that does not depend on prior conversation turns. Resolve pronouns and implicit references using the provided context. Output only the rewritten question, nothing else. Keep it short.`

// HistoryWindow is the short window of prior turns fed to the rewriter.
type HistoryWindow struct {
	Summary        string
	RecentEntities []string
	LastTurns      []model.Turn
}

// Rewrite produces a standalone query.
func Rewrite(ctx context.Context, llm generate.LLM, query string, history HistoryWindow) model.RewriteInfo {
	info := model.RewriteInfo{Original: query, Rewritten: query}

	if llm == nil || !llm.Available(ctx) {
		info.UsedFallback = true
		return info
	}

	prompt := buildPrompt(query, history)
	out, err := llm.Generate(ctx, prompt, generate.Options{
		SystemPrompt: systemPrompt,
		MaxTokens:    MaxRewriteTokens * 4,
	})
	if err != nil {
		info.UsedFallback = true
		return info
	}

	out = strings.TrimSpace(strings.Trim(out, "\""))
	if out == "" {
		info.UsedFallback = true
		return info
	}

	removed := tokensRemoved(query, out)
	if destructive(query, removed) {
		info.UsedFallback = true
		info.TokensRemoved = removed
		return info
	}

	info.Rewritten = out
	info.TokensRemoved = removed
	return info
}

func buildPrompt(query string, h HistoryWindow) string {
	var b strings.Builder
	if h.Summary != "" {
		b.WriteString("Conversation summary: ")
		b.WriteString(h.Summary)
		b.WriteString("\n")
	}
	if len(h.RecentEntities) > 0 {
		b.WriteString("Recent entities: ")
		b.WriteString(strings.Join(h.RecentEntities, ", "))
		b.WriteString("\n")
	}
	for _, t := range h.LastTurns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	b.WriteString("Latest message: ")
	b.WriteString(query)
	return b.String()
}

func tokensRemoved(original, rewritten string) int {
	o := strings.Fields(original)
	r := strings.Fields(rewritten)
	removed := len(o) - len(r)
	if removed < 0 {
		return 0
	}
	return removed
}

func destructive(original string, removed int) bool {
	total := len(strings.Fields(original))
	if total == 0 {
		return false
	}
	return float64(removed)/float64(total) > DestructiveRewriteThreshold
}
