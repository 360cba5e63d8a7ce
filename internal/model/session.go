package model

import "time"

// TurnRole identifies who authored a Turn.
type TurnRole string

const (
	RoleUser          TurnRole = "user"
	RoleAssistant     TurnRole = "assistant"
	RoleSystemNotice  TurnRole = "system_notice"
)

// DocScopeMode identifies how the Doc-Scope Resolver arrived at a turn's
// effective retrieval scope.
type DocScopeMode string

const (
	ScopeInheritFirst DocScopeMode = "inherit_first"
	ScopeSessionDocs  DocScopeMode = "session_docs"
	ScopeExpanded     DocScopeMode = "expanded"
	ScopeFullCorpus   DocScopeMode = "full_corpus"
)

// DocScope is the effective retrieval scope resolved for a turn.
type DocScope struct {
	Mode                 DocScopeMode `json:"mode"`
	AllowedDocIDs        []string     `json:"allowed_doc_ids"`
	TopicChangeDetected  bool         `json:"topic_change_detected"`
	SuggestedDocIDs      []string     `json:"suggested_doc_ids,omitempty"`
}

// Unrestricted reports whether the scope imposes no document filter.
func (s DocScope) Unrestricted() bool {
	return len(s.AllowedDocIDs) == 0
}

// Allows reports whether docID is permitted by the scope.
func (s DocScope) Allows(docID string) bool {
	if s.Unrestricted() {
		return true
	}
	for _, id := range s.AllowedDocIDs {
		if id == docID {
			return true
		}
	}
	return false
}

// GroundingVerdict is the Evidence Enforcer's outcome for a turn.
type GroundingVerdict string

const (
	VerdictAccepted            GroundingVerdict = "accepted"
	VerdictRegenerate           GroundingVerdict = "regenerate"
	VerdictInsufficientEvidence GroundingVerdict = "insufficient_evidence"
)

// RewriteInfo records what the Query Rewriter did for a turn.
type RewriteInfo struct {
	Original       string `json:"original"`
	Rewritten      string `json:"rewritten"`
	UsedFallback   bool   `json:"used_fallback"`
	TokensRemoved  int    `json:"tokens_removed"`
}

// LatencyBreakdown records per-state timings for a turn, in milliseconds.
type LatencyBreakdown struct {
	RewriteMs    int64 `json:"rewrite_ms"`
	ScopeMs      int64 `json:"scope_ms"`
	RetrieveMs   int64 `json:"retrieve_ms"`
	RerankMs     int64 `json:"rerank_ms"`
	ComposeMs    int64 `json:"compose_ms"`
	GenerateMs   int64 `json:"generate_ms"`
	EnforceMs    int64 `json:"enforce_ms"`
	CiteMs       int64 `json:"cite_ms"`
	FormatMs     int64 `json:"format_ms"`
	PersistMs    int64 `json:"persist_ms"`
	TotalMs      int64 `json:"total_ms"`
}

// TurnMetadata is the tagged-variant bag of per-turn diagnostic state:
// one explicit typed field per producer instead of a free-form map.
type TurnMetadata struct {
	Rewrite       *RewriteInfo      `json:"rewrite,omitempty"`
	DocScope      *DocScope         `json:"doc_scope,omitempty"`
	Grounding     GroundingVerdict  `json:"grounding,omitempty"`
	Latency       LatencyBreakdown  `json:"latency"`
	Degraded      bool              `json:"degraded,omitempty"`
	RerankSkipped bool              `json:"rerank_skipped,omitempty"`
	Persisted     bool              `json:"persisted"`
	Regenerated   bool              `json:"regenerated,omitempty"`
}

// Turn is a single message in a session's history.
type Turn struct {
	TurnID      string       `json:"turn_id"`
	Role        TurnRole     `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Evidences   []Evidence   `json:"evidences,omitempty"`
	CitationMap *CitationMap `json:"citation_map,omitempty"`
	Sources     []SourceRef  `json:"sources,omitempty"`
	Metadata    TurnMetadata `json:"metadata"`
}

// SourceRef is the wire-format of one CitationMap entry, ordered ascending by N.
type SourceRef struct {
	N         int    `json:"n"`
	DocID     string `json:"doc_id"`
	Page      int    `json:"page"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
}

// SourceRefsFromMap renders a CitationMap to its ascending-N wire format.
func SourceRefsFromMap(m *CitationMap) []SourceRef {
	if m == nil {
		return nil
	}
	ords := m.Ordinals()
	out := make([]SourceRef, 0, len(ords))
	for _, n := range ords {
		l, _ := m.Get(n)
		out = append(out, SourceRef{N: n, DocID: l.DocID, Page: l.Page, CharStart: l.CharStart, CharEnd: l.CharEnd})
	}
	return out
}

// Session is the process-durable, per-conversation memory record.
type Session struct {
	SessionID                string       `json:"session_id"`
	Title                    string       `json:"title"`
	CreatedAt                time.Time    `json:"created_at"`
	UpdatedAt                time.Time    `json:"updated_at"`
	Turns                    []Turn       `json:"turns"`
	RecentSourceDocIDs       []string     `json:"recent_source_doc_ids"`
	FirstResponseEvidences   []Evidence   `json:"first_response_evidences,omitempty"`
	FirstResponseCitationMap *CitationMap `json:"first_response_citation_map,omitempty"`
	ConversationSummary      string       `json:"conversation_summary,omitempty"`
	SummaryConfidence        float64      `json:"summary_confidence,omitempty"`
	RecentEntities           []string     `json:"recent_entities,omitempty"`

	// InFlight guards the single-in-flight-turn-per-session invariant.
	// It is not persisted.
	InFlight bool `json:"-"`
}

// MaxRecentDocIDs bounds the insertion-ordered recent-document list.
const MaxRecentDocIDs = 20

// MaxRecentEntities bounds the salient-entity list carried across turns.
const MaxRecentEntities = 30

// AppendRecentDocIDs merges ids into RecentSourceDocIDs, de-duplicating while
// preserving insertion order and capping at MaxRecentDocIDs (oldest dropped first).
func (s *Session) AppendRecentDocIDs(ids []string) {
	seen := make(map[string]bool, len(s.RecentSourceDocIDs))
	merged := make([]string, 0, len(s.RecentSourceDocIDs)+len(ids))
	for _, id := range s.RecentSourceDocIDs {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}
	if len(merged) > MaxRecentDocIDs {
		merged = merged[len(merged)-MaxRecentDocIDs:]
	}
	s.RecentSourceDocIDs = merged
}

// LastAssistantTurnWithEvidence returns the most recent assistant turn that
// carried evidences, used by the Doc-Scope Resolver's is_followup heuristic.
func (s *Session) LastAssistantTurnWithEvidence() (Turn, bool) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		t := s.Turns[i]
		if t.Role == RoleAssistant && len(t.Evidences) > 0 {
			return t, true
		}
	}
	return Turn{}, false
}

// LastUserQuery returns the content of the most recent user turn, if any.
func (s *Session) LastUserQuery() (string, bool) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleUser {
			return s.Turns[i].Content, true
		}
	}
	return "", false
}
