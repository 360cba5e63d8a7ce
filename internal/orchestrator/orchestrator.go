// Package orchestrator implements the Chat Orchestrator:
// the per-request state machine driving a turn through rewriting, scope
// resolution, retrieval, reranking, generation, grounding enforcement,
// citation tracking, formatting, and persistence.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/govrag/govrag/internal/answer"
	"github.com/govrag/govrag/internal/citation"
	"github.com/govrag/govrag/internal/docscope"
	govragerrors "github.com/govrag/govrag/internal/errors"
	"github.com/govrag/govrag/internal/evidence"
	"github.com/govrag/govrag/internal/generate"
	"github.com/govrag/govrag/internal/ground"
	"github.com/govrag/govrag/internal/model"
	"github.com/govrag/govrag/internal/prompt"
	"github.com/govrag/govrag/internal/rerank"
	"github.com/govrag/govrag/internal/retrieve"
	"github.com/govrag/govrag/internal/rewrite"
	"github.com/govrag/govrag/internal/search"
	"github.com/govrag/govrag/internal/session"
	"github.com/govrag/govrag/internal/topic"
)

// InsufficientEvidenceMessage is the canonical "evidence not found" answer
// returned when no sufficiently grounded answer can be produced.
const InsufficientEvidenceMessage = "제공된 문서에서 해당 정보를 찾을 수 없습니다."

// Params configures an Orchestrator. All collaborators are supplied by the
// caller; there are no process-wide singletons.
type Params struct {
	Sessions   *session.Store
	Retriever  *retrieve.Retriever
	Reranker   search.Reranker
	LLM        generate.LLM
	Embedder   topic.Embedder
	Grounder   ground.SentenceEmbedder
	Classifier search.Classifier
	Logger     *slog.Logger

	RRFK            int
	KLex            int
	KVec            int
	MaxPerDoc       int
	FloorRatio      float64
	WLex            float64
	WVec            float64
	EvidenceN       int
	TopKRerank      int
	GroundingConfig ground.Thresholds
	TopicThresholds topic.Thresholds
	TopicEnabled    bool
	LLMModel        string
	LLMMaxTokens    int
	ExpandFloor     float64
	MaskPII         bool

	// SessionTimeout marks a session cold once its last evidence-bearing
	// answer is older than this: the next query resolves scope as a fresh
	// topic instead of inheriting the stale document scope. Zero disables.
	SessionTimeout time.Duration
}

// Orchestrator drives a single turn end to end.
type Orchestrator struct {
	p Params
}

// New constructs an Orchestrator.
func New(p Params) *Orchestrator {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Orchestrator{p: p}
}

// Request is the input to a single chat turn.
type Request struct {
	SessionID    string
	Query        string
	ClientDocIDs []string
}

// Handle runs the full state machine for one turn in whole (non-streaming)
// mode, returning the persisted assistant Turn.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*model.Turn, error) {
	sess, release, err := o.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	defer release()

	var lat model.LatencyBreakdown
	start := time.Now()

	pre, err := o.runPreGeneration(ctx, sess, req, &lat)
	if err != nil {
		return nil, err
	}
	if pre.insufficient {
		lat.TotalMs = elapsedMs(start)
		return o.insufficientEvidence(ctx, req, pre.rewriteInfo, pre.scope, lat, pre.rerankSkipped)
	}

	// Generating + Enforcing (with one regeneration retry)
	t0 := time.Now()
	answerText, verdict, regenerated, err := o.generateAndEnforce(ctx, pre.composed, pre.evidenceSet.Evidences)
	lat.GenerateMs = elapsedMs(t0)
	if err != nil {
		if ctx.Err() != nil {
			return o.interrupted(ctx, req, pre.rewriteInfo, pre.scope, lat)
		}
		return nil, err
	}

	if verdict == ground.OutcomeInsufficientEvidence {
		lat.TotalMs = elapsedMs(start)
		return o.insufficientEvidence(ctx, req, pre.rewriteInfo, pre.scope, lat, pre.rerankSkipped)
	}

	turn := o.finalize(ctx, req, pre, answerText, sess, lat, start, regenerated)
	return turn, nil
}

// preGeneration holds everything computed before the Generating state, shared
// between Handle and HandleStream.
type preGeneration struct {
	rewriteInfo   *model.RewriteInfo
	scope         *model.DocScope
	evidenceSet   evidence.Set
	composed      prompt.Composed
	degraded      bool
	rerankSkipped bool
	insufficient  bool
}

func (o *Orchestrator) runPreGeneration(ctx context.Context, sess *model.Session, req Request, lat *model.LatencyBreakdown) (*preGeneration, error) {
	userTurn := model.Turn{TurnID: uuid.NewString(), Role: model.RoleUser, Content: req.Query, Timestamp: time.Now()}
	if err := o.p.Sessions.AppendTurn(ctx, req.SessionID, userTurn); err != nil {
		return nil, govragerrors.SessionError("persisting user turn", err)
	}

	t0 := time.Now()
	rewriteInfo := o.rewrite(ctx, sess, req.Query)
	lat.RewriteMs = elapsedMs(t0)

	t0 = time.Now()
	scope := o.resolveScope(ctx, sess, rewriteInfo.Rewritten, req.ClientDocIDs)
	lat.ScopeMs = elapsedMs(t0)

	t0 = time.Now()
	result, err := o.p.Retriever.Retrieve(ctx, rewriteInfo.Rewritten, retrieve.Options{
		AllowedDocIDs: scope.AllowedDocIDs,
		KLex:          o.p.KLex,
		KVec:          o.p.KVec,
		RRFK:          o.p.RRFK,
		KOut:          o.p.TopKRerank,
		MaxPerDoc:     o.p.MaxPerDoc,
		FloorRatio:    o.p.FloorRatio,
		WLex:          o.p.WLex,
		WVec:          o.p.WVec,
		Classifier:    o.p.Classifier,
	})
	lat.RetrieveMs = elapsedMs(t0)
	if err != nil {
		return nil, err
	}
	if result.Degraded {
		o.p.Logger.Warn("retrieval degraded to a single source",
			"session_id", req.SessionID, "scope_mode", scope.Mode)
	}
	if len(result.Evidences) == 0 {
		return &preGeneration{rewriteInfo: &rewriteInfo, scope: &scope, insufficient: true}, nil
	}

	t0 = time.Now()
	reranked, skipped, err := rerank.Apply(ctx, o.p.Reranker, rewriteInfo.Rewritten, result.Evidences, o.p.TopKRerank)
	if err != nil {
		reranked, skipped = result.Evidences, true
		o.p.Logger.Warn("rerank failed, shortlist order passed through",
			"session_id", req.SessionID, "error", err)
	}
	lat.RerankMs = elapsedMs(t0)

	set := evidence.Build(reranked, rewriteInfo.Rewritten, evidence.Options{N: o.p.EvidenceN, MaxPerDoc: o.p.MaxPerDoc})
	if len(set.Evidences) == 0 {
		return &preGeneration{rewriteInfo: &rewriteInfo, scope: &scope, rerankSkipped: skipped, insufficient: true}, nil
	}

	t0 = time.Now()
	composed := prompt.Compose(rewriteInfo.Rewritten, set.Evidences)
	lat.ComposeMs = elapsedMs(t0)

	return &preGeneration{
		rewriteInfo:   &rewriteInfo,
		scope:         &scope,
		evidenceSet:   set,
		composed:      composed,
		degraded:      result.Degraded,
		rerankSkipped: skipped,
	}, nil
}

// finalize runs Citing, Formatting, and Persisting, producing the terminal
// assistant Turn for an accepted answer.
func (o *Orchestrator) finalize(ctx context.Context, req Request, pre *preGeneration, answerText string, sess *model.Session, lat model.LatencyBreakdown, start time.Time, regenerated bool) *model.Turn {
	t0 := time.Now()
	frozen := sess.FirstResponseCitationMap
	citeResult := citation.Track(answerText, pre.evidenceSet.Evidences, frozen)
	lat.CiteMs = elapsedMs(t0)

	t0 = time.Now()
	body := citeResult.Text
	if o.p.MaskPII {
		body = answer.MaskPII(body)
	}
	formatted := answer.Format(body, nil, "", citeResult.Map)
	lat.FormatMs = elapsedMs(t0)

	turn := &model.Turn{
		TurnID:      uuid.NewString(),
		Role:        model.RoleAssistant,
		Timestamp:   time.Now(),
		Content:     formatted.Text,
		Evidences:   pre.evidenceSet.Evidences,
		CitationMap: citeResult.Map,
		Sources:     model.SourceRefsFromMap(citeResult.Map),
		Metadata: model.TurnMetadata{
			Rewrite:       pre.rewriteInfo,
			DocScope:      pre.scope,
			Grounding:     model.VerdictAccepted,
			Latency:       lat,
			Degraded:      pre.degraded,
			RerankSkipped: pre.rerankSkipped,
			Regenerated:   regenerated,
		},
	}

	t0 = time.Now()
	docIDs := make([]string, 0, len(pre.evidenceSet.Evidences))
	for _, e := range pre.evidenceSet.Evidences {
		docIDs = append(docIDs, e.Chunk.DocID)
	}
	persisted := true
	if err := o.p.Sessions.AppendTurn(ctx, req.SessionID, *turn); err != nil {
		persisted = false
	}
	if persisted {
		_ = o.p.Sessions.AppendRecentDocIDs(ctx, req.SessionID, docIDs)
		_ = o.p.Sessions.FreezeCitationMap(ctx, req.SessionID, citeResult.Map, pre.evidenceSet.Evidences)
	}
	turn.Metadata.Persisted = persisted
	turn.Metadata.Latency.PersistMs = elapsedMs(t0)
	turn.Metadata.Latency.TotalMs = elapsedMs(start)
	if !persisted {
		o.p.Logger.Error("turn completed but could not be persisted, retry scheduled",
			"session_id", req.SessionID, "turn_id", turn.TurnID)
		o.schedulePersistRetry(req.SessionID, *turn, docIDs, citeResult.Map, pre.evidenceSet.Evidences)
	} else {
		o.p.Logger.Info("turn completed",
			"session_id", req.SessionID, "turn_id", turn.TurnID,
			"scope_mode", pre.scope.Mode, "evidences", len(pre.evidenceSet.Evidences),
			"regenerated", regenerated, "total_ms", turn.Metadata.Latency.TotalMs)
	}
	return turn
}

// schedulePersistRetry re-attempts persisting a completed turn in the
// background with jittered backoff. The response already went out with
// metadata.persisted=false, so the retry only has to win eventually; a late
// success also replays the recent-doc-ID and citation-map bookkeeping that
// was skipped when the first write failed.
func (o *Orchestrator) schedulePersistRetry(sessionID string, turn model.Turn, docIDs []string, m *model.CitationMap, evidences []model.Evidence) {
	go func() {
		ctx := context.Background()
		cfg := govragerrors.RetryConfig{
			MaxRetries:   5,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		}
		err := govragerrors.Retry(ctx, cfg, func() error {
			return o.p.Sessions.AppendTurn(ctx, sessionID, turn)
		})
		if err != nil {
			o.p.Logger.Error("turn persist retry exhausted",
				"session_id", sessionID, "turn_id", turn.TurnID, "error", err)
			return
		}
		if len(docIDs) > 0 {
			_ = o.p.Sessions.AppendRecentDocIDs(ctx, sessionID, docIDs)
		}
		if m != nil {
			_ = o.p.Sessions.FreezeCitationMap(ctx, sessionID, m, evidences)
		}
		o.p.Logger.Info("turn persisted on retry",
			"session_id", sessionID, "turn_id", turn.TurnID)
	}()
}

// begin acquires the session's single-in-flight-turn guard and
// fetches its current snapshot. The returned release func must always run.
func (o *Orchestrator) begin(ctx context.Context, req Request) (*model.Session, func(), error) {
	sess, err := o.p.Sessions.Fetch(ctx, req.SessionID)
	if err != nil {
		return nil, nil, err
	}

	acquired, err := o.p.Sessions.SetInFlight(ctx, req.SessionID, true)
	if err != nil {
		return nil, nil, err
	}
	if !acquired {
		return nil, nil, govragerrors.New(govragerrors.ErrCodeSessionBusy, "session has a turn already in flight", nil)
	}
	return sess, func() { _, _ = o.p.Sessions.SetInFlight(ctx, req.SessionID, false) }, nil
}

// interrupted persists a system-notice turn for a cancelled generation, so
// the interruption stays visible in the session history alongside the
// terminal marker the client stream received.
func (o *Orchestrator) interrupted(ctx context.Context, req Request, rewriteInfo *model.RewriteInfo, scope *model.DocScope, lat model.LatencyBreakdown) (*model.Turn, error) {
	turn := model.Turn{
		TurnID:    uuid.NewString(),
		Role:      model.RoleSystemNotice,
		Content:   "interrupted",
		Timestamp: time.Now(),
		Metadata: model.TurnMetadata{
			Rewrite:  rewriteInfo,
			DocScope: scope,
			Latency:  lat,
		},
	}
	// Cancellation uses a background context: the caller's ctx is already
	// done, but persisting the notice must still succeed.
	persisted := o.p.Sessions.AppendTurn(context.Background(), req.SessionID, turn) == nil
	turn.Metadata.Persisted = persisted
	if !persisted {
		o.schedulePersistRetry(req.SessionID, turn, nil, nil, nil)
	}
	o.p.Logger.Info("turn interrupted", "session_id", req.SessionID, "turn_id", turn.TurnID)
	return &turn, govragerrors.New(govragerrors.ErrCodeCancelled, "turn was cancelled", ctx.Err())
}

func (o *Orchestrator) rewrite(ctx context.Context, sess *model.Session, query string) model.RewriteInfo {
	window := rewrite.HistoryWindow{
		Summary:        sess.ConversationSummary,
		RecentEntities: sess.RecentEntities,
	}
	n := len(sess.Turns)
	if n > 6 {
		n = 6
	}
	window.LastTurns = sess.Turns[len(sess.Turns)-n:]
	return rewrite.Rewrite(ctx, o.p.LLM, query, window)
}

func (o *Orchestrator) resolveScope(ctx context.Context, sess *model.Session, query string, clientDocIDs []string) model.DocScope {
	last, isFollowUp := sess.LastAssistantTurnWithEvidence()
	if isFollowUp && o.p.SessionTimeout > 0 && time.Since(last.Timestamp) > o.p.SessionTimeout {
		isFollowUp = false
	}

	if !o.p.TopicEnabled || !isFollowUp {
		return docscope.Resolve(docscope.Input{
			ClientDocIDs:        clientDocIDs,
			IsFollowUp:          isFollowUp,
			SessionRecentDocIDs: sess.RecentSourceDocIDs,
		})
	}

	signals := o.topicSignals(ctx, sess, query)
	changed := topic.Detect(signals, o.p.TopicThresholds)

	var suggested []string
	if changed {
		suggested, _ = topic.ProbeFullCorpus(ctx, o.p.Retriever.Lexical, o.p.Retriever.Chunks, query, o.p.KLex)
	}

	return docscope.Resolve(docscope.Input{
		ClientDocIDs:        clientDocIDs,
		IsFollowUp:          isFollowUp,
		TopicChangeDetected: changed,
		SuggestedDocIDs:     suggested,
		SessionRecentDocIDs: sess.RecentSourceDocIDs,
		SessionDocsAvgRRF:   signals.TopRRFScore,
		ExpandFloor:         o.p.ExpandFloor,
	})
}

func (o *Orchestrator) topicSignals(ctx context.Context, sess *model.Session, query string) topic.Signals {
	prevQuery, ok := sess.LastUserQuery()
	if !ok || o.p.Embedder == nil {
		return topic.Signals{}
	}
	cur, err1 := o.p.Embedder.Embed(ctx, query)
	prev, err2 := o.p.Embedder.Embed(ctx, prevQuery)
	if err1 != nil || err2 != nil {
		return topic.Signals{}
	}
	sim := topic.CosineSimilarity(cur, prev)

	result, err := o.p.Retriever.Retrieve(ctx, query, retrieve.Options{
		AllowedDocIDs: sess.RecentSourceDocIDs,
		KLex:          o.p.KLex,
		KVec:          o.p.KVec,
		RRFK:          o.p.RRFK,
		KOut:          o.p.TopKRerank,
		MaxPerDoc:     o.p.MaxPerDoc,
		WLex:          o.p.WLex,
		WVec:          o.p.WVec,
		Classifier:    o.p.Classifier,
	})
	if err != nil || len(result.Evidences) == 0 {
		return topic.Signals{QuerySimilarity: sim}
	}

	top := result.Evidences[0].ScoreRRF
	confidence := averageRRF(result.Evidences)
	return topic.Signals{QuerySimilarity: sim, RetrievalConfidence: confidence, TopRRFScore: top}
}

func averageRRF(evidences []model.Evidence) float64 {
	if len(evidences) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range evidences {
		sum += e.ScoreRRF
	}
	return sum / float64(len(evidences))
}

// generateAndEnforce runs Generating then Enforcing, allowing exactly one
// Regenerating retry with a strengthened instruction.
func (o *Orchestrator) generateAndEnforce(ctx context.Context, composed prompt.Composed, evidences []model.Evidence) (string, ground.Outcome, bool, error) {
	text, err := o.p.LLM.Generate(ctx, composed.User, generate.Options{
		SystemPrompt: composed.System,
		Model:        o.p.LLMModel,
		MaxTokens:    o.p.LLMMaxTokens,
	})
	if err != nil {
		return "", "", false, govragerrors.GenerationError("generation backend call failed", err)
	}

	verdict := ground.Check(text, evidences, o.p.GroundingConfig, o.p.Grounder)
	if verdict.Outcome == ground.OutcomeAccepted {
		return text, verdict.Outcome, false, nil
	}
	if verdict.Outcome == ground.OutcomeInsufficientEvidence {
		return text, verdict.Outcome, false, nil
	}

	o.p.Logger.Info("draft rejected by grounding check, regenerating once",
		"reason", verdict.Reason)
	strengthened := composed.System + "\n\nYour previous answer was rejected for: " + verdict.Reason + ". Revise strictly so every claim is grounded in the evidence blocks above."
	text2, err := o.p.LLM.Generate(ctx, composed.User, generate.Options{
		SystemPrompt: strengthened,
		Model:        o.p.LLMModel,
		MaxTokens:    o.p.LLMMaxTokens,
	})
	if err != nil {
		return "", "", false, govragerrors.GenerationError("regeneration call failed", err)
	}
	verdict2 := ground.Check(text2, evidences, o.p.GroundingConfig, o.p.Grounder)
	if verdict2.Outcome == ground.OutcomeAccepted {
		return text2, verdict2.Outcome, true, nil
	}
	return text2, ground.OutcomeInsufficientEvidence, true, nil
}

func (o *Orchestrator) insufficientEvidence(ctx context.Context, req Request, rewriteInfo *model.RewriteInfo, scope *model.DocScope, lat model.LatencyBreakdown, rerankSkipped bool) (*model.Turn, error) {
	turn := model.Turn{
		TurnID:    uuid.NewString(),
		Role:      model.RoleAssistant,
		Timestamp: time.Now(),
		Content:   InsufficientEvidenceMessage,
		Metadata: model.TurnMetadata{
			Rewrite:       rewriteInfo,
			DocScope:      scope,
			Grounding:     model.VerdictInsufficientEvidence,
			Latency:       lat,
			RerankSkipped: rerankSkipped,
		},
	}
	persisted := o.p.Sessions.AppendTurn(ctx, req.SessionID, turn) == nil
	turn.Metadata.Persisted = persisted
	if !persisted {
		o.schedulePersistRetry(req.SessionID, turn, nil, nil, nil)
	}
	return &turn, nil
}

func elapsedMs(since time.Time) int64 { return time.Since(since).Milliseconds() }
