package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/govrag/govrag/internal/generate"
	"github.com/govrag/govrag/internal/ground"
	"github.com/govrag/govrag/internal/model"
	"github.com/govrag/govrag/internal/prompt"
)

// EventKind tags the four wire shapes of the streaming
// endpoint: a status update, a content delta, the terminal completion, or
// a terminal error.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventContent  EventKind = "content"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// StreamEvent is one item forwarded to the HTTP layer's newline-delimited
// JSON stream (POST .../messages/stream).
type StreamEvent struct {
	Kind    EventKind
	Status  string
	Content string
	Turn    *model.Turn
	Err     error
}

// HandleStream runs the same state machine as Handle but forwards sanitised
// generation deltas as they arrive. The
// returned channel is always closed exactly once, with its final event
// either EventComplete or EventError.
func (o *Orchestrator) HandleStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	sess, release, err := o.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent, 8)
	go func() {
		defer close(out)
		defer release()
		o.runStream(ctx, sess, req, out)
	}()
	return out, nil
}

func (o *Orchestrator) runStream(ctx context.Context, sess *model.Session, req Request, out chan<- StreamEvent) {
	var lat model.LatencyBreakdown
	start := time.Now()

	out <- StreamEvent{Kind: EventStatus, Status: "rewriting"}
	pre, err := o.runPreGeneration(ctx, sess, req, &lat)
	if err != nil {
		out <- StreamEvent{Kind: EventError, Err: err}
		return
	}
	if pre.insufficient {
		lat.TotalMs = elapsedMs(start)
		turn, _ := o.insufficientEvidence(ctx, req, pre.rewriteInfo, pre.scope, lat, pre.rerankSkipped)
		out <- StreamEvent{Kind: EventComplete, Turn: turn}
		return
	}

	out <- StreamEvent{Kind: EventStatus, Status: "generating"}
	text, interrupted, err := o.streamOnce(ctx, pre.composed, out)
	if interrupted {
		turn, ierr := o.interrupted(ctx, req, pre.rewriteInfo, pre.scope, lat)
		out <- StreamEvent{Kind: EventComplete, Turn: turn, Err: ierr}
		return
	}
	if err != nil {
		out <- StreamEvent{Kind: EventError, Err: err}
		return
	}

	verdict := ground.Check(text, pre.evidenceSet.Evidences, o.p.GroundingConfig, o.p.Grounder)
	regenerated := false
	if verdict.Outcome == ground.OutcomeRegenerate {
		out <- StreamEvent{Kind: EventStatus, Status: "regenerating"}
		strengthened := pre.composed
		strengthened.System = strengthened.System + "\n\nYour previous answer was rejected for: " + verdict.Reason + ". Revise strictly so every claim is grounded in the evidence blocks above."
		text2, interrupted2, err2 := o.streamOnce(ctx, strengthened, out)
		if interrupted2 {
			turn, ierr := o.interrupted(ctx, req, pre.rewriteInfo, pre.scope, lat)
			out <- StreamEvent{Kind: EventComplete, Turn: turn, Err: ierr}
			return
		}
		if err2 != nil {
			out <- StreamEvent{Kind: EventError, Err: err2}
			return
		}
		regenerated = true
		verdict = ground.Check(text2, pre.evidenceSet.Evidences, o.p.GroundingConfig, o.p.Grounder)
		text = text2
		if verdict.Outcome != ground.OutcomeAccepted {
			verdict.Outcome = ground.OutcomeInsufficientEvidence
		}
	}

	if verdict.Outcome == ground.OutcomeInsufficientEvidence {
		lat.TotalMs = elapsedMs(start)
		turn, _ := o.insufficientEvidence(ctx, req, pre.rewriteInfo, pre.scope, lat, pre.rerankSkipped)
		out <- StreamEvent{Kind: EventComplete, Turn: turn}
		return
	}

	turn := o.finalize(ctx, req, pre, text, sess, lat, start, regenerated)
	out <- StreamEvent{Kind: EventComplete, Turn: turn}
}

// streamOnce runs a single generation pass, forwarding content deltas and
// reporting whether the client/orchestrator cancelled mid-stream. On
// cancellation the upstream connection is closed and the stream ends with
// an interrupted marker.
func (o *Orchestrator) streamOnce(ctx context.Context, composed prompt.Composed, out chan<- StreamEvent) (string, bool, error) {
	deltas, err := o.p.LLM.GenerateStream(ctx, composed.User, generate.Options{
		SystemPrompt: composed.System,
		Model:        o.p.LLMModel,
		MaxTokens:    o.p.LLMMaxTokens,
	})
	if err != nil {
		return "", false, err
	}

	var b strings.Builder
	for d := range deltas {
		if d.Token != "" {
			b.WriteString(d.Token)
			out <- StreamEvent{Kind: EventContent, Content: d.Token}
		}
		if d.Interrupted {
			return b.String(), true, nil
		}
		if d.Error != nil {
			return b.String(), false, d.Error
		}
		if d.Done {
			break
		}
	}
	return b.String(), false, nil
}
