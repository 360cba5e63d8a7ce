// Package docscope implements the Doc-Scope Resolver: it
// decides the effective retrieval scope for a turn from the client's
// explicit document IDs, the follow-up heuristic, and the topic detector's
// verdict.
package docscope

import (
	"github.com/govrag/govrag/internal/model"
)

// Input bundles everything the resolution policy needs.
type Input struct {
	ClientDocIDs        []string
	IsFollowUp          bool
	TopicChangeDetected bool
	SuggestedDocIDs     []string
	SessionRecentDocIDs []string
	SessionDocsAvgRRF   float64 // average RRF score retrieving against session.RecentSourceDocIDs
	ExpandFloor         float64 // below this average, expand to full corpus
}

// Resolve applies the scope resolution policy.
func Resolve(in Input) model.DocScope {
	if len(in.ClientDocIDs) > 0 {
		mode := model.ScopeExpanded
		if sameSet(in.ClientDocIDs, in.SessionRecentDocIDs) {
			mode = model.ScopeInheritFirst
		}
		return model.DocScope{
			Mode:                mode,
			AllowedDocIDs:       in.ClientDocIDs,
			TopicChangeDetected: in.TopicChangeDetected,
		}
	}

	if !in.IsFollowUp {
		return model.DocScope{
			Mode:                model.ScopeFullCorpus,
			TopicChangeDetected: in.TopicChangeDetected,
		}
	}

	if !in.TopicChangeDetected {
		return model.DocScope{
			Mode:                model.ScopeInheritFirst,
			AllowedDocIDs:       in.SessionRecentDocIDs,
			TopicChangeDetected: false,
		}
	}

	// Follow-up and topic change: try the session scope first, expand to
	// full corpus only if its average RRF score is too weak.
	if in.SessionDocsAvgRRF < in.ExpandFloor {
		return model.DocScope{
			Mode:                model.ScopeExpanded,
			TopicChangeDetected: true,
			SuggestedDocIDs:     in.SuggestedDocIDs,
		}
	}

	return model.DocScope{
		Mode:                model.ScopeInheritFirst,
		AllowedDocIDs:       in.SessionRecentDocIDs,
		TopicChangeDetected: true,
		SuggestedDocIDs:     in.SuggestedDocIDs,
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(b))
	for _, id := range b {
		set[id] = true
	}
	for _, id := range a {
		if !set[id] {
			return false
		}
	}
	return true
}
