package docscope

import (
	"testing"

	"github.com/govrag/govrag/internal/model"
)

func TestResolve_ClientDocIDsMatchingSession_InheritsFirst(t *testing.T) {
	scope := Resolve(Input{
		ClientDocIDs:        []string{"a", "b"},
		SessionRecentDocIDs: []string{"b", "a"},
	})
	if scope.Mode != model.ScopeInheritFirst {
		t.Errorf("Mode = %v, want ScopeInheritFirst", scope.Mode)
	}
	if len(scope.AllowedDocIDs) != 2 {
		t.Errorf("AllowedDocIDs = %v, want client-supplied set", scope.AllowedDocIDs)
	}
}

func TestResolve_ClientDocIDsDiffer_Expanded(t *testing.T) {
	scope := Resolve(Input{
		ClientDocIDs:        []string{"a", "c"},
		SessionRecentDocIDs: []string{"a", "b"},
	})
	if scope.Mode != model.ScopeExpanded {
		t.Errorf("Mode = %v, want ScopeExpanded", scope.Mode)
	}
}

func TestResolve_NotFollowUp_FullCorpus(t *testing.T) {
	scope := Resolve(Input{IsFollowUp: false})
	if scope.Mode != model.ScopeFullCorpus {
		t.Errorf("Mode = %v, want ScopeFullCorpus", scope.Mode)
	}
	if !scope.Unrestricted() {
		t.Error("expected full-corpus scope to be unrestricted")
	}
}

func TestResolve_FollowUpNoTopicChange_InheritsFirst(t *testing.T) {
	scope := Resolve(Input{
		IsFollowUp:          true,
		TopicChangeDetected: false,
		SessionRecentDocIDs: []string{"x", "y"},
	})
	if scope.Mode != model.ScopeInheritFirst {
		t.Errorf("Mode = %v, want ScopeInheritFirst", scope.Mode)
	}
	if scope.TopicChangeDetected {
		t.Error("expected TopicChangeDetected to be false")
	}
}

func TestResolve_FollowUpTopicChangeWeakScore_ExpandsToFullCorpus(t *testing.T) {
	scope := Resolve(Input{
		IsFollowUp:          true,
		TopicChangeDetected: true,
		SessionDocsAvgRRF:   0.1,
		ExpandFloor:         0.3,
		SuggestedDocIDs:     []string{"z"},
	})
	if scope.Mode != model.ScopeExpanded {
		t.Errorf("Mode = %v, want ScopeExpanded", scope.Mode)
	}
	if len(scope.SuggestedDocIDs) != 1 || scope.SuggestedDocIDs[0] != "z" {
		t.Errorf("SuggestedDocIDs = %v, want [z]", scope.SuggestedDocIDs)
	}
}

func TestResolve_FollowUpTopicChangeStrongScore_StaysInSessionScope(t *testing.T) {
	scope := Resolve(Input{
		IsFollowUp:          true,
		TopicChangeDetected: true,
		SessionDocsAvgRRF:   0.9,
		ExpandFloor:         0.3,
		SessionRecentDocIDs: []string{"p"},
	})
	if scope.Mode != model.ScopeInheritFirst {
		t.Errorf("Mode = %v, want ScopeInheritFirst", scope.Mode)
	}
	if !scope.TopicChangeDetected {
		t.Error("expected TopicChangeDetected to remain true even when staying in session scope")
	}
}
