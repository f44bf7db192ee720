package pipeline

import "github.com/smilemakc/vyasa/internal/domain"

// MaxRevisions is the default revision bound named in spec §4.4's router
// ("revision_count < max_revisions (default 3)"); Runner.MaxRevisions
// overrides it when configured.
const MaxRevisions = 3

// Route implements the router that follows the Critic node (spec §4.4):
//   - critic_status=pass                                        -> Synthesizer
//   - revision_count < max_revisions                             -> Cartographer
//   - TRIGGER_REFRAMING recommended, revision_count>=2, a BLOCKER -> Reframing
//   - otherwise                                                  -> Failure Cleanup
func Route(state domain.WorkflowState, maxRevisions int) domain.PipelineNodeName {
	if state.CriticStatus == domain.CriticStatusPass {
		return domain.NodeSynthesizer
	}

	if state.RevisionCount < maxRevisions {
		return domain.NodeCartographer
	}

	if state.ConflictReport != nil &&
		state.ConflictReport.RecommendedNextStep == domain.NextStepTriggerReframing &&
		state.RevisionCount >= 2 &&
		hasBlocker(state.ConflictReport.ConflictItems) {
		return domain.NodeReframing
	}

	return domain.NodeFailureCleanup
}

func hasBlocker(items []domain.ConflictItem) bool {
	for _, item := range items {
		if item.Severity == domain.SeverityBlocker {
			return true
		}
	}
	return false
}
