package domain

import (
	"github.com/google/uuid"
)

// WorkflowState is the record passed between pipeline nodes. Each node
// returns a StateUpdate (a partial state); the reducer (Merge) combines it
// into the running WorkflowState. Treated as immutable by convention: nodes
// never mutate the state they are given, only return updates.
type WorkflowState struct {
	JobID        uuid.UUID `json:"job_id"`
	ThreadID     string    `json:"thread_id"`
	ProjectID    uuid.UUID `json:"project_id"`
	IngestionID  string    `json:"ingestion_id"`

	RawText   string   `json:"raw_text"`
	ImagePaths []string `json:"image_paths,omitempty"`
	PDFPath   string   `json:"pdf_path,omitempty"`
	DocHash   string   `json:"doc_hash,omitempty"`

	ProjectContext *ProjectContext `json:"project_context,omitempty"`

	Triples []Claim `json:"triples"`

	Critiques     []string     `json:"critiques"`
	RevisionCount int          `json:"revision_count"`
	CriticStatus  CriticStatus `json:"critic_status,omitempty"`

	ConflictFlags    []string  `json:"conflict_flags,omitempty"`
	ConflictReport   *ConflictReport `json:"conflict_report,omitempty"`
	ConflictReportID uuid.UUID `json:"conflict_report_id,omitempty"`
	ConflictDetected bool      `json:"conflict_detected"`

	NeedsHumanReview     bool      `json:"needs_human_review"`
	NeedsSignoff         bool      `json:"needs_signoff"`
	ReframingProposalID  uuid.UUID `json:"reframing_proposal_id,omitempty"`

	ManuscriptBlocks []ManuscriptBlock `json:"manuscript_blocks"`

	PromptManifest PromptManifest `json:"prompt_manifest"`

	Phase WorkflowPhase `json:"phase"`

	// Artifacts and Messages are additive list fields per spec §3.2; Artifacts
	// names files written to the per-project artifacts directory (Vision
	// crops, export manifests); Messages is a free-form trace of
	// human-readable progress lines surfaced to operators.
	Artifacts []string `json:"artifacts,omitempty"`
	Messages  []string `json:"messages,omitempty"`

	// ForceRefreshContext, when set, tells the Cartographer to prioritize
	// candidate facts from ReferenceIDs over canonical knowledge (spec §4.4
	// step 2).
	ForceRefreshContext bool     `json:"force_refresh_context,omitempty"`
	ReferenceIDs        []string `json:"reference_ids,omitempty"`
}

// StateUpdate is the partial record a pipeline node returns. Only non-nil /
// explicitly-set fields are applied by Merge; the additive fields (Triples,
// Artifacts, Messages) are always appended rather than overwritten.
type StateUpdate struct {
	RawText   *string
	DocHash   *string

	ProjectContext *ProjectContext

	AddTriples []Claim

	AddCritiques     []string
	RevisionCountSet *int
	CriticStatus     *CriticStatus

	ConflictFlags    []string
	ConflictReport   *ConflictReport
	ConflictReportID *uuid.UUID
	ConflictDetected *bool

	NeedsHumanReview    *bool
	NeedsSignoff        *bool
	ReframingProposalID *uuid.UUID

	AddManuscriptBlocks []ManuscriptBlock

	PromptManifestEntries map[PipelineNodeName]PromptUse

	Phase *WorkflowPhase

	AddArtifacts []string
	AddMessages  []string
}

// Merge applies a StateUpdate onto a WorkflowState following the reducer
// contract of spec §3.2 and §9: scalar fields overwrite, designated list
// fields (triples, artifacts, messages, critiques) are append-reduced. Merge
// does not mutate s; it returns a new WorkflowState.
func Merge(s WorkflowState, u StateUpdate) WorkflowState {
	out := s

	if u.RawText != nil {
		out.RawText = *u.RawText
	}
	if u.DocHash != nil {
		out.DocHash = *u.DocHash
	}
	if u.ProjectContext != nil {
		out.ProjectContext = u.ProjectContext
	}
	if len(u.AddTriples) > 0 {
		out.Triples = append(append([]Claim(nil), s.Triples...), u.AddTriples...)
	}
	if len(u.AddCritiques) > 0 {
		out.Critiques = append(append([]string(nil), s.Critiques...), u.AddCritiques...)
	}
	if u.RevisionCountSet != nil {
		out.RevisionCount = *u.RevisionCountSet
	}
	if u.CriticStatus != nil {
		out.CriticStatus = *u.CriticStatus
	}
	if len(u.ConflictFlags) > 0 {
		out.ConflictFlags = append(append([]string(nil), s.ConflictFlags...), u.ConflictFlags...)
	}
	if u.ConflictReport != nil {
		out.ConflictReport = u.ConflictReport
	}
	if u.ConflictReportID != nil {
		out.ConflictReportID = *u.ConflictReportID
	}
	if u.ConflictDetected != nil {
		out.ConflictDetected = *u.ConflictDetected
	}
	if u.NeedsHumanReview != nil {
		out.NeedsHumanReview = *u.NeedsHumanReview
	}
	if u.NeedsSignoff != nil {
		out.NeedsSignoff = *u.NeedsSignoff
	}
	if u.ReframingProposalID != nil {
		out.ReframingProposalID = *u.ReframingProposalID
	}
	if len(u.AddManuscriptBlocks) > 0 {
		out.ManuscriptBlocks = append(append([]ManuscriptBlock(nil), s.ManuscriptBlocks...), u.AddManuscriptBlocks...)
	}
	if len(u.PromptManifestEntries) > 0 {
		merged := make(PromptManifest, len(s.PromptManifest)+len(u.PromptManifestEntries))
		for k, v := range s.PromptManifest {
			merged[k] = v
		}
		for k, v := range u.PromptManifestEntries {
			merged[k] = v
		}
		out.PromptManifest = merged
	}
	if u.Phase != nil {
		out.Phase = *u.Phase
	}
	if len(u.AddArtifacts) > 0 {
		out.Artifacts = append(append([]string(nil), s.Artifacts...), u.AddArtifacts...)
	}
	if len(u.AddMessages) > 0 {
		out.Messages = append(append([]string(nil), s.Messages...), u.AddMessages...)
	}

	return out
}

// NormalizeExtractedJSON guarantees Triples is a non-nil, possibly empty
// slice. It is idempotent: calling it twice yields the same result as
// calling it once (spec §8 round-trip property).
func NormalizeExtractedJSON(s WorkflowState) WorkflowState {
	if s.Triples == nil {
		s.Triples = []Claim{}
	}
	return s
}
