package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ConflictItem is one detected defect surfaced by the Critic or Cartographer.
type ConflictItem struct {
	ItemID               string           `json:"item_id"`
	Type                 ConflictItemType `json:"type"`
	Severity             ConflictSeverity `json:"severity"`
	Summary              string           `json:"summary"`
	Details              string           `json:"details,omitempty"`
	Producer             ConflictProducer `json:"producer"`
	ContradictingClaimIDs []string        `json:"contradicting_claim_ids,omitempty"`
	EvidenceAnchors      []SourceAnchor   `json:"evidence_anchors,omitempty"`
	SuggestedActions     []string         `json:"suggested_actions,omitempty"`
}

// ConflictReport is the immutable record of every conflict detected during a
// Critic pass. It is created once, persisted, and referenced by the job.
type ConflictReport struct {
	ReportID       uuid.UUID          `json:"report_id"`
	ProjectID      uuid.UUID          `json:"project_id"`
	JobID          uuid.UUID          `json:"job_id"`
	DocHash        string             `json:"doc_hash"`
	RevisionCount  int                `json:"revision_count"`
	CriticStatus   CriticStatus       `json:"critic_status"`
	Deadlock       bool               `json:"deadlock"`
	DeadlockType   string             `json:"deadlock_type,omitempty"`
	ConflictItems  []ConflictItem     `json:"conflict_items"`
	ConflictHash   string             `json:"conflict_hash"`
	RecommendedNextStep RecommendedNextStep `json:"recommended_next_step"`
	CreatedAt      time.Time          `json:"created_at"`
}

// IsDeadlock applies the single canonical deadlock predicate named in
// spec §9: revision_count >= 2 AND at least one BLOCKER-severity item.
func IsDeadlock(revisionCount int, items []ConflictItem) bool {
	if revisionCount < 2 {
		return false
	}
	for _, item := range items {
		if item.Severity == SeverityBlocker {
			return true
		}
	}
	return false
}

// RecommendNextStep derives the recommendation a freshly built ConflictReport
// should carry, given the deadlock predicate and whether any items exist at
// all.
func RecommendNextStep(deadlock bool, items []ConflictItem) RecommendedNextStep {
	if deadlock {
		return NextStepTriggerReframing
	}
	for _, item := range items {
		if item.Severity == SeverityHigh || item.Severity == SeverityBlocker {
			return NextStepPauseForHuman
		}
	}
	return NextStepReviseAndRetry
}

// NewConflictReport builds a ConflictReport, computing its deadlock flag,
// recommendation, and conflict hash from the supplied items.
func NewConflictReport(projectID, jobID uuid.UUID, docHash string, revisionCount int, criticStatus CriticStatus, items []ConflictItem) ConflictReport {
	deadlock := IsDeadlock(revisionCount, items)
	report := ConflictReport{
		ReportID:      uuid.New(),
		ProjectID:     projectID,
		JobID:         jobID,
		DocHash:       docHash,
		RevisionCount: revisionCount,
		CriticStatus:  criticStatus,
		Deadlock:      deadlock,
		ConflictItems: items,
		CreatedAt:     time.Now().UTC(),
	}
	if deadlock {
		report.DeadlockType = "revision_exhaustion_with_blocker"
	}
	report.RecommendedNextStep = RecommendNextStep(deadlock, items)
	report.ConflictHash = ConflictHash(items)
	return report
}

// conflictHashItem is the canonical, order-stable projection of a
// ConflictItem used when computing the ConflictHash: type, severity,
// summary, producer and contradicting claim ids. Item ids, details,
// evidence anchors and suggested actions are left out. Contradicting claim
// ids are sorted, and the items are sorted by type and summary, so two
// logically identical reports hash identically regardless of detection
// order.
type conflictHashItem struct {
	Type                  ConflictItemType `json:"type"`
	Severity              ConflictSeverity `json:"severity"`
	Summary               string           `json:"summary"`
	Producer              ConflictProducer `json:"producer"`
	ContradictingClaimIDs []string         `json:"contradicting_claim_ids"`
}

// ConflictHash computes a deterministic SHA-256 fingerprint (lowercase hex)
// over a stable canonical JSON form of the conflict items list, used for
// cross-job deduplication of logically identical reports.
func ConflictHash(items []ConflictItem) string {
	projected := make([]conflictHashItem, 0, len(items))
	for _, item := range items {
		ids := append([]string(nil), item.ContradictingClaimIDs...)
		sort.Strings(ids)
		projected = append(projected, conflictHashItem{
			Type:                  item.Type,
			Severity:              item.Severity,
			Summary:               item.Summary,
			Producer:              item.Producer,
			ContradictingClaimIDs: ids,
		})
	}
	sort.Slice(projected, func(i, j int) bool {
		if projected[i].Type != projected[j].Type {
			return projected[i].Type < projected[j].Type
		}
		return projected[i].Summary < projected[j].Summary
	})

	canonical, _ := json.Marshal(projected)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// ReframingProposal is produced when a deadlock is declared; it is a
// deterministic, non-LLM-authored pivot proposal that suspends the job for
// human signoff.
type ReframingProposal struct {
	ProposalID             uuid.UUID      `json:"proposal_id"`
	ProjectID              uuid.UUID      `json:"project_id"`
	JobID                  uuid.UUID      `json:"job_id"`
	DocHash                string         `json:"doc_hash"`
	ConflictHash           string         `json:"conflict_hash"`
	PivotType              PivotType      `json:"pivot_type"`
	ProposedPivot          string         `json:"proposed_pivot"`
	ArchitecturalRationale string         `json:"architectural_rationale"`
	EvidenceAnchors        []SourceAnchor `json:"evidence_anchors,omitempty"`
	AssumptionsChanged     []string       `json:"assumptions_changed,omitempty"`
	WhatStaysTrue          []string       `json:"what_stays_true,omitempty"`
	RequiresHumanSignoff   bool           `json:"requires_human_signoff"`
	CreatedAt              time.Time      `json:"created_at"`
}
