package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// BBox is a bounding box in normalized page coordinates, each in [0, 1000].
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// InRange reports whether every coordinate of the bbox is within [0, 1000].
func (b BBox) InRange() bool {
	return inBounds(b.X) && inBounds(b.Y) && inBounds(b.W) && inBounds(b.H)
}

func inBounds(v int) bool { return v >= 0 && v <= 1000 }

// Span is a character offset span within a page's extracted text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SourceAnchor is the minimal evidence binding that locates a claim in its
// source document.
type SourceAnchor struct {
	DocID      string `json:"doc_id"`
	PageNumber int    `json:"page_number"`
	BBox       *BBox  `json:"bbox,omitempty"`
	Span       *Span  `json:"span,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}

// HasBBox reports whether the anchor carries a bounding box.
func (a SourceAnchor) HasBBox() bool { return a.BBox != nil }

// Claim is an extracted subject-predicate-object assertion bound to a
// source anchor.
type Claim struct {
	ClaimID    string   `json:"claim_id"`
	Subject    string   `json:"subject"`
	Predicate  string   `json:"predicate"`
	Object     string   `json:"object"`
	Confidence float64  `json:"confidence"`
	ClaimText  string   `json:"claim_text"`
	Relevance  float64  `json:"relevance_score"`
	RQHits     []string `json:"rq_hits"`

	SourceAnchor SourceAnchor `json:"source_anchor"`

	IsExpertVerified bool   `json:"is_expert_verified"`
	ExpertNotes      string `json:"expert_notes,omitempty"`

	ProjectID string `json:"project_id,omitempty"`
}

// DeterministicClaimID computes the stable claim id used when the extractor
// does not otherwise supply one: a SHA-256 hash of the five fields
// subject|predicate|object|doc_hash|page, lowercase hex.
func DeterministicClaimID(subject, predicate, object, docHash string, page int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d", subject, predicate, object, docHash, page)))
	return hex.EncodeToString(sum[:])
}

// ValidateEvidence checks the hard evidence-binding invariants named in
// spec §3.3: non-empty rq_hits, a source anchor with doc_id and page_number,
// and a bbox that is both present and in range. It returns a list of
// human-readable defects; an empty list means the claim passes. The Critic
// treats a non-empty list as a hard failure at every rigor level.
func (c Claim) ValidateEvidence() []string {
	var defects []string
	if len(c.RQHits) == 0 {
		defects = append(defects, "missing rq_hits")
	}
	if c.SourceAnchor.DocID == "" {
		defects = append(defects, "missing source_anchor.doc_id")
	}
	if c.SourceAnchor.PageNumber < 1 {
		defects = append(defects, "missing or invalid source_anchor.page_number")
	}
	if c.SourceAnchor.BBox == nil {
		defects = append(defects, "missing bbox")
	} else if !c.SourceAnchor.BBox.InRange() {
		defects = append(defects, "bbox coordinate out of range [0,1000]")
	}
	return defects
}
