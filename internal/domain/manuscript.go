package domain

import "regexp"

// inlineClaimRefPattern matches inline [[claim_id]] references inside block content.
var inlineClaimRefPattern = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// ManuscriptBlock is a section of the synthesized manuscript, bound to the
// claims it draws on.
type ManuscriptBlock struct {
	BlockID      string   `json:"block_id"`
	ProjectID    string   `json:"project_id"`
	SectionTitle string   `json:"section_title"`
	Content      string   `json:"content"`
	OrderIndex   int      `json:"order_index"`
	Version      int      `json:"version"`
	ClaimIDs     []string `json:"claim_ids"`
	CitationKeys []string `json:"citation_keys"`

	IsExpertVerified bool   `json:"is_expert_verified"`
	ExpertNotes      string `json:"expert_notes,omitempty"`
}

// InlineClaimRefs extracts every [[claim_id]] reference from the block's
// content, in order of first appearance, without duplicates.
func (b ManuscriptBlock) InlineClaimRefs() []string {
	matches := inlineClaimRefPattern.FindAllStringSubmatch(b.Content, -1)
	seen := make(map[string]bool, len(matches))
	var refs []string
	for _, m := range matches {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		refs = append(refs, id)
	}
	return refs
}

// Bindings returns the deduplicated union of explicit ClaimIDs and inline
// [[claim_id]] references.
func (b ManuscriptBlock) Bindings() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range b.ClaimIDs {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b.InlineClaimRefs() {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// HasBindings reports whether the block has at least one claim binding.
func (b ManuscriptBlock) HasBindings() bool {
	return len(b.Bindings()) > 0
}
