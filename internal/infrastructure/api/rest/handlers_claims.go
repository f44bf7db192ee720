package rest

import (
	"net/http"
)

type claimAnchorResponse struct {
	ClaimID      string            `json:"claim_id"`
	SourceAnchor sourceAnchorBody  `json:"source_anchor"`
}

type sourceAnchorBody struct {
	DocID      string `json:"doc_id"`
	PageNumber int    `json:"page_number"`
	BBox       any    `json:"bbox,omitempty"`
	Span       any    `json:"span,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}

// handleClaimAnchor implements GET /api/claims/<claim_id>/anchor.
func (s *Server) handleClaimAnchor(w http.ResponseWriter, r *http.Request) {
	claimID := r.PathValue("claim_id")
	if claimID == "" {
		writeErr(w, http.StatusBadRequest, "claim_id is required")
		return
	}
	claim, err := s.claims.Get(r.Context(), claimID)
	if err != nil {
		writeErr(w, http.StatusNotFound, "claim not found")
		return
	}

	resp := claimAnchorResponse{
		ClaimID: claim.ClaimID,
		SourceAnchor: sourceAnchorBody{
			DocID:      claim.SourceAnchor.DocID,
			PageNumber: claim.SourceAnchor.PageNumber,
			Snippet:    claim.SourceAnchor.Snippet,
		},
	}
	if claim.SourceAnchor.BBox != nil {
		resp.SourceAnchor.BBox = claim.SourceAnchor.BBox
	}
	if claim.SourceAnchor.Span != nil {
		resp.SourceAnchor.Span = claim.SourceAnchor.Span
	}
	writeJSON(w, http.StatusOK, resp)
}
