package jobmanager

import "github.com/smilemakc/vyasa/internal/domain"

// Deltas is the GET /api/jobs/<id>/diff response body (spec §6.1,
// supplemented from original_source/src/orchestrator/api/jobs.py, which was
// not carried over by the distillation beyond field names).
type Deltas struct {
	ConflictsDelta         int `json:"conflicts_delta"`
	MissingFieldsDelta     int `json:"missing_fields_delta"`
	UnsupportedClaimsDelta int `json:"unsupported_claims_delta"`
	TriplesAdded           int `json:"triples_added"`
	TriplesRemoved         int `json:"triples_removed"`
}

// Details lists the claim ids that changed between the two results, so a
// caller can render a human-readable diff without recomputing set
// membership itself.
type Details struct {
	AddedClaimIDs   []string `json:"added_claim_ids"`
	RemovedClaimIDs []string `json:"removed_claim_ids"`
}

// Diff computes the structural diff between a job and a prior job it is
// being compared against: triples_added/triples_removed by claim-id set
// difference, unsupported_claims_delta by counting claims with
// is_expert_verified=false in each, conflicts_delta by comparing attached
// conflict report item counts.
func Diff(from, against *domain.JobRecord) (Deltas, Details) {
	fromClaims := claimsOf(from)
	againstClaims := claimsOf(against)

	fromIDs := claimIDSet(fromClaims)
	againstIDs := claimIDSet(againstClaims)

	var added, removed []string
	for id := range fromIDs {
		if !againstIDs[id] {
			added = append(added, id)
		}
	}
	for id := range againstIDs {
		if !fromIDs[id] {
			removed = append(removed, id)
		}
	}

	deltas := Deltas{
		TriplesAdded:           len(added),
		TriplesRemoved:         len(removed),
		UnsupportedClaimsDelta: unsupportedCount(fromClaims) - unsupportedCount(againstClaims),
		MissingFieldsDelta:     missingFieldsCount(fromClaims) - missingFieldsCount(againstClaims),
		ConflictsDelta:         conflictItemCount(from) - conflictItemCount(against),
	}
	details := Details{AddedClaimIDs: added, RemovedClaimIDs: removed}
	return deltas, details
}

func claimsOf(record *domain.JobRecord) []domain.Claim {
	if record == nil || record.Job.Result() == nil {
		return nil
	}
	return record.Job.Result().Triples
}

func claimIDSet(claims []domain.Claim) map[string]bool {
	set := make(map[string]bool, len(claims))
	for _, c := range claims {
		set[c.ClaimID] = true
	}
	return set
}

func unsupportedCount(claims []domain.Claim) int {
	n := 0
	for _, c := range claims {
		if !c.IsExpertVerified {
			n++
		}
	}
	return n
}

func missingFieldsCount(claims []domain.Claim) int {
	n := 0
	for _, c := range claims {
		if len(c.ValidateEvidence()) > 0 {
			n++
		}
	}
	return n
}

func conflictItemCount(record *domain.JobRecord) int {
	if record == nil || record.Job.Result() == nil || record.Job.Result().ConflictReport == nil {
		return 0
	}
	return len(record.Job.Result().ConflictReport.ConflictItems)
}
