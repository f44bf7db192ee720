package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/smilemakc/vyasa/internal/domain"
)

// canonicalConflictItem is the stable, order-independent projection of a
// ConflictItem hashed for cross-job deduplication (spec §4.5 "Conflict
// hash"). Contradicting claim ids are sorted, and then the items
// themselves, before encoding so two semantically identical conflicts
// produced in a different node order still hash equal.
type canonicalConflictItem struct {
	Type                  string   `json:"type"`
	Severity              string   `json:"severity"`
	Summary               string   `json:"summary"`
	ContradictingClaimIDs []string `json:"contradicting_claim_ids"`
}

// ConflictHash computes a stable SHA-256 (lowercase hex) over a canonical
// JSON encoding of the given conflict items, used to deduplicate
// conflict reports across jobs that re-detect the same underlying conflict.
func ConflictHash(items []domain.ConflictItem) string {
	canon := make([]canonicalConflictItem, len(items))
	for i, item := range items {
		ids := append([]string(nil), item.ContradictingClaimIDs...)
		sort.Strings(ids)
		canon[i] = canonicalConflictItem{
			Type:                  string(item.Type),
			Severity:              string(item.Severity),
			Summary:               item.Summary,
			ContradictingClaimIDs: ids,
		}
	}
	sort.Slice(canon, func(i, j int) bool {
		if canon[i].Type != canon[j].Type {
			return canon[i].Type < canon[j].Type
		}
		if canon[i].Summary != canon[j].Summary {
			return canon[i].Summary < canon[j].Summary
		}
		return len(canon[i].ContradictingClaimIDs) < len(canon[j].ContradictingClaimIDs)
	})

	encoded, _ := json.Marshal(canon)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
