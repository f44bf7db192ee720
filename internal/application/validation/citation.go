package validation

import (
	"strings"

	"github.com/smilemakc/vyasa/internal/domain"
)

// CitationIntegrity implements pipeline.Validator (spec §4.5 "Citation
// integrity validator"): a pure function over a manuscript block's combined
// claim bindings (explicit claim_ids plus inline [[claim_id]] references,
// deduped via domain.ManuscriptBlock.Bindings). Conservative rigor fails on
// an empty binding set or any id absent from knownClaimIDs; exploratory
// rigor only warns (encoded as a non-empty reason with ok=true).
func (*Validator) CitationIntegrity(block domain.ManuscriptBlock, knownClaimIDs map[string]bool, conservative bool) (bool, string) {
	bindings := block.Bindings()

	if len(bindings) == 0 {
		if conservative {
			return false, "block has no claim bindings"
		}
		return true, "block has no claim bindings"
	}

	var unknown []string
	for _, id := range bindings {
		if !knownClaimIDs[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) == 0 {
		return true, ""
	}

	reason := "unknown claim id(s): " + strings.Join(unknown, ", ")
	if conservative {
		return false, reason
	}
	return true, reason
}
