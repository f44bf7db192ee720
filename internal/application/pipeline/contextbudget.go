package pipeline

// AssembledContext is the layered context the Cartographer assembles before
// prompt wrapping (spec §4.4 step 2): referenced/candidate facts take
// priority over canonical knowledge, which takes priority over retrieved
// document chunks. TrimToBudget never touches the thesis/RQ block itself --
// that is applied later by WrapPromptWithContext, outside this struct.
type AssembledContext struct {
	CandidateFacts  string
	CanonicalFacts  string
	DocumentChunks  string
}

// TrimToBudget enforces the context budget named in SPEC_FULL.md's
// "Context budget trimming" supplemented feature: when the combined length
// of the three layers exceeds budget characters, truncate the
// lowest-priority layer first (document chunks), then canonical knowledge,
// then candidate knowledge -- never the thesis/RQ block, which lives
// outside this struct entirely and is applied afterward by
// WrapPromptWithContext.
func TrimToBudget(c AssembledContext, budget int) AssembledContext {
	total := len(c.CandidateFacts) + len(c.CanonicalFacts) + len(c.DocumentChunks)
	if budget <= 0 || total <= budget {
		return c
	}

	over := total - budget

	if len(c.DocumentChunks) > 0 {
		cut := min(over, len(c.DocumentChunks))
		c.DocumentChunks = truncateTail(c.DocumentChunks, cut)
		over -= cut
	}
	if over <= 0 {
		return c
	}

	if len(c.CanonicalFacts) > 0 {
		cut := min(over, len(c.CanonicalFacts))
		c.CanonicalFacts = truncateTail(c.CanonicalFacts, cut)
		over -= cut
	}
	if over <= 0 {
		return c
	}

	if len(c.CandidateFacts) > 0 {
		cut := min(over, len(c.CandidateFacts))
		c.CandidateFacts = truncateTail(c.CandidateFacts, cut)
	}

	return c
}

func truncateTail(s string, cut int) string {
	if cut >= len(s) {
		return ""
	}
	return s[:len(s)-cut]
}
