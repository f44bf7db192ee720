package pipeline

import (
	"strings"

	"github.com/smilemakc/vyasa/internal/domain"
)

// WrapPromptWithContext is the Context Injection Wrapper (spec §4.7): a pure
// function appending project-scoped sections to a base prompt. Retrieval
// (vector store, prompt registry) always happens before wrapping so the
// registry cache key stays stable across projects.
func WrapPromptWithContext(ctx *domain.ProjectContext, basePrompt string) string {
	if ctx == nil {
		return basePrompt
	}

	var b strings.Builder
	b.WriteString(basePrompt)

	if ctx.Thesis != "" {
		b.WriteString("\n\nThesis:\n")
		b.WriteString(ctx.Thesis)
	}

	if len(ctx.ResearchQuestions) > 0 {
		b.WriteString("\n\nResearch Questions:\n")
		for _, rq := range ctx.ResearchQuestions {
			b.WriteString("- ")
			b.WriteString(rq)
			b.WriteString("\n")
		}
	}

	if len(ctx.AntiScope) > 0 {
		b.WriteString("\nAnti-Scope:\n")
		for _, a := range ctx.AntiScope {
			b.WriteString("- ")
			b.WriteString(a)
			b.WriteString("\n")
		}

		if ctx.RigorLevel == domain.RigorConservative {
			b.WriteString("\nSTRICT CONSTRAINT: Do not extract, cite, or synthesize any content falling within the Anti-Scope list above. Treat such content as out of bounds regardless of its apparent relevance.\n")
		}
	}

	return b.String()
}
