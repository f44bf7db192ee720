package projecthub

import "github.com/smilemakc/vyasa/internal/domain"

// Template is a canned project starter: a rigor level and anti-scope preset
// a user can apply instead of authoring a Project from scratch
// (SPEC_FULL.md SUPPLEMENTED FEATURES #2).
type Template struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	RigorLevel  domain.RigorLevel `json:"rigor_level"`
	AntiScope   []string          `json:"anti_scope"`
}

// Templates is the fixed set of starter templates offered by GET
// /api/projects/templates.
var Templates = []Template{
	{
		Name:        "literature-survey",
		Description: "Broad survey of a research area across many source documents, exploratory rigor.",
		RigorLevel:  domain.RigorExploratory,
		AntiScope:   []string{"primary experimental results not yet peer reviewed"},
	},
	{
		Name:        "systematic-review",
		Description: "Narrow, evidence-gated review with conservative rigor and strict citation requirements.",
		RigorLevel:  domain.RigorConservative,
		AntiScope:   []string{"grey literature", "non-peer-reviewed preprints"},
	},
	{
		Name:        "thesis-chapter",
		Description: "Single-thesis manuscript synthesis from a bounded reading list.",
		RigorLevel:  domain.RigorConservative,
		AntiScope:   []string{},
	},
}

// ListTemplates returns the canned template set.
func ListTemplates() []Template {
	return Templates
}
