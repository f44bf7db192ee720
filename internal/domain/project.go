package domain

import (
	"time"

	"github.com/google/uuid"
)

// Project is a research project: a thesis, its research questions, and the
// scope guardrails (anti-scope, rigor level) that downstream pipeline nodes
// enforce.
type Project struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	Thesis           string    `json:"thesis"`
	ResearchQuestions []string `json:"research_questions"`
	AntiScope        []string  `json:"anti_scope"`
	TargetJournal    string    `json:"target_journal,omitempty"`
	SeedFiles        []string  `json:"seed_files"`
	Tags             []string  `json:"tags,omitempty"`
	RigorLevel       RigorLevel `json:"rigor_level"`
	CreatedAt        time.Time `json:"created_at"`
	LastUpdated      time.Time `json:"last_updated"`
	Archived         bool      `json:"archived"`
}

// NewProject constructs a Project and validates it before returning, so a
// caller can never hold an invariant-violating Project value.
func NewProject(title, thesis string, researchQuestions []string, rigor RigorLevel) (*Project, error) {
	p := &Project{
		ID:                uuid.New(),
		Title:             title,
		Thesis:            thesis,
		ResearchQuestions: researchQuestions,
		RigorLevel:        rigor,
		CreatedAt:         time.Now().UTC(),
		LastUpdated:       time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the invariants named in spec §3.7: title/thesis non-empty,
// at least one research question, and a recognized rigor level.
func (p *Project) Validate() error {
	if p.Title == "" {
		return NewDomainError(ErrCodeInvalidInput, "project title must not be empty", nil)
	}
	if p.Thesis == "" {
		return NewDomainError(ErrCodeInvalidInput, "project thesis must not be empty", nil)
	}
	if len(p.ResearchQuestions) == 0 {
		return NewDomainError(ErrCodeInvalidInput, "project must have at least one research question", nil)
	}
	if !p.RigorLevel.IsValid() {
		return NewDomainError(ErrCodeInvalidInput, "rigor_level must be exploratory or conservative", nil)
	}
	return nil
}

// AddSeedFile appends filename to the project's seed file list, deduplicated
// and order-preserving: adding the same filename twice is a no-op on the
// second call (spec §8 round-trip property).
func (p *Project) AddSeedFile(filename string) {
	for _, f := range p.SeedFiles {
		if f == filename {
			return
		}
	}
	p.SeedFiles = append(p.SeedFiles, filename)
	p.LastUpdated = time.Now().UTC()
}

// SetRigorLevel updates the project's rigor level, used by
// PATCH /api/projects/<id>/rigor.
func (p *Project) SetRigorLevel(rigor RigorLevel) error {
	if !rigor.IsValid() {
		return NewDomainError(ErrCodeInvalidInput, "rigor_level must be exploratory or conservative", nil)
	}
	p.RigorLevel = rigor
	p.LastUpdated = time.Now().UTC()
	return nil
}

// ProjectContext is the slice of a Project threaded into pipeline nodes and
// prompt wrapping (spec §3.2, §4.7).
type ProjectContext struct {
	ProjectID         uuid.UUID  `json:"project_id"`
	Title             string     `json:"title"`
	Thesis            string     `json:"thesis"`
	ResearchQuestions []string   `json:"research_questions"`
	AntiScope         []string   `json:"anti_scope"`
	RigorLevel        RigorLevel `json:"rigor_level"`
	TargetJournal     string     `json:"target_journal,omitempty"`
}

// ContextFrom derives the ProjectContext slice of a Project.
func ContextFrom(p *Project) ProjectContext {
	return ProjectContext{
		ProjectID:         p.ID,
		Title:             p.Title,
		Thesis:            p.Thesis,
		ResearchQuestions: p.ResearchQuestions,
		AntiScope:         p.AntiScope,
		RigorLevel:        p.RigorLevel,
		TargetJournal:     p.TargetJournal,
	}
}
