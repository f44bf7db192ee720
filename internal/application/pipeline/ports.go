// Package pipeline implements the workflow state machine (spec §4.4): the
// Cartographer/Vision/Critic/Synthesizer/Saver/Reframing node graph, its
// router, the context injection wrapper, and context budget trimming. Nodes
// depend only on the narrow ports declared here; the concrete LLM gateway,
// prompt registry, vector store, graph store, and validation suite are
// injected by the process wiring in cmd/server.
package pipeline

import (
	"context"

	"github.com/smilemakc/vyasa/internal/domain"
)

// ChatRequest is a single chat-completion call routed through the Expert
// Gateway, addressed by expert class rather than by endpoint (spec §4.2).
type ChatRequest struct {
	Expert         domain.ExpertClass
	SystemPrompt   string
	UserPrompt     string
	JSONResponse   bool
	AllowedTools   []string
	ImageB64       string // set only for Vision calls
}

// ChatResponse is the Expert Gateway's reply, including which path
// (primary/fallback) actually served the call.
type ChatResponse struct {
	Content string
	Path    domain.ExpertPath
	Model   string
}

// ExpertGateway is the Expert Router & LLM Gateway port (spec §4.2). When
// Backpressure returns domain.BackpressureRetryLater with a nil error, the
// caller treats this as critic_status=retry_later rather than a hard failure.
type ExpertGateway interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Backpressure(ctx context.Context, expert domain.ExpertClass) (domain.BackpressureAction, error)
}

// PromptRegistry is the Prompt Registry port (spec §4.3): fetch a named
// template, falling back to a caller-supplied default on miss or probe
// failure.
type PromptRegistry interface {
	Fetch(ctx context.Context, name, tag, defaultPrompt string) (prompt string, use domain.PromptUse, err error)
}

// ChunkMatch is one retrieved document chunk, scoped to a project and
// ingestion, carrying the anchor payload spec §4.4 step 3/6 requires.
type ChunkMatch struct {
	ChunkID   string
	Text      string
	Anchor    domain.SourceAnchor
	RQHit     string
}

// VectorStore is the retrieval port behind the Cartographer's top-K chunk
// query (spec §4.4 step 3, §6.3). Queries MUST be scoped by project and
// ingestion; there is no unscoped query method on this interface by design.
type VectorStore interface {
	TopKByResearchQuestion(ctx context.Context, projectID, ingestionID, researchQuestion string, k int) ([]ChunkMatch, error)
}

// CandidateFact is a subject/predicate/object triple surfaced either from a
// referenced external source or from canonical project knowledge (spec §4.4
// step 2).
type CandidateFact struct {
	Subject, Predicate, Object string
}

// GraphStore is the graph-store port behind candidate entity lookup,
// canonical/candidate fact retrieval, and the Critic's existing-claim load
// for contradiction detection (spec §4.4 steps 2 and 3).
type GraphStore interface {
	CanonicalFacts(ctx context.Context, projectID string, entities []string) ([]CandidateFact, error)
	ReferencedFacts(ctx context.Context, referenceIDs []string) ([]CandidateFact, error)
	ExistingClaims(ctx context.Context, projectID, ingestionID string) ([]domain.Claim, error)
	PageText(ctx context.Context, docID string, page int) (string, bool, error)
	StorePageText(ctx context.Context, docID string, page int, text string) error
}

// Validator is the Validation & Conflict Layer port (spec §4.5): citation
// integrity, vocabulary guard, and tone rewriting. Evidence binding itself
// is inlined in the Critic node since it needs no external collaborator.
type Validator interface {
	CitationIntegrity(block domain.ManuscriptBlock, knownClaimIDs map[string]bool, conservative bool) (ok bool, reason string)
	ScanForbidden(text string) []string
	Rewrite(text string) string
	ApplyConstraints(prompt string) string
}

// Telemetry is the single emit_event seam (spec §4.6).
type Telemetry interface {
	Emit(kind string, payload map[string]any)
}

// NoOpTelemetry discards every event; used in tests and as a safe zero value.
type NoOpTelemetry struct{}

// Emit implements Telemetry.
func (NoOpTelemetry) Emit(string, map[string]any) {}
