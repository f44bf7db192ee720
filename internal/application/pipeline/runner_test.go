package pipeline_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/vyasa/internal/application/jobmanager"
	"github.com/smilemakc/vyasa/internal/application/pipeline"
	"github.com/smilemakc/vyasa/internal/domain"
	"github.com/smilemakc/vyasa/internal/infrastructure/storage"
)

// fakeGateway answers each expert class with a fixed, well-formed payload so
// a job can run the full Cartographer -> Critic -> Synthesizer -> Saver path
// without a revision loop.
type fakeGateway struct{ calls int }

func (f *fakeGateway) Chat(ctx context.Context, req pipeline.ChatRequest) (pipeline.ChatResponse, error) {
	f.calls++
	switch req.Expert {
	case domain.ExpertExtractionSchema:
		return pipeline.ChatResponse{Content: `{"triples":[{"subject":"Photosynthesis","predicate":"produces","object":"oxygen","confidence":0.9,"claim_text":"plants produce oxygen","rq_hits":["rq-1"],"source_pointer":"chunk-1"}]}`}, nil
	case domain.ExpertLogicReasoning:
		return pipeline.ChatResponse{Content: `{"status":"pass","synthesis":"no conflicts found"}`}, nil
	case domain.ExpertProseWriting:
		return pipeline.ChatResponse{Content: `[{"section_title":"Introduction","content":"Plants convert light into chemical energy.","claim_ids":[],"order_index":0}]`}, nil
	default:
		return pipeline.ChatResponse{Content: "{}"}, nil
	}
}

func (f *fakeGateway) Backpressure(ctx context.Context, expert domain.ExpertClass) (domain.BackpressureAction, error) {
	return domain.BackpressureProceed, nil
}

type fakeRegistry struct{}

func (fakeRegistry) Fetch(ctx context.Context, name, tag, defaultPrompt string) (string, domain.PromptUse, error) {
	return defaultPrompt, domain.PromptUse{Name: name, Source: domain.PromptSourceDefault}, nil
}

// fakeVectors returns a single chunk carrying a valid source anchor so a
// triple referencing it via source_pointer clears the Critic's hard
// evidence-binding checks.
type fakeVectors struct{}

func (fakeVectors) TopKByResearchQuestion(ctx context.Context, projectID, ingestionID, rq string, k int) ([]pipeline.ChunkMatch, error) {
	return []pipeline.ChunkMatch{{
		ChunkID: "chunk-1",
		Text:    "Plants use sunlight to produce oxygen through photosynthesis.",
		Anchor:  domain.SourceAnchor{DocID: "doc-1", PageNumber: 1, BBox: &domain.BBox{X: 100, Y: 100, W: 400, H: 50}},
		RQHit:   rq,
	}}, nil
}

type fakeGraph struct{}

func (fakeGraph) CanonicalFacts(ctx context.Context, projectID string, entities []string) ([]pipeline.CandidateFact, error) {
	return nil, nil
}
func (fakeGraph) ReferencedFacts(ctx context.Context, referenceIDs []string) ([]pipeline.CandidateFact, error) {
	return nil, nil
}
func (fakeGraph) ExistingClaims(ctx context.Context, projectID, ingestionID string) ([]domain.Claim, error) {
	return nil, nil
}
func (fakeGraph) PageText(ctx context.Context, docID string, page int) (string, bool, error) {
	return "", false, nil
}
func (fakeGraph) StorePageText(ctx context.Context, docID string, page int, text string) error {
	return nil
}

type fakeValidator struct{}

func (fakeValidator) CitationIntegrity(block domain.ManuscriptBlock, knownClaimIDs map[string]bool, conservative bool) (bool, string) {
	return true, ""
}
func (fakeValidator) ScanForbidden(text string) []string    { return nil }
func (fakeValidator) Rewrite(text string) string            { return text }
func (fakeValidator) ApplyConstraints(prompt string) string { return prompt }

type fakeBibliography struct{}

func (fakeBibliography) Exists(ctx context.Context, projectID uuid.UUID, citationKey string) (bool, error) {
	return true, nil
}
func (fakeBibliography) ListKeys(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	return nil, nil
}

func newRunner(t *testing.T, gateway pipeline.ExpertGateway) (*pipeline.Runner, *jobmanager.Manager, *storage.MemoryProjectStore) {
	t.Helper()

	jobs := storage.NewMemoryJobStore()
	conflicts := storage.NewMemoryConflictReportStore()
	proposals := storage.NewMemoryReframingProposalStore()
	events := storage.NewMemoryEventStore()
	projects := storage.NewMemoryProjectStore()
	blocks := storage.NewMemoryManuscriptBlockStore()
	checkpoints := storage.NewMemoryCheckpointStore()

	mgr := jobmanager.New(jobs, conflicts, proposals, events, nil)

	runner := &pipeline.Runner{
		Deps: &pipeline.Deps{
			Gateway:   gateway,
			Registry:  fakeRegistry{},
			Vectors:   fakeVectors{},
			Graph:     fakeGraph{},
			Validator: fakeValidator{},
			Projects:  projects,
		},
		Jobs:         mgr,
		Blocks:       blocks,
		Bibliography: fakeBibliography{},
		Checkpoints:  checkpoints,
		ArtifactsDir: t.TempDir(),
	}

	return runner, mgr, projects
}

func mustProject(t *testing.T, projects *storage.MemoryProjectStore, rigor domain.RigorLevel) *domain.Project {
	t.Helper()
	project, err := domain.NewProject("Photosynthesis Survey", "Plants convert light to chemical energy", []string{"How do plants produce oxygen?"}, rigor)
	require.NoError(t, err)
	require.NoError(t, projects.Save(context.Background(), project))
	return project
}

func TestRunner_Execute_HappyPathReachesSaver(t *testing.T) {
	runner, mgr, projects := newRunner(t, &fakeGateway{})
	ctx := context.Background()

	project := mustProject(t, projects, domain.RigorExploratory)

	record, err := mgr.CreateJob(ctx, project.ID, domain.WorkflowState{
		ProjectID:   project.ID,
		IngestionID: "ingest-1",
		RawText:     "Plants use sunlight to produce oxygen through Photosynthesis Process.",
	}, "", uuid.Nil, "", nil)
	require.NoError(t, err)

	err = runner.Execute(ctx, record.Job.ID())
	require.NoError(t, err)

	fetched, err := mgr.GetJob(ctx, record.Job.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, fetched.Job.Status())
	require.NotNil(t, fetched.Job.Result())
	assert.Equal(t, domain.PhaseDone, fetched.Job.Result().Phase)
}

// fakeConflictingGateway always reports a critic fail with an "unsupported
// claim" critique, driving the job through the revision loop until the
// budget is exhausted and the router falls through to Failure Cleanup.
type fakeConflictingGateway struct{}

func (fakeConflictingGateway) Chat(ctx context.Context, req pipeline.ChatRequest) (pipeline.ChatResponse, error) {
	switch req.Expert {
	case domain.ExpertExtractionSchema:
		return pipeline.ChatResponse{Content: `{"triples":[]}`}, nil
	case domain.ExpertLogicReasoning:
		return pipeline.ChatResponse{Content: `{"status":"fail","critiques":["unsupported claim"]}`}, nil
	default:
		return pipeline.ChatResponse{Content: "{}"}, nil
	}
}

func (fakeConflictingGateway) Backpressure(ctx context.Context, expert domain.ExpertClass) (domain.BackpressureAction, error) {
	return domain.BackpressureProceed, nil
}

func TestRunner_Execute_ExhaustsRevisionsAndFails(t *testing.T) {
	runner, mgr, projects := newRunner(t, fakeConflictingGateway{})
	runner.MaxRevisions = 1
	ctx := context.Background()

	project := mustProject(t, projects, domain.RigorExploratory)

	record, err := mgr.CreateJob(ctx, project.ID, domain.WorkflowState{
		ProjectID:   project.ID,
		IngestionID: "ingest-2",
		RawText:     "Some raw text without strong claims.",
	}, "", uuid.Nil, "", nil)
	require.NoError(t, err)

	err = runner.Execute(ctx, record.Job.ID())
	require.Error(t, err)

	fetched, err := mgr.GetJob(ctx, record.Job.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, fetched.Job.Status())
}
