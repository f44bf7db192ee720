package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/smilemakc/vyasa/internal/domain"
)

// BunStore exposes one entity-prefixed method set (SaveJob, SaveProject, ...)
// since a single Go type cannot host two methods both named Save with
// different signatures. The adapters below give each aggregate a thin,
// narrowly-scoped repository that satisfies its domain interface by
// delegating to the shared *BunStore, the way a caller that only needs
// domain.ProjectRepository should not have to see the Job/Claim/... surface.

// BunJobRepository adapts *BunStore to domain.JobRepository.
type BunJobRepository struct{ store *BunStore }

func NewBunJobRepository(store *BunStore) *BunJobRepository {
	return &BunJobRepository{store: store}
}

func (r *BunJobRepository) Save(ctx context.Context, record *domain.JobRecord) error {
	return r.store.SaveJob(ctx, record)
}

func (r *BunJobRepository) Get(ctx context.Context, id uuid.UUID) (*domain.JobRecord, error) {
	return r.store.GetJob(ctx, id)
}

func (r *BunJobRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.JobRecord, error) {
	return r.store.FindJobByIdempotencyKey(ctx, key)
}

func (r *BunJobRepository) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*domain.JobRecord, error) {
	return r.store.ListJobsByProject(ctx, projectID, limit)
}

// BunProjectRepository adapts *BunStore to domain.ProjectRepository.
type BunProjectRepository struct{ store *BunStore }

func NewBunProjectRepository(store *BunStore) *BunProjectRepository {
	return &BunProjectRepository{store: store}
}

func (r *BunProjectRepository) Save(ctx context.Context, p *domain.Project) error {
	return r.store.SaveProject(ctx, p)
}

func (r *BunProjectRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	return r.store.GetProject(ctx, id)
}

func (r *BunProjectRepository) List(ctx context.Context) ([]*domain.Project, error) {
	return r.store.ListProjects(ctx)
}

// BunClaimRepository adapts *BunStore to domain.ClaimRepository.
type BunClaimRepository struct{ store *BunStore }

func NewBunClaimRepository(store *BunStore) *BunClaimRepository {
	return &BunClaimRepository{store: store}
}

func (r *BunClaimRepository) SaveBatch(ctx context.Context, projectID uuid.UUID, ingestionID string, claims []domain.Claim) error {
	return r.store.SaveBatch(ctx, projectID, ingestionID, claims)
}

func (r *BunClaimRepository) ListByProjectAndIngestion(ctx context.Context, projectID uuid.UUID, ingestionID string) ([]domain.Claim, error) {
	return r.store.ListClaimsByProjectAndIngestion(ctx, projectID, ingestionID)
}

func (r *BunClaimRepository) Get(ctx context.Context, claimID string) (*domain.Claim, error) {
	return r.store.GetClaim(ctx, claimID)
}

// BunManuscriptBlockRepository adapts *BunStore to domain.ManuscriptBlockRepository.
type BunManuscriptBlockRepository struct{ store *BunStore }

func NewBunManuscriptBlockRepository(store *BunStore) *BunManuscriptBlockRepository {
	return &BunManuscriptBlockRepository{store: store}
}

func (r *BunManuscriptBlockRepository) Save(ctx context.Context, block *domain.ManuscriptBlock) error {
	return r.store.SaveManuscriptBlock(ctx, block)
}

func (r *BunManuscriptBlockRepository) NextVersion(ctx context.Context, blockID string, projectID uuid.UUID) (int, error) {
	return r.store.NextManuscriptBlockVersion(ctx, blockID, projectID)
}

func (r *BunManuscriptBlockRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.ManuscriptBlock, error) {
	return r.store.ListManuscriptBlocksByProject(ctx, projectID)
}

// BunConflictReportRepository adapts *BunStore to domain.ConflictReportRepository.
type BunConflictReportRepository struct{ store *BunStore }

func NewBunConflictReportRepository(store *BunStore) *BunConflictReportRepository {
	return &BunConflictReportRepository{store: store}
}

func (r *BunConflictReportRepository) Save(ctx context.Context, report *domain.ConflictReport) error {
	return r.store.SaveConflictReport(ctx, report)
}

func (r *BunConflictReportRepository) Get(ctx context.Context, id uuid.UUID) (*domain.ConflictReport, error) {
	return r.store.GetConflictReport(ctx, id)
}

// BunReframingProposalRepository adapts *BunStore to domain.ReframingProposalRepository.
type BunReframingProposalRepository struct{ store *BunStore }

func NewBunReframingProposalRepository(store *BunStore) *BunReframingProposalRepository {
	return &BunReframingProposalRepository{store: store}
}

func (r *BunReframingProposalRepository) Save(ctx context.Context, proposal *domain.ReframingProposal) error {
	return r.store.SaveReframingProposal(ctx, proposal)
}

func (r *BunReframingProposalRepository) Get(ctx context.Context, id uuid.UUID) (*domain.ReframingProposal, error) {
	return r.store.GetReframingProposal(ctx, id)
}

// BunBibliographyRepository adapts *BunStore to domain.BibliographyRepository.
type BunBibliographyRepository struct{ store *BunStore }

func NewBunBibliographyRepository(store *BunStore) *BunBibliographyRepository {
	return &BunBibliographyRepository{store: store}
}

func (r *BunBibliographyRepository) Exists(ctx context.Context, projectID uuid.UUID, citationKey string) (bool, error) {
	return r.store.BibliographyKeyExists(ctx, projectID, citationKey)
}

func (r *BunBibliographyRepository) ListKeys(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	return r.store.ListBibliographyKeys(ctx, projectID)
}

// BunCheckpointStore adapts *BunStore to domain.CheckpointStore.
type BunCheckpointStore struct{ store *BunStore }

func NewBunCheckpointStore(store *BunStore) *BunCheckpointStore {
	return &BunCheckpointStore{store: store}
}

func (r *BunCheckpointStore) Save(ctx context.Context, threadID string, state domain.WorkflowState) error {
	return r.store.SaveCheckpoint(ctx, threadID, state)
}

func (r *BunCheckpointStore) Load(ctx context.Context, threadID string) (*domain.WorkflowState, error) {
	return r.store.LoadCheckpoint(ctx, threadID)
}
