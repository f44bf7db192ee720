package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/smilemakc/vyasa/internal/domain"
)

// MemoryJobStore is the in-memory domain.JobRepository fallback named in
// spec §4.1 ("Fallback: in-memory map, used only when the backing store is
// unavailable; the switch is transparent to callers"). It does not promise
// durability across restarts.
type MemoryJobStore struct {
	mu            sync.RWMutex
	byID          map[uuid.UUID]*domain.JobRecord
	byIdempotency map[string]uuid.UUID
	byProject     map[uuid.UUID][]uuid.UUID // insertion order
}

// NewMemoryJobStore constructs an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		byID:          make(map[uuid.UUID]*domain.JobRecord),
		byIdempotency: make(map[string]uuid.UUID),
		byProject:     make(map[uuid.UUID][]uuid.UUID),
	}
}

// Save upserts a job record, indexing it by idempotency key when present.
func (s *MemoryJobStore) Save(ctx context.Context, record *domain.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := record.Job.ID()
	if _, exists := s.byID[id]; !exists {
		s.byProject[record.Job.ProjectID()] = append(s.byProject[record.Job.ProjectID()], id)
	}
	s.byID[id] = record
	if key := record.Job.IdempotencyKey(); key != "" {
		s.byIdempotency[key] = id
	}
	record.Job.MarkEventsAsCommitted()
	return nil
}

// Get returns the job record for id, or a not-found domain error.
func (s *MemoryJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byID[id]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound, fmt.Sprintf("job %s not found", id), nil)
	}
	return record, nil
}

// FindByIdempotencyKey returns the job previously created with key, if any.
func (s *MemoryJobStore) FindByIdempotencyKey(ctx context.Context, key string) (*domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byIdempotency[key]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound, "no job for idempotency key", nil)
	}
	return s.byID[id], nil
}

// ListByProject lists jobs for a project, most recently created first,
// capped at limit (0 means unbounded).
func (s *MemoryJobStore) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byProject[projectID]
	out := make([]*domain.JobRecord, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, s.byID[ids[i]])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MemoryConflictReportStore is the in-memory domain.ConflictReportRepository
// fallback.
type MemoryConflictReportStore struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]*domain.ConflictReport
}

// NewMemoryConflictReportStore constructs an empty MemoryConflictReportStore.
func NewMemoryConflictReportStore() *MemoryConflictReportStore {
	return &MemoryConflictReportStore{reports: make(map[uuid.UUID]*domain.ConflictReport)}
}

// Save upserts a conflict report.
func (s *MemoryConflictReportStore) Save(ctx context.Context, report *domain.ConflictReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.ReportID] = report
	return nil
}

// Get returns the conflict report for id, or a not-found domain error.
func (s *MemoryConflictReportStore) Get(ctx context.Context, id uuid.UUID) (*domain.ConflictReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[id]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound, fmt.Sprintf("conflict report %s not found", id), nil)
	}
	return report, nil
}

// MemoryReframingProposalStore is the in-memory
// domain.ReframingProposalRepository fallback.
type MemoryReframingProposalStore struct {
	mu        sync.RWMutex
	proposals map[uuid.UUID]*domain.ReframingProposal
}

// NewMemoryReframingProposalStore constructs an empty
// MemoryReframingProposalStore.
func NewMemoryReframingProposalStore() *MemoryReframingProposalStore {
	return &MemoryReframingProposalStore{proposals: make(map[uuid.UUID]*domain.ReframingProposal)}
}

// Save upserts a reframing proposal.
func (s *MemoryReframingProposalStore) Save(ctx context.Context, proposal *domain.ReframingProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[proposal.ProposalID] = proposal
	return nil
}

// Get returns the reframing proposal for id, or a not-found domain error.
func (s *MemoryReframingProposalStore) Get(ctx context.Context, id uuid.UUID) (*domain.ReframingProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proposal, ok := s.proposals[id]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound, fmt.Sprintf("reframing proposal %s not found", id), nil)
	}
	return proposal, nil
}

// MemoryProjectStore is the in-memory domain.ProjectRepository fallback.
type MemoryProjectStore struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]*domain.Project
	order    []uuid.UUID
}

// NewMemoryProjectStore constructs an empty MemoryProjectStore.
func NewMemoryProjectStore() *MemoryProjectStore {
	return &MemoryProjectStore{projects: make(map[uuid.UUID]*domain.Project)}
}

// Save upserts a project.
func (s *MemoryProjectStore) Save(ctx context.Context, p *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; !exists {
		s.order = append(s.order, p.ID)
	}
	s.projects[p.ID] = p
	return nil
}

// Get returns the project for id, or a not-found domain error.
func (s *MemoryProjectStore) Get(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound, fmt.Sprintf("project %s not found", id), nil)
	}
	return p, nil
}

// List returns all non-archived projects, most recently created first.
func (s *MemoryProjectStore) List(ctx context.Context) ([]*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Project, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if p := s.projects[s.order[i]]; !p.Archived {
			out = append(out, p)
		}
	}
	return out, nil
}

// claimBatchKey identifies one project+ingestion claim batch.
type claimBatchKey struct {
	projectID   uuid.UUID
	ingestionID string
}

// MemoryClaimStore is the in-memory domain.ClaimRepository fallback.
type MemoryClaimStore struct {
	mu      sync.RWMutex
	batches map[claimBatchKey][]domain.Claim
	byID    map[string]domain.Claim
}

// NewMemoryClaimStore constructs an empty MemoryClaimStore.
func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		batches: make(map[claimBatchKey][]domain.Claim),
		byID:    make(map[string]domain.Claim),
	}
}

// SaveBatch replaces the stored claim batch for projectID+ingestionID.
func (s *MemoryClaimStore) SaveBatch(ctx context.Context, projectID uuid.UUID, ingestionID string, claims []domain.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := claimBatchKey{projectID: projectID, ingestionID: ingestionID}
	for _, old := range s.batches[key] {
		delete(s.byID, old.ClaimID)
	}
	s.batches[key] = claims
	for _, c := range claims {
		s.byID[c.ClaimID] = c
	}
	return nil
}

// ListByProjectAndIngestion returns the current claim batch.
func (s *MemoryClaimStore) ListByProjectAndIngestion(ctx context.Context, projectID uuid.UUID, ingestionID string) ([]domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches[claimBatchKey{projectID: projectID, ingestionID: ingestionID}], nil
}

// Get returns a single claim by id, or a not-found domain error.
func (s *MemoryClaimStore) Get(ctx context.Context, claimID string) (*domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[claimID]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeNotFound, fmt.Sprintf("claim %s not found", claimID), nil)
	}
	return &c, nil
}

// MemoryManuscriptBlockStore is the in-memory domain.ManuscriptBlockRepository fallback.
type MemoryManuscriptBlockStore struct {
	mu     sync.RWMutex
	blocks map[string][]*domain.ManuscriptBlock // blockID -> versions, newest last
}

// NewMemoryManuscriptBlockStore constructs an empty MemoryManuscriptBlockStore.
func NewMemoryManuscriptBlockStore() *MemoryManuscriptBlockStore {
	return &MemoryManuscriptBlockStore{blocks: make(map[string][]*domain.ManuscriptBlock)}
}

// Save appends a manuscript block version.
func (s *MemoryManuscriptBlockStore) Save(ctx context.Context, block *domain.ManuscriptBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[block.BlockID] = append(s.blocks[block.BlockID], block)
	return nil
}

// NextVersion returns 1 + the highest stored version for blockID, or 1 if none exist.
func (s *MemoryManuscriptBlockStore) NextVersion(ctx context.Context, blockID string, projectID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.blocks[blockID]
	max := 0
	for _, b := range versions {
		if b.ProjectID == projectID.String() && b.Version > max {
			max = b.Version
		}
	}
	return max + 1, nil
}

// ListByProject returns the latest version of every block belonging to projectID.
func (s *MemoryManuscriptBlockStore) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.ManuscriptBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]domain.ManuscriptBlock)
	for blockID, versions := range s.blocks {
		for _, b := range versions {
			if b.ProjectID != projectID.String() {
				continue
			}
			if current, ok := latest[blockID]; !ok || b.Version > current.Version {
				latest[blockID] = *b
			}
		}
	}
	out := make([]domain.ManuscriptBlock, 0, len(latest))
	for _, b := range latest {
		out = append(out, b)
	}
	return out, nil
}

// bibliographyKey identifies one project's citation key set.
type bibliographyKey struct {
	projectID   uuid.UUID
	citationKey string
}

// MemoryBibliographyStore is the in-memory domain.BibliographyRepository
// fallback. Unlike the other Memory* stores it has no Save method on the
// interface; keys are seeded via AddKey (e.g. from an ingested bibliography
// file) rather than through the repository contract itself.
type MemoryBibliographyStore struct {
	mu        sync.RWMutex
	keys      map[bibliographyKey]bool
	byProject map[uuid.UUID][]string
}

// NewMemoryBibliographyStore constructs an empty MemoryBibliographyStore.
func NewMemoryBibliographyStore() *MemoryBibliographyStore {
	return &MemoryBibliographyStore{
		keys:      make(map[bibliographyKey]bool),
		byProject: make(map[uuid.UUID][]string),
	}
}

// AddKey registers a citation key as known for projectID.
func (s *MemoryBibliographyStore) AddKey(projectID uuid.UUID, citationKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := bibliographyKey{projectID: projectID, citationKey: citationKey}
	if s.keys[k] {
		return
	}
	s.keys[k] = true
	s.byProject[projectID] = append(s.byProject[projectID], citationKey)
}

// Exists implements domain.BibliographyRepository.
func (s *MemoryBibliographyStore) Exists(ctx context.Context, projectID uuid.UUID, citationKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[bibliographyKey{projectID: projectID, citationKey: citationKey}], nil
}

// ListKeys implements domain.BibliographyRepository.
func (s *MemoryBibliographyStore) ListKeys(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.byProject[projectID]))
	copy(out, s.byProject[projectID])
	return out, nil
}
