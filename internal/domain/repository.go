package domain

import (
	"context"

	"github.com/google/uuid"
)

// JobRecord is the full persisted record for a job, as returned by
// get_job_record (spec §4.1) -- richer than the Job aggregate's event
// stream, since it also carries the original submission snapshot.
type JobRecord struct {
	Job
	InitialState         WorkflowState
	ReprocessReason      string
	AppliedReferenceIDs  []string
}

// JobRepository is the Job Store & Manager's persistence seam (spec §4.1).
// Implementations may be backed by a document store (BunJobStore) or an
// in-memory fallback (MemoryJobStore); the switch between them is
// transparent to callers.
type JobRepository interface {
	Save(ctx context.Context, record *JobRecord) error
	Get(ctx context.Context, id uuid.UUID) (*JobRecord, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*JobRecord, error)
	ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*JobRecord, error)
}

// ProjectRepository persists Project aggregates.
type ProjectRepository interface {
	Save(ctx context.Context, p *Project) error
	Get(ctx context.Context, id uuid.UUID) (*Project, error)
	List(ctx context.Context) ([]*Project, error)
}

// ClaimRepository persists Claims for a project+ingestion, used by the
// Critic's contradiction detection and the saved extraction document.
type ClaimRepository interface {
	SaveBatch(ctx context.Context, projectID uuid.UUID, ingestionID string, claims []Claim) error
	ListByProjectAndIngestion(ctx context.Context, projectID uuid.UUID, ingestionID string) ([]Claim, error)
	Get(ctx context.Context, claimID string) (*Claim, error)
}

// ManuscriptBlockRepository persists ManuscriptBlocks.
type ManuscriptBlockRepository interface {
	Save(ctx context.Context, block *ManuscriptBlock) error
	NextVersion(ctx context.Context, blockID string, projectID uuid.UUID) (int, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]ManuscriptBlock, error)
}

// ConflictReportRepository persists ConflictReports.
type ConflictReportRepository interface {
	Save(ctx context.Context, report *ConflictReport) error
	Get(ctx context.Context, id uuid.UUID) (*ConflictReport, error)
}

// ReframingProposalRepository persists ReframingProposals.
type ReframingProposalRepository interface {
	Save(ctx context.Context, proposal *ReframingProposal) error
	Get(ctx context.Context, id uuid.UUID) (*ReframingProposal, error)
}

// BibliographyRepository backs the Librarian Key-Guard: it answers whether
// a citation key exists in a project's bibliography collection.
type BibliographyRepository interface {
	Exists(ctx context.Context, projectID uuid.UUID, citationKey string) (bool, error)
	ListKeys(ctx context.Context, projectID uuid.UUID) ([]string, error)
}

// EventStore persists and replays the events raised against Job aggregates.
type EventStore interface {
	Append(ctx context.Context, jobID uuid.UUID, events []Event) error
	Load(ctx context.Context, jobID uuid.UUID) ([]Event, error)
}

// CheckpointStore persists the WorkflowState blob keyed by thread_id between
// node transitions (spec §4.4, §9), so a suspended or crashed job can resume
// from its last checkpoint.
type CheckpointStore interface {
	Save(ctx context.Context, threadID string, state WorkflowState) error
	Load(ctx context.Context, threadID string) (*WorkflowState, error)
}
