// Package jobmanager implements the Job Store & Manager component (spec
// §4.1): job creation with idempotency-key dedup, status/progress
// transitions, conflict/reframing attachment, and a bounded concurrency
// admission gate over RUNNING jobs.
package jobmanager

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/smilemakc/vyasa/internal/domain"
)

// maxConcurrentRunningJobs is the capacity of the admission semaphore
// gating concurrent RUNNING jobs (spec §4.1, §5 "LLM endpoints: concurrency
// is bounded by the per-job semaphore (2)").
const maxConcurrentRunningJobs = 2

// maxLineageDepth bounds the parent_job_id walk in JobVersion before it
// warns and returns the sentinel root version.
const maxLineageDepth = 10

// Notifier is the subset of the websocket observer surface the manager
// pushes lifecycle events through. *websocket.JobNotifier satisfies it.
type Notifier interface {
	NotifyJobStarted(projectID, jobID uuid.UUID)
	NotifyJobProgress(projectID, jobID uuid.UUID, progress float64, currentStep string)
	NotifyJobSucceeded(projectID, jobID uuid.UUID)
	NotifyJobFailed(projectID, jobID uuid.UUID, errMsg string)
	NotifyJobFinalized(projectID, jobID uuid.UUID)
	NotifyNeedsSignoff(projectID, jobID, reframingProposalID uuid.UUID, conflictReportID uuid.UUID)
	NotifyJobResumed(projectID, jobID uuid.UUID)
}

// Manager is the Job Store & Manager (spec §4.1). It owns job lifecycle
// transitions; it does not itself run pipeline nodes -- the caller supplies
// a node graph runner (internal/application/pipeline, once built) that calls
// back into UpdateStatus/SetResult as nodes complete.
type Manager struct {
	jobs      domain.JobRepository
	conflicts domain.ConflictReportRepository
	proposals domain.ReframingProposalRepository
	events    domain.EventStore
	notifier  Notifier

	slots chan struct{}
}

// New constructs a Manager with the admission semaphore pre-filled to
// capacity.
func New(jobs domain.JobRepository, conflicts domain.ConflictReportRepository, proposals domain.ReframingProposalRepository, events domain.EventStore, notifier Notifier) *Manager {
	return &Manager{
		jobs:      jobs,
		conflicts: conflicts,
		proposals: proposals,
		events:    events,
		notifier:  notifier,
		slots:     make(chan struct{}, maxConcurrentRunningJobs),
	}
}

// AcquireJobSlot is the non-blocking admission check named in spec §4.1: it
// returns false immediately when the concurrency gate is full, in which
// case the caller leaves the job QUEUED. Releasing a slot does not admit a
// waiting QUEUED job; no component re-dispatches it.
func (m *Manager) AcquireJobSlot() bool {
	select {
	case m.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// ReleaseJobSlot is unconditional on terminal status; calling it more times
// than AcquireJobSlot succeeded is a caller bug but does not panic.
func (m *Manager) ReleaseJobSlot() {
	select {
	case <-m.slots:
	default:
	}
}

// CreateJob creates a new Job, deduplicating on idempotency_key when given
// (spec §4.1 "Idempotency"): an existing record with the same key is
// returned instead of inserting a duplicate.
func (m *Manager) CreateJob(ctx context.Context, projectID uuid.UUID, initialState domain.WorkflowState, idempotencyKey string, parentJobID uuid.UUID, reason string, appliedReferenceIDs []string) (*domain.JobRecord, error) {
	if idempotencyKey != "" {
		if existing, err := m.jobs.FindByIdempotencyKey(ctx, idempotencyKey); err == nil && existing != nil {
			return existing, nil
		}
	}

	version, err := m.JobVersion(ctx, parentJobID)
	if err != nil {
		version = 1
	}

	job, err := domain.NewJob(projectID, idempotencyKey, parentJobID, version)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	record := &domain.JobRecord{
		Job:                 job,
		InitialState:        initialState,
		ReprocessReason:     reason,
		AppliedReferenceIDs: appliedReferenceIDs,
	}
	if err := m.jobs.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	return record, nil
}

// GetJob returns the Job aggregate for id.
func (m *Manager) GetJob(ctx context.Context, id uuid.UUID) (*domain.JobRecord, error) {
	return m.jobs.Get(ctx, id)
}

// ListByProject lists jobs for a project, most recent first (per the
// repository's ordering contract), capped at limit.
func (m *Manager) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*domain.JobRecord, error) {
	return m.jobs.ListByProject(ctx, projectID, limit)
}

// Start transitions a job QUEUED -> RUNNING and notifies subscribers.
func (m *Manager) Start(ctx context.Context, id uuid.UUID) (*domain.JobRecord, error) {
	record, err := m.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := record.Job.Start(); err != nil {
		return nil, err
	}
	if err := m.jobs.Save(ctx, record); err != nil {
		return nil, err
	}
	if m.notifier != nil {
		m.notifier.NotifyJobStarted(record.Job.ProjectID(), record.Job.ID())
	}
	return record, nil
}

// UpdateStatus records a progress/current-step update for a running job;
// status and error transitions go through Start, SetResult and Fail. An
// unknown job_id is a no-op, not an error, tolerating store inconsistency
// with a memory fallback.
func (m *Manager) UpdateStatus(ctx context.Context, id uuid.UUID, progress float64, currentStep string) error {
	record, err := m.jobs.Get(ctx, id)
	if err != nil {
		return nil
	}
	if err := record.Job.UpdateProgress(progress, currentStep); err != nil {
		return err
	}
	if err := m.jobs.Save(ctx, record); err != nil {
		return err
	}
	if m.notifier != nil {
		m.notifier.NotifyJobProgress(record.Job.ProjectID(), record.Job.ID(), progress, currentStep)
	}
	return nil
}

// SetResult transitions a job RUNNING -> SUCCEEDED, attaching the final
// WorkflowState.
func (m *Manager) SetResult(ctx context.Context, id uuid.UUID, result domain.WorkflowState) (*domain.JobRecord, error) {
	record, err := m.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result = domain.NormalizeExtractedJSON(result)
	if err := record.Job.Succeed(result); err != nil {
		return nil, err
	}
	if err := m.jobs.Save(ctx, record); err != nil {
		return nil, err
	}
	if m.notifier != nil {
		m.notifier.NotifyJobSucceeded(record.Job.ProjectID(), record.Job.ID())
	}
	return record, nil
}

// Fail transitions a job to FAILED.
func (m *Manager) Fail(ctx context.Context, id uuid.UUID, errMessage string) error {
	record, err := m.jobs.Get(ctx, id)
	if err != nil {
		return nil
	}
	if err := record.Job.Fail(errMessage); err != nil {
		return err
	}
	if err := m.jobs.Save(ctx, record); err != nil {
		return err
	}
	if m.notifier != nil {
		m.notifier.NotifyJobFailed(record.Job.ProjectID(), record.Job.ID(), errMessage)
	}
	return nil
}

// Finalize performs the operator-driven SUCCEEDED -> FINALIZED transition.
func (m *Manager) Finalize(ctx context.Context, id uuid.UUID) error {
	record, err := m.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := record.Job.Finalize(); err != nil {
		return err
	}
	if err := m.jobs.Save(ctx, record); err != nil {
		return err
	}
	if m.notifier != nil {
		m.notifier.NotifyJobFinalized(record.Job.ProjectID(), record.Job.ID())
	}
	return nil
}

// StoreConflictReport persists a ConflictReport and attaches its id to the
// job that produced it.
func (m *Manager) StoreConflictReport(ctx context.Context, id uuid.UUID, report domain.ConflictReport) (uuid.UUID, error) {
	if err := m.conflicts.Save(ctx, &report); err != nil {
		return uuid.Nil, err
	}
	record, err := m.jobs.Get(ctx, id)
	if err != nil {
		return report.ReportID, nil
	}
	if err := record.Job.AttachConflictReport(report.ReportID); err != nil {
		return report.ReportID, err
	}
	if err := m.jobs.Save(ctx, record); err != nil {
		return report.ReportID, err
	}
	return report.ReportID, nil
}

// StoreReframingProposal persists a ReframingProposal, attaches it to the
// job, and suspends the job for human signoff.
func (m *Manager) StoreReframingProposal(ctx context.Context, id uuid.UUID, proposal domain.ReframingProposal) (uuid.UUID, error) {
	if err := m.proposals.Save(ctx, &proposal); err != nil {
		return uuid.Nil, err
	}
	record, err := m.jobs.Get(ctx, id)
	if err != nil {
		return proposal.ProposalID, nil
	}
	if err := record.Job.AttachReframingProposal(proposal.ProposalID); err != nil {
		return proposal.ProposalID, err
	}
	if err := record.Job.SuspendForSignoff(proposal.ProposalID); err != nil {
		return proposal.ProposalID, err
	}
	if err := m.jobs.Save(ctx, record); err != nil {
		return proposal.ProposalID, err
	}
	if m.notifier != nil {
		m.notifier.NotifyNeedsSignoff(record.Job.ProjectID(), record.Job.ID(), proposal.ProposalID, record.Job.ConflictReportID())
	}
	return proposal.ProposalID, nil
}

// Resume records a human signoff decision and returns the job to RUNNING.
func (m *Manager) Resume(ctx context.Context, id uuid.UUID, decision string) (*domain.JobRecord, error) {
	record, err := m.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := record.Job.ResumeFromSignoff(decision); err != nil {
		return nil, err
	}
	if err := m.jobs.Save(ctx, record); err != nil {
		return nil, err
	}
	if m.notifier != nil {
		m.notifier.NotifyJobResumed(record.Job.ProjectID(), record.Job.ID())
	}
	return record, nil
}

// JobVersion walks parent_job_id back to an origin, counting hops, the
// _get_job_version helper named in spec §4.1. Cycle detection uses a
// visited set and a hop cap of maxLineageDepth; on cycle or overflow it
// returns the sentinel root version 1.
func (m *Manager) JobVersion(ctx context.Context, jobID uuid.UUID) (int, error) {
	if jobID == uuid.Nil {
		return 1, nil
	}
	visited := make(map[uuid.UUID]bool, maxLineageDepth)
	current := jobID
	depth := 0
	for current != uuid.Nil {
		if visited[current] || depth >= maxLineageDepth {
			return 1, nil
		}
		visited[current] = true
		depth++

		record, err := m.jobs.Get(ctx, current)
		if err != nil {
			return 1, nil
		}
		current = record.Job.ParentJobID()
	}
	return depth + 1, nil
}
