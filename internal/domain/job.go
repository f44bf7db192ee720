package domain

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is an aggregate root representing one end-to-end processing run
// (spec §3.1). Like Execution in the teacher's generic engine, it uses
// event sourcing: every command method raises an event via raiseEvent and
// the current state is derived by applying events, enabling audit trail and
// checkpoint-based resume.
type Job interface {
	ID() uuid.UUID
	ProjectID() uuid.UUID
	Status() JobStatus
	Progress() float64
	CurrentStep() string
	CreatedAt() time.Time
	StartedAt() *time.Time
	CompletedAt() *time.Time
	ParentJobID() uuid.UUID
	JobVersion() int
	IdempotencyKey() string
	ErrorMessage() string
	Result() *WorkflowState
	ConflictReportID() uuid.UUID
	ReframingProposalID() uuid.UUID

	GetUncommittedEvents() []Event
	MarkEventsAsCommitted()
	ApplyEvent(event Event) error

	// Commands - these raise events
	Start() error
	UpdateProgress(progress float64, currentStep string) error
	Succeed(result WorkflowState) error
	Fail(errMessage string) error
	Finalize() error
	SuspendForSignoff(reframingProposalID uuid.UUID) error
	ResumeFromSignoff(decision string) error
	AttachConflictReport(conflictReportID uuid.UUID) error
	AttachReframingProposal(reframingProposalID uuid.UUID) error
}

type job struct {
	mu sync.RWMutex

	id             uuid.UUID
	projectID      uuid.UUID
	status         JobStatus
	progress       float64
	currentStep    string
	createdAt      time.Time
	startedAt      *time.Time
	completedAt    *time.Time
	parentJobID    uuid.UUID
	jobVersion     int
	idempotencyKey string
	errorMessage   string
	result         *WorkflowState

	conflictReportID    uuid.UUID
	reframingProposalID uuid.UUID

	version           int64
	uncommittedEvents []Event
}

// NewJob creates a new Job in QUEUED status and raises JobCreated.
func NewJob(projectID uuid.UUID, idempotencyKey string, parentJobID uuid.UUID, jobVersion int) (Job, error) {
	if projectID == uuid.Nil {
		return nil, NewDomainError(ErrCodeInvalidInput, "project ID cannot be nil", nil)
	}
	if jobVersion < 1 {
		jobVersion = 1
	}

	j := &job{
		id:                uuid.New(),
		projectID:         projectID,
		status:            JobStatusQueued,
		createdAt:         time.Now().UTC(),
		parentJobID:       parentJobID,
		jobVersion:        jobVersion,
		idempotencyKey:    idempotencyKey,
		uncommittedEvents: make([]Event, 0),
	}

	event := NewJobCreatedEvent(j.id, j.projectID, j.version+1, idempotencyKey, parentJobID, jobVersion)
	if err := j.raiseEvent(event); err != nil {
		return nil, err
	}
	return j, nil
}

// RebuildJobFromEvents reconstructs a Job from its persisted event history.
func RebuildJobFromEvents(id, projectID uuid.UUID, events []Event) (Job, error) {
	j := &job{
		id:                id,
		projectID:         projectID,
		uncommittedEvents: make([]Event, 0),
	}
	for _, event := range events {
		if err := j.applyEventInternal(event); err != nil {
			return nil, fmt.Errorf("failed to apply event %s: %w", event.EventID(), err)
		}
	}
	j.uncommittedEvents = make([]Event, 0)
	return j, nil
}

func (j *job) ID() uuid.UUID        { j.mu.RLock(); defer j.mu.RUnlock(); return j.id }
func (j *job) ProjectID() uuid.UUID { j.mu.RLock(); defer j.mu.RUnlock(); return j.projectID }
func (j *job) Status() JobStatus    { j.mu.RLock(); defer j.mu.RUnlock(); return j.status }
func (j *job) Progress() float64    { j.mu.RLock(); defer j.mu.RUnlock(); return j.progress }
func (j *job) CurrentStep() string  { j.mu.RLock(); defer j.mu.RUnlock(); return j.currentStep }
func (j *job) CreatedAt() time.Time { j.mu.RLock(); defer j.mu.RUnlock(); return j.createdAt }
func (j *job) StartedAt() *time.Time { j.mu.RLock(); defer j.mu.RUnlock(); return j.startedAt }
func (j *job) CompletedAt() *time.Time { j.mu.RLock(); defer j.mu.RUnlock(); return j.completedAt }
func (j *job) ParentJobID() uuid.UUID { j.mu.RLock(); defer j.mu.RUnlock(); return j.parentJobID }
func (j *job) JobVersion() int      { j.mu.RLock(); defer j.mu.RUnlock(); return j.jobVersion }
func (j *job) IdempotencyKey() string { j.mu.RLock(); defer j.mu.RUnlock(); return j.idempotencyKey }
func (j *job) ErrorMessage() string { j.mu.RLock(); defer j.mu.RUnlock(); return j.errorMessage }
func (j *job) ConflictReportID() uuid.UUID { j.mu.RLock(); defer j.mu.RUnlock(); return j.conflictReportID }
func (j *job) ReframingProposalID() uuid.UUID { j.mu.RLock(); defer j.mu.RUnlock(); return j.reframingProposalID }

func (j *job) Result() *WorkflowState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result
}

func (j *job) GetUncommittedEvents() []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Event, len(j.uncommittedEvents))
	copy(out, j.uncommittedEvents)
	return out
}

func (j *job) MarkEventsAsCommitted() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.uncommittedEvents = make([]Event, 0)
}

func (j *job) raiseEvent(event Event) error {
	if err := j.applyEventInternal(event); err != nil {
		return err
	}
	j.uncommittedEvents = append(j.uncommittedEvents, event)
	return nil
}

func (j *job) ApplyEvent(event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.applyEventInternal(event)
}

func (j *job) applyEventInternal(event Event) error {
	j.version = event.SequenceNumber()

	switch event.EventType() {
	case EventTypeJobCreated:
		return j.applyJobCreated(event)
	case EventTypeJobStarted:
		j.status = JobStatusRunning
		t := event.Timestamp()
		j.startedAt = &t
		return nil
	case EventTypeJobSucceeded:
		j.status = JobStatusSucceeded
		t := event.Timestamp()
		j.completedAt = &t
		j.progress = 1.0
		if result, ok := event.Data()["result"].(*WorkflowState); ok {
			j.result = result
		} else if result, ok := event.Data()["result"].(WorkflowState); ok {
			j.result = &result
		}
		return nil
	case EventTypeJobFailed:
		j.status = JobStatusFailed
		t := event.Timestamp()
		j.completedAt = &t
		if errMsg, ok := event.Data()["error"].(string); ok {
			j.errorMessage = errMsg
		}
		return nil
	case EventTypeJobFinalized:
		j.status = JobStatusFinalized
		return nil
	case EventTypeJobNeedsSignoff:
		j.status = JobStatusNeedsSignoff
		if id, ok := event.Data()["reframing_proposal_id"].(uuid.UUID); ok {
			j.reframingProposalID = id
		}
		return nil
	case EventTypeJobResumed:
		j.status = JobStatusRunning
		return nil
	case EventTypeProgressUpdated:
		if p, ok := event.Data()["progress"].(float64); ok {
			j.progress = p
		}
		if step, ok := event.Data()["current_step"].(string); ok {
			j.currentStep = step
		}
		return nil
	case EventTypeConflictReportStored:
		if id, ok := event.Data()["conflict_report_id"].(uuid.UUID); ok {
			j.conflictReportID = id
		}
		return nil
	case EventTypeReframingProposalStored:
		if id, ok := event.Data()["reframing_proposal_id"].(uuid.UUID); ok {
			j.reframingProposalID = id
		}
		return nil
	default:
		return nil
	}
}

func (j *job) applyJobCreated(event Event) error {
	data := event.Data()
	j.status = JobStatusQueued
	if key, ok := data["idempotency_key"].(string); ok {
		j.idempotencyKey = key
	}
	if parentID, ok := data["parent_job_id"].(uuid.UUID); ok {
		j.parentJobID = parentID
	}
	if v, ok := data["job_version"].(int); ok {
		j.jobVersion = v
	}
	return nil
}

// Start transitions QUEUED -> RUNNING.
func (j *job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != JobStatusQueued {
		return NewDomainError(ErrCodeInvalidState, fmt.Sprintf("cannot start job in status %s", j.status), nil)
	}
	return j.raiseEvent(NewJobStartedEvent(j.id, j.projectID, j.version+1))
}

// UpdateProgress records a monotonic-non-decreasing progress update while
// RUNNING (progress may hold steady mid-run while NEEDS_SIGNOFF).
func (j *job) UpdateProgress(progress float64, currentStep string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != JobStatusRunning && j.status != JobStatusNeedsSignoff {
		return NewDomainError(ErrCodeInvalidState, fmt.Sprintf("cannot update progress in status %s", j.status), nil)
	}
	if j.status == JobStatusRunning && progress < j.progress {
		return NewDomainError(ErrCodeInvariantViolated, "progress must be monotonic non-decreasing while RUNNING", nil)
	}
	return j.raiseEvent(NewProgressUpdatedEvent(j.id, j.projectID, j.version+1, progress, currentStep))
}

// Succeed transitions RUNNING -> SUCCEEDED, attaching the final workflow
// state as the job result.
func (j *job) Succeed(result WorkflowState) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != JobStatusRunning {
		return NewDomainError(ErrCodeInvalidState, fmt.Sprintf("cannot succeed job in status %s", j.status), nil)
	}
	event := NewJobSucceededEvent(j.id, j.projectID, j.version+1, result)
	if err := j.raiseEvent(event); err != nil {
		return err
	}
	j.result = &result
	return nil
}

// Fail transitions RUNNING (or QUEUED, for submission-time failures) -> FAILED.
func (j *job) Fail(errMessage string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.IsTerminal() {
		return NewDomainError(ErrCodeInvalidState, fmt.Sprintf("job already in terminal status %s", j.status), nil)
	}
	return j.raiseEvent(NewJobFailedEvent(j.id, j.projectID, j.version+1, errMessage))
}

// Finalize is the operator-driven SUCCEEDED -> FINALIZED transition (spec
// §9 Open Question 2); it may be called exactly once and never from any
// other status.
func (j *job) Finalize() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != JobStatusSucceeded {
		return NewDomainError(ErrCodeInvalidState, "only a SUCCEEDED job may be finalized", nil)
	}
	return j.raiseEvent(NewJobFinalizedEvent(j.id, j.projectID, j.version+1))
}

// SuspendForSignoff transitions RUNNING -> NEEDS_SIGNOFF, raised by the
// Reframing node.
func (j *job) SuspendForSignoff(reframingProposalID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != JobStatusRunning {
		return NewDomainError(ErrCodeInvalidState, fmt.Sprintf("cannot suspend job in status %s", j.status), nil)
	}
	return j.raiseEvent(NewJobNeedsSignoffEvent(j.id, j.projectID, j.version+1, reframingProposalID))
}

// ResumeFromSignoff transitions NEEDS_SIGNOFF -> RUNNING after an external
// signoff decision is recorded.
func (j *job) ResumeFromSignoff(decision string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != JobStatusNeedsSignoff {
		return NewDomainError(ErrCodeInvalidState, fmt.Sprintf("cannot resume job in status %s", j.status), nil)
	}
	return j.raiseEvent(NewJobResumedEvent(j.id, j.projectID, j.version+1, decision))
}

// AttachConflictReport records the id of a ConflictReport produced during
// this job's Critic pass.
func (j *job) AttachConflictReport(conflictReportID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.raiseEvent(NewConflictReportStoredEvent(j.id, j.projectID, j.version+1, conflictReportID))
}

// AttachReframingProposal records the id of a ReframingProposal produced by
// the Reframing node.
func (j *job) AttachReframingProposal(reframingProposalID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.raiseEvent(NewReframingProposalStoredEvent(j.id, j.projectID, j.version+1, reframingProposalID))
}
