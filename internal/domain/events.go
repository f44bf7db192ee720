package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of domain event raised against a Job aggregate.
type EventType string

const (
	// Job lifecycle events
	EventTypeJobCreated   EventType = "job.created"
	EventTypeJobStarted   EventType = "job.started"
	EventTypeJobSucceeded EventType = "job.succeeded"
	EventTypeJobFailed    EventType = "job.failed"
	EventTypeJobFinalized EventType = "job.finalized"

	// Workflow interrupt / signoff events
	EventTypeJobNeedsSignoff EventType = "job.needs_signoff"
	EventTypeJobResumed      EventType = "job.resumed"

	// Pipeline node events, raised once per node invocation against the job's
	// current WorkflowState
	EventTypeNodeStarted   EventType = "node.started"
	EventTypeNodeCompleted EventType = "node.completed"
	EventTypeNodeFailed    EventType = "node.failed"

	// Progress events
	EventTypeProgressUpdated EventType = "job.progress_updated"

	// Conflict / reframing events
	EventTypeConflictReportStored    EventType = "job.conflict_report_stored"
	EventTypeReframingProposalStored EventType = "job.reframing_proposal_stored"
)

// Event represents an immutable domain event in the event sourcing model for
// the Job aggregate. Events are the source of truth for job state and enable
// replay, audit, and checkpoint resume.
type Event interface {
	// Identity
	EventID() uuid.UUID
	EventType() EventType
	AggregateID() uuid.UUID // The Job ID
	Timestamp() time.Time
	SequenceNumber() int64

	// Context
	JobID() uuid.UUID
	ProjectID() uuid.UUID
	Node() PipelineNodeName // empty for job-level events

	// Data
	Data() map[string]any
	Metadata() map[string]string

	// Serialization
	ToJSON() ([]byte, error)
}

// BaseEvent is the base implementation of Event.
type BaseEvent struct {
	eventID        uuid.UUID
	eventType      EventType
	aggregateID    uuid.UUID
	timestamp      time.Time
	sequenceNumber int64
	jobID          uuid.UUID
	projectID      uuid.UUID
	node           PipelineNodeName
	data           map[string]any
	metadata       map[string]string
}

// NewEvent creates a new base event.
func NewEvent(
	eventType EventType,
	aggregateID uuid.UUID,
	sequenceNumber int64,
	projectID uuid.UUID,
	node PipelineNodeName,
	data map[string]any,
	metadata map[string]string,
) Event {
	if data == nil {
		data = make(map[string]any)
	}
	if metadata == nil {
		metadata = make(map[string]string)
	}

	return &BaseEvent{
		eventID:        uuid.New(),
		eventType:      eventType,
		aggregateID:    aggregateID,
		timestamp:      time.Now().UTC(),
		sequenceNumber: sequenceNumber,
		jobID:          aggregateID,
		projectID:      projectID,
		node:           node,
		data:           data,
		metadata:       metadata,
	}
}

// ReconstructEvent reconstructs an event from persistence.
func ReconstructEvent(
	eventID uuid.UUID,
	eventType EventType,
	aggregateID uuid.UUID,
	timestamp time.Time,
	sequenceNumber int64,
	projectID uuid.UUID,
	node PipelineNodeName,
	data map[string]any,
	metadata map[string]string,
) Event {
	return &BaseEvent{
		eventID:        eventID,
		eventType:      eventType,
		aggregateID:    aggregateID,
		timestamp:      timestamp,
		sequenceNumber: sequenceNumber,
		jobID:          aggregateID,
		projectID:      projectID,
		node:           node,
		data:           data,
		metadata:       metadata,
	}
}

func (e *BaseEvent) EventID() uuid.UUID           { return e.eventID }
func (e *BaseEvent) EventType() EventType         { return e.eventType }
func (e *BaseEvent) AggregateID() uuid.UUID       { return e.aggregateID }
func (e *BaseEvent) Timestamp() time.Time         { return e.timestamp }
func (e *BaseEvent) SequenceNumber() int64        { return e.sequenceNumber }
func (e *BaseEvent) JobID() uuid.UUID             { return e.jobID }
func (e *BaseEvent) ProjectID() uuid.UUID         { return e.projectID }
func (e *BaseEvent) Node() PipelineNodeName       { return e.node }
func (e *BaseEvent) Data() map[string]any         { return e.data }
func (e *BaseEvent) Metadata() map[string]string  { return e.metadata }

func (e *BaseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"event_id":        e.eventID,
		"event_type":      e.eventType,
		"aggregate_id":    e.aggregateID,
		"timestamp":       e.timestamp,
		"sequence_number": e.sequenceNumber,
		"project_id":      e.projectID,
		"node":            e.node,
		"data":            e.data,
		"metadata":        e.metadata,
	})
}

// Event factory functions - create strongly typed events for the Job aggregate.

// NewJobCreatedEvent creates an event for job creation (QUEUED).
func NewJobCreatedEvent(jobID, projectID uuid.UUID, sequenceNumber int64, idempotencyKey string, parentJobID uuid.UUID, version int) Event {
	return NewEvent(
		EventTypeJobCreated,
		jobID,
		sequenceNumber,
		projectID,
		"",
		map[string]any{
			"idempotency_key": idempotencyKey,
			"parent_job_id":   parentJobID,
			"job_version":     version,
			"status":          JobStatusQueued,
		},
		nil,
	)
}

// NewJobStartedEvent creates an event for a job transitioning to RUNNING.
func NewJobStartedEvent(jobID, projectID uuid.UUID, sequenceNumber int64) Event {
	return NewEvent(
		EventTypeJobStarted,
		jobID,
		sequenceNumber,
		projectID,
		"",
		map[string]any{"status": JobStatusRunning},
		nil,
	)
}

// NewJobSucceededEvent creates an event for a job reaching SUCCEEDED.
func NewJobSucceededEvent(jobID, projectID uuid.UUID, sequenceNumber int64, result any) Event {
	return NewEvent(
		EventTypeJobSucceeded,
		jobID,
		sequenceNumber,
		projectID,
		"",
		map[string]any{
			"status": JobStatusSucceeded,
			"result": result,
		},
		nil,
	)
}

// NewJobFailedEvent creates an event for a job reaching FAILED.
func NewJobFailedEvent(jobID, projectID uuid.UUID, sequenceNumber int64, errorMessage string) Event {
	return NewEvent(
		EventTypeJobFailed,
		jobID,
		sequenceNumber,
		projectID,
		"",
		map[string]any{
			"status": JobStatusFailed,
			"error":  errorMessage,
		},
		nil,
	)
}

// NewJobFinalizedEvent creates an event for the operator-driven SUCCEEDED -> FINALIZED transition.
func NewJobFinalizedEvent(jobID, projectID uuid.UUID, sequenceNumber int64) Event {
	return NewEvent(
		EventTypeJobFinalized,
		jobID,
		sequenceNumber,
		projectID,
		"",
		map[string]any{"status": JobStatusFinalized},
		nil,
	)
}

// NewJobNeedsSignoffEvent creates an event for a job suspending at Reframing.
func NewJobNeedsSignoffEvent(jobID, projectID uuid.UUID, sequenceNumber int64, reframingProposalID uuid.UUID) Event {
	return NewEvent(
		EventTypeJobNeedsSignoff,
		jobID,
		sequenceNumber,
		projectID,
		NodeReframing,
		map[string]any{
			"status":                 JobStatusNeedsSignoff,
			"reframing_proposal_id": reframingProposalID,
		},
		nil,
	)
}

// NewJobResumedEvent creates an event for a job resuming from NEEDS_SIGNOFF.
func NewJobResumedEvent(jobID, projectID uuid.UUID, sequenceNumber int64, decision string) Event {
	return NewEvent(
		EventTypeJobResumed,
		jobID,
		sequenceNumber,
		projectID,
		"",
		map[string]any{
			"status":   JobStatusRunning,
			"decision": decision,
		},
		nil,
	)
}

// NewNodeStartedEvent creates an event for a pipeline node beginning execution.
func NewNodeStartedEvent(jobID, projectID uuid.UUID, sequenceNumber int64, node PipelineNodeName) Event {
	return NewEvent(
		EventTypeNodeStarted,
		jobID,
		sequenceNumber,
		projectID,
		node,
		map[string]any{"node": node},
		nil,
	)
}

// NewNodeCompletedEvent creates an event for a pipeline node finishing successfully.
func NewNodeCompletedEvent(jobID, projectID uuid.UUID, sequenceNumber int64, node PipelineNodeName, phase WorkflowPhase, duration time.Duration) Event {
	return NewEvent(
		EventTypeNodeCompleted,
		jobID,
		sequenceNumber,
		projectID,
		node,
		map[string]any{
			"node":        node,
			"phase":       phase,
			"duration_ms": duration.Milliseconds(),
		},
		nil,
	)
}

// NewNodeFailedEvent creates an event for a pipeline node raising an error.
func NewNodeFailedEvent(jobID, projectID uuid.UUID, sequenceNumber int64, node PipelineNodeName, errorMessage string) Event {
	return NewEvent(
		EventTypeNodeFailed,
		jobID,
		sequenceNumber,
		projectID,
		node,
		map[string]any{
			"node":  node,
			"error": errorMessage,
		},
		nil,
	)
}

// NewProgressUpdatedEvent creates an event recording a progress/step update.
func NewProgressUpdatedEvent(jobID, projectID uuid.UUID, sequenceNumber int64, progress float64, currentStep string) Event {
	return NewEvent(
		EventTypeProgressUpdated,
		jobID,
		sequenceNumber,
		projectID,
		"",
		map[string]any{
			"progress":     progress,
			"current_step": currentStep,
		},
		nil,
	)
}

// NewConflictReportStoredEvent creates an event recording that a ConflictReport was attached to the job.
func NewConflictReportStoredEvent(jobID, projectID uuid.UUID, sequenceNumber int64, conflictReportID uuid.UUID) Event {
	return NewEvent(
		EventTypeConflictReportStored,
		jobID,
		sequenceNumber,
		projectID,
		NodeCritic,
		map[string]any{"conflict_report_id": conflictReportID},
		nil,
	)
}

// NewReframingProposalStoredEvent creates an event recording that a ReframingProposal was attached to the job.
func NewReframingProposalStoredEvent(jobID, projectID uuid.UUID, sequenceNumber int64, reframingProposalID uuid.UUID) Event {
	return NewEvent(
		EventTypeReframingProposalStored,
		jobID,
		sequenceNumber,
		projectID,
		NodeReframing,
		map[string]any{"reframing_proposal_id": reframingProposalID},
		nil,
	)
}

// EventApplier is an interface for entities that can apply events to rebuild state.
type EventApplier interface {
	ApplyEvent(event Event) error
}
