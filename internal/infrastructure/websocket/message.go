package websocket

import (
	"time"
)

// Event types (server -> client)
const (
	EventJobStarted      = "job.started"
	EventJobProgress     = "job.progress_updated"
	EventJobSucceeded    = "job.succeeded"
	EventJobFailed       = "job.failed"
	EventJobFinalized    = "job.finalized"
	EventJobNeedsSignoff = "job.needs_signoff"
	EventJobResumed      = "job.resumed"
	EventNodeStarted     = "node.started"
	EventNodeCompleted   = "node.completed"
	EventNodeFailed      = "node.failed"
)

// Command types (client -> server)
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdCancel      = "cancel"
)

// WSEvent represents an event pushed from server to client. Clients
// subscribe by project_id or job_id (see WSCommand); the hub fans a given
// event out to every client holding a matching subscription.
type WSEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ProjectID string    `json:"project_id"`
	JobID     string    `json:"job_id"`

	// Pipeline node fields (optional)
	Node       string `json:"node,omitempty"`
	Phase      string `json:"phase,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`

	// Progress fields
	Progress    float64 `json:"progress,omitempty"`
	CurrentStep string  `json:"current_step,omitempty"`

	// Populated on EventJobNeedsSignoff, carrying the proposal the operator
	// must accept or reject before the job can resume (spec §4.6).
	ReframingProposalID string `json:"reframing_proposal_id,omitempty"`
	ConflictReportID    string `json:"conflict_report_id,omitempty"`
}

// WSCommand represents a command sent from client to server
type WSCommand struct {
	Action    string `json:"action"`
	JobID     string `json:"job_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// WSResponse represents a response to a client command
type WSResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewWSEvent creates a new WSEvent with the given type and IDs
func NewWSEvent(eventType, projectID, jobID string) *WSEvent {
	return &WSEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		ProjectID: projectID,
		JobID:     jobID,
	}
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(responseType, message string) *WSResponse {
	return &WSResponse{
		Type:    responseType,
		Success: true,
		Message: message,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(responseType, errorMsg string) *WSResponse {
	return &WSResponse{
		Type:    responseType,
		Success: false,
		Error:   errorMsg,
	}
}
