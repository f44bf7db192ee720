package websocket

import (
	"time"

	"github.com/google/uuid"
)

// JobNotifier broadcasts Job lifecycle transitions to subscribed WebSocket
// clients. The jobmanager calls it from the same goroutine that raises the
// corresponding domain event; Broadcast hands off to the hub's buffered
// channel (256 slots), so it returns at once while that buffer has room and
// blocks until the hub's Run loop drains it once the buffer is full.
type JobNotifier struct {
	hub Broadcaster
}

// NewJobNotifier constructs a JobNotifier over the given Broadcaster (in
// practice a *Hub; the interface exists to keep this package hub
// implementation-agnostic, per the Broadcaster seam the teacher already
// carries for a future Redis fanout adapter).
func NewJobNotifier(hub Broadcaster) *JobNotifier {
	return &JobNotifier{hub: hub}
}

// NotifyJobStarted broadcasts the QUEUED -> RUNNING transition.
func (n *JobNotifier) NotifyJobStarted(projectID, jobID uuid.UUID) {
	event := NewWSEvent(EventJobStarted, projectID.String(), jobID.String())
	n.hub.Broadcast("", projectID.String(), jobID.String(), event)
}

// NotifyJobProgress broadcasts a progress/step update.
func (n *JobNotifier) NotifyJobProgress(projectID, jobID uuid.UUID, progress float64, currentStep string) {
	event := NewWSEvent(EventJobProgress, projectID.String(), jobID.String())
	event.Progress = progress
	event.CurrentStep = currentStep
	n.hub.Broadcast("", projectID.String(), jobID.String(), event)
}

// NotifyJobSucceeded broadcasts a job reaching SUCCEEDED.
func (n *JobNotifier) NotifyJobSucceeded(projectID, jobID uuid.UUID) {
	event := NewWSEvent(EventJobSucceeded, projectID.String(), jobID.String())
	n.hub.Broadcast("", projectID.String(), jobID.String(), event)
}

// NotifyJobFailed broadcasts a job reaching FAILED.
func (n *JobNotifier) NotifyJobFailed(projectID, jobID uuid.UUID, errMsg string) {
	event := NewWSEvent(EventJobFailed, projectID.String(), jobID.String())
	event.Error = errMsg
	n.hub.Broadcast("", projectID.String(), jobID.String(), event)
}

// NotifyJobFinalized broadcasts the operator-driven SUCCEEDED -> FINALIZED transition.
func (n *JobNotifier) NotifyJobFinalized(projectID, jobID uuid.UUID) {
	event := NewWSEvent(EventJobFinalized, projectID.String(), jobID.String())
	n.hub.Broadcast("", projectID.String(), jobID.String(), event)
}

// NotifyNeedsSignoff broadcasts a job suspending at Reframing with a
// proposal awaiting operator accept/reject (spec §4.6). This is the event a
// human-in-the-loop UI waits on: subscribers get it the instant the job
// stops, instead of having to poll GET /workflow/status.
func (n *JobNotifier) NotifyNeedsSignoff(projectID, jobID, reframingProposalID uuid.UUID, conflictReportID uuid.UUID) {
	event := NewWSEvent(EventJobNeedsSignoff, projectID.String(), jobID.String())
	event.ReframingProposalID = reframingProposalID.String()
	if conflictReportID != uuid.Nil {
		event.ConflictReportID = conflictReportID.String()
	}
	n.hub.Broadcast("", projectID.String(), jobID.String(), event)
}

// NotifyJobResumed broadcasts a job resuming from NEEDS_SIGNOFF back to RUNNING.
func (n *JobNotifier) NotifyJobResumed(projectID, jobID uuid.UUID) {
	event := NewWSEvent(EventJobResumed, projectID.String(), jobID.String())
	n.hub.Broadcast("", projectID.String(), jobID.String(), event)
}

// NotifyNodeStarted broadcasts a pipeline node beginning execution.
func (n *JobNotifier) NotifyNodeStarted(projectID, jobID uuid.UUID, node string) {
	event := NewWSEvent(EventNodeStarted, projectID.String(), jobID.String())
	event.Node = node
	n.hub.Broadcast("", projectID.String(), jobID.String(), event)
}

// NotifyNodeCompleted broadcasts a pipeline node finishing successfully.
func (n *JobNotifier) NotifyNodeCompleted(projectID, jobID uuid.UUID, node, phase string, duration time.Duration) {
	event := NewWSEvent(EventNodeCompleted, projectID.String(), jobID.String())
	event.Node = node
	event.Phase = phase
	event.DurationMs = duration.Milliseconds()
	n.hub.Broadcast("", projectID.String(), jobID.String(), event)
}

// NotifyNodeFailed broadcasts a pipeline node raising an error.
func (n *JobNotifier) NotifyNodeFailed(projectID, jobID uuid.UUID, node, errMsg string) {
	event := NewWSEvent(EventNodeFailed, projectID.String(), jobID.String())
	event.Node = node
	event.Error = errMsg
	n.hub.Broadcast("", projectID.String(), jobID.String(), event)
}
