package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewWSEvent(t *testing.T) {
	before := time.Now()
	event := NewWSEvent(EventJobStarted, "proj-123", "job-456")
	after := time.Now()

	assert.Equal(t, EventJobStarted, event.Type)
	assert.Equal(t, "proj-123", event.ProjectID)
	assert.Equal(t, "job-456", event.JobID)
	assert.True(t, event.Timestamp.After(before) || event.Timestamp.Equal(before))
	assert.True(t, event.Timestamp.Before(after) || event.Timestamp.Equal(after))
}

func TestNewWSEvent_AllEventTypes(t *testing.T) {
	eventTypes := []string{
		EventJobStarted,
		EventJobProgress,
		EventJobSucceeded,
		EventJobFailed,
		EventJobFinalized,
		EventJobNeedsSignoff,
		EventJobResumed,
		EventNodeStarted,
		EventNodeCompleted,
		EventNodeFailed,
	}

	for _, eventType := range eventTypes {
		t.Run(eventType, func(t *testing.T) {
			event := NewWSEvent(eventType, "proj", "job")
			assert.Equal(t, eventType, event.Type)
		})
	}
}

func TestNewSuccessResponse(t *testing.T) {
	resp := NewSuccessResponse(CmdSubscribe, "subscribed successfully")

	assert.Equal(t, CmdSubscribe, resp.Type)
	assert.True(t, resp.Success)
	assert.Equal(t, "subscribed successfully", resp.Message)
	assert.Empty(t, resp.Error)
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(CmdSubscribe, "invalid project_id")

	assert.Equal(t, CmdSubscribe, resp.Type)
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Message)
	assert.Equal(t, "invalid project_id", resp.Error)
}

func TestWSEvent_JSONSerialization(t *testing.T) {
	event := NewWSEvent(EventNodeCompleted, "proj-123", "job-456")
	event.Node = "critic"
	event.Phase = "VETTING"
	event.DurationMs = 150

	data, err := json.Marshal(event)
	assert.NoError(t, err)

	var decoded WSEvent
	err = json.Unmarshal(data, &decoded)
	assert.NoError(t, err)

	assert.Equal(t, event.Type, decoded.Type)
	assert.Equal(t, event.ProjectID, decoded.ProjectID)
	assert.Equal(t, event.JobID, decoded.JobID)
	assert.Equal(t, event.Node, decoded.Node)
	assert.Equal(t, event.Phase, decoded.Phase)
	assert.Equal(t, event.DurationMs, decoded.DurationMs)
}

func TestWSEvent_JSONOmitEmpty(t *testing.T) {
	event := NewWSEvent(EventJobStarted, "proj-123", "job-456")

	data, err := json.Marshal(event)
	assert.NoError(t, err)

	var m map[string]interface{}
	err = json.Unmarshal(data, &m)
	assert.NoError(t, err)

	// These fields should be present
	assert.Contains(t, m, "type")
	assert.Contains(t, m, "project_id")
	assert.Contains(t, m, "job_id")
	assert.Contains(t, m, "timestamp")

	// These optional fields should be omitted when empty
	assert.NotContains(t, m, "node")
	assert.NotContains(t, m, "phase")
	assert.NotContains(t, m, "error")
	assert.NotContains(t, m, "reframing_proposal_id")
	assert.NotContains(t, m, "conflict_report_id")
}

func TestWSCommand_JSONDeserialization(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		expected WSCommand
	}{
		{
			name:     "subscribe to project",
			json:     `{"action":"subscribe","project_id":"proj-123"}`,
			expected: WSCommand{Action: CmdSubscribe, ProjectID: "proj-123"},
		},
		{
			name:     "subscribe to job",
			json:     `{"action":"subscribe","job_id":"job-456"}`,
			expected: WSCommand{Action: CmdSubscribe, JobID: "job-456"},
		},
		{
			name:     "unsubscribe from project",
			json:     `{"action":"unsubscribe","project_id":"proj-123"}`,
			expected: WSCommand{Action: CmdUnsubscribe, ProjectID: "proj-123"},
		},
		{
			name:     "cancel job",
			json:     `{"action":"cancel","job_id":"job-456"}`,
			expected: WSCommand{Action: CmdCancel, JobID: "job-456"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd WSCommand
			err := json.Unmarshal([]byte(tt.json), &cmd)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, cmd)
		})
	}
}

func TestWSResponse_JSONSerialization(t *testing.T) {
	tests := []struct {
		name     string
		response *WSResponse
	}{
		{
			name:     "success response",
			response: NewSuccessResponse(CmdSubscribe, "subscribed"),
		},
		{
			name:     "error response",
			response: NewErrorResponse(CmdSubscribe, "invalid id"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.response)
			assert.NoError(t, err)

			var decoded WSResponse
			err = json.Unmarshal(data, &decoded)
			assert.NoError(t, err)

			assert.Equal(t, tt.response.Type, decoded.Type)
			assert.Equal(t, tt.response.Success, decoded.Success)
			assert.Equal(t, tt.response.Message, decoded.Message)
			assert.Equal(t, tt.response.Error, decoded.Error)
		})
	}
}

func TestEventTypeConstants(t *testing.T) {
	// Verify event type constants have expected values
	assert.Equal(t, "job.started", EventJobStarted)
	assert.Equal(t, "job.progress_updated", EventJobProgress)
	assert.Equal(t, "job.succeeded", EventJobSucceeded)
	assert.Equal(t, "job.failed", EventJobFailed)
	assert.Equal(t, "job.finalized", EventJobFinalized)
	assert.Equal(t, "job.needs_signoff", EventJobNeedsSignoff)
	assert.Equal(t, "job.resumed", EventJobResumed)
	assert.Equal(t, "node.started", EventNodeStarted)
	assert.Equal(t, "node.completed", EventNodeCompleted)
	assert.Equal(t, "node.failed", EventNodeFailed)
}

func TestCommandTypeConstants(t *testing.T) {
	// Verify command type constants have expected values
	assert.Equal(t, "subscribe", CmdSubscribe)
	assert.Equal(t, "unsubscribe", CmdUnsubscribe)
	assert.Equal(t, "cancel", CmdCancel)
}
