package websocket

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroadcaster is a mock implementation of the Broadcaster interface
type mockBroadcaster struct {
	mu         sync.Mutex
	events     []*WSEvent
	userIDs    []string
	projectIDs []string
	jobIDs     []string
	received   chan *WSEvent
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{
		events:     make([]*WSEvent, 0),
		userIDs:    make([]string, 0),
		projectIDs: make([]string, 0),
		jobIDs:     make([]string, 0),
		received:   make(chan *WSEvent, 100),
	}
}

func (m *mockBroadcaster) Broadcast(userID, projectID, jobID string, event *WSEvent) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.userIDs = append(m.userIDs, userID)
	m.projectIDs = append(m.projectIDs, projectID)
	m.jobIDs = append(m.jobIDs, jobID)
	m.mu.Unlock()

	select {
	case m.received <- event:
	default:
	}
}

func (m *mockBroadcaster) lastEvent() *WSEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockBroadcaster) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestNewJobNotifier(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	assert.NotNil(t, notifier)
	assert.Equal(t, broadcaster, notifier.hub)
}

func TestJobNotifier_NotifyJobStarted(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()
	notifier.NotifyJobStarted(projectID, jobID)

	event := broadcaster.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, EventJobStarted, event.Type)
	assert.Equal(t, projectID.String(), event.ProjectID)
	assert.Equal(t, jobID.String(), event.JobID)
}

func TestJobNotifier_NotifyJobProgress(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()
	notifier.NotifyJobProgress(projectID, jobID, 0.4, "vetting")

	event := broadcaster.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, EventJobProgress, event.Type)
	assert.Equal(t, 0.4, event.Progress)
	assert.Equal(t, "vetting", event.CurrentStep)
}

func TestJobNotifier_NotifyJobSucceeded(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()
	notifier.NotifyJobSucceeded(projectID, jobID)

	event := broadcaster.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, EventJobSucceeded, event.Type)
}

func TestJobNotifier_NotifyJobFailed(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()
	notifier.NotifyJobFailed(projectID, jobID, "vision backend timeout")

	event := broadcaster.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, EventJobFailed, event.Type)
	assert.Equal(t, "vision backend timeout", event.Error)
}

func TestJobNotifier_NotifyJobFinalized(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()
	notifier.NotifyJobFinalized(projectID, jobID)

	event := broadcaster.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, EventJobFinalized, event.Type)
}

func TestJobNotifier_NotifyNeedsSignoff(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()
	proposalID := uuid.New()
	reportID := uuid.New()
	notifier.NotifyNeedsSignoff(projectID, jobID, proposalID, reportID)

	event := broadcaster.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, EventJobNeedsSignoff, event.Type)
	assert.Equal(t, proposalID.String(), event.ReframingProposalID)
	assert.Equal(t, reportID.String(), event.ConflictReportID)
}

func TestJobNotifier_NotifyNeedsSignoff_NoConflictReport(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()
	proposalID := uuid.New()
	notifier.NotifyNeedsSignoff(projectID, jobID, proposalID, uuid.Nil)

	event := broadcaster.lastEvent()
	require.NotNil(t, event)
	assert.Empty(t, event.ConflictReportID)
}

func TestJobNotifier_NotifyJobResumed(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()
	notifier.NotifyJobResumed(projectID, jobID)

	event := broadcaster.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, EventJobResumed, event.Type)
}

func TestJobNotifier_NotifyNodeStarted(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()
	notifier.NotifyNodeStarted(projectID, jobID, "cartographer")

	event := broadcaster.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, EventNodeStarted, event.Type)
	assert.Equal(t, "cartographer", event.Node)
}

func TestJobNotifier_NotifyNodeCompleted(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()
	notifier.NotifyNodeCompleted(projectID, jobID, "critic", "VETTING", 150*time.Millisecond)

	event := broadcaster.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, EventNodeCompleted, event.Type)
	assert.Equal(t, "critic", event.Node)
	assert.Equal(t, "VETTING", event.Phase)
	assert.Equal(t, int64(150), event.DurationMs)
}

func TestJobNotifier_NotifyNodeFailed(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()
	notifier.NotifyNodeFailed(projectID, jobID, "synthesizer", "expert backend unavailable")

	event := broadcaster.lastEvent()
	require.NotNil(t, event)
	assert.Equal(t, EventNodeFailed, event.Type)
	assert.Equal(t, "synthesizer", event.Node)
	assert.Equal(t, "expert backend unavailable", event.Error)
}

func TestJobNotifier_BroadcastParameters(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()
	notifier.NotifyJobStarted(projectID, jobID)

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()

	require.Len(t, broadcaster.userIDs, 1)
	require.Len(t, broadcaster.projectIDs, 1)
	require.Len(t, broadcaster.jobIDs, 1)

	assert.Empty(t, broadcaster.userIDs[0])
	assert.Equal(t, projectID.String(), broadcaster.projectIDs[0])
	assert.Equal(t, jobID.String(), broadcaster.jobIDs[0])
}

func TestJobNotifier_MultipleEvents(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()

	notifier.NotifyJobStarted(projectID, jobID)
	notifier.NotifyNodeStarted(projectID, jobID, "cartographer")
	notifier.NotifyNodeCompleted(projectID, jobID, "cartographer", "MAPPING", 100*time.Millisecond)
	notifier.NotifyJobSucceeded(projectID, jobID)

	assert.Equal(t, 4, broadcaster.eventCount())

	broadcaster.mu.Lock()
	events := broadcaster.events
	broadcaster.mu.Unlock()

	assert.Equal(t, EventJobStarted, events[0].Type)
	assert.Equal(t, EventNodeStarted, events[1].Type)
	assert.Equal(t, EventNodeCompleted, events[2].Type)
	assert.Equal(t, EventJobSucceeded, events[3].Type)
}

func TestJobNotifier_ConcurrentBroadcasts(t *testing.T) {
	broadcaster := newMockBroadcaster()
	notifier := NewJobNotifier(broadcaster)

	projectID, jobID := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				notifier.NotifyJobProgress(projectID, jobID, 0.5, "running")
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, numGoroutines*eventsPerGoroutine, broadcaster.eventCount())
}
