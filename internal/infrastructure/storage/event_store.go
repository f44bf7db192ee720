package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/smilemakc/vyasa/internal/domain"
	"github.com/uptrace/bun"
)

// MemoryEventStore is an in-memory implementation of domain.EventStore, the
// fallback named in the JobRepository doc comment (spec §4.1) for
// deployments without a configured Postgres DSN.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]domain.Event // jobID -> events
}

// NewMemoryEventStore creates a new in-memory event store
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		events: make(map[uuid.UUID][]domain.Event),
	}
}

// Append appends events to a job's stream.
func (es *MemoryEventStore) Append(ctx context.Context, jobID uuid.UUID, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if es.events[jobID] == nil {
		es.events[jobID] = make([]domain.Event, 0, len(events))
	}
	es.events[jobID] = append(es.events[jobID], events...)

	return nil
}

// Load retrieves all events for a job, in sequence order.
func (es *MemoryEventStore) Load(ctx context.Context, jobID uuid.UUID) ([]domain.Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	events := es.events[jobID]
	if events == nil {
		return []domain.Event{}, nil
	}

	// Return a copy to prevent external modification
	result := make([]domain.Event, len(events))
	copy(result, events)

	return result, nil
}

// Clear clears all events (useful for testing)
func (es *MemoryEventStore) Clear() {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.events = make(map[uuid.UUID][]domain.Event)
}

// PostgresEventStore is a standalone PostgreSQL-based domain.EventStore
// implementation using Bun ORM. BunStore also implements Append/Load
// directly against the same events table; PostgresEventStore exists for
// callers that want an EventStore without pulling in the rest of BunStore's
// aggregate persistence surface (for instance, a projection rebuilder run as
// a separate process).
type PostgresEventStore struct {
	db *bun.DB
	mu sync.RWMutex
}

// NewPostgresEventStore creates a new PostgreSQL event store
func NewPostgresEventStore(db *bun.DB) *PostgresEventStore {
	return &PostgresEventStore{
		db: db,
	}
}

// InitSchema creates the events table if it doesn't exist
func (es *PostgresEventStore) InitSchema(ctx context.Context) error {
	_, err := es.db.NewCreateTable().
		Model((*EventModel)(nil)).
		IfNotExists().
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_job_id ON events(job_id)",
		"CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type)",
		"CREATE INDEX IF NOT EXISTS idx_events_sequence_number ON events(job_id, sequence_number)",
	}

	for _, indexSQL := range indexes {
		if _, err := es.db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Append appends a batch of events atomically using a transaction
func (es *PostgresEventStore) Append(ctx context.Context, jobID uuid.UUID, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	models := make([]*EventModel, len(events))
	for i, ev := range events {
		models[i] = NewEventModel(ev)
	}

	_, err := es.db.NewInsert().
		Model(&models).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to append events: %w", err)
	}

	return nil
}

// Load retrieves all events for a job
func (es *PostgresEventStore) Load(ctx context.Context, jobID uuid.UUID) ([]domain.Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var models []EventModel
	err := es.db.NewSelect().
		Model(&models).
		Where("job_id = ?", jobID).
		Order("sequence_number ASC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	events := make([]domain.Event, len(models))
	for i, m := range models {
		events[i] = m.ToDomain()
	}

	return events, nil
}

// EventStoreWithSnapshots wraps an event store together with a checkpoint
// store and a checkpoint interval. Append and Load delegate to the wrapped
// event store unchanged: no checkpoint is taken or read, and Load always
// returns the full event history.
type EventStoreWithSnapshots struct {
	eventStore domain.EventStore
	checkpoint domain.CheckpointStore
	mu         sync.RWMutex

	// Configuration
	checkpointInterval int64 // Checkpoint interval in events; not read by Append or Load
}

// NewEventStoreWithSnapshots creates an event store with checkpoint support
func NewEventStoreWithSnapshots(eventStore domain.EventStore, checkpoint domain.CheckpointStore, checkpointInterval int64) *EventStoreWithSnapshots {
	return &EventStoreWithSnapshots{
		eventStore:         eventStore,
		checkpoint:         checkpoint,
		checkpointInterval: checkpointInterval,
	}
}

// Append appends events to the underlying event store.
func (es *EventStoreWithSnapshots) Append(ctx context.Context, jobID uuid.UUID, events []domain.Event) error {
	return es.eventStore.Append(ctx, jobID, events)
}

// Load delegates to the underlying event store.
func (es *EventStoreWithSnapshots) Load(ctx context.Context, jobID uuid.UUID) ([]domain.Event, error) {
	return es.eventStore.Load(ctx, jobID)
}

// MemoryCheckpointStore is an in-memory domain.CheckpointStore, the fallback
// counterpart to MemoryEventStore.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]domain.WorkflowState
}

// NewMemoryCheckpointStore creates a new in-memory checkpoint store
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]domain.WorkflowState),
	}
}

// Save saves a workflow state checkpoint keyed by thread ID
func (cs *MemoryCheckpointStore) Save(ctx context.Context, threadID string, state domain.WorkflowState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.checkpoints[threadID] = state

	return nil
}

// Load retrieves the latest checkpoint for a thread ID
func (cs *MemoryCheckpointStore) Load(ctx context.Context, threadID string) (*domain.WorkflowState, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	state, exists := cs.checkpoints[threadID]
	if !exists {
		return nil, fmt.Errorf("checkpoint not found for thread %s", threadID)
	}

	return &state, nil
}
