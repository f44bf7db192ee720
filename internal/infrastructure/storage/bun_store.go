package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/vyasa/internal/domain"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// BunStore is the Postgres-backed persistence layer for every aggregate and
// read model named in the domain repository interfaces (spec §4.1, §4.8):
// jobs (event-sourced, with a snapshot row for fast reads), projects, claims,
// manuscript blocks, conflict reports, reframing proposals, the bibliography
// key index, and checkpoints.
type BunStore struct {
	db *bun.DB
}

func NewBunStore(dsn string) *BunStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &BunStore{db: db}
}

func (s *BunStore) InitSchema(ctx context.Context) error {
	models := []interface{}{
		(*JobModel)(nil),
		(*EventModel)(nil),
		(*ProjectModel)(nil),
		(*ClaimModel)(nil),
		(*ManuscriptBlockModel)(nil),
		(*ConflictReportModel)(nil),
		(*ReframingProposalModel)(nil),
		(*BibliographyKeyModel)(nil),
		(*CheckpointModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_job_id ON events(job_id)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_project_id ON jobs(project_id)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_idempotency_key ON jobs(idempotency_key)",
		"CREATE INDEX IF NOT EXISTS idx_claims_project_ingestion ON claims(project_id, ingestion_id)",
		"CREATE INDEX IF NOT EXISTS idx_manuscript_blocks_project_id ON manuscript_blocks(project_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_bibliography_keys_unique ON bibliography_keys(project_id, citation_key)",
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Job

// JobModel is the snapshot row for a Job aggregate: it carries every field
// the Job getters expose, plus the JobRecord extras (InitialState,
// ReprocessReason, AppliedReferenceIDs). The snapshot is written alongside
// the job's uncommitted events in the same transaction and backs the
// idempotency-key and per-project lookups; GetJob still replays the full
// event stream from EventModel to reconstruct the authoritative domain.Job
// value.
type JobModel struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID                   uuid.UUID            `bun:"id,pk"`
	ProjectID            uuid.UUID            `bun:"project_id,notnull"`
	Status               domain.JobStatus     `bun:"status,notnull"`
	Progress             float64              `bun:"progress"`
	CurrentStep          string               `bun:"current_step"`
	CreatedAt            time.Time            `bun:"created_at,notnull"`
	StartedAt            *time.Time           `bun:"started_at"`
	CompletedAt          *time.Time           `bun:"completed_at"`
	ParentJobID          uuid.UUID            `bun:"parent_job_id"`
	JobVersion           int                  `bun:"job_version"`
	IdempotencyKey       string               `bun:"idempotency_key"`
	ErrorMessage         string               `bun:"error_message"`
	Result               domain.WorkflowState `bun:"result,type:jsonb"`
	ConflictReportID     uuid.UUID            `bun:"conflict_report_id"`
	ReframingProposalID  uuid.UUID            `bun:"reframing_proposal_id"`
	InitialState         domain.WorkflowState `bun:"initial_state,type:jsonb"`
	ReprocessReason      string               `bun:"reprocess_reason"`
	AppliedReferenceIDs  []string             `bun:"applied_reference_ids,array"`
}

func NewJobModel(record *domain.JobRecord) *JobModel {
	j := record.Job
	m := &JobModel{
		ID:                  j.ID(),
		ProjectID:           j.ProjectID(),
		Status:              j.Status(),
		Progress:            j.Progress(),
		CurrentStep:         j.CurrentStep(),
		CreatedAt:           j.CreatedAt(),
		StartedAt:           j.StartedAt(),
		CompletedAt:         j.CompletedAt(),
		ParentJobID:         j.ParentJobID(),
		JobVersion:          j.JobVersion(),
		IdempotencyKey:      j.IdempotencyKey(),
		ErrorMessage:        j.ErrorMessage(),
		ConflictReportID:    j.ConflictReportID(),
		ReframingProposalID: j.ReframingProposalID(),
		InitialState:        record.InitialState,
		ReprocessReason:     record.ReprocessReason,
		AppliedReferenceIDs: record.AppliedReferenceIDs,
	}
	if result := j.Result(); result != nil {
		m.Result = *result
	}
	return m
}

// SaveJob persists a job's snapshot and appends its uncommitted events in a
// single transaction, then marks the events committed on the in-memory
// aggregate so a repeated Save never double-writes them.
func (s *BunStore) SaveJob(ctx context.Context, record *domain.JobRecord) error {
	events := record.Job.GetUncommittedEvents()

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		model := NewJobModel(record)
		if _, err := tx.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx); err != nil {
			return err
		}

		if len(events) == 0 {
			return nil
		}
		eventModels := make([]*EventModel, len(events))
		for i, ev := range events {
			eventModels[i] = NewEventModel(ev)
		}
		_, err := tx.NewInsert().Model(&eventModels).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	record.Job.MarkEventsAsCommitted()
	return nil
}

// GetJob reconstructs the authoritative domain.Job by replaying its event
// history, and layers the snapshot row's JobRecord extras on top.
func (s *BunStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.JobRecord, error) {
	snapshot := new(JobModel)
	if err := s.db.NewSelect().Model(snapshot).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to get job snapshot: %w", err)
	}

	var eventModels []EventModel
	if err := s.db.NewSelect().Model(&eventModels).Where("job_id = ?", id).Order("sequence_number ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load job event history: %w", err)
	}
	events := make([]domain.Event, len(eventModels))
	for i, m := range eventModels {
		events[i] = m.ToDomain()
	}

	job, err := domain.RebuildJobFromEvents(id, snapshot.ProjectID, events)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild job from events: %w", err)
	}

	return &domain.JobRecord{
		Job:                 job,
		InitialState:        snapshot.InitialState,
		ReprocessReason:     snapshot.ReprocessReason,
		AppliedReferenceIDs: snapshot.AppliedReferenceIDs,
	}, nil
}

func (s *BunStore) FindJobByIdempotencyKey(ctx context.Context, key string) (*domain.JobRecord, error) {
	if key == "" {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput, "idempotency key cannot be empty", nil)
	}
	snapshot := new(JobModel)
	err := s.db.NewSelect().Model(snapshot).Where("idempotency_key = ?", key).Order("created_at DESC").Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, snapshot.ID)
}

func (s *BunStore) ListJobsByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*domain.JobRecord, error) {
	var snapshots []JobModel
	q := s.db.NewSelect().Model(&snapshots).Where("project_id = ?", projectID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	records := make([]*domain.JobRecord, 0, len(snapshots))
	for _, snapshot := range snapshots {
		record, err := s.GetJob(ctx, snapshot.ID)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Event

type EventModel struct {
	bun.BaseModel `bun:"table:events,alias:ev"`

	EventID        uuid.UUID             `bun:"event_id,pk"`
	EventType      domain.EventType      `bun:"event_type,notnull"`
	AggregateID    uuid.UUID             `bun:"aggregate_id,notnull"`
	JobID          uuid.UUID             `bun:"job_id,notnull"`
	ProjectID      uuid.UUID             `bun:"project_id,notnull"`
	Node           domain.PipelineNodeName `bun:"node"`
	SequenceNumber int64                 `bun:"sequence_number,notnull"`
	Payload        map[string]any        `bun:"payload,type:jsonb"`
	Metadata       map[string]string     `bun:"metadata,type:jsonb"`
	CreatedAt      time.Time             `bun:"created_at,notnull,default:current_timestamp"`
}

func (m *EventModel) ToDomain() domain.Event {
	return domain.ReconstructEvent(
		m.EventID,
		m.EventType,
		m.AggregateID,
		m.CreatedAt,
		m.SequenceNumber,
		m.ProjectID,
		m.Node,
		m.Payload,
		m.Metadata,
	)
}

func NewEventModel(ev domain.Event) *EventModel {
	return &EventModel{
		EventID:        ev.EventID(),
		EventType:      ev.EventType(),
		AggregateID:    ev.AggregateID(),
		JobID:          ev.JobID(),
		ProjectID:      ev.ProjectID(),
		Node:           ev.Node(),
		SequenceNumber: ev.SequenceNumber(),
		Payload:        ev.Data(),
		Metadata:       ev.Metadata(),
		CreatedAt:      ev.Timestamp(),
	}
}

// Append persists a batch of job events atomically. It does not update the
// job snapshot row -- callers that hold the aggregate should use SaveJob,
// which writes both in one transaction; Append exists for callers (such as
// projection rebuilders) that only need the event stream.
func (s *BunStore) Append(ctx context.Context, jobID uuid.UUID, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	models := make([]*EventModel, len(events))
	for i, ev := range events {
		models[i] = NewEventModel(ev)
	}
	_, err := s.db.NewInsert().Model(&models).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to append events: %w", err)
	}
	return nil
}

func (s *BunStore) Load(ctx context.Context, jobID uuid.UUID) ([]domain.Event, error) {
	var models []EventModel
	err := s.db.NewSelect().Model(&models).Where("job_id = ?", jobID).Order("sequence_number ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	events := make([]domain.Event, len(models))
	for i, m := range models {
		events[i] = m.ToDomain()
	}
	return events, nil
}

// Project

type ProjectModel struct {
	bun.BaseModel `bun:"table:projects,alias:p"`

	ID                uuid.UUID  `bun:"id,pk"`
	Title             string     `bun:"title,notnull"`
	Thesis            string     `bun:"thesis,notnull"`
	ResearchQuestions []string   `bun:"research_questions,array"`
	AntiScope         []string   `bun:"anti_scope,array"`
	TargetJournal     string     `bun:"target_journal"`
	SeedFiles         []string   `bun:"seed_files,array"`
	Tags              []string   `bun:"tags,array"`
	RigorLevel        domain.RigorLevel `bun:"rigor_level,notnull"`
	CreatedAt         time.Time  `bun:"created_at,notnull"`
	LastUpdated       time.Time  `bun:"last_updated,notnull"`
	Archived          bool       `bun:"archived"`
}

func (m *ProjectModel) ToDomain() *domain.Project {
	return &domain.Project{
		ID:                m.ID,
		Title:             m.Title,
		Thesis:            m.Thesis,
		ResearchQuestions: m.ResearchQuestions,
		AntiScope:         m.AntiScope,
		TargetJournal:     m.TargetJournal,
		SeedFiles:         m.SeedFiles,
		Tags:              m.Tags,
		RigorLevel:        m.RigorLevel,
		CreatedAt:         m.CreatedAt,
		LastUpdated:       m.LastUpdated,
		Archived:          m.Archived,
	}
}

func NewProjectModel(p *domain.Project) *ProjectModel {
	return &ProjectModel{
		ID:                p.ID,
		Title:             p.Title,
		Thesis:            p.Thesis,
		ResearchQuestions: p.ResearchQuestions,
		AntiScope:         p.AntiScope,
		TargetJournal:     p.TargetJournal,
		SeedFiles:         p.SeedFiles,
		Tags:              p.Tags,
		RigorLevel:        p.RigorLevel,
		CreatedAt:         p.CreatedAt,
		LastUpdated:       p.LastUpdated,
		Archived:          p.Archived,
	}
}

func (s *BunStore) SaveProject(ctx context.Context, p *domain.Project) error {
	model := NewProjectModel(p)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

func (s *BunStore) GetProject(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	model := new(ProjectModel)
	if err := s.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return model.ToDomain(), nil
}

func (s *BunStore) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	var models []ProjectModel
	if err := s.db.NewSelect().Model(&models).Where("archived = false").Order("last_updated DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	out := make([]*domain.Project, len(models))
	for i := range models {
		out[i] = models[i].ToDomain()
	}
	return out, nil
}

// Claim

type ClaimModel struct {
	bun.BaseModel `bun:"table:claims,alias:cl"`

	ClaimID          string         `bun:"claim_id,pk"`
	ProjectID        uuid.UUID      `bun:"project_id,notnull"`
	IngestionID      string         `bun:"ingestion_id,notnull"`
	Subject          string         `bun:"subject"`
	Predicate        string         `bun:"predicate"`
	Object           string         `bun:"object"`
	Confidence       float64        `bun:"confidence"`
	ClaimText        string         `bun:"claim_text"`
	Relevance        float64        `bun:"relevance_score"`
	RQHits           []string       `bun:"rq_hits,array"`
	SourceAnchor     domain.SourceAnchor `bun:"source_anchor,type:jsonb"`
	IsExpertVerified bool           `bun:"is_expert_verified"`
	ExpertNotes      string         `bun:"expert_notes"`
}

func (m *ClaimModel) ToDomain() domain.Claim {
	return domain.Claim{
		ClaimID:          m.ClaimID,
		Subject:          m.Subject,
		Predicate:        m.Predicate,
		Object:           m.Object,
		Confidence:       m.Confidence,
		ClaimText:        m.ClaimText,
		Relevance:        m.Relevance,
		RQHits:           m.RQHits,
		SourceAnchor:     m.SourceAnchor,
		IsExpertVerified: m.IsExpertVerified,
		ExpertNotes:      m.ExpertNotes,
		ProjectID:        m.ProjectID.String(),
	}
}

func NewClaimModel(projectID uuid.UUID, ingestionID string, c domain.Claim) *ClaimModel {
	return &ClaimModel{
		ClaimID:          c.ClaimID,
		ProjectID:        projectID,
		IngestionID:      ingestionID,
		Subject:          c.Subject,
		Predicate:        c.Predicate,
		Object:           c.Object,
		Confidence:       c.Confidence,
		ClaimText:        c.ClaimText,
		Relevance:        c.Relevance,
		RQHits:           c.RQHits,
		SourceAnchor:     c.SourceAnchor,
		IsExpertVerified: c.IsExpertVerified,
		ExpertNotes:      c.ExpertNotes,
	}
}

// SaveBatch replaces the full claim set for a project+ingestion pair:
// existing rows are deleted and the new batch inserted in one transaction,
// mirroring the teacher's delete-then-insert pattern for a workflow's child
// entities.
func (s *BunStore) SaveBatch(ctx context.Context, projectID uuid.UUID, ingestionID string, claims []domain.Claim) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*ClaimModel)(nil)).
			Where("project_id = ? AND ingestion_id = ?", projectID, ingestionID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if len(claims) == 0 {
			return nil
		}
		models := make([]*ClaimModel, len(claims))
		for i, c := range claims {
			models[i] = NewClaimModel(projectID, ingestionID, c)
		}
		_, err = tx.NewInsert().Model(&models).Exec(ctx)
		return err
	})
}

func (s *BunStore) ListClaimsByProjectAndIngestion(ctx context.Context, projectID uuid.UUID, ingestionID string) ([]domain.Claim, error) {
	var models []ClaimModel
	err := s.db.NewSelect().Model(&models).
		Where("project_id = ? AND ingestion_id = ?", projectID, ingestionID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	out := make([]domain.Claim, len(models))
	for i, m := range models {
		out[i] = m.ToDomain()
	}
	return out, nil
}

func (s *BunStore) GetClaim(ctx context.Context, claimID string) (*domain.Claim, error) {
	model := new(ClaimModel)
	if err := s.db.NewSelect().Model(model).Where("claim_id = ?", claimID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	claim := model.ToDomain()
	return &claim, nil
}

// ManuscriptBlock

type ManuscriptBlockModel struct {
	bun.BaseModel `bun:"table:manuscript_blocks,alias:mb"`

	ID               int64    `bun:"id,pk,autoincrement"`
	BlockID          string   `bun:"block_id,notnull"`
	ProjectID        uuid.UUID `bun:"project_id,notnull"`
	SectionTitle     string   `bun:"section_title"`
	Content          string   `bun:"content"`
	OrderIndex       int      `bun:"order_index"`
	Version          int      `bun:"version,notnull"`
	ClaimIDs         []string `bun:"claim_ids,array"`
	CitationKeys     []string `bun:"citation_keys,array"`
	IsExpertVerified bool     `bun:"is_expert_verified"`
	ExpertNotes      string   `bun:"expert_notes"`
}

func (m *ManuscriptBlockModel) ToDomain() domain.ManuscriptBlock {
	return domain.ManuscriptBlock{
		BlockID:          m.BlockID,
		ProjectID:        m.ProjectID.String(),
		SectionTitle:     m.SectionTitle,
		Content:          m.Content,
		OrderIndex:       m.OrderIndex,
		Version:          m.Version,
		ClaimIDs:         m.ClaimIDs,
		CitationKeys:     m.CitationKeys,
		IsExpertVerified: m.IsExpertVerified,
		ExpertNotes:      m.ExpertNotes,
	}
}

func NewManuscriptBlockModel(projectID uuid.UUID, b *domain.ManuscriptBlock) *ManuscriptBlockModel {
	return &ManuscriptBlockModel{
		BlockID:          b.BlockID,
		ProjectID:        projectID,
		SectionTitle:     b.SectionTitle,
		Content:          b.Content,
		OrderIndex:       b.OrderIndex,
		Version:          b.Version,
		ClaimIDs:         b.ClaimIDs,
		CitationKeys:     b.CitationKeys,
		IsExpertVerified: b.IsExpertVerified,
		ExpertNotes:      b.ExpertNotes,
	}
}

func (s *BunStore) SaveManuscriptBlock(ctx context.Context, block *domain.ManuscriptBlock) error {
	projectID, err := uuid.Parse(block.ProjectID)
	if err != nil {
		return domain.NewDomainError(domain.ErrCodeInvalidInput, "manuscript block project_id must be a valid UUID", err)
	}
	model := NewManuscriptBlockModel(projectID, block)
	_, err = s.db.NewInsert().Model(model).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save manuscript block: %w", err)
	}
	return nil
}

func (s *BunStore) NextManuscriptBlockVersion(ctx context.Context, blockID string, projectID uuid.UUID) (int, error) {
	var maxVersion sql.NullInt64
	err := s.db.NewSelect().
		Model((*ManuscriptBlockModel)(nil)).
		ColumnExpr("MAX(version)").
		Where("block_id = ? AND project_id = ?", blockID, projectID).
		Scan(ctx, &maxVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next manuscript block version: %w", err)
	}
	if !maxVersion.Valid {
		return 1, nil
	}
	return int(maxVersion.Int64) + 1, nil
}

func (s *BunStore) ListManuscriptBlocksByProject(ctx context.Context, projectID uuid.UUID) ([]domain.ManuscriptBlock, error) {
	var models []ManuscriptBlockModel
	err := s.db.NewSelect().Model(&models).
		Where("project_id = ?", projectID).
		Order("order_index ASC", "version DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list manuscript blocks: %w", err)
	}
	out := make([]domain.ManuscriptBlock, len(models))
	for i, m := range models {
		out[i] = m.ToDomain()
	}
	return out, nil
}

// ConflictReport

type ConflictReportModel struct {
	bun.BaseModel `bun:"table:conflict_reports,alias:cr"`

	ReportID            uuid.UUID                `bun:"report_id,pk"`
	ProjectID           uuid.UUID                `bun:"project_id,notnull"`
	JobID               uuid.UUID                `bun:"job_id,notnull"`
	DocHash             string                   `bun:"doc_hash"`
	RevisionCount       int                      `bun:"revision_count"`
	CriticStatus        domain.CriticStatus      `bun:"critic_status"`
	Deadlock            bool                     `bun:"deadlock"`
	DeadlockType        string                   `bun:"deadlock_type"`
	ConflictItems       []domain.ConflictItem    `bun:"conflict_items,type:jsonb"`
	ConflictHash        string                   `bun:"conflict_hash"`
	RecommendedNextStep domain.RecommendedNextStep `bun:"recommended_next_step"`
	CreatedAt           time.Time                `bun:"created_at,notnull"`
}

func (m *ConflictReportModel) ToDomain() *domain.ConflictReport {
	return &domain.ConflictReport{
		ReportID:            m.ReportID,
		ProjectID:           m.ProjectID,
		JobID:               m.JobID,
		DocHash:             m.DocHash,
		RevisionCount:       m.RevisionCount,
		CriticStatus:        m.CriticStatus,
		Deadlock:            m.Deadlock,
		DeadlockType:        m.DeadlockType,
		ConflictItems:       m.ConflictItems,
		ConflictHash:        m.ConflictHash,
		RecommendedNextStep: m.RecommendedNextStep,
		CreatedAt:           m.CreatedAt,
	}
}

func NewConflictReportModel(r *domain.ConflictReport) *ConflictReportModel {
	return &ConflictReportModel{
		ReportID:            r.ReportID,
		ProjectID:           r.ProjectID,
		JobID:               r.JobID,
		DocHash:             r.DocHash,
		RevisionCount:       r.RevisionCount,
		CriticStatus:        r.CriticStatus,
		Deadlock:            r.Deadlock,
		DeadlockType:        r.DeadlockType,
		ConflictItems:       r.ConflictItems,
		ConflictHash:        r.ConflictHash,
		RecommendedNextStep: r.RecommendedNextStep,
		CreatedAt:           r.CreatedAt,
	}
}

func (s *BunStore) SaveConflictReport(ctx context.Context, report *domain.ConflictReport) error {
	model := NewConflictReportModel(report)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (report_id) DO UPDATE").Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save conflict report: %w", err)
	}
	return nil
}

func (s *BunStore) GetConflictReport(ctx context.Context, id uuid.UUID) (*domain.ConflictReport, error) {
	model := new(ConflictReportModel)
	if err := s.db.NewSelect().Model(model).Where("report_id = ?", id).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to get conflict report: %w", err)
	}
	return model.ToDomain(), nil
}

// ReframingProposal

type ReframingProposalModel struct {
	bun.BaseModel `bun:"table:reframing_proposals,alias:rp"`

	ProposalID             uuid.UUID            `bun:"proposal_id,pk"`
	ProjectID              uuid.UUID            `bun:"project_id,notnull"`
	JobID                  uuid.UUID            `bun:"job_id,notnull"`
	DocHash                string               `bun:"doc_hash"`
	ConflictHash           string               `bun:"conflict_hash"`
	PivotType              domain.PivotType     `bun:"pivot_type"`
	ProposedPivot          string               `bun:"proposed_pivot"`
	ArchitecturalRationale string               `bun:"architectural_rationale"`
	EvidenceAnchors        []domain.SourceAnchor `bun:"evidence_anchors,type:jsonb"`
	AssumptionsChanged     []string             `bun:"assumptions_changed,array"`
	WhatStaysTrue          []string             `bun:"what_stays_true,array"`
	RequiresHumanSignoff   bool                 `bun:"requires_human_signoff"`
	CreatedAt              time.Time            `bun:"created_at,notnull"`
}

func (m *ReframingProposalModel) ToDomain() *domain.ReframingProposal {
	return &domain.ReframingProposal{
		ProposalID:             m.ProposalID,
		ProjectID:              m.ProjectID,
		JobID:                  m.JobID,
		DocHash:                m.DocHash,
		ConflictHash:           m.ConflictHash,
		PivotType:              m.PivotType,
		ProposedPivot:          m.ProposedPivot,
		ArchitecturalRationale: m.ArchitecturalRationale,
		EvidenceAnchors:        m.EvidenceAnchors,
		AssumptionsChanged:     m.AssumptionsChanged,
		WhatStaysTrue:          m.WhatStaysTrue,
		RequiresHumanSignoff:   m.RequiresHumanSignoff,
		CreatedAt:              m.CreatedAt,
	}
}

func NewReframingProposalModel(p *domain.ReframingProposal) *ReframingProposalModel {
	return &ReframingProposalModel{
		ProposalID:             p.ProposalID,
		ProjectID:              p.ProjectID,
		JobID:                  p.JobID,
		DocHash:                p.DocHash,
		ConflictHash:           p.ConflictHash,
		PivotType:              p.PivotType,
		ProposedPivot:          p.ProposedPivot,
		ArchitecturalRationale: p.ArchitecturalRationale,
		EvidenceAnchors:        p.EvidenceAnchors,
		AssumptionsChanged:     p.AssumptionsChanged,
		WhatStaysTrue:          p.WhatStaysTrue,
		RequiresHumanSignoff:   p.RequiresHumanSignoff,
		CreatedAt:              p.CreatedAt,
	}
}

func (s *BunStore) SaveReframingProposal(ctx context.Context, proposal *domain.ReframingProposal) error {
	model := NewReframingProposalModel(proposal)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (proposal_id) DO UPDATE").Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save reframing proposal: %w", err)
	}
	return nil
}

func (s *BunStore) GetReframingProposal(ctx context.Context, id uuid.UUID) (*domain.ReframingProposal, error) {
	model := new(ReframingProposalModel)
	if err := s.db.NewSelect().Model(model).Where("proposal_id = ?", id).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to get reframing proposal: %w", err)
	}
	return model.ToDomain(), nil
}

// Bibliography

// BibliographyKeyModel indexes the citation keys known to a project's
// bibliography collection, backing the Librarian Key-Guard's existence
// check without scanning the full bibliography document on every citation.
type BibliographyKeyModel struct {
	bun.BaseModel `bun:"table:bibliography_keys,alias:bk"`

	ID          int64     `bun:"id,pk,autoincrement"`
	ProjectID   uuid.UUID `bun:"project_id,notnull"`
	CitationKey string    `bun:"citation_key,notnull"`
}

func (s *BunStore) BibliographyKeyExists(ctx context.Context, projectID uuid.UUID, citationKey string) (bool, error) {
	count, err := s.db.NewSelect().
		Model((*BibliographyKeyModel)(nil)).
		Where("project_id = ? AND citation_key = ?", projectID, citationKey).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check bibliography key: %w", err)
	}
	return count > 0, nil
}

func (s *BunStore) ListBibliographyKeys(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	var models []BibliographyKeyModel
	err := s.db.NewSelect().Model(&models).Where("project_id = ?", projectID).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bibliography keys: %w", err)
	}
	keys := make([]string, len(models))
	for i, m := range models {
		keys[i] = m.CitationKey
	}
	return keys, nil
}

// Checkpoint

// CheckpointModel persists the WorkflowState blob keyed by thread_id between
// node transitions, so a suspended or crashed job can resume from its last
// checkpoint (spec §4.4, §9). The state is stored msgpack-encoded rather than
// jsonb: msgpack round-trips the state's numeric fields (confidence floats,
// bbox ints inside Triples) without the float/int ambiguity JSON re-decoding
// into map[string]any would introduce on reload. The rest of this store's
// collections stay jsonb, matching the teacher's convention for documents
// that are queried, not just replayed whole.
type CheckpointModel struct {
	bun.BaseModel `bun:"table:checkpoints,alias:ckpt"`

	ThreadID  string    `bun:"thread_id,pk"`
	State     []byte    `bun:"state,type:bytea,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (s *BunStore) SaveCheckpoint(ctx context.Context, threadID string, state domain.WorkflowState) error {
	encoded, err := msgpack.Marshal(&state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint state: %w", err)
	}
	model := &CheckpointModel{
		ThreadID:  threadID,
		State:     encoded,
		UpdatedAt: time.Now().UTC(),
	}
	_, err = s.db.NewInsert().Model(model).On("CONFLICT (thread_id) DO UPDATE").Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *BunStore) LoadCheckpoint(ctx context.Context, threadID string) (*domain.WorkflowState, error) {
	model := new(CheckpointModel)
	if err := s.db.NewSelect().Model(model).Where("thread_id = ?", threadID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var state domain.WorkflowState
	if err := msgpack.Unmarshal(model.State, &state); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint state: %w", err)
	}
	return &state, nil
}

// ========== Transaction support ==========

// BeginTransaction begins a new transaction
func (s *BunStore) BeginTransaction(ctx context.Context) (context.Context, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, err
	}
	// Store transaction in context
	return context.WithValue(ctx, txContextKey{}, tx), nil
}

type txContextKey struct{}

// CommitTransaction commits the current transaction
func (s *BunStore) CommitTransaction(ctx context.Context) error {
	tx, ok := ctx.Value(txContextKey{}).(bun.Tx)
	if !ok {
		return nil // No transaction to commit
	}
	return tx.Commit()
}

// RollbackTransaction rolls back the current transaction
func (s *BunStore) RollbackTransaction(ctx context.Context) error {
	tx, ok := ctx.Value(txContextKey{}).(bun.Tx)
	if !ok {
		return nil // No transaction to rollback
	}
	return tx.Rollback()
}

// ========== Health check ==========

// Ping checks if the storage is accessible
func (s *BunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the storage connection
func (s *BunStore) Close() error {
	return s.db.Close()
}
