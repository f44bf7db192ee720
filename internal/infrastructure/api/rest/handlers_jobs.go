package rest

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/smilemakc/vyasa/internal/application/jobmanager"
	"github.com/smilemakc/vyasa/internal/domain"
)

type submitWorkflowRequest struct {
	RawText             string   `json:"raw_text"`
	ProjectID           string   `json:"project_id"`
	ReferenceIDs        []string `json:"reference_ids,omitempty"`
	ForceRefreshContext bool     `json:"force_refresh_context,omitempty"`
	IdempotencyKey      string   `json:"idempotency_key,omitempty"`
}

type submitWorkflowResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// handleWorkflowSubmit implements POST /workflow/submit (spec §6.1): it
// creates a QUEUED job and, if a concurrency slot is free, dispatches it to
// the node graph runner on a background goroutine. When no slot is free the
// job is left QUEUED (spec §5's bounded per-job semaphore).
func (s *Server) handleWorkflowSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RawText == "" {
		writeErr(w, http.StatusBadRequest, "raw_text is required")
		return
	}
	if req.ProjectID == "" {
		writeErr(w, http.StatusBadRequest, "project_id is required")
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "project_id must be a valid uuid")
		return
	}
	if _, err := s.projects.Get(r.Context(), projectID); err != nil {
		writeErr(w, http.StatusNotFound, "unknown project_id")
		return
	}

	initialState := domain.WorkflowState{
		ProjectID:           projectID,
		RawText:             req.RawText,
		ReferenceIDs:        req.ReferenceIDs,
		ForceRefreshContext: req.ForceRefreshContext,
		Phase:               domain.PhaseIngesting,
	}

	record, err := s.jobs.CreateJob(r.Context(), projectID, initialState, req.IdempotencyKey, uuid.Nil, "", nil)
	if err != nil {
		writeErr(w, statusForDomainErr(err), err.Error())
		return
	}
	s.dispatch(record.Job.ID())
	writeJSON(w, http.StatusAccepted, submitWorkflowResponse{JobID: record.Job.ID().String(), Status: string(record.Job.Status())})
}

type workflowStatusResponse struct {
	JobID       string               `json:"job_id"`
	Status      domain.JobStatus     `json:"status"`
	ProgressPct float64              `json:"progress_pct"`
	CurrentStep string               `json:"current_step"`
	CreatedAt   string               `json:"created_at"`
	StartedAt   *string              `json:"started_at,omitempty"`
	CompletedAt *string              `json:"completed_at,omitempty"`
	Result      *domain.WorkflowState `json:"result,omitempty"`
}

// handleWorkflowStatus implements GET /workflow/status/<id>.
func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathUUID(w, r, "id")
	if !ok {
		return
	}
	record, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}

	resp := workflowStatusResponse{
		JobID:       record.Job.ID().String(),
		Status:      record.Job.Status(),
		ProgressPct: record.Job.Progress(),
		CurrentStep: record.Job.CurrentStep(),
		CreatedAt:   record.Job.CreatedAt().Format(timeFormat),
	}
	if t := record.Job.StartedAt(); t != nil {
		formatted := t.Format(timeFormat)
		resp.StartedAt = &formatted
	}
	if t := record.Job.CompletedAt(); t != nil {
		formatted := t.Format(timeFormat)
		resp.CompletedAt = &formatted
	}
	if record.Job.Status().IsTerminal() {
		resp.Result = record.Job.Result()
	}
	writeJSON(w, http.StatusOK, resp)
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// handleWorkflowResult implements GET /workflow/result/<id>.
func (s *Server) handleWorkflowResult(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathUUID(w, r, "id")
	if !ok {
		return
	}
	record, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}

	switch record.Job.Status() {
	case domain.JobStatusQueued, domain.JobStatusRunning, domain.JobStatusNeedsSignoff:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":       record.Job.ID().String(),
			"status":       record.Job.Status(),
			"progress_pct": record.Job.Progress(),
		})
	case domain.JobStatusFailed:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"job_id": record.Job.ID().String(),
			"status": record.Job.Status(),
			"error":  record.Job.ErrorMessage(),
		})
	default:
		var result domain.WorkflowState
		if record.Job.Result() != nil {
			result = *record.Job.Result()
		}
		result = domain.NormalizeExtractedJSON(result)
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id": record.Job.ID().String(),
			"status": record.Job.Status(),
			"result": map[string]any{
				"extracted_json": map[string]any{"triples": result.Triples},
			},
		})
	}
}

type reprocessRequest struct {
	ReferenceIDs    []string `json:"reference_ids"`
	ReprocessReason string   `json:"reprocess_reason,omitempty"`
}

// handleJobReprocess implements POST /api/jobs/<id>/reprocess.
func (s *Server) handleJobReprocess(w http.ResponseWriter, r *http.Request) {
	parentID, ok := parsePathUUID(w, r, "id")
	if !ok {
		return
	}
	parent, err := s.jobs.GetJob(r.Context(), parentID)
	if err != nil {
		writeErr(w, http.StatusNotFound, "parent job not found")
		return
	}

	var req reprocessRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	initialState := parent.InitialState
	initialState.ReferenceIDs = req.ReferenceIDs
	initialState.Phase = domain.PhaseIngesting

	record, err := s.jobs.CreateJob(r.Context(), parent.Job.ProjectID(), initialState, "", parentID, req.ReprocessReason, req.ReferenceIDs)
	if err != nil {
		writeErr(w, statusForDomainErr(err), err.Error())
		return
	}
	s.dispatch(record.Job.ID())
	writeJSON(w, http.StatusAccepted, submitWorkflowResponse{JobID: record.Job.ID().String(), Status: string(record.Job.Status())})
}

// handleJobDiff implements GET /api/jobs/<id>/diff?against=<id2>
// (SPEC_FULL.md SUPPLEMENTED FEATURES #1).
func (s *Server) handleJobDiff(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathUUID(w, r, "id")
	if !ok {
		return
	}
	against := r.URL.Query().Get("against")
	if against == "" {
		writeErr(w, http.StatusBadRequest, "against is required")
		return
	}
	againstID, err := uuid.Parse(against)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "against must be a valid uuid")
		return
	}

	from, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	other, err := s.jobs.GetJob(r.Context(), againstID)
	if err != nil {
		writeErr(w, http.StatusNotFound, "against job not found")
		return
	}

	deltas, details := jobmanager.Diff(from, other)
	writeJSON(w, http.StatusOK, map[string]any{"deltas": deltas, "details": details})
}

// handleJobConflictReport implements GET /api/jobs/<id>/conflict-report.
func (s *Server) handleJobConflictReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathUUID(w, r, "id")
	if !ok {
		return
	}
	record, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	if record.Job.ConflictReportID() == uuid.Nil {
		writeErr(w, http.StatusNotFound, "no conflict report attached to this job")
		return
	}
	report, err := s.conflicts.Get(r.Context(), record.Job.ConflictReportID())
	if err != nil {
		writeErr(w, http.StatusNotFound, "conflict report not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type resumeRequest struct {
	Decision string `json:"decision"`
}

// handleJobResume implements the NEEDS_SIGNOFF -> RUNNING transition an
// operator drives after reviewing a ReframingProposal.
func (s *Server) handleJobResume(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathUUID(w, r, "id")
	if !ok {
		return
	}
	var req resumeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	var (
		record *domain.JobRecord
		err    error
	)
	if s.runner != nil {
		record, err = s.runner.ResumeDecision(r.Context(), id, req.Decision)
	} else {
		record, err = s.jobs.Resume(r.Context(), id, req.Decision)
	}
	if err != nil {
		writeErr(w, statusForDomainErr(err), err.Error())
		return
	}
	if record.Job.Status() == domain.JobStatusRunning {
		s.dispatchResume(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": record.Job.ID().String(), "status": record.Job.Status()})
}

// handleIngestPDF implements POST /ingest/pdf (spec §6.1). The Vision-backed
// OCR/markdown extraction pipeline is an out-of-process collaborator
// (expertrouter, not yet wired into this handler); until that wiring lands
// this endpoint reports itself unavailable rather than silently accepting
// uploads it cannot process.
func (s *Server) handleIngestPDF(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	if header.Header.Get("Content-Type") != "application/pdf" {
		writeErr(w, http.StatusBadRequest, "file must be application/pdf")
		return
	}
	writeErr(w, http.StatusServiceUnavailable, "pdf ingestion pipeline not configured")
}
