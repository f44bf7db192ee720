package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smilemakc/vyasa/internal/application/jobmanager"
	"github.com/smilemakc/vyasa/internal/application/pipeline"
	"github.com/smilemakc/vyasa/internal/application/projecthub"
	"github.com/smilemakc/vyasa/internal/domain"
)

// ServerConfig toggles the optional middleware layered onto the mux (spec
// §7 "the outer layer owns the HTTP surface").
type ServerConfig struct {
	EnableCORS      bool
	EnableRateLimit bool
	RateLimitMax    int
	RateLimitWindow time.Duration

	// JWTSecret, when set, requires a valid bearer token on every route
	// except preflight OPTIONS requests. Empty leaves the surface open,
	// matching the teacher's "no keys configured" default.
	JWTSecret string
}

// DefaultServerConfig mirrors the teacher's defaults: CORS on, rate
// limiting off, no API keys (open until an operator configures them).
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		EnableCORS:      true,
		EnableRateLimit: false,
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
	}
}

// Server is the HTTP surface over the Job Store & Manager, the Project
// store, and the claim/conflict-report/research-metrics read paths named
// in spec §6.1.
type Server struct {
	jobs      *jobmanager.Manager
	projects  domain.ProjectRepository
	claims    domain.ClaimRepository
	conflicts domain.ConflictReportRepository
	hub       *projecthub.Hub
	metrics   *projecthub.MetricsCollector
	runner    *pipeline.Runner

	mux    *http.ServeMux
	logger *zerolog.Logger
	cfg    ServerConfig
}

// NewServer wires the mux, handlers, and middleware chain. runner may be nil
// in tests that only exercise job bookkeeping; handlers fall back to leaving
// a job QUEUED when no runner is configured, matching the pre-pipeline
// behavior.
func NewServer(
	jobs *jobmanager.Manager,
	projects domain.ProjectRepository,
	claims domain.ClaimRepository,
	conflicts domain.ConflictReportRepository,
	blocks domain.ManuscriptBlockRepository,
	runner *pipeline.Runner,
	logger *zerolog.Logger,
	cfg ServerConfig,
) *Server {
	s := &Server{
		jobs:      jobs,
		projects:  projects,
		claims:    claims,
		conflicts: conflicts,
		hub:       projecthub.New(projects),
		metrics:   projecthub.NewMetricsCollector(claims, blocks, conflicts),
		runner:    runner,
		mux:       http.NewServeMux(),
		logger:    logger,
		cfg:       cfg,
	}
	s.routes()
	return s
}

// dispatch hands jobID off to the node graph runner on a background
// goroutine if a concurrency slot is free (spec §5's per-job semaphore,
// capacity 2, checked via jobmanager.Manager.AcquireJobSlot); otherwise the
// job is left QUEUED and nothing dispatches it again when a slot is released.
func (s *Server) dispatch(jobID uuid.UUID) {
	if s.runner == nil || !s.jobs.AcquireJobSlot() {
		return
	}
	go func() {
		defer s.jobs.ReleaseJobSlot()
		if err := s.runner.Execute(context.Background(), jobID); err != nil {
			s.logger.Error().Str("job_id", jobID.String()).Err(err).Msg("workflow execution failed")
		}
	}()
}

// dispatchResume is dispatch's counterpart for the NEEDS_SIGNOFF ->
// RUNNING transition (spec §4.4's "on resume, replays from last
// checkpoint"). The caller must have already flipped the job's status via
// jobmanager.Manager.Resume (handleJobResume does, so it can respond with
// the new status immediately); this only continues node execution.
func (s *Server) dispatchResume(jobID uuid.UUID) {
	if s.runner == nil || !s.jobs.AcquireJobSlot() {
		return
	}
	go func() {
		defer s.jobs.ReleaseJobSlot()
		if err := s.runner.ContinueFromCheckpoint(context.Background(), jobID); err != nil {
			s.logger.Error().Str("job_id", jobID.String()).Err(err).Msg("workflow resume failed")
		}
	}()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /workflow/submit", s.handleWorkflowSubmit)
	s.mux.HandleFunc("POST /ingest/pdf", s.handleIngestPDF)
	s.mux.HandleFunc("GET /workflow/status/{id}", s.handleWorkflowStatus)
	s.mux.HandleFunc("GET /workflow/result/{id}", s.handleWorkflowResult)

	s.mux.HandleFunc("POST /api/jobs/{id}/reprocess", s.handleJobReprocess)
	s.mux.HandleFunc("GET /api/jobs/{id}/diff", s.handleJobDiff)
	s.mux.HandleFunc("GET /api/jobs/{id}/conflict-report", s.handleJobConflictReport)
	s.mux.HandleFunc("POST /api/jobs/{id}/resume", s.handleJobResume)

	s.mux.HandleFunc("GET /api/claims/{claim_id}/anchor", s.handleClaimAnchor)

	s.mux.HandleFunc("GET /api/projects", s.handleListProjects)
	s.mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	s.mux.HandleFunc("GET /api/projects/hub", s.handleProjectHub)
	s.mux.HandleFunc("GET /api/projects/templates", s.handleProjectTemplates)
	s.mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	s.mux.HandleFunc("PATCH /api/projects/{id}/rigor", s.handleSetProjectRigor)
	s.mux.HandleFunc("GET /api/projects/{id}/metrics", s.handleProjectMetrics)
}

// ServeHTTP layers the shared middleware chain over the mux, the same
// ordering the teacher's server used: recovery outermost, then logging,
// then (optionally) CORS / rate limiting / auth, then content-type, then
// routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var handler http.Handler = s.mux

	handler = contentTypeMiddleware(handler)

	if s.cfg.JWTSecret != "" {
		handler = newAuthMiddleware(s.cfg.JWTSecret).middleware(handler)
	}
	if s.cfg.EnableRateLimit {
		handler = newRateLimiter(s.cfg.RateLimitMax, s.cfg.RateLimitWindow).middleware(handler)
	}
	if s.cfg.EnableCORS {
		handler = corsMiddleware(handler)
	}
	handler = loggingMiddleware(s.logger, handler)
	handler = recoveryMiddleware(s.logger, handler)

	handler.ServeHTTP(w, r)
}
