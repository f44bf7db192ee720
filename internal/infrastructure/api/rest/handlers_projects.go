package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/smilemakc/vyasa/internal/application/projecthub"
	"github.com/smilemakc/vyasa/internal/domain"
)

// handleListProjects implements GET /api/projects.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.List(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

type createProjectRequest struct {
	Title             string            `json:"title"`
	Thesis            string            `json:"thesis"`
	ResearchQuestions []string          `json:"research_questions"`
	RigorLevel        domain.RigorLevel `json:"rigor_level"`
}

// handleCreateProject implements POST /api/projects.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	project, err := domain.NewProject(req.Title, req.Thesis, req.ResearchQuestions, req.RigorLevel)
	if err != nil {
		writeErr(w, statusForDomainErr(err), err.Error())
		return
	}
	if err := s.projects.Save(r.Context(), project); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// handleGetProject implements GET /api/projects/<id>.
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathUUID(w, r, "id")
	if !ok {
		return
	}
	project, err := s.projects.Get(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

type setRigorRequest struct {
	RigorLevel domain.RigorLevel `json:"rigor_level"`
}

// handleSetProjectRigor implements PATCH /api/projects/<id>/rigor.
func (s *Server) handleSetProjectRigor(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathUUID(w, r, "id")
	if !ok {
		return
	}
	var req setRigorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	project, err := s.projects.Get(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "project not found")
		return
	}
	if err := project.SetRigorLevel(req.RigorLevel); err != nil {
		writeErr(w, statusForDomainErr(err), err.Error())
		return
	}
	if err := s.projects.Save(r.Context(), project); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// handleProjectTemplates implements GET /api/projects/templates.
func (s *Server) handleProjectTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, projecthub.ListTemplates())
}

// handleProjectHub implements GET /api/projects/hub.
func (s *Server) handleProjectHub(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := projecthub.Filter{
		Query: q.Get("query"),
		Rigor: domain.RigorLevel(q.Get("rigor")),
	}
	if tags := q.Get("tags"); tags != "" {
		filter.Tags = splitCSV(tags)
	}
	if status := q.Get("status"); status == "archived" {
		archived := true
		filter.Archived = &archived
	} else if status == "active" {
		archived := false
		filter.Archived = &archived
	}
	if from := q.Get("from_date"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			filter.FromDate = &t
		}
	}
	if to := q.Get("to_date"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			filter.ToDate = &t
		}
	}

	groups, err := s.hub.List(r.Context(), filter)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// handleProjectMetrics implements GET /api/projects/<id>/metrics
// (SPEC_FULL.md SUPPLEMENTED FEATURES #3).
func (s *Server) handleProjectMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.projects.Get(r.Context(), id); err != nil {
		writeErr(w, http.StatusNotFound, "project not found")
		return
	}
	ingestionID := r.URL.Query().Get("ingestion_id")
	metrics, err := s.metrics.Compute(r.Context(), id, ingestionID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
