package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service/team"
)

// maxAnalysisBody bounds POST /api/v1/analyses request bodies.
const maxAnalysisBody = 16 << 20

// AnalysisRequest is the body of POST /api/v1/analyses.
type AnalysisRequest struct {
	Files          []core.SourceFile `json:"files"`
	Objective      string            `json:"objective"`
	ProjectContext string            `json:"project_context,omitempty"`
	Specialties    []string          `json:"specialties,omitempty"`
}

// AnalysisResponse wraps a team result with its archive ID, when stored.
type AnalysisResponse struct {
	ReportID string `json:"report_id,omitempty"`
	*core.TeamAnalysisResult
}

func (s *Server) handleListSpecialties(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string][]core.Specialty{
		"specialties": s.coordinator.Registry().List(),
	})
}

func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req AnalysisRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalysisBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Objective) == "" {
		s.writeError(w, core.ErrValidation(core.CodeInvalidConfig, "objective is required"))
		return
	}

	result, err := s.coordinator.Coordinate(r.Context(), team.CoordinateRequest{
		Files:             req.Files,
		BusinessObjective: req.Objective,
		ProjectContext:    req.ProjectContext,
		Specialties:       req.Specialties,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := AnalysisResponse{TeamAnalysisResult: result}
	if s.archive != nil {
		id, err := s.archive.SaveAnalysis(r.Context(), result)
		if err != nil {
			// the analysis itself succeeded; report it unarchived
			s.logger.Error("archiving analysis", "run_id", result.RunID, "error", err)
		} else {
			resp.ReportID = id
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// ResilienceStatus is the body of GET /api/v1/resilience.
type ResilienceStatus struct {
	Breakers   map[string]service.BreakerStatus     `json:"breakers"`
	RateLimits map[string]service.RateLimiterStatus `json:"rate_limits"`
}

func (s *Server) handleResilience(w http.ResponseWriter, _ *http.Request) {
	status := ResilienceStatus{
		Breakers:   map[string]service.BreakerStatus{},
		RateLimits: map[string]service.RateLimiterStatus{},
	}
	if s.breakers != nil {
		status.Breakers = s.breakers.States()
	}
	if s.limiter != nil {
		status.RateLimits = s.limiter.Status()
	}
	s.respondJSON(w, http.StatusOK, status)
}
