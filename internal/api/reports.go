package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/adapters/store"
)

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.respondError(w, http.StatusNotFound, "report archive not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := s.archive.List(r.Context(), store.Kind(r.URL.Query().Get("kind")), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	s.respondJSON(w, http.StatusOK, map[string][]store.Record{"reports": records})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.respondError(w, http.StatusNotFound, "report archive not configured")
		return
	}
	id := chi.URLParam(r, "reportID")

	var payload json.RawMessage
	rec, err := s.archive.Get(r.Context(), id, &payload)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "report not found: "+id)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct {
		store.Record
		Report json.RawMessage `json:"report"`
	}{rec, payload})
}
