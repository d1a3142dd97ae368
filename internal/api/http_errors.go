package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

type errorResponse struct {
	Error       string                  `json:"error"`
	Code        string                  `json:"code,omitempty"`
	Suggestions []string                `json:"suggestions,omitempty"`
	AgentErrors []core.AgentErrorResult `json:"agent_errors,omitempty"`
}

// writeError maps err onto a status code and JSON body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var failure *core.OrchestrationFailure
	if errors.As(err, &failure) {
		s.respondJSON(w, http.StatusBadGateway, errorResponse{
			Error:       failure.Error(),
			Code:        core.CodeAgentFailed,
			AgentErrors: failure.Errors,
		})
		return
	}

	status, ok := httpStatusForDomainError(err)
	if !ok {
		s.logger.Error("unhandled request error", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	body := errorResponse{Error: err.Error()}
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		body.Code = domErr.Code
		if sugg, ok := domErr.Details["suggestions"].([]string); ok {
			body.Suggestions = sugg
		}
	}
	s.respondJSON(w, status, body)
}

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatAuth:
		return http.StatusUnauthorized, true
	case core.ErrCatRateLimit:
		return http.StatusTooManyRequests, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	case core.ErrCatCancelled:
		return http.StatusServiceUnavailable, true
	case core.ErrCatCircuitOpen, core.ErrCatNetwork:
		return http.StatusBadGateway, true
	default:
		return http.StatusInternalServerError, true
	}
}
