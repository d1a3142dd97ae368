package team

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service"
)

// LLMSpecialist analyzes code by prompting a completion service with the
// focus areas of one specialty and parsing the JSON it returns.
type LLMSpecialist struct {
	specialty  core.Specialty
	name       string
	focusAreas []string
	completer  core.Completer
	prompts    *service.PromptRenderer
	logger     *logging.Logger
}

// SpecialistOption configures an LLMSpecialist.
type SpecialistOption func(*LLMSpecialist)

// WithAgentName overrides the default "<Specialty> Specialist" name.
func WithAgentName(name string) SpecialistOption {
	return func(s *LLMSpecialist) {
		s.name = name
	}
}

// WithFocusAreas overrides the built-in focus areas.
func WithFocusAreas(areas ...string) SpecialistOption {
	return func(s *LLMSpecialist) {
		s.focusAreas = areas
	}
}

// WithSpecialistLogger sets the logger.
func WithSpecialistLogger(l *logging.Logger) SpecialistOption {
	return func(s *LLMSpecialist) {
		s.logger = l
	}
}

// NewLLMSpecialist creates a specialist backed by completer.
func NewLLMSpecialist(specialty core.Specialty, completer core.Completer, prompts *service.PromptRenderer, opts ...SpecialistOption) *LLMSpecialist {
	s := &LLMSpecialist{
		specialty: specialty,
		name:      string(specialty) + " Specialist",
		completer: completer,
		prompts:   prompts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if len(s.focusAreas) == 0 {
		s.focusAreas = service.FocusAreas(specialty)
	}
	return s
}

// Specialty implements core.Specialist.
func (s *LLMSpecialist) Specialty() core.Specialty {
	return s.specialty
}

// Name implements core.Specialist.
func (s *LLMSpecialist) Name() string {
	return s.name
}

// Analyze implements core.Specialist.
func (s *LLMSpecialist) Analyze(ctx context.Context, req core.AnalysisRequest) (*core.AgentAnalysis, error) {
	if len(req.Files) == 0 {
		return nil, core.ErrValidation(core.CodeNoFiles, "no files submitted for analysis")
	}

	prompt, err := s.prompts.RenderSpecialist(service.SpecialistPromptParams{
		Specialty:         s.specialty,
		FocusAreas:        s.focusAreas,
		BusinessObjective: req.BusinessObjective,
		ProjectContext:    req.ProjectContext,
		Files:             req.Files,
	})
	if err != nil {
		return nil, core.ErrExecution(core.CodeAgentFailed, "rendering specialist prompt").WithCause(err)
	}

	start := time.Now()
	output, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", s.name, err)
	}

	analysis, err := ParseAnalysis(output)
	if err != nil {
		s.logger.Warn("specialist returned unusable output",
			"agent", s.name,
			"bytes", len(output),
			"error", err,
		)
		return nil, err
	}

	analysis.Specialty = s.specialty
	analysis.AgentName = s.name
	analysis.Duration = time.Since(start)
	if analysis.BusinessImpact == "" {
		analysis.BusinessImpact = fmt.Sprintf("%s review reported %d finding(s).", s.specialty, len(analysis.KeyFindings))
	}
	return analysis, nil
}

// CompleterFactory returns the completion client for a specialty.
type CompleterFactory func(specialty core.Specialty) (core.Completer, error)

// RegisterDefaults registers an LLMSpecialist for every built-in specialty,
// plus any extra ones named in extra.
func RegisterDefaults(r *Registry, prompts *service.PromptRenderer, completerFor CompleterFactory, logger *logging.Logger, extra ...core.Specialty) error {
	specialties := append(append([]core.Specialty(nil), core.BuiltinSpecialties...), extra...)
	for _, sp := range specialties {
		if strings.TrimSpace(string(sp)) == "" {
			continue
		}
		c, err := completerFor(sp)
		if err != nil {
			return fmt.Errorf("completer for %s: %w", sp, err)
		}
		r.Register(sp, NewLLMSpecialist(sp, c, prompts, WithSpecialistLogger(logger)))
	}
	return nil
}
