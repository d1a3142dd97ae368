package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
)

// SynthesisConfig tunes recommendation merging and summary prompts.
type SynthesisConfig struct {
	DedupThreshold  float64 // Title similarity at which two recommendations merge
	SummaryFindings int     // Findings included in the summary prompt
}

// DefaultSynthesisConfig returns the defaults.
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{
		DedupThreshold:  0.6,
		SummaryFindings: 10,
	}
}

// Synthesizer merges recommendations and assembles the executive summary.
// The structure and ranking are computed here; only the prose is delegated
// to the completion service.
type Synthesizer struct {
	cfg       SynthesisConfig
	renderer  *PromptRenderer
	completer core.Completer
	logger    *logging.Logger
}

// NewSynthesizer creates a synthesizer. A nil completer always produces the
// built-in text summary.
func NewSynthesizer(cfg SynthesisConfig, renderer *PromptRenderer, completer core.Completer, logger *logging.Logger) *Synthesizer {
	def := DefaultSynthesisConfig()
	if cfg.DedupThreshold <= 0 || cfg.DedupThreshold > 1 {
		cfg.DedupThreshold = def.DedupThreshold
	}
	if cfg.SummaryFindings <= 0 {
		cfg.SummaryFindings = def.SummaryFindings
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Synthesizer{cfg: cfg, renderer: renderer, completer: completer, logger: logger}
}

// MergeRecommendations de-duplicates the recommendations of all analyses and
// ranks them by impact times urgency.
func (s *Synthesizer) MergeRecommendations(analyses []core.AgentAnalysis) []core.RankedRecommendation {
	var merged []core.RankedRecommendation
	for _, a := range analyses {
		for _, rec := range a.Recommendations {
			rec.ImpactScore = clampImpact(rec.ImpactScore)
			if strings.TrimSpace(rec.Title) == "" {
				continue
			}
			if i := s.findSimilar(merged, rec.Title); i >= 0 {
				m := &merged[i]
				m.Sources = appendUnique(m.Sources, a.AgentName)
				if rec.ImpactScore > m.ImpactScore {
					m.ImpactScore = rec.ImpactScore
				}
				if rec.Urgency > m.Urgency {
					m.Urgency = rec.Urgency
				}
				if len(rec.Description) > len(m.Description) {
					m.Description = rec.Description
				}
				continue
			}
			merged = append(merged, core.RankedRecommendation{
				Recommendation: rec,
				Sources:        []string{a.AgentName},
			})
		}
	}

	for i := range merged {
		merged[i].Score = float64(merged[i].ImpactScore * urgencyWeight(merged[i].Urgency))
	}
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.Sources) != len(b.Sources) {
			return len(a.Sources) > len(b.Sources)
		}
		return a.Title < b.Title
	})
	for i := range merged {
		merged[i].Rank = i + 1
	}
	return merged
}

func (s *Synthesizer) findSimilar(merged []core.RankedRecommendation, title string) int {
	best, bestScore := -1, 0.0
	for i := range merged {
		score := TextSimilarity(merged[i].Title, title)
		if score >= s.cfg.DedupThreshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// SummaryInput is everything the executive summary is built from.
type SummaryInput struct {
	BusinessObjective string
	Analyses          []core.AgentAnalysis
	Findings          []core.ResolvedFinding
	Recommendations   []core.RankedRecommendation
	Conflicts         []core.ConflictRecord
	Errors            []core.AgentErrorResult
}

// Summarize asks the completion service for prose and falls back to a
// deterministic text summary when it is unavailable.
func (s *Synthesizer) Summarize(ctx context.Context, in SummaryInput) string {
	if s.completer == nil || s.renderer == nil {
		return FallbackSummary(in)
	}

	specialties := make([]core.Specialty, 0, len(in.Analyses))
	for _, a := range in.Analyses {
		specialties = append(specialties, a.Specialty)
	}
	findings := in.Findings
	if len(findings) > s.cfg.SummaryFindings {
		findings = findings[:s.cfg.SummaryFindings]
	}

	prompt, err := s.renderer.RenderExecutiveSummary(SummaryPromptParams{
		BusinessObjective: in.BusinessObjective,
		Specialties:       specialties,
		Findings:          findings,
		Recommendations:   in.Recommendations,
		ConflictCount:     len(in.Conflicts),
		Errors:            in.Errors,
	})
	if err != nil {
		s.logger.Warn("rendering summary prompt failed, using text summary", "error", err)
		return FallbackSummary(in)
	}

	prose, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		s.logger.Warn("summary completion failed, using text summary", "error", err)
		return FallbackSummary(in)
	}
	if prose = strings.TrimSpace(prose); prose == "" {
		s.logger.Warn("summary completion was empty, using text summary")
		return FallbackSummary(in)
	}
	return prose
}

// FallbackSummary renders a plain-text summary from the structured result.
func FallbackSummary(in SummaryInput) string {
	var b strings.Builder

	names := make([]string, 0, len(in.Analyses))
	for _, a := range in.Analyses {
		names = append(names, string(a.Specialty))
	}
	if in.BusinessObjective != "" {
		fmt.Fprintf(&b, "Objective: %s. ", strings.TrimSpace(in.BusinessObjective))
	}
	fmt.Fprintf(&b, "%d specialist(s) reported (%s) with %d finding(s)",
		len(in.Analyses), strings.Join(names, ", "), len(in.Findings))

	counts := make(map[core.Severity]int)
	for _, f := range in.Findings {
		counts[f.Finding.Severity]++
	}
	var parts []string
	for i := len(core.AllSeverities) - 1; i >= 0; i-- {
		sev := core.AllSeverities[i]
		if counts[sev] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[sev], strings.ToLower(sev.String())))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(parts, ", "))
	}
	b.WriteString(".")

	if len(in.Conflicts) > 0 {
		fmt.Fprintf(&b, " %d contradiction(s) between specialists were resolved.", len(in.Conflicts))
	}
	if len(in.Findings) > 0 {
		top := in.Findings[0]
		fmt.Fprintf(&b, " Most severe: %s (%s) at %s.", top.Finding.Category, top.Finding.Severity, top.Finding.Location)
	}
	if len(in.Recommendations) > 0 {
		titles := make([]string, 0, 3)
		for i, r := range in.Recommendations {
			if i == 3 {
				break
			}
			titles = append(titles, r.Title)
		}
		fmt.Fprintf(&b, " Priority actions: %s.", strings.Join(titles, "; "))
	}
	if len(in.Errors) > 0 {
		failed := make([]string, 0, len(in.Errors))
		for _, e := range in.Errors {
			failed = append(failed, fmt.Sprintf("%s (%s)", e.Specialty, e.ErrorCode))
		}
		fmt.Fprintf(&b, " Not covered: %s.", strings.Join(failed, ", "))
	}
	return b.String()
}

func clampImpact(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

// urgencyWeight maps urgency to its ordinal; unknown counts as LOW.
func urgencyWeight(s core.Severity) int {
	if !s.Valid() {
		return int(core.SeverityLow)
	}
	return int(s)
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
