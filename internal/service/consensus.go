package service

import (
	"sort"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
)

// ConsensusConfig tunes peer review.
type ConsensusConfig struct {
	// CategorySimilarity is the token similarity at which two categories are
	// considered the same issue.
	CategorySimilarity float64
	// ConflictPenalty multiplies the confidence of a finding that won a
	// conflict only on severity.
	ConflictPenalty float64
	// CategoryOwners maps category keywords to the specialty that owns them.
	CategoryOwners map[string]core.Specialty
}

// DefaultConsensusConfig returns the defaults.
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		CategorySimilarity: 0.5,
		ConflictPenalty:    0.75,
		CategoryOwners:     DefaultCategoryOwners(),
	}
}

// ReviewResult is the outcome of peer review.
type ReviewResult struct {
	Findings  []core.ResolvedFinding
	Conflicts []core.ConflictRecord
}

// ConsensusEngine runs peer review over the successful analyses of one
// orchestration: evidence validation, consensus weighting, then conflict
// resolution.
type ConsensusEngine struct {
	cfg      ConsensusConfig
	resolver *ConflictResolver
	logger   *logging.Logger
}

// NewConsensusEngine creates an engine. Zero config values fall back to
// defaults.
func NewConsensusEngine(cfg ConsensusConfig, logger *logging.Logger) *ConsensusEngine {
	def := DefaultConsensusConfig()
	if cfg.CategorySimilarity <= 0 {
		cfg.CategorySimilarity = def.CategorySimilarity
	}
	if cfg.ConflictPenalty <= 0 || cfg.ConflictPenalty > 1 {
		cfg.ConflictPenalty = def.ConflictPenalty
	}
	if len(cfg.CategoryOwners) == 0 {
		cfg.CategoryOwners = def.CategoryOwners
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ConsensusEngine{
		cfg:      cfg,
		resolver: NewConflictResolver(cfg.CategoryOwners, cfg.ConflictPenalty),
		logger:   logger,
	}
}

// Review validates, weights and reconciles every finding of analyses against
// the submitted files.
func (e *ConsensusEngine) Review(analyses []core.AgentAnalysis, files []core.SourceFile) ReviewResult {
	validator := NewEvidenceValidator(files)

	var totalConfidence float64
	for i := range analyses {
		totalConfidence += analyses[i].EffectiveConfidence()
	}

	var findings []core.ResolvedFinding
	for i := range analyses {
		a := &analyses[i]
		for _, f := range a.KeyFindings {
			status, reasons := validator.Validate(f)
			findings = append(findings, core.ResolvedFinding{
				Finding:         f,
				SourceAgent:     a.AgentName,
				SourceSpecialty: a.Specialty,
				Confidence:      a.EffectiveConfidence(),
				Status:          status,
				StatusReasons:   reasons,
			})
		}
	}

	e.weigh(findings, len(analyses), totalConfidence)

	conflicts, losers := e.resolver.Resolve(findings, e.detect(findings))
	if len(conflicts) > 0 {
		e.logger.Info("resolved contradictions between specialists", "conflicts", len(conflicts))
	}

	kept := make([]core.ResolvedFinding, 0, len(findings)-len(losers))
	for i, f := range findings {
		if !losers[i] {
			kept = append(kept, f)
		}
	}
	SortResolvedFindings(kept)

	return ReviewResult{Findings: kept, Conflicts: conflicts}
}

// weigh sets ConsensusWeight, Confidence and CorroboratedBy. Each other agent
// counts once, by its own confidence, when any of its findings corroborates.
func (e *ConsensusEngine) weigh(findings []core.ResolvedFinding, agents int, total float64) {
	for i := range findings {
		f := &findings[i]
		own := f.Confidence

		corroborators := make(map[string]float64)
		for j := range findings {
			o := &findings[j]
			if o.SourceAgent == f.SourceAgent {
				continue
			}
			if _, seen := corroborators[o.SourceAgent]; seen {
				continue
			}
			if e.corroborates(f.Finding, o.Finding) {
				corroborators[o.SourceAgent] = o.Confidence
			}
		}

		sum := own
		names := make([]string, 0, len(corroborators))
		for name, c := range corroborators {
			sum += c
			names = append(names, name)
		}
		sort.Strings(names)

		weight := 100.0
		if total > 0 {
			weight = clamp(sum/total*100, 0, 100)
		}
		f.ConsensusWeight = weight
		f.Confidence = own * weight / 100
		f.CorroboratedBy = names
		if agents > 1 && len(names) == 0 {
			f.StatusReasons = append(f.StatusReasons, "no corroboration from other specialists")
		}
	}
}

// corroborates reports whether b supports a: comparable severity, similar
// category and the same location.
func (e *ConsensusEngine) corroborates(a, b core.Finding) bool {
	if core.SeverityDistance(a.Severity, b.Severity) > 1 {
		return false
	}
	if CategorySimilarity(a.Category, b.Category) < e.cfg.CategorySimilarity {
		return false
	}
	return SameLocation(a.Loc(), b.Loc())
}

// SameLocation compares two parsed locations. Lines are compared only when
// both carry one.
func SameLocation(a, b core.Location) bool {
	if a.File == "" || a.File != b.File {
		return false
	}
	if a.HasLine() && b.HasLine() {
		return a.Line == b.Line
	}
	return true
}

// SamePreciseLocation is SameLocation that also requires both sides to agree
// on whether a line is given. Severity contradictions use it so a file-level
// remark never contests a line-level finding.
func SamePreciseLocation(a, b core.Location) bool {
	return a.HasLine() == b.HasLine() && SameLocation(a, b)
}

// SortResolvedFindings orders findings by severity, then consensus, then
// location, agent and category.
func SortResolvedFindings(fs []core.ResolvedFinding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Finding.Severity != b.Finding.Severity {
			return a.Finding.Severity > b.Finding.Severity
		}
		if a.ConsensusWeight != b.ConsensusWeight {
			return a.ConsensusWeight > b.ConsensusWeight
		}
		if a.Finding.Location != b.Finding.Location {
			return a.Finding.Location < b.Finding.Location
		}
		if a.SourceAgent != b.SourceAgent {
			return a.SourceAgent < b.SourceAgent
		}
		return a.Finding.Category < b.Finding.Category
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
