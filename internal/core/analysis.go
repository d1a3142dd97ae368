package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Specialty names one independent analysis variant.
type Specialty string

// Built-in specialties. Additional ones can be registered at runtime.
const (
	SpecialtySecurity        Specialty = "Security"
	SpecialtyPerformance     Specialty = "Performance"
	SpecialtyArchitecture    Specialty = "Architecture"
	SpecialtyMaintainability Specialty = "Maintainability"
	SpecialtyReliability     Specialty = "Reliability"
)

// BuiltinSpecialties lists the specialties registered by default.
var BuiltinSpecialties = []Specialty{
	SpecialtyArchitecture,
	SpecialtyMaintainability,
	SpecialtyPerformance,
	SpecialtyReliability,
	SpecialtySecurity,
}

// Key returns the lower-cased specialty, used for lookups and rate-limit keys.
func (s Specialty) Key() string {
	return strings.ToLower(strings.TrimSpace(string(s)))
}

// Recommendation is an agent's suggested action.
type Recommendation struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	ImpactScore int      `json:"impact_score"` // 1..10
	Urgency     Severity `json:"urgency"`
}

// AgentAnalysis is one specialist's output for one orchestration call.
type AgentAnalysis struct {
	Specialty       Specialty        `json:"specialty"`
	AgentName       string           `json:"agent_name"`
	KeyFindings     []Finding        `json:"key_findings"`
	BusinessImpact  string           `json:"business_impact"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Confidence      float64          `json:"confidence"` // 0..1
	Duration        time.Duration    `json:"duration"`
}

// MinConfidence is the lowest confidence a reported value is clamped to, so
// a reported zero stays distinguishable from an unset field.
const MinConfidence = 0.01

// EffectiveConfidence returns the agent confidence. Zero means the field was
// never set and counts as full confidence.
func (a *AgentAnalysis) EffectiveConfidence() float64 {
	switch {
	case a.Confidence == 0, a.Confidence > 1:
		return 1
	case a.Confidence < MinConfidence:
		return MinConfidence
	}
	return a.Confidence
}

// AgentErrorResult is the actionable description of an agent that failed
// irrecoverably during one orchestration pass.
type AgentErrorResult struct {
	Specialty         Specialty `json:"specialty"`
	ErrorCode         string    `json:"error_code"`
	Message           string    `json:"message"`
	RemediationSteps  []string  `json:"remediation_steps"`
	Retryable         bool      `json:"retryable"`
	RetryDelaySeconds int       `json:"retry_delay_seconds"`
}

// ValidationStatus is the confidence tier of a finding after peer review.
type ValidationStatus string

const (
	StatusValidated     ValidationStatus = "validated"
	StatusLowConfidence ValidationStatus = "low_confidence"
	StatusFailed        ValidationStatus = "failed"
)

// Downgrade returns the next lower validation tier.
func (s ValidationStatus) Downgrade() ValidationStatus {
	switch s {
	case StatusValidated:
		return StatusLowConfidence
	default:
		return StatusFailed
	}
}

// ResolvedFinding is the aggregation layer's view of one existing finding.
// SourceAgent always names the AgentAnalysis the finding came from.
type ResolvedFinding struct {
	Finding         Finding          `json:"finding"`
	SourceAgent     string           `json:"source_agent"`
	SourceSpecialty Specialty        `json:"source_specialty"`
	ConsensusWeight float64          `json:"consensus_weight"` // 0..100
	Confidence      float64          `json:"confidence"`       // 0..1
	Status          ValidationStatus `json:"status"`
	StatusReasons   []string         `json:"status_reasons,omitempty"`
	CorroboratedBy  []string         `json:"corroborated_by,omitempty"`
}

// Downgrade lowers the validation tier by one step and records why.
func (r *ResolvedFinding) Downgrade(reason string) {
	r.Status = r.Status.Downgrade()
	r.StatusReasons = append(r.StatusReasons, reason)
}

// ConflictKind identifies why two findings contradict.
type ConflictKind string

const (
	ConflictSeverity ConflictKind = "severity" // same location, opposite severities
	ConflictCategory ConflictKind = "category" // shared evidence, opposed categories
)

// ResolutionPolicy names the rule that settled a conflict.
type ResolutionPolicy string

const (
	PolicySpecialtyPriority ResolutionPolicy = "specialty_priority"
	PolicyMajorityVote      ResolutionPolicy = "majority_vote"
	PolicyHighestSeverity   ResolutionPolicy = "highest_severity"
)

// DissentingOpinion preserves an assessment that lost a conflict.
type DissentingOpinion struct {
	Agent       string    `json:"agent"`
	Specialty   Specialty `json:"specialty"`
	Finding     Finding   `json:"finding"`
	Explanation string    `json:"explanation"`
}

// ConflictRecord is the audit trail of one resolved contradiction.
type ConflictRecord struct {
	ID                  string              `json:"id"`
	Kinds               []ConflictKind      `json:"kinds"`
	Location            string              `json:"location"`
	Contestants         []ResolvedFinding   `json:"contestants"`
	Policy              ResolutionPolicy    `json:"policy"`
	Winner              string              `json:"winner"`
	ResolvedSeverity    Severity            `json:"resolved_severity"`
	ResolvedDescription string              `json:"resolved_description"`
	DissentingOpinions  []DissentingOpinion `json:"dissenting_opinions"`
}

// RankedRecommendation is a de-duplicated recommendation with its rank score.
type RankedRecommendation struct {
	Recommendation
	Sources []string `json:"sources"`
	Score   float64  `json:"score"`
	Rank    int      `json:"rank"`
}

// TeamAnalysisResult is the outcome of one orchestration call. It is built
// once and not modified after Coordinate returns.
type TeamAnalysisResult struct {
	RunID                    string                 `json:"run_id"`
	BusinessObjective        string                 `json:"business_objective"`
	AgentAnalyses            []AgentAnalysis        `json:"agent_analyses"`
	Errors                   []AgentErrorResult     `json:"errors"`
	Findings                 []ResolvedFinding      `json:"findings"`
	Conflicts                []ConflictRecord       `json:"conflicts"`
	ConsensusRecommendations []RankedRecommendation `json:"consensus_recommendations"`
	ExecutiveSummary         string                 `json:"executive_summary"`
	StartedAt                time.Time              `json:"started_at"`
	CompletedAt              time.Time              `json:"completed_at"`
}

// SuccessfulAgents returns the number of agents that produced an analysis.
func (r *TeamAnalysisResult) SuccessfulAgents() int {
	return len(r.AgentAnalyses)
}

// FindingsBySeverity counts resolved findings per severity.
func (r *TeamAnalysisResult) FindingsBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, f := range r.Findings {
		counts[f.Finding.Severity]++
	}
	return counts
}

// SortAnalyses stably orders analyses by specialty name, then agent name.
func SortAnalyses(analyses []AgentAnalysis) {
	sort.SliceStable(analyses, func(i, j int) bool {
		if analyses[i].Specialty != analyses[j].Specialty {
			return analyses[i].Specialty < analyses[j].Specialty
		}
		return analyses[i].AgentName < analyses[j].AgentName
	})
}

// OrchestrationFailure is returned when fewer than the required number of
// agents succeeded.
type OrchestrationFailure struct {
	Required  int
	Succeeded int
	Errors    []AgentErrorResult
}

func (e *OrchestrationFailure) Error() string {
	codes := make([]string, 0, len(e.Errors))
	for _, ae := range e.Errors {
		codes = append(codes, fmt.Sprintf("%s=%s", ae.Specialty, ae.ErrorCode))
	}
	return fmt.Sprintf("orchestration failed: %d of %d required agents succeeded (%s)",
		e.Succeeded, e.Required, strings.Join(codes, ", "))
}
