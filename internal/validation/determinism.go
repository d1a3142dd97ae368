// Package validation measures how trustworthy team analyses are: how stable
// they are across repeated runs and how well they agree with a labelled
// reference dataset.
package validation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service/team"
)

// DefaultConsistencyThreshold is the appearance rate at which a finding is
// considered consistent.
const DefaultConsistencyThreshold = 0.70

// TeamCoordinator runs one multi-specialist analysis.
type TeamCoordinator interface {
	Coordinate(ctx context.Context, req team.CoordinateRequest) (*core.TeamAnalysisResult, error)
}

// ConsistencyLevel buckets a determinism score.
type ConsistencyLevel string

const (
	LevelExcellent ConsistencyLevel = "Excellent"
	LevelGood      ConsistencyLevel = "Good"
	LevelModerate  ConsistencyLevel = "Moderate"
	LevelFair      ConsistencyLevel = "Fair"
	LevelPoor      ConsistencyLevel = "Poor"
)

// LevelForScore maps a 0-100 score to its consistency level.
func LevelForScore(score float64) ConsistencyLevel {
	switch {
	case score >= 90:
		return LevelExcellent
	case score >= 80:
		return LevelGood
	case score >= 70:
		return LevelModerate
	case score >= 60:
		return LevelFair
	default:
		return LevelPoor
	}
}

// DeterminismRequest describes one determinism measurement.
type DeterminismRequest struct {
	Files            []core.SourceFile
	Objective        string
	ProjectContext   string
	Specialties      []string
	RunCount         int
	DelayBetweenRuns time.Duration
	// ConsistencyThreshold is a fraction of runs; zero means the default.
	ConsistencyThreshold float64
}

// AnalysisRun is one orchestration inside a measurement. A failed run has
// Error set and no findings.
type AnalysisRun struct {
	Index       int                     `json:"index"`
	RunID       string                  `json:"run_id,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	Duration    time.Duration           `json:"duration"`
	Findings    []core.ResolvedFinding  `json:"findings"`
	AgentErrors []core.AgentErrorResult `json:"agent_errors,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// Succeeded reports whether the orchestration produced a result.
func (r AnalysisRun) Succeeded() bool {
	return r.Error == ""
}

// FindingConsistency is the cross-run view of one finding identity.
type FindingConsistency struct {
	Key               string        `json:"key"`
	Category          string        `json:"category"`
	Location          string        `json:"location"`
	Description       string        `json:"description"`
	SourceAgent       string        `json:"source_agent"`
	Severity          core.Severity `json:"severity"`
	Appearances       int           `json:"appearances"`
	AppearanceRate    float64       `json:"appearance_rate"`    // 0..1
	SeverityAgreement float64       `json:"severity_agreement"` // share of appearances with the modal severity
}

// DeterminismStatistics aggregates per-run finding counts.
type DeterminismStatistics struct {
	MeanFindings   float64       `json:"mean_findings"`
	StdDevFindings float64       `json:"stddev_findings"`
	MinFindings    int           `json:"min_findings"`
	MaxFindings    int           `json:"max_findings"`
	SuccessfulRuns int           `json:"successful_runs"`
	DistinctKeys   int           `json:"distinct_keys"`
	TotalDuration  time.Duration `json:"total_duration"`
}

// DeterminismResult is the outcome of MeasureDeterminism.
type DeterminismResult struct {
	ID                   string                `json:"id"`
	Objective            string                `json:"objective"`
	RunCount             int                   `json:"run_count"`
	Threshold            float64               `json:"threshold"`
	Runs                 []AnalysisRun         `json:"runs"`
	ConsistentFindings   []FindingConsistency  `json:"consistent_findings"`
	InconsistentFindings []FindingConsistency  `json:"inconsistent_findings"`
	DeterminismScore     float64               `json:"determinism_score"`
	ConsistencyLevel     ConsistencyLevel      `json:"consistency_level"`
	Statistics           DeterminismStatistics `json:"statistics"`
	Cancelled            bool                  `json:"cancelled,omitempty"`
	StartedAt            time.Time             `json:"started_at"`
	CompletedAt          time.Time             `json:"completed_at"`
}

// IdentityKey is the cross-run identity of a finding: its canonical category
// and its location with line numbers wildcarded.
func IdentityKey(f core.Finding) string {
	return f.CanonicalCategory() + "|" + core.WildcardLines(f.Location)
}

// DeterminismRunner repeats orchestrations and scores their stability.
type DeterminismRunner struct {
	coordinator TeamCoordinator
	clock       service.Clock
	logger      *logging.Logger
}

// DeterminismOption configures a DeterminismRunner.
type DeterminismOption func(*DeterminismRunner)

// WithClock sets the clock used for the delay between runs.
func WithClock(c service.Clock) DeterminismOption {
	return func(r *DeterminismRunner) {
		r.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) DeterminismOption {
	return func(r *DeterminismRunner) {
		r.logger = l
	}
}

// NewDeterminismRunner creates a runner over coordinator.
func NewDeterminismRunner(coordinator TeamCoordinator, opts ...DeterminismOption) *DeterminismRunner {
	r := &DeterminismRunner{
		coordinator: coordinator,
		clock:       service.SystemClock{},
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MeasureDeterminism runs the same analysis RunCount times, one after the
// other, and scores how often each finding reappears. A failed run is
// recorded and counts as a run without findings. Cancellation stops the
// measurement and returns the runs completed so far with Cancelled set.
func (r *DeterminismRunner) MeasureDeterminism(ctx context.Context, req DeterminismRequest) (*DeterminismResult, error) {
	if req.RunCount < 2 {
		return nil, core.ErrValidation(core.CodeInvalidRunCount,
			fmt.Sprintf("run count must be at least 2, got %d", req.RunCount))
	}
	if len(req.Files) == 0 {
		return nil, core.ErrValidation(core.CodeNoFiles, "no files to analyze")
	}
	threshold := req.ConsistencyThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConsistencyThreshold
	}

	result := &DeterminismResult{
		ID:        uuid.NewString(),
		Objective: req.Objective,
		RunCount:  req.RunCount,
		Threshold: threshold,
		StartedAt: r.clock.Now(),
	}
	logger := r.logger.WithRun(result.ID)
	logger.Info("starting determinism measurement",
		"runs", req.RunCount,
		"specialties", len(req.Specialties),
		"threshold", threshold)

	for i := 0; i < req.RunCount; i++ {
		if i > 0 && req.DelayBetweenRuns > 0 {
			select {
			case <-ctx.Done():
			case <-r.clock.After(req.DelayBetweenRuns):
			}
		}
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		run := r.runOnce(ctx, i+1, req)
		result.Runs = append(result.Runs, run)
		if run.Succeeded() {
			logger.Info("determinism run completed", "run", run.Index, "findings", len(run.Findings))
		} else {
			logger.Warn("determinism run failed", "run", run.Index, "error", run.Error)
		}

		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
	}

	r.score(result)
	result.CompletedAt = r.clock.Now()
	service.RecordDeterminism(result.DeterminismScore)

	logger.Info("determinism measurement finished",
		"score", result.DeterminismScore,
		"level", result.ConsistencyLevel,
		"runs", len(result.Runs),
		"cancelled", result.Cancelled)
	return result, nil
}

func (r *DeterminismRunner) runOnce(ctx context.Context, index int, req DeterminismRequest) AnalysisRun {
	run := AnalysisRun{Index: index, StartedAt: r.clock.Now()}
	res, err := r.coordinator.Coordinate(ctx, team.CoordinateRequest{
		Files:             req.Files,
		BusinessObjective: req.Objective,
		ProjectContext:    req.ProjectContext,
		Specialties:       req.Specialties,
	})
	run.Duration = r.clock.Now().Sub(run.StartedAt)

	if err != nil {
		run.Error = err.Error()
		var failure *core.OrchestrationFailure
		if errors.As(err, &failure) {
			run.AgentErrors = failure.Errors
		}
		return run
	}
	if res == nil {
		run.Error = "coordinator returned no result"
		return run
	}
	run.RunID = res.RunID
	run.Findings = res.Findings
	run.AgentErrors = res.Errors
	if !res.StartedAt.IsZero() && !res.CompletedAt.IsZero() {
		run.Duration = res.CompletedAt.Sub(res.StartedAt)
	}
	return run
}

type keyTally struct {
	first      core.ResolvedFinding
	order      int
	appearance int
	severities map[core.Severity]int
}

func (r *DeterminismRunner) score(result *DeterminismResult) {
	runs := len(result.Runs)
	tallies := make(map[string]*keyTally)
	counts := make([]int, 0, runs)

	for _, run := range result.Runs {
		result.Statistics.TotalDuration += run.Duration
		if !run.Succeeded() {
			counts = append(counts, 0)
			continue
		}
		result.Statistics.SuccessfulRuns++
		counts = append(counts, len(run.Findings))

		seen := make(map[string]bool)
		for _, rf := range run.Findings {
			key := IdentityKey(rf.Finding)
			if seen[key] {
				continue
			}
			seen[key] = true
			t, ok := tallies[key]
			if !ok {
				t = &keyTally{first: rf, order: len(tallies), severities: make(map[core.Severity]int)}
				tallies[key] = t
			}
			t.appearance++
			t.severities[rf.Finding.Severity]++
		}
	}

	result.Statistics.DistinctKeys = len(tallies)
	result.Statistics.MeanFindings, result.Statistics.StdDevFindings,
		result.Statistics.MinFindings, result.Statistics.MaxFindings = countStats(counts)

	keys := make([]string, 0, len(tallies))
	for k := range tallies {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return tallies[keys[i]].order < tallies[keys[j]].order })

	var rateSum float64
	for _, k := range keys {
		t := tallies[k]
		sev, agree := modalSeverity(t.severities)
		fc := FindingConsistency{
			Key:               k,
			Category:          t.first.Finding.Category,
			Location:          t.first.Finding.Location,
			Description:       t.first.Finding.Description,
			SourceAgent:       t.first.SourceAgent,
			Severity:          sev,
			Appearances:       t.appearance,
			AppearanceRate:    float64(t.appearance) / float64(runs),
			SeverityAgreement: float64(agree) / float64(t.appearance),
		}
		rateSum += fc.AppearanceRate
		if fc.AppearanceRate >= result.Threshold {
			result.ConsistentFindings = append(result.ConsistentFindings, fc)
		} else {
			result.InconsistentFindings = append(result.InconsistentFindings, fc)
		}
	}

	switch {
	case result.Statistics.SuccessfulRuns == 0:
		result.DeterminismScore = 0
	case len(keys) == 0:
		// Every successful run agreed that there is nothing to report.
		result.DeterminismScore = 100
	default:
		result.DeterminismScore = roundTo(rateSum/float64(len(keys))*100, 2)
	}
	result.ConsistencyLevel = LevelForScore(result.DeterminismScore)
}

// modalSeverity returns the most frequent severity, preferring the higher
// one on a tie, and how many appearances carried it.
func modalSeverity(counts map[core.Severity]int) (core.Severity, int) {
	best, bestCount := core.SeverityUnknown, 0
	for sev, n := range counts {
		if n > bestCount || (n == bestCount && sev > best) {
			best, bestCount = sev, n
		}
	}
	return best, bestCount
}

func countStats(counts []int) (mean, stddev float64, min, max int) {
	if len(counts) == 0 {
		return 0, 0, 0, 0
	}
	min, max = counts[0], counts[0]
	var sum float64
	for _, c := range counts {
		sum += float64(c)
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	mean = sum / float64(len(counts))
	var sq float64
	for _, c := range counts {
		d := float64(c) - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(len(counts)))
	return mean, stddev, min, max
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// WriteDeterminismReport renders a markdown report of result.
func WriteDeterminismReport(result *DeterminismResult, w io.Writer) error {
	fmt.Fprintf(w, "# Determinism Report\n\n")
	fmt.Fprintf(w, "## Summary\n\n")
	fmt.Fprintf(w, "- **Date**: %s\n", result.CompletedAt.Format(time.RFC3339))
	if result.Objective != "" {
		fmt.Fprintf(w, "- **Objective**: %s\n", result.Objective)
	}
	fmt.Fprintf(w, "- **Runs**: %d of %d (%d successful)\n",
		len(result.Runs), result.RunCount, result.Statistics.SuccessfulRuns)
	fmt.Fprintf(w, "- **Determinism Score**: %.1f\n", result.DeterminismScore)
	fmt.Fprintf(w, "- **Consistency Level**: %s\n", result.ConsistencyLevel)
	fmt.Fprintf(w, "- **Findings per Run**: %.1f ± %.1f (min %d, max %d)\n",
		result.Statistics.MeanFindings, result.Statistics.StdDevFindings,
		result.Statistics.MinFindings, result.Statistics.MaxFindings)
	fmt.Fprintf(w, "- **Total Duration**: %s\n", result.Statistics.TotalDuration.Round(time.Millisecond))
	if result.Cancelled {
		fmt.Fprintf(w, "- **Cancelled**: measurement stopped early\n")
	}
	fmt.Fprintf(w, "\n")

	writeConsistencyTable(w, fmt.Sprintf("Consistent Findings (≥ %.0f%% of runs)", result.Threshold*100), result.ConsistentFindings)
	writeConsistencyTable(w, "Inconsistent Findings", result.InconsistentFindings)

	fmt.Fprintf(w, "## Runs\n\n")
	fmt.Fprintf(w, "| Run | Findings | Duration | Status |\n")
	fmt.Fprintf(w, "|-----|----------|----------|--------|\n")
	for _, run := range result.Runs {
		status := "ok"
		if !run.Succeeded() {
			status = "failed: " + run.Error
		} else if len(run.AgentErrors) > 0 {
			status = fmt.Sprintf("partial (%d agent error(s))", len(run.AgentErrors))
		}
		fmt.Fprintf(w, "| %d | %d | %s | %s |\n",
			run.Index, len(run.Findings), run.Duration.Round(time.Millisecond), status)
	}
	fmt.Fprintf(w, "\n")
	return nil
}

func writeConsistencyTable(w io.Writer, title string, findings []FindingConsistency) {
	fmt.Fprintf(w, "## %s\n\n", title)
	if len(findings) == 0 {
		fmt.Fprintf(w, "None.\n\n")
		return
	}
	fmt.Fprintf(w, "| Category | Location | Severity | Appearance | Severity Agreement | Agent |\n")
	fmt.Fprintf(w, "|----------|----------|----------|------------|--------------------|-------|\n")
	for _, f := range findings {
		fmt.Fprintf(w, "| %s | %s | %s | %.0f%% | %.0f%% | %s |\n",
			f.Category, f.Location, f.Severity, f.AppearanceRate*100, f.SeverityAgreement*100, f.SourceAgent)
	}
	fmt.Fprintf(w, "\n")
}
