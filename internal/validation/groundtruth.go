package validation

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

// GroundTruthConfig tunes finding-to-issue matching.
type GroundTruthConfig struct {
	CategoryWeight float64 `mapstructure:"category_weight" json:"category_weight"`
	SeverityWeight float64 `mapstructure:"severity_weight" json:"severity_weight"`
	LocationWeight float64 `mapstructure:"location_weight" json:"location_weight"`
	// MinMatchConfidence is the 0-100 score a match needs to count at all.
	MinMatchConfidence float64 `mapstructure:"min_match_confidence" json:"min_match_confidence"`
	SeverityTolerance  int     `mapstructure:"severity_tolerance" json:"severity_tolerance"`
	LineTolerance      int     `mapstructure:"line_tolerance" json:"line_tolerance"`
	// CountPartialMatchesAsTruePositives accepts matches that are not exact
	// on every signal.
	CountPartialMatchesAsTruePositives bool `mapstructure:"count_partial_matches" json:"count_partial_matches"`
}

// DefaultGroundTruthConfig returns the default weights and tolerances.
func DefaultGroundTruthConfig() GroundTruthConfig {
	return GroundTruthConfig{
		CategoryWeight:                     0.5,
		SeverityWeight:                     0.3,
		LocationWeight:                     0.2,
		MinMatchConfidence:                 60,
		SeverityTolerance:                  1,
		LineTolerance:                      5,
		CountPartialMatchesAsTruePositives: true,
	}
}

// normalized fills unset weights and threshold from the defaults and makes
// the weights sum to one.
func (c GroundTruthConfig) normalized() GroundTruthConfig {
	def := DefaultGroundTruthConfig()
	c.CategoryWeight = nonNegative(c.CategoryWeight)
	c.SeverityWeight = nonNegative(c.SeverityWeight)
	c.LocationWeight = nonNegative(c.LocationWeight)
	sum := c.CategoryWeight + c.SeverityWeight + c.LocationWeight
	if sum == 0 {
		c.CategoryWeight, c.SeverityWeight, c.LocationWeight = def.CategoryWeight, def.SeverityWeight, def.LocationWeight
		sum = 1
	}
	c.CategoryWeight /= sum
	c.SeverityWeight /= sum
	c.LocationWeight /= sum
	if c.MinMatchConfidence <= 0 || c.MinMatchConfidence > 100 {
		c.MinMatchConfidence = def.MinMatchConfidence
	}
	if c.SeverityTolerance < 0 {
		c.SeverityTolerance = 0
	}
	if c.LineTolerance < 0 {
		c.LineTolerance = 0
	}
	return c
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// MatchKind says how closely a finding matched its labeled issue.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchPartial MatchKind = "partial"
	MatchNone    MatchKind = "none"
)

// Classification is the outcome of one match.
type Classification string

const (
	TruePositive  Classification = "true_positive"
	FalsePositive Classification = "false_positive"
	FalseNegative Classification = "false_negative"
	Duplicate     Classification = "duplicate"
)

// MatchDetail explains one classification. Finding is nil for false
// negatives; Issue is nil when nothing qualified.
type MatchDetail struct {
	Finding        *core.ResolvedFinding `json:"finding,omitempty"`
	Issue          *LabeledIssue         `json:"issue,omitempty"`
	Confidence     float64               `json:"confidence"`
	CategoryScore  float64               `json:"category_score"`
	SeverityScore  float64               `json:"severity_score"`
	LocationScore  float64               `json:"location_score"`
	Kind           MatchKind             `json:"kind"`
	Classification Classification        `json:"classification"`
}

// MetricSet holds counts and derived ratios. Ratios are in 0..1.
type MetricSet struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	Accuracy       float64 `json:"accuracy"`
}

func (m *MetricSet) compute() {
	tp, fp, fn := float64(m.TruePositives), float64(m.FalsePositives), float64(m.FalseNegatives)
	m.Precision = ratio(tp, tp+fp)
	m.Recall = ratio(tp, tp+fn)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.Accuracy = ratio(tp, tp+fp+fn)
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// QualityMetrics are the overall metrics plus their partitions. Agent
// partitions score each agent on its own, so a finding two agents share
// counts for both.
type QualityMetrics struct {
	MetricSet
	Duplicates int                  `json:"duplicates"`
	ByAgent    map[string]MetricSet `json:"by_agent"`
	ByCategory map[string]MetricSet `json:"by_category"`
	BySeverity map[string]MetricSet `json:"by_severity"`
}

// ValidationReport is the outcome of Validate.
type ValidationReport struct {
	DatasetName string            `json:"dataset_name"`
	RunID       string            `json:"run_id"`
	Config      GroundTruthConfig `json:"config"`
	Metrics     QualityMetrics    `json:"metrics"`
	Matches     []MatchDetail     `json:"matches"`
}

type scoredMatch struct {
	issue                   int
	confidence              float64
	category, severity, loc float64
}

func (m scoredMatch) kind() MatchKind {
	if m.issue < 0 {
		return MatchNone
	}
	if m.category == 1 && m.severity == 1 && m.loc == 1 {
		return MatchExact
	}
	return MatchPartial
}

// Validate scores the findings of result against dataset. Each finding is
// matched to its best labeled issue; the first issue to reach a finding
// claims it and later findings matching the same issue are duplicates.
func Validate(result *core.TeamAnalysisResult, dataset *Dataset, cfg GroundTruthConfig) (*ValidationReport, error) {
	if dataset == nil || len(dataset.Issues) == 0 {
		return nil, core.ErrValidation(core.CodeEmptyDataset, "dataset has no labeled issues")
	}
	if result == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "no analysis result to validate")
	}
	cfg = cfg.normalized()

	report := &ValidationReport{
		DatasetName: dataset.DatasetName,
		RunID:       result.RunID,
		Config:      cfg,
	}
	metrics := &report.Metrics
	byCategory := make(map[string]*MetricSet)
	bySeverity := make(map[string]*MetricSet)
	claimed := make([]bool, len(dataset.Issues))

	type agentState struct {
		set     MetricSet
		matched map[int]bool
	}
	agents := make(map[string]*agentState)

	for i := range result.Findings {
		rf := result.Findings[i]
		m := bestMatch(rf.Finding, dataset.Issues, cfg)
		detail := MatchDetail{
			Finding:       &rf,
			Confidence:    m.confidence,
			CategoryScore: m.category,
			SeverityScore: m.severity,
			LocationScore: m.loc,
			Kind:          m.kind(),
		}
		counted := m.issue >= 0 && (detail.Kind == MatchExact || cfg.CountPartialMatchesAsTruePositives)

		switch {
		case m.issue < 0:
			detail.Classification = FalsePositive
		case claimed[m.issue]:
			issue := dataset.Issues[m.issue]
			detail.Issue = &issue
			detail.Classification = Duplicate
		case counted:
			issue := dataset.Issues[m.issue]
			detail.Issue = &issue
			detail.Classification = TruePositive
			claimed[m.issue] = true
		default:
			issue := dataset.Issues[m.issue]
			detail.Issue = &issue
			detail.Classification = FalsePositive
		}

		switch detail.Classification {
		case TruePositive:
			metrics.TruePositives++
			partition(byCategory, core.CanonicalCategory(detail.Issue.Category)).TruePositives++
			partition(bySeverity, detail.Issue.Severity.String()).TruePositives++
		case FalsePositive:
			metrics.FalsePositives++
			partition(byCategory, rf.Finding.CanonicalCategory()).FalsePositives++
			partition(bySeverity, rf.Finding.Severity.String()).FalsePositives++
		case Duplicate:
			metrics.Duplicates++
		}

		st, ok := agents[rf.SourceAgent]
		if !ok {
			st = &agentState{matched: make(map[int]bool)}
			agents[rf.SourceAgent] = st
		}
		switch {
		case !counted:
			st.set.FalsePositives++
		case !st.matched[m.issue]:
			st.matched[m.issue] = true
			st.set.TruePositives++
		}

		report.Matches = append(report.Matches, detail)
	}

	for i, issue := range dataset.Issues {
		if !issue.Mandatory() {
			continue
		}
		for _, st := range agents {
			if !st.matched[i] {
				st.set.FalseNegatives++
			}
		}
		if claimed[i] {
			continue
		}
		metrics.FalseNegatives++
		partition(byCategory, core.CanonicalCategory(issue.Category)).FalseNegatives++
		partition(bySeverity, issue.Severity.String()).FalseNegatives++
		missed := issue
		report.Matches = append(report.Matches, MatchDetail{
			Issue:          &missed,
			Kind:           MatchNone,
			Classification: FalseNegative,
		})
	}

	metrics.compute()
	metrics.ByAgent = make(map[string]MetricSet, len(agents))
	for name, st := range agents {
		st.set.compute()
		metrics.ByAgent[name] = st.set
	}
	metrics.ByCategory = finalize(byCategory)
	metrics.BySeverity = finalize(bySeverity)
	return report, nil
}

func partition(sets map[string]*MetricSet, key string) *MetricSet {
	s, ok := sets[key]
	if !ok {
		s = &MetricSet{}
		sets[key] = s
	}
	return s
}

func finalize(sets map[string]*MetricSet) map[string]MetricSet {
	out := make(map[string]MetricSet, len(sets))
	for k, s := range sets {
		s.compute()
		out[k] = *s
	}
	return out
}

// bestMatch returns the highest scoring issue at or above the minimum
// confidence. Ties keep the earlier issue.
func bestMatch(f core.Finding, issues []LabeledIssue, cfg GroundTruthConfig) scoredMatch {
	best := scoredMatch{issue: -1}
	for i, issue := range issues {
		m := scoreMatch(f, issue, cfg)
		if m.confidence < cfg.MinMatchConfidence {
			continue
		}
		if best.issue < 0 || m.confidence > best.confidence {
			m.issue = i
			best = m
		}
	}
	return best
}

// MatchConfidence scores f against issue on the 0-100 scale.
func MatchConfidence(f core.Finding, issue LabeledIssue, cfg GroundTruthConfig) float64 {
	return scoreMatch(f, issue, cfg.normalized()).confidence
}

func scoreMatch(f core.Finding, issue LabeledIssue, cfg GroundTruthConfig) scoredMatch {
	m := scoredMatch{
		issue:    -1,
		category: CategoryScore(f.Category, issue.Category),
		severity: SeverityScore(f.Severity, issue.Severity, cfg.SeverityTolerance),
		loc:      LocationScore(f.Location, issue.File, issue.Line, cfg.LineTolerance),
	}
	m.confidence = roundTo((cfg.CategoryWeight*m.category+cfg.SeverityWeight*m.severity+cfg.LocationWeight*m.loc)*100, 2)
	return m
}

var categorySynonyms = [][]string{
	{"sql injection", "sqli", "unsafe sql query", "sql string interpolation"},
	{"hardcoded secret", "hardcoded secrets", "hardcoded credentials", "hardcoded credential",
		"hardcoded api key", "hardcoded password", "hard coded secret", "hard coded credentials",
		"embedded credentials", "secret in source code"},
	{"plaintext password", "plain text password", "password stored in plain text", "unhashed password",
		"missing password hashing", "weak password storage", "insecure password storage"},
	{"cross site scripting", "xss"},
	{"command injection", "os command injection", "shell injection"},
	{"n 1 query", "n 1 queries", "n plus one query"},
	{"missing pagination", "no pagination", "unbounded query", "unbounded result set"},
	{"inefficient loop", "nested loop", "inefficient nested loop", "quadratic loop"},
	{"missing rate limiting", "no rate limiting", "brute force", "rate limiting"},
	{"weak password validation", "weak validation", "weak password policy", "insufficient password policy"},
	{"missing error handling", "error handling", "swallowed exception", "unhandled exception"},
	{"memory leak", "resource leak", "unreleased resource"},
}

var synonymGroup = func() map[string]int {
	m := make(map[string]int)
	for i, group := range categorySynonyms {
		for _, term := range group {
			m[term] = i
		}
	}
	return m
}()

// CategoryScore grades two category names: 1 when they are equal after
// normalization, 0.8 for known synonyms, 0.6 when one contains the other.
func CategoryScore(a, b string) float64 {
	ca, cb := core.CanonicalCategory(a), core.CanonicalCategory(b)
	if ca == "" || cb == "" {
		return 0
	}
	if ca == cb {
		return 1
	}
	ga, okA := synonymGroup[ca]
	gb, okB := synonymGroup[cb]
	if okA && okB && ga == gb {
		return 0.8
	}
	if strings.Contains(ca, cb) || strings.Contains(cb, ca) {
		return 0.6
	}
	return 0
}

// SeverityScore grades the ordinal distance between two severities.
func SeverityScore(a, b core.Severity, tolerance int) float64 {
	if !a.Valid() || !b.Valid() {
		return 0
	}
	d := core.SeverityDistance(a, b)
	switch {
	case d == 0:
		return 1
	case d <= tolerance:
		return 1 - float64(d)/float64(tolerance+1)
	default:
		return 0
	}
}

// LocationScore grades a free-text finding location against a labeled file
// and line. Line proximity decides when both sides have a line; otherwise
// a file name contained in the other side scores 0.75.
func LocationScore(location, file string, line, tolerance int) float64 {
	loc := core.ParseLocation(location)
	issueFile := ""
	if strings.TrimSpace(file) != "" {
		issueFile = core.ParseLocation(file).File
	}

	if loc.HasLine() && line > 0 {
		if loc.File != "" && issueFile != "" && !sameFile(loc.File, issueFile) {
			return 0
		}
		d := loc.Line - line
		if d < 0 {
			d = -d
		}
		switch {
		case d == 0:
			return 1
		case d <= tolerance:
			return 1 - float64(d)/float64(tolerance+1)
		default:
			return 0
		}
	}

	if issueFile == "" {
		return 0
	}
	raw := strings.ToLower(strings.ReplaceAll(location, "\\", "/"))
	if strings.Contains(raw, issueFile) || (loc.File != "" && strings.Contains(issueFile, loc.File)) {
		return 0.75
	}
	return 0
}

func sameFile(a, b string) bool {
	return a == b || strings.HasSuffix(a, "/"+b) || strings.HasSuffix(b, "/"+a)
}

// WriteValidationReport renders a markdown report.
func WriteValidationReport(report *ValidationReport, w io.Writer) error {
	m := report.Metrics
	fmt.Fprintf(w, "# Ground-Truth Validation Report\n\n")
	fmt.Fprintf(w, "- **Dataset**: %s\n", report.DatasetName)
	if report.RunID != "" {
		fmt.Fprintf(w, "- **Run**: %s\n", report.RunID)
	}
	fmt.Fprintf(w, "- **Min Match Confidence**: %.0f\n\n", report.Config.MinMatchConfidence)

	fmt.Fprintf(w, "## Overall\n\n")
	fmt.Fprintf(w, "| TP | FP | FN | Duplicates | Precision | Recall | F1 | Accuracy |\n")
	fmt.Fprintf(w, "|----|----|----|------------|-----------|--------|----|----------|\n")
	fmt.Fprintf(w, "| %d | %d | %d | %d | %.1f%% | %.1f%% | %.1f%% | %.1f%% |\n\n",
		m.TruePositives, m.FalsePositives, m.FalseNegatives, m.Duplicates,
		m.Precision*100, m.Recall*100, m.F1*100, m.Accuracy*100)

	writeMetricTable(w, "By Agent", m.ByAgent)
	writeMetricTable(w, "By Category", m.ByCategory)
	writeMetricTable(w, "By Severity", m.BySeverity)

	fmt.Fprintf(w, "## Matches\n\n")
	fmt.Fprintf(w, "| Classification | Finding | Labeled Issue | Confidence |\n")
	fmt.Fprintf(w, "|----------------|---------|---------------|------------|\n")
	for _, d := range report.Matches {
		finding, issue := "-", "-"
		if d.Finding != nil {
			finding = fmt.Sprintf("%s (%s) at %s", d.Finding.Finding.Category, d.Finding.Finding.Severity, d.Finding.Finding.Location)
		}
		if d.Issue != nil {
			issue = fmt.Sprintf("%s %s (%s)", d.Issue.ID, d.Issue.Category, d.Issue.Severity)
		}
		fmt.Fprintf(w, "| %s | %s | %s | %.0f |\n", d.Classification, finding, issue, d.Confidence)
	}
	fmt.Fprintf(w, "\n")
	return nil
}

func writeMetricTable(w io.Writer, title string, sets map[string]MetricSet) {
	if len(sets) == 0 {
		return
	}
	keys := make([]string, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "## %s\n\n", title)
	fmt.Fprintf(w, "| Name | TP | FP | FN | Precision | Recall | F1 |\n")
	fmt.Fprintf(w, "|------|----|----|----|-----------|--------|----|\n")
	for _, k := range keys {
		s := sets[k]
		fmt.Fprintf(w, "| %s | %d | %d | %d | %.1f%% | %.1f%% | %.1f%% |\n",
			k, s.TruePositives, s.FalsePositives, s.FalseNegatives, s.Precision*100, s.Recall*100, s.F1*100)
	}
	fmt.Fprintf(w, "\n")
}
