package validation

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func resolved(agent, category string, sev core.Severity, location string) core.ResolvedFinding {
	return core.ResolvedFinding{
		Finding: core.Finding{
			Category:    category,
			Severity:    sev,
			Description: category + " at " + location,
			Location:    location,
		},
		SourceAgent: agent,
		Status:      core.StatusValidated,
	}
}

func resultWith(findings ...core.ResolvedFinding) *core.TeamAnalysisResult {
	return &core.TeamAnalysisResult{RunID: "run-1", Findings: findings}
}

func TestValidate_ExactMatchIsTruePositive(t *testing.T) {
	dataset := &Dataset{
		DatasetName: "legacy-python",
		Issues: []LabeledIssue{{
			ID: "gt-1", Category: "SQL Injection", Severity: core.SeverityCritical,
			File: "UserService.py", Line: 42,
		}},
	}
	result := resultWith(resolved("Security Specialist", "SQL Injection", core.SeverityCritical, "UserService.py line 42"))

	report, err := Validate(result, dataset, DefaultGroundTruthConfig())
	require.NoError(t, err)
	require.Len(t, report.Matches, 1)

	m := report.Matches[0]
	assert.Equal(t, 100.0, m.Confidence)
	assert.Equal(t, MatchExact, m.Kind)
	assert.Equal(t, TruePositive, m.Classification)
	assert.Equal(t, "gt-1", m.Issue.ID)

	assert.Equal(t, 1, report.Metrics.TruePositives)
	assert.Equal(t, 1.0, report.Metrics.Precision)
	assert.Equal(t, 1.0, report.Metrics.Recall)
	assert.Equal(t, 1.0, report.Metrics.F1)
	assert.Equal(t, 1.0, report.Metrics.Accuracy)
	assert.Equal(t, "legacy-python", report.DatasetName)
	assert.Equal(t, "run-1", report.RunID)
}

func TestValidate_PartialMatches(t *testing.T) {
	dataset := &Dataset{Issues: []LabeledIssue{{
		ID: "gt-1", Category: "SQL Injection", Severity: core.SeverityCritical, File: "UserService.py", Line: 22,
	}}}
	result := resultWith(resolved("Security Specialist", "SQL Injection", core.SeverityHigh, "UserService.py:22"))

	cfg := DefaultGroundTruthConfig()
	report, err := Validate(result, dataset, cfg)
	require.NoError(t, err)
	m := report.Matches[0]
	assert.InDelta(t, 85.0, m.Confidence, 1e-9)
	assert.Equal(t, MatchPartial, m.Kind)
	assert.Equal(t, TruePositive, m.Classification)

	cfg.CountPartialMatchesAsTruePositives = false
	report, err = Validate(result, dataset, cfg)
	require.NoError(t, err)
	require.Len(t, report.Matches, 2)
	assert.Equal(t, FalsePositive, report.Matches[0].Classification)
	assert.Equal(t, "gt-1", report.Matches[0].Issue.ID, "the rejected partial match is still reported")
	assert.Equal(t, FalseNegative, report.Matches[1].Classification)
	assert.Nil(t, report.Matches[1].Finding)
	assert.Equal(t, 0, report.Metrics.TruePositives)
	assert.Equal(t, 1, report.Metrics.FalsePositives)
	assert.Equal(t, 1, report.Metrics.FalseNegatives)
}

func TestValidate_Scenario(t *testing.T) {
	dataset := &Dataset{
		DatasetName: "user-service",
		Issues: []LabeledIssue{
			{ID: "gt-1", Category: "SQL Injection", Severity: core.SeverityCritical, File: "UserService.py", Line: 22},
			{ID: "gt-2", Category: "Hardcoded Secret", Severity: core.SeverityHigh, File: "UserService.py", Line: 17},
			{ID: "gt-3", Category: "Missing Rate Limiting", Severity: core.SeverityMedium, File: "UserService.py", Line: 68},
			{ID: "gt-4", Category: "Inefficient Nested Loop", Severity: core.SeverityLow, File: "UserService.py", Line: 44, Optional: true},
		},
	}
	result := resultWith(
		resolved("Security Specialist", "SQL Injection", core.SeverityCritical, "UserService.py:22"),
		resolved("Security Specialist", "Hardcoded Credentials", core.SeverityHigh, "UserService.py:17"),
		resolved("Performance Specialist", "Inefficient Nested Loop", core.SeverityMedium, "UserService.py:44"),
		resolved("Performance Specialist", "Memory Leak", core.SeverityHigh, "UserService.py:90"),
	)

	report, err := Validate(result, dataset, DefaultGroundTruthConfig())
	require.NoError(t, err)

	var classes []Classification
	for _, m := range report.Matches {
		classes = append(classes, m.Classification)
	}
	assert.Equal(t, []Classification{TruePositive, TruePositive, TruePositive, FalsePositive, FalseNegative}, classes)
	assert.InDelta(t, 90.0, report.Matches[1].Confidence, 1e-9)
	assert.Equal(t, "gt-3", report.Matches[4].Issue.ID)

	m := report.Metrics
	assert.Equal(t, 3, m.TruePositives)
	assert.Equal(t, 1, m.FalsePositives)
	assert.Equal(t, 1, m.FalseNegatives)
	assert.True(t, approx(m.Precision, 0.75))
	assert.True(t, approx(m.Recall, 0.75))
	assert.True(t, approx(m.F1, 0.75))
	assert.True(t, approx(m.Accuracy, 0.6))

	sec := m.ByAgent["Security Specialist"]
	assert.Equal(t, MetricSet{TruePositives: 2, FalseNegatives: 1}, MetricSet{
		TruePositives: sec.TruePositives, FalsePositives: sec.FalsePositives, FalseNegatives: sec.FalseNegatives,
	})
	assert.True(t, approx(sec.Precision, 1))
	assert.True(t, approx(sec.Recall, 2.0/3.0))

	perf := m.ByAgent["Performance Specialist"]
	assert.Equal(t, 1, perf.TruePositives)
	assert.Equal(t, 1, perf.FalsePositives)
	assert.Equal(t, 3, perf.FalseNegatives)

	assert.Equal(t, 1, m.ByCategory["hardcoded secret"].TruePositives, "true positives are filed under the labeled category")
	assert.Equal(t, 1, m.ByCategory["memory leak"].FalsePositives)
	assert.Equal(t, 1, m.ByCategory["missing rate limiting"].FalseNegatives)

	assert.Equal(t, 1, m.BySeverity["HIGH"].TruePositives)
	assert.Equal(t, 1, m.BySeverity["HIGH"].FalsePositives)
	assert.Equal(t, 1, m.BySeverity["LOW"].TruePositives)
	assert.Equal(t, 1, m.BySeverity["MEDIUM"].FalseNegatives)
}

func TestValidate_DuplicateFindings(t *testing.T) {
	dataset := &Dataset{Issues: []LabeledIssue{{
		ID: "gt-1", Category: "SQL Injection", Severity: core.SeverityCritical, File: "UserService.py", Line: 22,
	}}}
	result := resultWith(
		resolved("Security Specialist", "SQL Injection", core.SeverityCritical, "UserService.py:22"),
		resolved("Architecture Specialist", "SQL Injection", core.SeverityCritical, "UserService.py line 22"),
	)

	report, err := Validate(result, dataset, DefaultGroundTruthConfig())
	require.NoError(t, err)
	assert.Equal(t, Duplicate, report.Matches[1].Classification)
	assert.Equal(t, 1, report.Metrics.TruePositives)
	assert.Equal(t, 0, report.Metrics.FalsePositives)
	assert.Equal(t, 1, report.Metrics.Duplicates)
	assert.True(t, approx(report.Metrics.Precision, 1))

	assert.Equal(t, 1, report.Metrics.ByAgent["Architecture Specialist"].TruePositives,
		"agents are scored on their own findings")
}

func TestValidate_TiesFavourFirstIssue(t *testing.T) {
	dataset := &Dataset{Issues: []LabeledIssue{
		{ID: "first", Category: "SQL Injection", Severity: core.SeverityCritical, File: "UserService.py", Line: 22},
		{ID: "second", Category: "SQL Injection", Severity: core.SeverityCritical, File: "UserService.py", Line: 22},
	}}
	result := resultWith(resolved("Security Specialist", "SQL Injection", core.SeverityCritical, "UserService.py:22"))

	report, err := Validate(result, dataset, DefaultGroundTruthConfig())
	require.NoError(t, err)
	assert.Equal(t, "first", report.Matches[0].Issue.ID)
	assert.Equal(t, FalseNegative, report.Matches[1].Classification)
	assert.Equal(t, "second", report.Matches[1].Issue.ID)
}

func TestValidate_Errors(t *testing.T) {
	_, err := Validate(resultWith(), &Dataset{}, DefaultGroundTruthConfig())
	var de *core.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, core.CodeEmptyDataset, de.Code)

	_, err = Validate(nil, &Dataset{Issues: []LabeledIssue{{ID: "x", Category: "a", Severity: core.SeverityLow}}}, DefaultGroundTruthConfig())
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestValidate_NoFindings(t *testing.T) {
	dataset := &Dataset{Issues: []LabeledIssue{
		{ID: "gt-1", Category: "SQL Injection", Severity: core.SeverityCritical},
		{ID: "gt-2", Category: "XSS", Severity: core.SeverityHigh, Optional: true},
	}}
	report, err := Validate(resultWith(), dataset, DefaultGroundTruthConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Metrics.FalseNegatives)
	assert.Equal(t, 0.0, report.Metrics.Precision)
	assert.Equal(t, 0.0, report.Metrics.F1)
	assert.Empty(t, report.Metrics.ByAgent)
}

func TestCategoryScore(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"SQL Injection", "sql-injection", 1},
		{"Hardcoded Secret", "Hardcoded Credentials", 0.8},
		{"XSS", "Cross-Site Scripting", 0.8},
		{"N+1 Queries", "N+1 Query", 0.8},
		{"SQL Injection", "SQL Injection Risk", 0.6},
		{"SQL Injection", "Memory Leak", 0},
		{"", "Memory Leak", 0},
	}
	for _, tt := range tests {
		if got := CategoryScore(tt.a, tt.b); got != tt.want {
			t.Errorf("CategoryScore(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSeverityScore(t *testing.T) {
	tests := []struct {
		a, b      core.Severity
		tolerance int
		want      float64
	}{
		{core.SeverityCritical, core.SeverityCritical, 1, 1},
		{core.SeverityCritical, core.SeverityHigh, 1, 0.5},
		{core.SeverityCritical, core.SeverityMedium, 1, 0},
		{core.SeverityCritical, core.SeverityMedium, 2, 1 - 2.0/3.0},
		{core.SeverityHigh, core.SeverityHigh, 0, 1},
		{core.SeverityHigh, core.SeverityMedium, 0, 0},
		{core.SeverityUnknown, core.SeverityLow, 3, 0},
	}
	for _, tt := range tests {
		if got := SeverityScore(tt.a, tt.b, tt.tolerance); !approx(got, tt.want) {
			t.Errorf("SeverityScore(%s, %s, %d) = %v, want %v", tt.a, tt.b, tt.tolerance, got, tt.want)
		}
	}
}

func TestLocationScore(t *testing.T) {
	tests := []struct {
		name     string
		location string
		file     string
		line     int
		want     float64
	}{
		{"same line", "UserService.py:42", "UserService.py", 42, 1},
		{"word form", "UserService.py line 42", "UserService.py", 42, 1},
		{"within tolerance", "UserService.py:44", "UserService.py", 42, 1 - 2.0/6.0},
		{"beyond tolerance", "UserService.py:50", "UserService.py", 42, 0},
		{"path suffix", "src/UserService.py:42", "UserService.py", 42, 1},
		{"other file", "Other.py:42", "UserService.py", 42, 0},
		{"line only", "line 42", "UserService.py", 42, 1},
		{"no finding line", "UserService.py", "UserService.py", 42, 0.75},
		{"free text", "UserService.py get_user_by_id", "UserService.py", 0, 0.75},
		{"no labeled file", "UserService.py", "", 0, 0},
		{"unrelated free text", "the auth module", "UserService.py", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LocationScore(tt.location, tt.file, tt.line, 5); !approx(got, tt.want) {
				t.Errorf("LocationScore(%q, %q, %d) = %v, want %v", tt.location, tt.file, tt.line, got, tt.want)
			}
		})
	}
}

func TestMatchConfidence_NormalizesWeights(t *testing.T) {
	f := core.Finding{Category: "SQL Injection", Severity: core.SeverityLow, Location: "elsewhere"}
	issue := LabeledIssue{Category: "SQL Injection", Severity: core.SeverityCritical, File: "UserService.py", Line: 22}

	cfg := DefaultGroundTruthConfig()
	cfg.CategoryWeight, cfg.SeverityWeight, cfg.LocationWeight = 5, 3, 2
	assert.InDelta(t, 50.0, MatchConfidence(f, issue, cfg), 1e-9)

	cfg.CategoryWeight, cfg.SeverityWeight, cfg.LocationWeight = 0, 0, 0
	assert.InDelta(t, 50.0, MatchConfidence(f, issue, cfg), 1e-9, "zero weights fall back to defaults")
}

func TestWriteValidationReport(t *testing.T) {
	dataset := &Dataset{DatasetName: "demo", Issues: []LabeledIssue{
		{ID: "gt-1", Category: "SQL Injection", Severity: core.SeverityCritical, File: "UserService.py", Line: 22},
	}}
	report, err := Validate(resultWith(resolved("Security Specialist", "SQL Injection", core.SeverityCritical, "UserService.py:22")), dataset, DefaultGroundTruthConfig())
	require.NoError(t, err)

	var b strings.Builder
	require.NoError(t, WriteValidationReport(report, &b))
	out := b.String()
	assert.Contains(t, out, "- **Dataset**: demo")
	assert.Contains(t, out, "| 1 | 0 | 0 | 0 | 100.0% | 100.0% | 100.0% | 100.0% |")
	assert.Contains(t, out, "| Security Specialist | 1 | 0 | 0 |")
	assert.Contains(t, out, "| true_positive | SQL Injection (CRITICAL) at UserService.py:22 | gt-1 SQL Injection (CRITICAL) | 100 |")
}
