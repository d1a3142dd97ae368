package service

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/testutil"
)

const sqlQuote = `query = f"SELECT * FROM users WHERE id = {user_id}"`

func review(t *testing.T, analyses ...core.AgentAnalysis) ReviewResult {
	t.Helper()
	return NewConsensusEngine(DefaultConsensusConfig(), nil).Review(analyses, testutil.SampleFiles())
}

func agentsOf(fs []core.ResolvedFinding) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.SourceAgent)
	}
	return out
}

func TestResolve_SpecialtyPriority(t *testing.T) {
	res := review(t,
		analysis(core.SpecialtySecurity, 1, testutil.SQLInjectionFinding()),
		analysis(core.SpecialtyMaintainability, 1, finding("Query style", core.SeverityLow, "UserService.py:22", sqlQuote)),
	)

	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.ID != "conflict-001" || c.Policy != core.PolicySpecialtyPriority {
		t.Errorf("conflict = %s/%s", c.ID, c.Policy)
	}
	if c.Winner != "Security Specialist" || c.ResolvedSeverity != core.SeverityCritical {
		t.Errorf("winner = %s (%s)", c.Winner, c.ResolvedSeverity)
	}
	if diff := cmp.Diff([]core.ConflictKind{core.ConflictSeverity}, c.Kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	if len(c.Contestants) != 2 {
		t.Errorf("contestants = %d, want 2", len(c.Contestants))
	}
	if len(c.DissentingOpinions) != 1 || c.DissentingOpinions[0].Agent != "Maintainability Specialist" {
		t.Fatalf("dissent = %+v", c.DissentingOpinions)
	}
	if c.DissentingOpinions[0].Finding.Severity != core.SeverityLow || c.DissentingOpinions[0].Explanation == "" {
		t.Errorf("dissent not preserved: %+v", c.DissentingOpinions[0])
	}

	if diff := cmp.Diff([]string{"Security Specialist"}, agentsOf(res.Findings)); diff != "" {
		t.Fatalf("findings mismatch (-want +got):\n%s", diff)
	}
	w := res.Findings[0]
	if w.Status != core.StatusLowConfidence {
		t.Errorf("winner status = %s, want downgraded to low_confidence", w.Status)
	}
	if !strings.Contains(strings.Join(w.StatusReasons, ";"), "contradicted by Maintainability Specialist; resolved by specialty_priority") {
		t.Errorf("StatusReasons = %v", w.StatusReasons)
	}
	// Specialty priority carries no confidence penalty.
	if !approx(w.Confidence, 0.5) {
		t.Errorf("Confidence = %v, want 0.5", w.Confidence)
	}
}

func TestResolve_HighestSeverityPenalty(t *testing.T) {
	res := review(t,
		analysis(core.SpecialtyPerformance, 1, finding("Unbounded query", core.SeverityCritical, "UserService.py:22", sqlQuote)),
		analysis(core.SpecialtyArchitecture, 1, finding("Query placement", core.SeverityLow, "UserService.py:22")),
	)

	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.Policy != core.PolicyHighestSeverity || c.Winner != "Performance Specialist" {
		t.Errorf("policy = %s, winner = %s", c.Policy, c.Winner)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(res.Findings))
	}
	if got := res.Findings[0].Confidence; !approx(got, 0.375) {
		t.Errorf("Confidence = %v, want 0.5 * 0.75", got)
	}
}

func TestResolve_OwnerTieFallsThrough(t *testing.T) {
	res := review(t,
		analysis(core.SpecialtySecurity, 1, testutil.SQLInjectionFinding()),
		analysis(core.SpecialtyPerformance, 1, finding("Slow query", core.SeverityLow, "UserService.py:22")),
	)

	if len(res.Conflicts) != 1 || res.Conflicts[0].Policy != core.PolicyHighestSeverity {
		t.Fatalf("conflicts = %+v", res.Conflicts)
	}
	if res.Conflicts[0].Winner != "Security Specialist" {
		t.Errorf("winner = %s", res.Conflicts[0].Winner)
	}
}

func TestResolve_MajorityVote(t *testing.T) {
	res := review(t,
		analysis(core.SpecialtyPerformance, 1, finding("Unbounded query", core.SeverityCritical, "UserService.py:22", sqlQuote)),
		analysis(core.SpecialtyReliability, 1, finding("Unbounded query loading", core.SeverityCritical, "UserService.py:22")),
		analysis(core.SpecialtyArchitecture, 1, finding("Query placement", core.SeverityLow, "UserService.py:22")),
	)

	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want one merged group", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.Policy != core.PolicyMajorityVote || c.Winner != "Performance Specialist" {
		t.Errorf("policy = %s, winner = %s", c.Policy, c.Winner)
	}
	if len(c.Contestants) != 3 || len(c.DissentingOpinions) != 1 || c.DissentingOpinions[0].Agent != "Architecture Specialist" {
		t.Errorf("contestants = %d, dissent = %+v", len(c.Contestants), c.DissentingOpinions)
	}

	// The member that agrees with the winner stays.
	want := []string{"Performance Specialist", "Reliability Specialist"}
	if diff := cmp.Diff(want, agentsOf(res.Findings)); diff != "" {
		t.Errorf("findings mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_CategoryConflict(t *testing.T) {
	res := review(t,
		analysis(core.SpecialtySecurity, 1, finding("SQL Injection", core.SeverityHigh, "UserService.py:22", sqlQuote)),
		analysis(core.SpecialtyReliability, 1, finding("Safe query construction", core.SeverityMedium, "UserService.py", "SELECT * FROM users")),
	)

	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if diff := cmp.Diff([]core.ConflictKind{core.ConflictCategory}, c.Kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	if c.Policy != core.PolicySpecialtyPriority || c.Winner != "Security Specialist" {
		t.Errorf("policy = %s, winner = %s", c.Policy, c.Winner)
	}
	if diff := cmp.Diff([]string{"Security Specialist"}, agentsOf(res.Findings)); diff != "" {
		t.Errorf("findings mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_FileLevelDoesNotContestLine(t *testing.T) {
	res := review(t,
		analysis(core.SpecialtySecurity, 1, testutil.SQLInjectionFinding()),
		analysis(core.SpecialtyMaintainability, 1, finding("Query style", core.SeverityLow, "UserService.py")),
	)
	if len(res.Conflicts) != 0 {
		t.Fatalf("conflicts = %+v, want none", res.Conflicts)
	}
	if len(res.Findings) != 2 {
		t.Errorf("findings = %v, want both kept", agentsOf(res.Findings))
	}
}

func TestResolve_SameAgentNeverConflicts(t *testing.T) {
	res := review(t,
		analysis(core.SpecialtySecurity, 1,
			testutil.SQLInjectionFinding(),
			finding("Query style", core.SeverityLow, "UserService.py:22"),
		),
	)
	if len(res.Conflicts) != 0 || len(res.Findings) != 2 {
		t.Errorf("conflicts = %d, findings = %d", len(res.Conflicts), len(res.Findings))
	}
}

func TestResolve_SeparateGroups(t *testing.T) {
	res := review(t,
		analysis(core.SpecialtySecurity, 1,
			testutil.SQLInjectionFinding(),
			finding("Hardcoded Secret", core.SeverityCritical, "UserService.py:17"),
		),
		analysis(core.SpecialtyMaintainability, 1,
			finding("Query style", core.SeverityLow, "UserService.py:22"),
			finding("Constant naming", core.SeverityLow, "UserService.py:17"),
		),
	)

	if len(res.Conflicts) != 2 {
		t.Fatalf("conflicts = %d, want 2", len(res.Conflicts))
	}
	ids := []string{res.Conflicts[0].ID, res.Conflicts[1].ID}
	if diff := cmp.Diff([]string{"conflict-001", "conflict-002"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	for _, f := range res.Findings {
		if f.SourceAgent != "Security Specialist" {
			t.Errorf("loser %s (%s) kept", f.SourceAgent, f.Finding.Category)
		}
	}
}

func TestConflictResolver_OwnerOf(t *testing.T) {
	r := NewConflictResolver(DefaultCategoryOwners(), 0.75)

	tests := []struct {
		category string
		want     core.Specialty
		ok       bool
	}{
		{"SQL Injection", core.SpecialtySecurity, true},
		{"Authentication bypass", core.SpecialtySecurity, true},
		{"N+1 queries", core.SpecialtyPerformance, true},
		{"Version 1 drift", "", false},
		{"Poor error handling", core.SpecialtyReliability, true},
		{"Memory leak", core.SpecialtyPerformance, true},
		{"Tight coupling", core.SpecialtyArchitecture, true},
		{"Unbounded query", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := r.OwnerOf(tt.category)
		if got != tt.want || ok != tt.ok {
			t.Errorf("OwnerOf(%q) = %q, %v; want %q, %v", tt.category, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIsSafeCategory(t *testing.T) {
	tests := []struct {
		category string
		want     bool
	}{
		{"Safe query construction", true},
		{"False positive", true},
		{"No issues", true},
		{"Not vulnerable", true},
		{"Not safe", false},
		{"Unsafe deserialization", false},
		{"SQL Injection", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSafeCategory(tt.category); got != tt.want {
			t.Errorf("IsSafeCategory(%q) = %v, want %v", tt.category, got, tt.want)
		}
	}
}
