package team

import (
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

const analysisJSON = `{
  "key_findings": [
    {
      "category": "SQL Injection",
      "severity": "critical",
      "description": "User input is interpolated into SQL.",
      "location": "UserService.py:22",
      "evidence": ["query = f\"SELECT * FROM users WHERE id = {user_id}\""]
    }
  ],
  "business_impact": "Customer data can be exfiltrated.",
  "recommendations": [
    {"title": "Use parameterized queries", "description": "Bind parameters.", "impact_score": 9, "urgency": "CRITICAL"}
  ],
  "confidence": 0.85
}`

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
		ok     bool
	}{
		{"raw", `{"a": 1}`, `{"a": 1}`, true},
		{"fenced", "Here you go:\n```json\n{\"a\": 1}\n```\nThanks", `{"a": 1}`, true},
		{"fenced without language", "```\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"embedded", `Result: {"a": {"b": "}"}} trailing`, `{"a": {"b": "}"}}`, true},
		{"skips broken object", `{oops} then {"a": 2}`, `{"a": 2}`, true},
		{"cli wrapper", `{"type":"result","result":"{\"a\": 3}"}`, `{"a": 3}`, true},
		{"no object", "I could not analyze this.", "", false},
		{"empty", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.output)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ExtractJSON() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseAnalysis(t *testing.T) {
	a, err := ParseAnalysis("```json\n" + analysisJSON + "\n```")
	if err != nil {
		t.Fatalf("ParseAnalysis() error = %v", err)
	}

	want := []core.Finding{{
		Category:    "SQL Injection",
		Severity:    core.SeverityCritical,
		Description: "User input is interpolated into SQL.",
		Location:    "UserService.py:22",
		Evidence:    []string{`query = f"SELECT * FROM users WHERE id = {user_id}"`},
	}}
	if diff := cmp.Diff(want, a.KeyFindings); diff != "" {
		t.Errorf("findings mismatch (-want +got):\n%s", diff)
	}
	if a.Confidence != 0.85 || a.BusinessImpact != "Customer data can be exfiltrated." {
		t.Errorf("confidence = %v, impact = %q", a.Confidence, a.BusinessImpact)
	}
	if len(a.Recommendations) != 1 || a.Recommendations[0].ImpactScore != 9 || a.Recommendations[0].Urgency != core.SeverityCritical {
		t.Errorf("recommendations = %+v", a.Recommendations)
	}
}

func TestParseAnalysis_Lenient(t *testing.T) {
	out := `{
	  "key_findings": [
	    {"category": "Slow loop", "severity": "whatever", "description": "Loops 1000 times.", "location": "UserService.py", "line": 44, "evidence": "for i in range(1000):"},
	    {"category": "", "severity": "HIGH", "description": "dropped"},
	    {"category": "Naming", "severity": "low", "description": "Vague names.", "evidence": ["  ", "x = 1"]}
	  ],
	  "recommendations": [{"title": "  "}, {"title": "Paginate", "impact_score": 7.6, "urgency": "soon"}],
	  "confidence": 80
	}`
	a, err := ParseAnalysis(out)
	if err != nil {
		t.Fatalf("ParseAnalysis() error = %v", err)
	}
	if len(a.KeyFindings) != 2 {
		t.Fatalf("findings = %+v", a.KeyFindings)
	}
	loop := a.KeyFindings[0]
	if loop.Severity != core.SeverityMedium || loop.Location != "UserService.py:44" {
		t.Errorf("loop finding = %+v", loop)
	}
	if diff := cmp.Diff([]string{"for i in range(1000):"}, loop.Evidence); diff != "" {
		t.Errorf("evidence mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x = 1"}, a.KeyFindings[1].Evidence); diff != "" {
		t.Errorf("blank evidence kept (-want +got):\n%s", diff)
	}
	if len(a.Recommendations) != 1 || a.Recommendations[0].ImpactScore != 8 || a.Recommendations[0].Urgency != core.SeverityMedium {
		t.Errorf("recommendations = %+v", a.Recommendations)
	}
	if a.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want percent scaled to 0.8", a.Confidence)
	}
}

func TestParseAnalysis_Failures(t *testing.T) {
	for _, out := range []string{
		"no json here",
		`{"unrelated": true}`,
		`{"key_findings": "not a list"}`,
	} {
		_, err := ParseAnalysis(out)
		var domErr *core.DomainError
		if !errors.As(err, &domErr) || domErr.Code != core.CodeParseFailed {
			t.Errorf("ParseAnalysis(%q) error = %v, want PARSE_FAILED", out, err)
		}
		if core.IsTransient(err) {
			t.Errorf("parse failures must not be retried: %v", err)
		}
	}
}

func TestParseAnalysis_Confidence(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want float64
	}{
		{"absent", `{"business_impact": "x"}`, 1},
		{"zero", `{"business_impact": "x", "confidence": 0}`, core.MinConfidence},
		{"negative", `{"business_impact": "x", "confidence": -0.4}`, core.MinConfidence},
		{"fraction", `{"business_impact": "x", "confidence": 0.5}`, 0.5},
		{"percent", `{"business_impact": "x", "confidence": 75}`, 0.75},
		{"too large", `{"business_impact": "x", "confidence": 400}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAnalysis(tt.doc)
			if err != nil {
				t.Fatalf("ParseAnalysis() error = %v", err)
			}
			if a.Confidence != tt.want || a.EffectiveConfidence() != tt.want {
				t.Errorf("Confidence = %v, effective = %v; want %v", a.Confidence, a.EffectiveConfidence(), tt.want)
			}
		})
	}
}

func TestParseAnalysis_ZeroConfidenceWeighsLeast(t *testing.T) {
	zero, err := ParseAnalysis(`{"business_impact": "x", "confidence": 0}`)
	if err != nil {
		t.Fatal(err)
	}
	half, err := ParseAnalysis(`{"business_impact": "x", "confidence": 0.5}`)
	if err != nil {
		t.Fatal(err)
	}
	if zero.EffectiveConfidence() >= half.EffectiveConfidence() {
		t.Errorf("zero confidence = %v, half = %v; zero must weigh less",
			zero.EffectiveConfidence(), half.EffectiveConfidence())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"añb", 2, "a..."},
		{"日本語", 4, "日..."},
		{"日本語", 2, "..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q is not valid UTF-8", tt.in, tt.n, got)
		}
	}
}
