package validation

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

const yamlDataset = `datasetName: legacy-python
description: Known issues in the sample service
issues:
  - category: SQL Injection
    severity: critical
    file: UserService.py
    line: 22
  - id: secret
    category: Hardcoded Secret
    severity: HIGH
    file: UserService.py
    line: 17
    optional: true
statistics:
  totalIssues: 99
`

func TestDecodeDataset_YAML(t *testing.T) {
	d, err := DecodeDataset(strings.NewReader(yamlDataset), FormatYAML)
	if err != nil {
		t.Fatalf("DecodeDataset() error = %v", err)
	}
	want := []LabeledIssue{
		{ID: "issue-001", Category: "SQL Injection", Severity: core.SeverityCritical, File: "UserService.py", Line: 22},
		{ID: "secret", Category: "Hardcoded Secret", Severity: core.SeverityHigh, File: "UserService.py", Line: 17, Optional: true},
	}
	if diff := cmp.Diff(want, d.Issues); diff != "" {
		t.Errorf("issues mismatch (-want +got):\n%s", diff)
	}
	if d.DatasetName != "legacy-python" {
		t.Errorf("DatasetName = %q", d.DatasetName)
	}
}

func TestEncodeDataset_RecomputesStatistics(t *testing.T) {
	d, err := DecodeDataset(strings.NewReader(yamlDataset), FormatYAML)
	if err != nil {
		t.Fatalf("DecodeDataset() error = %v", err)
	}

	var buf bytes.Buffer
	if err := EncodeDataset(&buf, d, FormatJSON); err != nil {
		t.Fatalf("EncodeDataset() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`"datasetName": "legacy-python"`,
		`"severity": "CRITICAL"`,
		`"totalIssues": 2`,
		`"mandatoryIssues": 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("encoded dataset missing %s:\n%s", want, out)
		}
	}

	wantStats := DatasetStatistics{
		TotalIssues:     2,
		MandatoryIssues: 1,
		BySeverity:      map[string]int{"CRITICAL": 1, "HIGH": 1},
		ByCategory:      map[string]int{"sql injection": 1, "hardcoded secret": 1},
		Files:           []string{"UserService.py"},
	}
	if diff := cmp.Diff(wantStats, d.Statistics); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}

	back, err := DecodeDataset(&buf, FormatJSON)
	if err != nil {
		t.Fatalf("DecodeDataset(json) error = %v", err)
	}
	if diff := cmp.Diff(d.Issues, back.Issues); diff != "" {
		t.Errorf("json issues changed (-before +after):\n%s", diff)
	}
}

func TestEncodeDataset_YAML(t *testing.T) {
	d := &Dataset{DatasetName: "tiny", Issues: []LabeledIssue{
		{Category: "XSS", Severity: core.SeverityMedium, File: "views.py"},
	}}
	var buf bytes.Buffer
	if err := EncodeDataset(&buf, d, FormatYAML); err != nil {
		t.Fatalf("EncodeDataset() error = %v", err)
	}
	if !strings.Contains(buf.String(), "severity: MEDIUM") || !strings.Contains(buf.String(), "id: issue-001") {
		t.Errorf("yaml output:\n%s", buf.String())
	}

	back, err := DecodeDataset(&buf, FormatYAML)
	if err != nil {
		t.Fatalf("DecodeDataset() error = %v", err)
	}
	if back.Issues[0].Severity != core.SeverityMedium || back.Statistics.TotalIssues != 1 {
		t.Errorf("decoded = %+v", back)
	}
}

func TestDecodeDataset_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code string
	}{
		{"no issues", `{"datasetName": "empty", "issues": []}`, core.CodeEmptyDataset},
		{"missing category", `{"issues": [{"severity": "LOW"}]}`, core.CodeInvalidConfig},
		{"missing severity", `{"issues": [{"category": "XSS"}]}`, core.CodeInvalidConfig},
		{"duplicate ids", `{"issues": [{"id": "a", "category": "XSS", "severity": "LOW"}, {"id": "a", "category": "XSS", "severity": "LOW"}]}`, core.CodeInvalidConfig},
		{"negative line", `{"issues": [{"category": "XSS", "severity": "LOW", "line": -3}]}`, core.CodeInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDataset(strings.NewReader(tt.doc), FormatJSON)
			var de *core.DomainError
			if !errors.As(err, &de) || de.Code != tt.code {
				t.Errorf("DecodeDataset() error = %v, want code %s", err, tt.code)
			}
		})
	}

	if _, err := DecodeDataset(strings.NewReader(`{"issues": [{"category": "XSS", "severity": "urgent"}]}`), FormatJSON); err == nil {
		t.Error("unknown severity should fail to decode")
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"ground-truth.yaml": FormatYAML,
		"GT.YML":            FormatYAML,
		"ground-truth.json": FormatJSON,
		"dataset":           FormatJSON,
	}
	for path, want := range tests {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%q) = %s, want %s", path, got, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}

func TestDatasetFromDeterminism(t *testing.T) {
	res := &DeterminismResult{
		Threshold: 0.7,
		Runs:      make([]AnalysisRun, 5),
		ConsistentFindings: []FindingConsistency{{
			Category:    "SQL Injection",
			Location:    "UserService.py line 22",
			Description: "User input is interpolated into a SQL query.",
			SourceAgent: "Security Specialist",
			Severity:    core.SeverityCritical,
		}},
		InconsistentFindings: []FindingConsistency{{Category: "Memory Leak", Severity: core.SeverityLow}},
	}

	d := DatasetFromDeterminism(res, "bootstrap")
	want := []LabeledIssue{{
		ID:          "issue-001",
		Category:    "SQL Injection",
		Severity:    core.SeverityCritical,
		File:        "userservice.py",
		Line:        22,
		Description: "User input is interpolated into a SQL query.",
		Source:      "determinism:Security Specialist",
	}}
	if diff := cmp.Diff(want, d.Issues); diff != "" {
		t.Errorf("issues mismatch (-want +got):\n%s", diff)
	}
	if d.Statistics.TotalIssues != 1 || d.DatasetName != "bootstrap" {
		t.Errorf("dataset = %+v", d)
	}
	if !strings.Contains(d.Description, "70% of 5 runs") {
		t.Errorf("Description = %q", d.Description)
	}
}
