package validation

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

// LabeledIssue is one known issue in a reference dataset.
type LabeledIssue struct {
	ID          string        `json:"id" yaml:"id"`
	Category    string        `json:"category" yaml:"category"`
	Severity    core.Severity `json:"severity" yaml:"severity"`
	File        string        `json:"file,omitempty" yaml:"file,omitempty"`
	Line        int           `json:"line,omitempty" yaml:"line,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	// Optional issues are never counted as missed.
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Source   string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Mandatory reports whether missing this issue counts as a false negative.
func (i LabeledIssue) Mandatory() bool {
	return !i.Optional
}

// DatasetStatistics summarizes a dataset. It is derived data and is
// recomputed whenever a dataset is saved.
type DatasetStatistics struct {
	TotalIssues     int            `json:"totalIssues" yaml:"totalIssues"`
	MandatoryIssues int            `json:"mandatoryIssues" yaml:"mandatoryIssues"`
	BySeverity      map[string]int `json:"bySeverity" yaml:"bySeverity"`
	ByCategory      map[string]int `json:"byCategory" yaml:"byCategory"`
	Files           []string       `json:"files,omitempty" yaml:"files,omitempty"`
}

// Dataset is a labelled reference of known issues.
type Dataset struct {
	DatasetName string            `json:"datasetName" yaml:"datasetName"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Issues      []LabeledIssue    `json:"issues" yaml:"issues"`
	Statistics  DatasetStatistics `json:"statistics" yaml:"statistics"`
}

// Format is a dataset document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the encoding from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown dataset format %q", s)
}

// DecodeDataset reads and validates a dataset document.
func DecodeDataset(r io.Reader, format Format) (*Dataset, error) {
	var d Dataset
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&d); err != nil {
			return nil, fmt.Errorf("decoding yaml dataset: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&d); err != nil {
			return nil, fmt.Errorf("decoding json dataset: %w", err)
		}
	}
	d.assignIDs()
	if err := d.Check(); err != nil {
		return nil, err
	}
	return &d, nil
}

// EncodeDataset writes d after refreshing its statistics.
func EncodeDataset(w io.Writer, d *Dataset, format Format) error {
	d.assignIDs()
	d.ComputeStatistics()
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encoding yaml dataset: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encoding json dataset: %w", err)
		}
		return nil
	}
}

// Check validates the dataset contents.
func (d *Dataset) Check() error {
	if len(d.Issues) == 0 {
		return core.ErrValidation(core.CodeEmptyDataset, "dataset has no labeled issues")
	}
	seen := make(map[string]bool, len(d.Issues))
	for i, issue := range d.Issues {
		if strings.TrimSpace(issue.Category) == "" {
			return core.ErrValidation(core.CodeInvalidConfig,
				fmt.Sprintf("issue %d (%s) has no category", i+1, issue.ID))
		}
		if !issue.Severity.Valid() {
			return core.ErrValidation(core.CodeInvalidConfig,
				fmt.Sprintf("issue %s has no valid severity", issue.ID))
		}
		if issue.Line < 0 {
			return core.ErrValidation(core.CodeInvalidConfig,
				fmt.Sprintf("issue %s has a negative line", issue.ID))
		}
		if seen[issue.ID] {
			return core.ErrValidation(core.CodeInvalidConfig,
				fmt.Sprintf("duplicate issue id %s", issue.ID))
		}
		seen[issue.ID] = true
	}
	return nil
}

func (d *Dataset) assignIDs() {
	for i := range d.Issues {
		if strings.TrimSpace(d.Issues[i].ID) == "" {
			d.Issues[i].ID = fmt.Sprintf("issue-%03d", i+1)
		}
	}
}

// ComputeStatistics recomputes d.Statistics from the issues.
func (d *Dataset) ComputeStatistics() {
	stats := DatasetStatistics{
		TotalIssues: len(d.Issues),
		BySeverity:  make(map[string]int),
		ByCategory:  make(map[string]int),
	}
	files := make(map[string]bool)
	for _, issue := range d.Issues {
		if issue.Mandatory() {
			stats.MandatoryIssues++
		}
		stats.BySeverity[issue.Severity.String()]++
		stats.ByCategory[core.CanonicalCategory(issue.Category)]++
		if issue.File != "" && !files[issue.File] {
			files[issue.File] = true
			stats.Files = append(stats.Files, issue.File)
		}
	}
	sort.Strings(stats.Files)
	d.Statistics = stats
}

// DatasetFromDeterminism turns the consistent findings of a determinism
// measurement into a candidate dataset for human labelling.
func DatasetFromDeterminism(res *DeterminismResult, name string) *Dataset {
	d := &Dataset{
		DatasetName: name,
		Description: fmt.Sprintf("Candidate issues seen in at least %.0f%% of %d runs", res.Threshold*100, len(res.Runs)),
	}
	for i, fc := range res.ConsistentFindings {
		loc := core.ParseLocation(fc.Location)
		d.Issues = append(d.Issues, LabeledIssue{
			ID:          fmt.Sprintf("issue-%03d", i+1),
			Category:    fc.Category,
			Severity:    fc.Severity,
			File:        loc.File,
			Line:        loc.Line,
			Description: fc.Description,
			Source:      "determinism:" + fc.SourceAgent,
		})
	}
	d.ComputeStatistics()
	return d
}
