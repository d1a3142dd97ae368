package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/validation"
)

func style(color string) lipgloss.Style {
	s := lipgloss.NewStyle()
	if noColor {
		return s
	}
	return s.Foreground(lipgloss.Color(color))
}

func titleStyle() lipgloss.Style {
	if noColor {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
}

func errorStyle() lipgloss.Style   { return style("196").Bold(!noColor) }
func successStyle() lipgloss.Style { return style("42") }
func mutedStyle() lipgloss.Style   { return style("245") }

func severityStyle(s core.Severity) lipgloss.Style {
	switch s {
	case core.SeverityCritical:
		return style("196").Bold(!noColor)
	case core.SeverityHigh:
		return style("208")
	case core.SeverityMedium:
		return style("220")
	case core.SeverityLow:
		return style("39")
	default:
		return mutedStyle()
	}
}

func levelStyle(l validation.ConsistencyLevel) lipgloss.Style {
	switch l {
	case validation.LevelExcellent, validation.LevelGood:
		return successStyle()
	case validation.LevelModerate:
		return style("220")
	default:
		return errorStyle()
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printAnalysisSummary writes a short console summary of a team analysis.
func printAnalysisSummary(w io.Writer, r *core.TeamAnalysisResult) {
	fmt.Fprintln(w, titleStyle().Render("Team analysis "+r.RunID))
	fmt.Fprintf(w, "  agents: %s", successStyle().Render(fmt.Sprintf("%d ok", r.SuccessfulAgents())))
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, ", %s", errorStyle().Render(fmt.Sprintf("%d failed", len(r.Errors))))
	}
	fmt.Fprintf(w, "  findings: %d  conflicts: %d\n", len(r.Findings), len(r.Conflicts))

	for _, f := range r.Findings {
		sev := severityStyle(f.Finding.Severity).Render(fmt.Sprintf("%-8s", f.Finding.Severity))
		fmt.Fprintf(w, "  %s %s %s %s\n", sev, f.Finding.Category,
			mutedStyle().Render(f.Finding.Location),
			mutedStyle().Render(fmt.Sprintf("(%s, weight %.0f)", f.Status, f.ConsensusWeight)))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s %s: %s\n", errorStyle().Render("x"), e.Specialty, e.Message)
	}
}

func printDeterminismSummary(w io.Writer, r *validation.DeterminismResult) {
	fmt.Fprintln(w, titleStyle().Render("Determinism "+r.ID))
	fmt.Fprintf(w, "  score: %.1f %s\n", r.DeterminismScore,
		levelStyle(r.ConsistencyLevel).Render(string(r.ConsistencyLevel)))
	fmt.Fprintf(w, "  runs: %d of %d (%d successful)  consistent: %d  inconsistent: %d\n",
		len(r.Runs), r.RunCount, r.Statistics.SuccessfulRuns,
		len(r.ConsistentFindings), len(r.InconsistentFindings))
	if r.Cancelled {
		fmt.Fprintln(w, "  "+errorStyle().Render("measurement cancelled"))
	}
}

func printValidationSummary(w io.Writer, r *validation.ValidationReport) {
	m := r.Metrics
	fmt.Fprintln(w, titleStyle().Render("Validation against "+r.DatasetName))
	fmt.Fprintf(w, "  TP %d  FP %d  FN %d  duplicates %d\n", m.TruePositives, m.FalsePositives, m.FalseNegatives, m.Duplicates)
	fmt.Fprintf(w, "  precision %s  recall %s  F1 %s\n",
		pct(m.Precision), pct(m.Recall), pct(m.F1))
}

func pct(v float64) string {
	s := fmt.Sprintf("%.1f%%", v*100)
	switch {
	case v >= 0.8:
		return successStyle().Render(s)
	case v >= 0.5:
		return style("220").Render(s)
	default:
		return errorStyle().Render(s)
	}
}

// splitList accepts repeated and comma separated flag values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
