package service

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
)

// WriteAnalysisReport renders a team analysis as markdown.
func WriteAnalysisReport(w io.Writer, r *core.TeamAnalysisResult) error {
	if r == nil {
		return fmt.Errorf("no analysis to report")
	}

	fmt.Fprintf(w, "# Team Analysis %s\n\n", r.RunID)
	if r.BusinessObjective != "" {
		fmt.Fprintf(w, "**Objective**: %s\n\n", r.BusinessObjective)
	}
	fmt.Fprintf(w, "- **Agents**: %d succeeded, %d failed\n", r.SuccessfulAgents(), len(r.Errors))
	fmt.Fprintf(w, "- **Findings**: %d (%s)\n", len(r.Findings), severityBreakdown(r))
	fmt.Fprintf(w, "- **Conflicts**: %d\n", len(r.Conflicts))
	if !r.StartedAt.IsZero() && !r.CompletedAt.IsZero() {
		fmt.Fprintf(w, "- **Duration**: %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(w)

	if r.ExecutiveSummary != "" {
		fmt.Fprintf(w, "## Executive Summary\n\n%s\n\n", strings.TrimSpace(r.ExecutiveSummary))
	}

	fmt.Fprintln(w, "## Findings")
	fmt.Fprintln(w)
	if len(r.Findings) == 0 {
		fmt.Fprintln(w, "None.")
	} else {
		fmt.Fprintln(w, "| Severity | Category | Location | Weight | Status | Agent |")
		fmt.Fprintln(w, "|---|---|---|---|---|---|")
		for _, f := range r.Findings {
			fmt.Fprintf(w, "| %s | %s | %s | %.0f | %s | %s |\n",
				f.Finding.Severity, cell(f.Finding.Category), cell(f.Finding.Location),
				f.ConsensusWeight, f.Status, cell(f.SourceAgent))
		}
	}
	fmt.Fprintln(w)

	if len(r.Conflicts) > 0 {
		fmt.Fprintln(w, "## Conflicts")
		fmt.Fprintln(w)
		for _, c := range r.Conflicts {
			fmt.Fprintf(w, "- **%s** at %s: %s by %s, resolved to %s\n",
				c.ID, cell(c.Location), c.Policy, cell(c.Winner), c.ResolvedSeverity)
			for _, d := range c.DissentingOpinions {
				fmt.Fprintf(w, "  - dissent from %s (%s): %s %s\n",
					cell(d.Agent), d.Specialty, d.Finding.Severity, cell(d.Finding.Category))
			}
		}
		fmt.Fprintln(w)
	}

	if len(r.ConsensusRecommendations) > 0 {
		fmt.Fprintln(w, "## Recommendations")
		fmt.Fprintln(w)
		for _, rec := range r.ConsensusRecommendations {
			fmt.Fprintf(w, "%d. **%s** (impact %d, %s, score %.2f) from %s\n",
				rec.Rank, rec.Title, rec.ImpactScore, rec.Urgency, rec.Score, strings.Join(rec.Sources, ", "))
		}
		fmt.Fprintln(w)
	}

	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "## Agent Errors")
		fmt.Fprintln(w)
		for _, e := range r.Errors {
			retry := "not retryable"
			if e.Retryable {
				retry = fmt.Sprintf("retry in %ds", e.RetryDelaySeconds)
			}
			fmt.Fprintf(w, "- **%s** %s: %s (%s)\n", e.Specialty, e.ErrorCode, e.Message, retry)
			for _, step := range e.RemediationSteps {
				fmt.Fprintf(w, "  - %s\n", step)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

func severityBreakdown(r *core.TeamAnalysisResult) string {
	counts := r.FindingsBySeverity()
	var parts []string
	for _, s := range []core.Severity{core.SeverityCritical, core.SeverityHigh, core.SeverityMedium, core.SeverityLow} {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// cell keeps a value from breaking a markdown table row.
func cell(s string) string {
	return strings.NewReplacer("|", "\\|", "\n", " ").Replace(s)
}

// WriteAgentMetrics writes the collector's per-specialty table.
func WriteAgentMetrics(w io.Writer, m *MetricsCollector) error {
	agents := m.GetAgentMetrics()
	if len(agents) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Specialty\tCalls\tErrors\tAvg Time\tLast Error")
	fmt.Fprintln(tw, "---------\t-----\t------\t--------\t----------")
	for _, am := range agents {
		lastErr := am.LastErrorCode
		if lastErr == "" {
			lastErr = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			am.Specialty,
			am.Invocations,
			am.Errors,
			am.AvgDuration.Round(time.Millisecond),
			lastErr,
		)
	}
	return tw.Flush()
}
