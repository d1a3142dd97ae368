package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service/team"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <path>...",
	Short: "Run one team analysis over files or directories",
	Long: `Dispatch the specialist team over the given files, run peer review and
conflict resolution over whatever succeeded, and print the reconciled result.

The run fails only when fewer specialists than orchestration.min_successful_agents
succeed; the failing agents are then listed with remediation steps.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

var (
	analyzeObjective   string
	analyzeContext     string
	analyzeSpecialties []string
	analyzeOutput      string
	analyzeFormat      string
	analyzeSave        bool
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeObjective, "objective", "Identify the most important quality risks",
		"business objective given to every specialist")
	analyzeCmd.Flags().StringVar(&analyzeContext, "context", "", "free-form project context")
	analyzeCmd.Flags().StringSliceVarP(&analyzeSpecialties, "specialty", "s", nil,
		"specialties to dispatch (default: orchestration.specialties, else all)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "write the report to a file")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "", "report format: summary, json, markdown (default: from --output extension, else summary)")
	analyzeCmd.Flags().BoolVar(&analyzeSave, "save", false, "store the result in the report archive")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp()
	if err != nil {
		return err
	}
	files, err := readSourceFiles(args)
	if err != nil {
		return err
	}

	specialties := splitList(analyzeSpecialties)
	if len(specialties) == 0 {
		specialties = a.cfg.Orchestration.Specialties
	}
	result, err := a.coordinator.Coordinate(ctx, team.CoordinateRequest{
		Files:             files,
		BusinessObjective: analyzeObjective,
		ProjectContext:    analyzeContext,
		Specialties:       specialties,
	})
	if err != nil {
		return err
	}

	if analyzeSave {
		archive, err := openArchive(a.cfg)
		if err != nil {
			return err
		}
		defer archive.Close()
		id, err := archive.SaveAnalysis(ctx, result)
		if err != nil {
			return err
		}
		a.logger.Info("analysis archived", "id", id, "path", archive.Path())
	}

	out := cmd.OutOrStdout()
	format := reportFormat(analyzeFormat, analyzeOutput)
	if format == formatSummary {
		if quiet {
			return nil
		}
		printAnalysisSummary(out, result)
		fmt.Fprintln(out)
		return service.WriteAgentMetrics(out, a.metrics)
	}
	return writeReport(out, analyzeOutput, format, result, func(w io.Writer) error {
		return service.WriteAnalysisReport(w, result)
	})
}
