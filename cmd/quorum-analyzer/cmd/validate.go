package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/service/team"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate --dataset <file> [path...]",
	Short: "Score a team analysis against a labelled dataset",
	Long: `Match the findings of a team analysis to the known issues of a reference
dataset and report precision, recall, F1 and accuracy, overall and per agent,
category and severity.

The analysis is either read from --result (a JSON result written by
'analyze --format json'), loaded from the archive with --report, or produced
by running a fresh analysis over the given paths.`,
	RunE: runValidate,
}

var (
	valDataset     string
	valResult      string
	valReport      string
	valObjective   string
	valSpecialties []string
	valOutput      string
	valFormat      string
	valSave        bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	f := validateCmd.Flags()
	f.StringVarP(&valDataset, "dataset", "d", "", "reference dataset (json or yaml)")
	f.StringVar(&valResult, "result", "", "team analysis result JSON file")
	f.StringVar(&valReport, "report", "", "archived analysis ID")
	f.StringVar(&valObjective, "objective", "Identify the most important quality risks", "objective for a fresh analysis")
	f.StringSliceVarP(&valSpecialties, "specialty", "s", nil, "specialties for a fresh analysis")
	f.StringVarP(&valOutput, "output", "o", "", "write the report to a file")
	f.StringVar(&valFormat, "format", "", "report format: summary, json, markdown")
	f.BoolVar(&valSave, "save", false, "store the report in the archive")
	_ = validateCmd.MarkFlagRequired("dataset")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	dataset, err := store.LoadDataset(valDataset)
	if err != nil {
		return err
	}

	var (
		archive *store.SQLiteArchive
		result  *core.TeamAnalysisResult
	)
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	if valReport != "" || valSave {
		if archive, err = openArchive(conf); err != nil {
			return err
		}
		defer archive.Close()
	}

	switch {
	case valResult != "":
		if result, err = readResultFile(valResult); err != nil {
			return err
		}
	case valReport != "":
		result = &core.TeamAnalysisResult{}
		rec, err := archive.Get(ctx, valReport, result)
		if err != nil {
			return err
		}
		if rec.Kind != store.KindAnalysis {
			return fmt.Errorf("report %s is a %s report, not an analysis", valReport, rec.Kind)
		}
	case len(args) > 0:
		a, err := newApp()
		if err != nil {
			return err
		}
		files, err := readSourceFiles(args)
		if err != nil {
			return err
		}
		specialties := splitList(valSpecialties)
		if len(specialties) == 0 {
			specialties = conf.Orchestration.Specialties
		}
		if result, err = a.coordinator.Coordinate(ctx, team.CoordinateRequest{
			Files:             files,
			BusinessObjective: valObjective,
			Specialties:       specialties,
		}); err != nil {
			return err
		}
	default:
		return fmt.Errorf("nothing to validate: pass --result, --report or paths to analyze")
	}

	report, err := validation.Validate(result, dataset, groundTruthConfig(conf.GroundTruth))
	if err != nil {
		return err
	}
	if valSave {
		if _, err := archive.SaveValidation(ctx, report); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	format := reportFormat(valFormat, valOutput)
	if format == formatSummary {
		if !quiet {
			printValidationSummary(out, report)
		}
		return nil
	}
	return writeReport(out, valOutput, format, report, func(w io.Writer) error {
		return validation.WriteValidationReport(report, w)
	})
}

func readResultFile(path string) (*core.TeamAnalysisResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}
	var r core.TeamAnalysisResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding result %s: %w", path, err)
	}
	return &r, nil
}
