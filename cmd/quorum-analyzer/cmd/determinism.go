package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/validation"
)

var determinismCmd = &cobra.Command{
	Use:   "determinism <path>...",
	Short: "Measure how stable team analyses are across repeated runs",
	Long: `Run the same team analysis several times in sequence and score how often
each finding reappears. A finding is identified by its category and its
location with line numbers ignored.

With --bootstrap-dataset the consistent findings are written out as a
candidate reference dataset for human labelling.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDeterminism,
}

var (
	detObjective   string
	detContext     string
	detSpecialties []string
	detRuns        int
	detDelay       time.Duration
	detThreshold   float64
	detOutput      string
	detFormat      string
	detSave        bool
	detBootstrap   string
)

func init() {
	rootCmd.AddCommand(determinismCmd)

	f := determinismCmd.Flags()
	f.StringVar(&detObjective, "objective", "Identify the most important quality risks", "business objective")
	f.StringVar(&detContext, "context", "", "free-form project context")
	f.StringSliceVarP(&detSpecialties, "specialty", "s", nil, "specialties to dispatch")
	f.IntVarP(&detRuns, "runs", "n", 0, "number of runs, 2-20 (default: determinism.run_count)")
	f.DurationVar(&detDelay, "delay", -1, "pause between runs (default: determinism.delay_between_runs)")
	f.Float64Var(&detThreshold, "threshold", 0, "fraction of runs a finding needs to count as consistent")
	f.StringVarP(&detOutput, "output", "o", "", "write the report to a file")
	f.StringVar(&detFormat, "format", "", "report format: summary, json, markdown")
	f.BoolVar(&detSave, "save", false, "store the result in the report archive")
	f.StringVar(&detBootstrap, "bootstrap-dataset", "", "write consistent findings as a candidate dataset (json or yaml)")
}

func runDeterminism(cmd *cobra.Command, args []string) error {
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

	req := validation.DeterminismRequest{
		Files:                files,
		Objective:            detObjective,
		ProjectContext:       detContext,
		Specialties:          splitList(detSpecialties),
		RunCount:             a.cfg.Determinism.RunCount,
		DelayBetweenRuns:     a.cfg.Determinism.DelayBetweenRuns,
		ConsistencyThreshold: a.cfg.Determinism.ConsistencyThreshold,
	}
	if len(req.Specialties) == 0 {
		req.Specialties = a.cfg.Orchestration.Specialties
	}
	if detRuns != 0 {
		req.RunCount = detRuns
	}
	if detDelay >= 0 {
		req.DelayBetweenRuns = detDelay
	}
	if detThreshold != 0 {
		req.ConsistencyThreshold = detThreshold
	}

	runner := validation.NewDeterminismRunner(a.coordinator, validation.WithLogger(a.logger))
	result, err := runner.MeasureDeterminism(ctx, req)
	if err != nil {
		return err
	}

	if detSave {
		archive, err := openArchive(a.cfg)
		if err != nil {
			return err
		}
		defer archive.Close()
		if _, err := archive.SaveDeterminism(ctx, result); err != nil {
			return err
		}
	}
	if detBootstrap != "" {
		ds := validation.DatasetFromDeterminism(result, "bootstrap-"+result.ID)
		if len(ds.Issues) == 0 {
			a.logger.Warn("no consistent findings, dataset not written", "path", detBootstrap)
		} else if err := store.SaveDataset(detBootstrap, ds); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	format := reportFormat(detFormat, detOutput)
	if format == formatSummary {
		if !quiet {
			printDeterminismSummary(out, result)
		}
	} else if err := writeReport(out, detOutput, format, result, func(w io.Writer) error {
		return validation.WriteDeterminismReport(result, w)
	}); err != nil {
		return err
	}
	if result.Cancelled {
		return fmt.Errorf("measurement cancelled after %d of %d runs", len(result.Runs), result.RunCount)
	}
	return nil
}
