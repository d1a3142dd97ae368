package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/validation"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Work with labelled reference datasets",
}

var datasetStatsCmd = &cobra.Command{
	Use:   "stats <file>",
	Short: "Check a dataset and summarize its issues",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetStats,
}

var datasetBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Build a candidate dataset from a determinism result",
	Long: `Turn the consistent findings of a determinism measurement (written with
'determinism --format json') into a candidate dataset. The candidate still
needs human review before it is used as ground truth.`,
	Args: cobra.NoArgs,
	RunE: runDatasetBootstrap,
}

var (
	bootstrapFrom string
	bootstrapOut  string
	bootstrapName string
)

func init() {
	rootCmd.AddCommand(datasetCmd)
	datasetCmd.AddCommand(datasetStatsCmd, datasetBootstrapCmd)

	f := datasetBootstrapCmd.Flags()
	f.StringVar(&bootstrapFrom, "from", "", "determinism result JSON file")
	f.StringVar(&bootstrapOut, "out", "", "dataset file to write (json or yaml)")
	f.StringVar(&bootstrapName, "name", "", "dataset name (default: derived from the measurement ID)")
	_ = datasetBootstrapCmd.MarkFlagRequired("from")
	_ = datasetBootstrapCmd.MarkFlagRequired("out")
}

func runDatasetStats(cmd *cobra.Command, args []string) error {
	ds, err := store.LoadDataset(args[0])
	if err != nil {
		return err
	}
	st := ds.Statistics
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle().Render("Dataset "+ds.DatasetName))
	fmt.Fprintf(out, "  issues: %d (%d mandatory)  files: %d\n", st.TotalIssues, st.MandatoryIssues, len(st.Files))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  Severity\tCount")
	for _, k := range sortedKeys(st.BySeverity) {
		fmt.Fprintf(tw, "  %s\t%d\n", k, st.BySeverity[k])
	}
	fmt.Fprintln(tw, "  Category\tCount")
	for _, k := range sortedKeys(st.ByCategory) {
		fmt.Fprintf(tw, "  %s\t%d\n", k, st.ByCategory[k])
	}
	return tw.Flush()
}

func runDatasetBootstrap(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(bootstrapFrom)
	if err != nil {
		return fmt.Errorf("reading determinism result: %w", err)
	}
	var res validation.DeterminismResult
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("decoding determinism result %s: %w", bootstrapFrom, err)
	}

	name := bootstrapName
	if name == "" {
		name = "bootstrap-" + res.ID
	}
	ds := validation.DatasetFromDeterminism(&res, name)
	if len(ds.Issues) == 0 {
		return fmt.Errorf("%s has no consistent findings to bootstrap from", bootstrapFrom)
	}
	if err := store.SaveDataset(bootstrapOut, ds); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d candidate issues to %s\n",
		successStyle().Render("Wrote"), len(ds.Issues), bootstrapOut)
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
