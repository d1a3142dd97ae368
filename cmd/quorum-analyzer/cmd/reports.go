package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/adapters/store"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Browse the report archive",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived reports, newest first",
	Args:  cobra.NoArgs,
	RunE:  runReportsList,
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print an archived report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsShow,
}

var (
	reportsKind  string
	reportsLimit int
)

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.AddCommand(reportsListCmd, reportsShowCmd)

	reportsListCmd.Flags().StringVar(&reportsKind, "kind", "", "only list analysis, determinism or validation reports")
	reportsListCmd.Flags().IntVarP(&reportsLimit, "limit", "n", 20, "maximum number of reports (0 for all)")
}

func runReportsList(cmd *cobra.Command, _ []string) error {
	switch store.Kind(reportsKind) {
	case "", store.KindAnalysis, store.KindDeterminism, store.KindValidation:
	default:
		return fmt.Errorf("unknown report kind %q", reportsKind)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	archive, err := openArchive(cfg)
	if err != nil {
		return err
	}
	defer archive.Close()

	records, err := archive.List(cmd.Context(), store.Kind(reportsKind), reportsLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, mutedStyle().Render("No reports."))
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKind\tScore\tCreated\tTitle")
	for _, r := range records {
		score := "-"
		if r.Score != nil {
			score = fmt.Sprintf("%.1f", *r.Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Kind, score, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Title)
	}
	return tw.Flush()
}

func runReportsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	archive, err := openArchive(cfg)
	if err != nil {
		return err
	}
	defer archive.Close()

	var payload json.RawMessage
	if _, err := archive.Get(cmd.Context(), args[0], &payload); err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), payload)
}
