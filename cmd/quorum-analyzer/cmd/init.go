package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Long: `Write a commented default configuration to .quorum-analyzer.yaml in the
current directory, or to the given path. An existing file is left alone
unless --force is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := ".quorum-analyzer.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	written, err := config.WriteDefault(path, initForce)
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	out := cmd.OutOrStdout()
	if !written {
		fmt.Fprintf(out, "%s already exists (use --force to overwrite)\n", path)
		return nil
	}
	fmt.Fprintln(out, successStyle().Render("Created "+path))
	return nil
}
