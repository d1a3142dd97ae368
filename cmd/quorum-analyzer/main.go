package main

import (
	"os"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/cmd/quorum-analyzer/cmd"
)

// Version information, set by the release build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
