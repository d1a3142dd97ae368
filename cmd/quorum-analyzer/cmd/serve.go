package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve team analyses over HTTP",
	RunE:  runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp()
	if err != nil {
		return err
	}
	archive, err := openArchive(a.cfg)
	if err != nil {
		return err
	}
	defer archive.Close()

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := api.NewServer(a.coordinator,
		api.WithLogger(a.logger),
		api.WithResilience(a.breakers, a.limiter),
		api.WithArchive(archive),
		api.WithAllowedOrigins(a.cfg.Server.AllowedOrigins),
	)
	return srv.ListenAndServe(ctx, addr)
}
