package cmd

import (
	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand, which runs the ops HTTP server
// on its own. Acquisition runs are started separately with 'parlingest run'.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the ops HTTP API",
		Long: `Starts the operational HTTP server (health, Prometheus metrics, run and
file status endpoints) and blocks until interrupted. Requires server.port to
be set to a non-zero value.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context())
		},
	}
}
