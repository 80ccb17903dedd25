package cmd

import (
	"github.com/spf13/cobra"

	"dataguard/internal/api"
	"dataguard/internal/application"
)

func newServeCommand(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, /healthz and /metrics",
		Long: `serve exposes every operation under /api/v1 together with a liveness probe
at /healthz and Prometheus metrics at /metrics. The server shuts down
gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Address
			}

			app, err := application.New(cmd.Context(), cfg, application.Options{Verbose: c.verbose, Quiet: c.quiet})
			if err != nil {
				return &exitError{code: application.ExitCodeForError(err), err: err}
			}
			defer app.Close()

			ctx, cancel := application.SignalContext(cmd.Context(), app.Logger)
			defer cancel()

			server := api.NewServer(app.Service, app.Logger, app.Metrics, app.Registry)
			if err := server.ListenAndServe(ctx, addr); err != nil {
				return &exitError{code: application.ExitFailure, err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.address from config)")
	return cmd
}
