package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"dataguard/internal/application"
	"dataguard/internal/display"
	"dataguard/internal/service"
)

func newHealthCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to the relational store and object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, app *application.Application, _ *display.Printer) (service.Result, error) {
				return app.Service.HealthCheck(ctx), nil
			})
		},
	}
}
