package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dataguard/internal/application"
	"dataguard/internal/display"
	"dataguard/internal/service"
)

func newRestoreCommand(c *cli) *cobra.Command {
	var (
		prune       bool
		description string
	)
	cmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore the relational store from a backup",
		Long: `Restore verifies the backup checksum and then upserts every record of the
snapshot. Records created after the backup are kept unless --prune is given,
in which case records absent from the backup are deleted. --prune requires a
full backup.

An incremental backup holds only the records changed since its base, so
restore the base full backup first and the incremental on top of it.`,
		Example: `  dataguard restore backup-1710043200-3f2a9c1e
  dataguard restore backup-1710043200-3f2a9c1e --prune --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, app *application.Application, p *display.Printer) (service.Result, error) {
				err := confirm(ctx, p, func(d *display.ConfirmationDialog) {
					d.SetTitle("Restore Backup").
						SetDestructive(true).
						SetMessage(fmt.Sprintf("Records in the live store will be overwritten with the contents of %s.", args[0]))
					if prune {
						d.SetWarning("--prune deletes records that are not present in the backup.")
					}
				})
				if err != nil {
					return service.Result{}, err
				}

				spinner := p.StartSpinner("Restoring backup...")
				defer spinner.Stop("")
				return app.Service.Restore(ctx, args[0], c.operator(), description, prune), nil
			})
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "delete live records absent from the backup")
	cmd.Flags().StringVarP(&description, "description", "d", "", "reason recorded with the restore")
	return cmd
}
