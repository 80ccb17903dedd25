package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dataguard/internal/application"
	"dataguard/internal/display"
	"dataguard/internal/migration"
	"dataguard/internal/service"
)

func newMigrateCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run, roll back and inspect schema migrations",
		Long: `Migrations are YAML files listing named steps, each with "up" SQL statements
and optional "down" statements:

  description: add reminder preferences
  steps:
    - name: add_reminder_column
      up:
        - ALTER TABLE profiles ADD COLUMN reminder_opt_in BOOLEAN DEFAULT FALSE
      down:
        - ALTER TABLE profiles DROP COLUMN reminder_opt_in

A full backup is taken before the first step unless --no-backup is given.
A failed step marks the migration FAILED; already applied steps are not
reverted. Use "migrate rollback" to restore the pre-migration backup.`,
	}
	cmd.AddCommand(newMigrateRunCommand(c), newMigrateRollbackCommand(c), newMigrateHistoryCommand(c))
	return cmd
}

func newMigrateRunCommand(c *cli) *cobra.Command {
	var (
		noBackup    bool
		description string
	)
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := migration.LoadFile(args[0])
			if err != nil {
				return &exitError{code: application.ExitCodeForError(err), err: err}
			}
			return c.run(cmd, "", func(ctx context.Context, app *application.Application, p *display.Printer) (service.Result, error) {
				if destructive := file.Destructive(); len(destructive) > 0 {
					err := confirm(ctx, p, func(d *display.ConfirmationDialog) {
						d.SetTitle("Run Migration").
							SetDestructive(true).
							SetMessage(fmt.Sprintf("%d statements drop or delete data.", len(destructive))).
							AddDetails(destructive...)
						if noBackup {
							d.SetWarning("--no-backup is set; there will be nothing to roll back to.")
						}
					})
					if err != nil {
						return service.Result{}, err
					}
				}

				spinner := p.StartSpinner(fmt.Sprintf("Running %d migration steps...", len(file.Steps)))
				defer spinner.Stop("")
				return app.Service.ExecuteMigrationFile(ctx, file, migration.ExecuteOptions{
					AutoBackup:  !noBackup,
					CreatedBy:   c.operator(),
					Description: description,
				}), nil
			})
		},
	}
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip the pre-migration backup")
	cmd.Flags().StringVarP(&description, "description", "d", "", "description (default from the file)")
	return cmd
}

func newMigrateRollbackCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <migration-id>",
		Short: "Restore the pre-migration backup of a migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, app *application.Application, p *display.Printer) (service.Result, error) {
				err := confirm(ctx, p, func(d *display.ConfirmationDialog) {
					d.SetTitle("Roll Back Migration").
						SetDestructive(true).
						SetMessage(fmt.Sprintf("Records will be restored, with pruning, to the backup taken before %s.", args[0])).
						SetWarning(strings.TrimSpace(`
Schema changes are not reverted by a data restore; run the migration's down
statements separately if the schema must change back.`))
				})
				if err != nil {
					return service.Result{}, err
				}
				return app.Service.RollbackMigration(ctx, args[0], c.operator()), nil
			})
		},
	}
}

func newMigrateHistoryCommand(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List migrations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, app *application.Application, _ *display.Printer) (service.Result, error) {
				return app.Service.GetMigrationHistory(ctx, limit), nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of migrations to list (0 for all)")
	return cmd
}
