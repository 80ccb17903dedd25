package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dataguard/internal/application"
	"dataguard/internal/display"
	"dataguard/internal/service"
)

func newRetentionCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Archive audit history and expire old backups",
		Long: `Retention sweeps move audit entries older than the audit window into the
archive, delete archived entries older than the archive window, and delete
backups older than the backup window. Windows default to the retention
section of the configuration.`,
	}
	cmd.AddCommand(
		newSweepCommand(c, "archive", "Move old audit entries into the archive",
			func(app *application.Application) int { return app.Config.Retention.AuditRetentionDays },
			func(ctx context.Context, svc *service.Service, days int) service.Result {
				return svc.ArchiveOldAuditEntries(ctx, days)
			}, false),
		newSweepCommand(c, "cleanup-archive", "Delete archived audit entries past the archive window",
			func(app *application.Application) int { return app.Config.Retention.ArchiveRetentionDays },
			func(ctx context.Context, svc *service.Service, days int) service.Result {
				return svc.CleanupArchivedEntries(ctx, days)
			}, true),
		newSweepCommand(c, "cleanup-backups", "Delete backups past the backup window",
			func(app *application.Application) int { return app.Config.Retention.BackupRetentionDays },
			func(ctx context.Context, svc *service.Service, days int) service.Result {
				return svc.CleanupOldBackups(ctx, days)
			}, true),
		&cobra.Command{
			Use:   "run-policy",
			Short: "Take the scheduled backup and expire old backups",
			Long: `run-policy takes a full backup on the configured full_backup_day (or when
no full backup exists) and an incremental backup otherwise, then deletes
backups older than the backup window. Intended to run daily from cron.`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.run(cmd, "Running backup policy...", func(ctx context.Context, app *application.Application, _ *display.Printer) (service.Result, error) {
					return app.Service.PerformFullBackupProcess(ctx, c.operator()), nil
				})
			},
		},
		&cobra.Command{
			Use:   "full-archive",
			Short: "Run both audit sweeps with the configured windows",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.run(cmd, "Archiving audit entries...", func(ctx context.Context, app *application.Application, _ *display.Printer) (service.Result, error) {
					return app.Service.PerformFullArchive(ctx), nil
				})
			},
		},
	)
	return cmd
}

func newSweepCommand(
	c *cli,
	use, short string,
	defaultDays func(*application.Application) int,
	sweep func(context.Context, *service.Service, int) service.Result,
	destructive bool,
) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return &exitError{code: application.ExitUsage, err: fmt.Errorf("--days cannot be negative")}
			}
			return c.run(cmd, "", func(ctx context.Context, app *application.Application, p *display.Printer) (service.Result, error) {
				window := days
				if !cmd.Flags().Changed("days") {
					window = defaultDays(app)
				}
				if destructive {
					err := confirm(ctx, p, func(d *display.ConfirmationDialog) {
						d.SetTitle(short).
							SetDestructive(true).
							SetMessage(fmt.Sprintf("Everything older than %d days will be deleted.", window))
					})
					if err != nil {
						return service.Result{}, err
					}
				}
				return sweep(ctx, app.Service, window), nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (default from config)")
	return cmd
}
