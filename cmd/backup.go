package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dataguard/internal/application"
	"dataguard/internal/display"
	"dataguard/internal/service"
)

func newBackupCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, verify, export and delete backups",
		Long: `Manage snapshots of the relational store.

A full backup captures every snapshotted collection. An incremental backup
captures only records modified since the backup it builds on, and falls back
to a full backup when no full backup exists yet. Every backup carries a
checksum that is verified before it is restored.`,
	}
	cmd.AddCommand(
		newBackupCreateCommand(c),
		newBackupListCommand(c),
		newBackupVerifyCommand(c),
		newBackupDeleteCommand(c),
		newBackupExportCommand(c),
	)
	return cmd
}

func newBackupCreateCommand(c *cli) *cobra.Command {
	var (
		backupType  string
		incremental bool
		previousID  string
		description string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a full or incremental backup",
		Example: `  dataguard backup create --description "nightly"
  dataguard backup create --type incremental
  dataguard backup create --incremental --previous backup-1710043200-3f2a9c1e`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch strings.ToLower(backupType) {
			case "full":
			case "incremental":
				incremental = true
			default:
				return &exitError{code: application.ExitUsage, err: fmt.Errorf("unknown backup type %q (want full or incremental)", backupType)}
			}
			if previousID != "" && !incremental {
				return &exitError{code: application.ExitUsage, err: fmt.Errorf("--previous requires --incremental")}
			}
			return c.run(cmd, "Creating backup...", func(ctx context.Context, app *application.Application, _ *display.Printer) (service.Result, error) {
				if incremental {
					return app.Service.CreateIncrementalBackup(ctx, previousID, c.operator(), description), nil
				}
				return app.Service.CreateFullBackup(ctx, c.operator(), description), nil
			})
		},
	}
	cmd.Flags().StringVarP(&backupType, "type", "t", "full", "backup type: full or incremental")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "shorthand for --type incremental")
	cmd.Flags().StringVar(&previousID, "previous", "", "base backup for an incremental backup (default latest full backup)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "free-text description stored with the backup")
	return cmd
}

func newBackupListCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, app *application.Application, _ *display.Printer) (service.Result, error) {
				return app.Service.ListBackups(ctx), nil
			})
		},
	}
}

func newBackupVerifyCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <backup-id>",
		Short: "Recompute and compare the checksums of a backup",
		Long: `Verify downloads the backup payload and compares its checksums with the
catalog. A mismatch exits with status 3.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "Verifying backup...", func(ctx context.Context, app *application.Application, _ *display.Printer) (service.Result, error) {
				return app.Service.VerifyBackup(ctx, args[0]), nil
			})
		},
	}
}

func newBackupDeleteCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <backup-id>",
		Short: "Delete a backup and its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, app *application.Application, p *display.Printer) (service.Result, error) {
				err := confirm(ctx, p, func(d *display.ConfirmationDialog) {
					d.SetTitle("Delete Backup").
						SetDestructive(true).
						SetMessage(fmt.Sprintf("Backup %s and its payload will be removed permanently.", args[0]))
				})
				if err != nil {
					return service.Result{}, err
				}
				return app.Service.DeleteBackup(ctx, args[0]), nil
			})
		},
	}
}

func newBackupExportCommand(c *cli) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "export <backup-id>",
		Short: "Print a time-limited download URL for a backup payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "", func(ctx context.Context, app *application.Application, _ *display.Printer) (service.Result, error) {
				return app.Service.ExportBackup(ctx, args[0], ttl), nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "URL lifetime (default 15m, at most 168h)")
	return cmd
}
