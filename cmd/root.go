// Package cmd implements the dataguard command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dataguard/internal/application"
	"dataguard/internal/config"
	"dataguard/internal/display"
	"dataguard/internal/service"
)

// cli holds the persistent flags of one command tree.
type cli struct {
	cfgFile   string
	envFile   string
	verbose   bool
	quiet     bool
	assumeYes bool
	format    string
	noColor   bool
	timeout   time.Duration
	createdBy string

	v *viper.Viper
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "dataguard",
		Short: "Backup, restore, retention and migrations for health assessment data",
		Long: `dataguard protects the data of the health self-assessment product.

It takes checksummed full and incremental snapshots of the relational store,
restores them, archives and expires audit history, and runs schema migrations
behind an automatic pre-migration backup.

Examples:
  # Create a full backup
  dataguard backup create --description "before release 2.4"

  # Create an incremental backup on top of the latest full one
  dataguard backup create --incremental

  # Verify and restore a backup
  dataguard backup verify backup-1710043200-3f2a9c1e
  dataguard restore backup-1710043200-3f2a9c1e --prune

  # Run the weekly policy from cron with JSON output
  dataguard retention run-policy --format json --yes

  # Serve the HTTP API and Prometheus metrics
  dataguard serve --addr 0.0.0.0:8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.verbose && c.quiet {
				return &exitError{code: application.ExitUsage, err: errors.New("--verbose and --quiet flags are mutually exclusive")}
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default is ./.dataguard.yaml or $HOME/.dataguard.yaml)")
	pf.StringVar(&c.envFile, "env-file", "", "dotenv file loaded before the environment (default .env when present)")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVarP(&c.quiet, "quiet", "q", false, "suppress non-error output")
	pf.BoolVarP(&c.assumeYes, "yes", "y", false, "answer yes to every confirmation")
	pf.StringVar(&c.format, "format", "text", "output format (text, json, yaml)")
	pf.BoolVar(&c.noColor, "no-color", false, "disable color output")
	pf.DurationVar(&c.timeout, "timeout", 0, "operation timeout (overrides the config file)")
	pf.StringVar(&c.createdBy, "created-by", "", "operator recorded on backups, restores and migrations (default $USER)")

	c.v.BindPFlag("timeout", pf.Lookup("timeout"))

	root.AddCommand(
		newBackupCommand(c),
		newRestoreCommand(c),
		newRetentionCommand(c),
		newMigrateCommand(c),
		newServeCommand(c),
		newHealthCommand(c),
		newConfigCommand(c),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and exits with the mapped status code.
func Execute() {
	root := NewRootCommand()
	err := root.Execute()
	if err == nil {
		return
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", ee.err)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(application.ExitCodeForError(err))
}

func (c *cli) loadOptions() config.LoadOptions {
	return config.LoadOptions{File: c.cfgFile, EnvFile: c.envFile, Viper: c.v}
}

func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.loadOptions())
	if err != nil {
		return nil, &exitError{code: application.ExitCodeForError(err), err: err}
	}
	return cfg, nil
}

func (c *cli) printer(cmd *cobra.Command) *display.Printer {
	return display.NewPrinter(&display.DisplayConfig{
		Format:       display.ParseFormat(c.format),
		ColorEnabled: !c.noColor,
		ShowProgress: true,
		QuietMode:    c.quiet,
		AssumeYes:    c.assumeYes,
		Writer:       cmd.OutOrStdout(),
		Input:        cmd.InOrStdin(),
	})
}

func (c *cli) operator() string {
	if c.createdBy != "" {
		return c.createdBy
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

// runFunc performs one operation against a fully wired application.
type runFunc func(ctx context.Context, app *application.Application, p *display.Printer) (service.Result, error)

// run loads the configuration, builds the application, runs fn under the
// signal and timeout contexts, and prints the result.
func (c *cli) run(cmd *cobra.Command, spin string, fn runFunc) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	p := c.printer(cmd)

	ctx, cancel := application.SignalContext(cmd.Context(), nil)
	defer cancel()

	app, err := application.New(ctx, cfg, application.Options{Verbose: c.verbose, Quiet: c.quiet})
	if err != nil {
		return &exitError{code: application.ExitCodeForError(err), err: err}
	}
	defer app.Close()

	opCtx, opCancel := app.OperationContext(ctx)
	defer opCancel()

	var spinner *display.Spinner
	if spin != "" {
		spinner = p.StartSpinner(spin)
	}
	res, err := fn(opCtx, app, p)
	if spinner != nil {
		spinner.Stop("")
	}
	if err != nil {
		if errors.Is(err, errCancelled) {
			p.Info("Operation cancelled")
			return nil
		}
		return &exitError{code: application.ExitCodeForError(err), err: err}
	}

	if err := p.PrintResult(res); err != nil {
		return err
	}
	if code := application.ExitCode(res); code != application.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

// errCancelled is returned by a runFunc when the user declines a prompt.
var errCancelled = errors.New("cancelled by user")

// confirm asks before a destructive operation. Declining yields errCancelled.
func confirm(ctx context.Context, p *display.Printer, build func(*display.ConfirmationDialog)) error {
	ok, err := p.Confirm(ctx, build)
	if err != nil {
		return err
	}
	if !ok {
		return errCancelled
	}
	return nil
}
