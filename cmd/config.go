package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"dataguard/internal/application"
	"dataguard/internal/config"
)

func newConfigCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, show and validate the configuration",
		Long: `Configuration is read from --config, ./.dataguard.yaml or $HOME/.dataguard.yaml.
Every key can be overridden from the environment with the DATAGUARD_ prefix,
e.g. DATAGUARD_DATABASE_DSN or DATAGUARD_RETENTION_BACKUP_RETENTION_DAYS.
A .env file in the working directory is loaded first when present.`,
	}
	cmd.AddCommand(newConfigInitCommand(c), newConfigShowCommand(c), newConfigValidateCommand(c))
	return cmd
}

func newConfigInitCommand(c *cli) *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Write(config.Default(), path, force); err != nil {
				return &exitError{code: application.ExitCodeForError(err), err: err}
			}
			c.printer(cmd).Success(fmt.Sprintf("Configuration written to %s", path))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", config.DefaultFileName+".yaml", "where to write the file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCommand(c *cli) *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(c.loadOptions())
			if err != nil {
				return &exitError{code: application.ExitCodeForError(err), err: err}
			}
			if !showSecrets {
				cfg = config.Redacted(cfg)
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print credentials unmasked")
	return cmd
}

func newConfigValidateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and report risky settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(c.loadOptions())
			if err != nil {
				return &exitError{code: application.ExitCodeForError(err), err: err}
			}
			p := c.printer(cmd)
			result := config.Check(cfg)

			for _, e := range result.Errors {
				p.Error(e)
			}
			for _, w := range result.Warnings {
				p.Warning(w)
			}
			for _, r := range result.Recommendations {
				p.Info(r)
			}
			if !result.Valid {
				return &exitError{code: application.ExitUsage}
			}
			p.Success("Configuration is valid")
			return nil
		},
	}
}
