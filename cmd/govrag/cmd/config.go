package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/govrag/govrag/configs"
	"github.com/govrag/govrag/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
		Long: `Inspect the effective configuration and validate a project config file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/govrag/config.yaml)
  3. Project config (.govrag.yaml)
  4. Environment variables (GOVRAG_*)`,
	}

	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigBackupCmd())
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigBackupCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the user configuration",
		Long: `Write a timestamped copy of the user config next to it.

With --list, print existing backups (newest first) instead of creating one.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				backups, err := config.ListUserConfigBackups()
				if err != nil {
					return err
				}
				if len(backups) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no backups found")
					return nil
				}
				for _, b := range backups {
					fmt.Fprintln(cmd.OutOrStdout(), b)
				}
				return nil
			}

			path, err := config.BackupUserConfig()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no user config to back up")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backed up to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list existing backups instead of creating one")
	return cmd
}

func newConfigRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [backup-path]",
		Short: "Restore the user configuration from a backup",
		Long: `Replace the user config with a backup's contents.

With no argument, the newest backup is restored. The current config is
backed up first, so a restore can itself be undone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var backupPath string
			if len(args) == 1 {
				backupPath = args[0]
			} else {
				backups, err := config.ListUserConfigBackups()
				if err != nil {
					return err
				}
				if len(backups) == 0 {
					return fmt.Errorf("no backups to restore from")
				}
				backupPath = backups[0]
			}

			if err := config.RestoreUserConfig(backupPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s from %s\n", config.GetUserConfigPath(), backupPath)
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var (
		user  bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration template",
		Long: `Write a commented configuration template.

By default writes a project .govrag.yaml in the current directory.
With --user, writes the machine-level config at ~/.config/govrag/config.yaml
(backend endpoints and model identifiers) instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := ".govrag.yaml"
			template := configs.ProjectConfigTemplate
			if user {
				path = config.GetUserConfigPath()
				template = configs.UserConfigTemplate
				if err := os.MkdirAll(config.GetUserConfigDir(), 0o755); err != nil {
					return fmt.Errorf("create config directory: %w", err)
				}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if user && force {
				if _, err := config.BackupUserConfig(); err != nil {
					return fmt.Errorf("back up existing config: %w", err)
				}
			}
			if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
				return fmt.Errorf("write config template: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&user, "user", false, "write the user config instead of a project config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&configDir, "config-dir", ".", "project directory to load .govrag.yaml from")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
	cmd.Flags().StringVar(&configDir, "config-dir", ".", "project directory to load .govrag.yaml from")
	return cmd
}
