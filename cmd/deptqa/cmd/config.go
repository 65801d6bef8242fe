package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/map-community/CHATBOT-AI-sub000/configs"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
		Long: `Manage the deptqa configuration files.

Configuration layers, later wins:
  1. Built-in defaults
  2. User config (~/.config/deptqa/config.yaml) — machine endpoints
  3. Service config (./deptqa.yaml) — boards and retrieval tuning
  4. Environment variables (DEPTQA_*)

Secrets are environment-only and never written to any file.`,
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		user  bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from the template",
		Long: `Write a commented configuration template.

By default the service template is written to ./deptqa.yaml. With
--user, the machine-level template goes to ~/.config/deptqa/config.yaml
instead. An existing user config is upgraded in place with --force: it
is backed up, new options get their defaults, and your settings are
preserved.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(output.New(cmd.OutOrStdout()), user, force)
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Write the machine-level user config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite (service) or upgrade (user) an existing file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.NewWithMode(cmd.OutOrStdout(), output.ModeJSON).JSON(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func runConfigInit(out *output.Writer, user, force bool) error {
	if user {
		return initUserConfig(out, force)
	}
	return initServiceConfig(out, force)
}

func initServiceConfig(out *output.Writer, force bool) error {
	path := "deptqa.yaml"
	if _, err := os.Stat(path); err == nil && !force {
		out.Warning("Service configuration already exists")
		out.Statusf("", "Location: ./%s", path)
		out.Status("", "Use --force to overwrite")
		return nil
	}

	if err := os.WriteFile(path, []byte(configs.ServiceConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("Created service configuration")
	out.Statusf("", "Location: ./%s", path)
	out.Newline()
	out.Status("", "Edit the board list, then run 'deptqa config show' to verify.")
	return nil
}

func initUserConfig(out *output.Writer, force bool) error {
	path := config.GetUserConfigPath()

	if config.UserConfigExists() {
		if !force {
			out.Warning("User configuration already exists")
			out.Statusf("", "Location: %s", path)
			out.Status("", "Use --force to upgrade with new defaults (preserves your settings)")
			return nil
		}
		return upgradeUserConfig(out, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.UserConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("Created user configuration")
	out.Statusf("", "Location: %s", path)
	out.Newline()
	out.Status("", "Set endpoints and store addresses there; secrets stay in the environment.")
	return nil
}

// upgradeUserConfig backs up the existing file, merges new defaults,
// and writes it back with the user's settings preserved.
func upgradeUserConfig(out *output.Writer, path string) error {
	backupPath, err := config.BackupUserConfig()
	if err != nil {
		return fmt.Errorf("failed to backup config: %w", err)
	}

	existing, err := config.LoadUserConfig()
	if err != nil {
		return fmt.Errorf("failed to load existing config: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("config file disappeared during upgrade")
	}

	newFields := existing.MergeNewDefaults()
	if err := existing.WriteYAML(path); err != nil {
		return fmt.Errorf("failed to write upgraded config: %w", err)
	}

	out.Success("Configuration upgraded")
	out.Statusf("", "Location: %s", path)
	out.Statusf("", "Backup: %s", backupPath)
	if len(newFields) > 0 {
		out.Status("", "New options added with defaults:")
		for _, field := range newFields {
			out.Statusf("", "  - %s", field)
		}
	} else {
		out.Status("", "Configuration already up to date")
	}
	return nil
}
