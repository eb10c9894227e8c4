package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/ragcore/configs"
	"github.com/Aman-CERP/ragcore/internal/config"
	"github.com/Aman-CERP/ragcore/internal/output"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration",
		Long: `Inspect the effective configuration and create a project config file.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/ragcore/config.yaml)
  3. Project config (.ragcore.yaml, .ragcore.yml or .ragcore.toml)
  4. .env in the project directory
  5. Environment variables (RAGCORE_*)`,
		Example: `  # Create .ragcore.yaml in the current directory
  ragcore config init

  # Show the merged configuration
  ragcore config show --format json

  # Print the config file locations
  ragcore config path`,
	}

	cmd.AddCommand(newConfigInitCmd(root))
	cmd.AddCommand(newConfigShowCmd(root))
	cmd.AddCommand(newConfigPathCmd(root))

	return cmd
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project configuration file",
		Long: `Create .ragcore.yaml in the project directory from a commented
template listing the common settings at their defaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			dir, err := root.projectDir()
			if err != nil {
				return err
			}
			path := filepath.Join(dir, configs.ProjectConfigFileName)

			if _, err := os.Stat(path); err == nil && !force {
				out.Warning("Project configuration already exists")
				out.Statusf("📁", "Location: %s", path)
				out.Status("💡", "Use --force to overwrite it with the template")
				return nil
			}

			if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			out.Success("Created project configuration")
			out.Statusf("📁", "Location: %s", path)
			out.Status("📋", "Run 'ragcore config show' to verify")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")

	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var (
		format string
		source string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging every source, or only the
built-in defaults with --source defaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *config.Config
			switch source {
			case "merged":
				loaded, err := root.loadConfig()
				if err != nil {
					return err
				}
				cfg = loaded
			case "defaults":
				cfg = config.NewConfig()
			default:
				return fmt.Errorf("unknown source %q (want merged or defaults)", source)
			}
			return printConfig(cmd, cfg, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml, toml or json")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged or defaults")

	return cmd
}

func printConfig(cmd *cobra.Command, cfg *config.Config, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "yaml":
		data, err = yaml.Marshal(cfg)
	case "toml":
		data, err = toml.Marshal(cfg)
	case "json":
		return writeJSON(cmd.OutOrStdout(), cfg)
	default:
		return fmt.Errorf("unknown format %q (want yaml, toml or json)", format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func newConfigPathCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print configuration file locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := root.projectDir()
			if err != nil {
				return err
			}
			project := config.ProjectConfigPath(dir)
			if project == "" {
				project = filepath.Join(dir, configs.ProjectConfigFileName) + " (not created)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user:    %s\n", config.GetUserConfigPath())
			fmt.Fprintf(cmd.OutOrStdout(), "project: %s\n", project)
			return nil
		},
	}
}
