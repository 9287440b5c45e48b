package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chhoumann/claude-github-triage/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get and set triage configuration",
		Long: `Inspect or modify configuration values. Global values live in
config.toml in the data directory; project values in .triage.toml.`,
	}

	cmd.AddCommand(configGetCmd())
	cmd.AddCommand(configSetCmd())
	cmd.AddCommand(configListCmd())

	return cmd
}

// projectConfigPath is .triage.toml in the project directory.
func projectConfigPath() (string, error) {
	dir := workDirFlag
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	return filepath.Join(dir, config.ProjectConfigFile), nil
}

func loadLocalConfig() (*config.ProjectConfig, error) {
	path, err := projectConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadProjectConfig(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.ProjectConfigFile, err)
	}
	return cfg, nil
}

func configGetCmd() *cobra.Command {
	var localFlag bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			out := cmd.OutOrStdout()

			if localFlag {
				localCfg, err := loadLocalConfig()
				if err != nil {
					return err
				}
				if localCfg == nil {
					return fmt.Errorf("no local config (%s) found", config.ProjectConfigFile)
				}
				val, err := config.GetConfigValue(localCfg, key)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, val)
				return nil
			}

			cfg, err := config.LoadGlobal()
			if err != nil {
				return fmt.Errorf("load global config: %w", err)
			}
			val, err := config.GetConfigValue(cfg, key)
			if err != nil {
				return err
			}
			if config.IsSensitiveKey(key) {
				val = config.MaskValue(val)
			}
			fmt.Fprintln(out, val)
			return nil
		},
	}

	cmd.Flags().BoolVar(&localFlag, "local", false, "get from the project's "+config.ProjectConfigFile)

	return cmd
}

func configSetCmd() *cobra.Command {
	var localFlag bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if localFlag {
				path, err := projectConfigPath()
				if err != nil {
					return err
				}
				return config.SetKeyInFile(path, &config.ProjectConfig{}, key, value)
			}
			return config.SetKeyInFile(config.GlobalConfigPath(), &config.Config{}, key, value)
		},
	}

	cmd.Flags().BoolVar(&localFlag, "local", false, "set in the project's "+config.ProjectConfigFile)

	return cmd
}

func configListCmd() *cobra.Command {
	var localFlag bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configuration values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if localFlag {
				localCfg, err := loadLocalConfig()
				if err != nil {
					return err
				}
				if localCfg == nil {
					return fmt.Errorf("no local config (%s) found", config.ProjectConfigFile)
				}
				printKeyValues(cmd.OutOrStdout(), config.ListConfigKeys(localCfg))
				return nil
			}

			cfg, err := config.LoadGlobal()
			if err != nil {
				return fmt.Errorf("load global config: %w", err)
			}
			printKeyValues(cmd.OutOrStdout(), config.ListConfigKeys(cfg))
			return nil
		},
	}

	cmd.Flags().BoolVar(&localFlag, "local", false, "list the project's "+config.ProjectConfigFile)

	return cmd
}

// printKeyValues prints key=value lines. ListConfigKeys already masks
// sensitive values.
func printKeyValues(w io.Writer, kvs []config.KeyValue) {
	for _, kv := range kvs {
		fmt.Fprintf(w, "%s=%s\n", kv.Key, kv.Value)
	}
}
