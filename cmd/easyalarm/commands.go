package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djlord-it/easy-alarm/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration (no connections made)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print effective configuration as JSON (secrets masked)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return invalidConfig(err)
		}
		data, err := cfg.MaskedJSON()
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "easyalarm version %s (commit: %s)\n", version, commit)
	},
}

// loadConfig loads and validates configuration. Failures carry the
// invalid-config exit code.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, invalidConfig(err)
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, invalidConfig(fmt.Errorf("configuration error: %w", err))
	}
	return cfg, nil
}
