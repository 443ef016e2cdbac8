package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pabridge-dev/pabridge/internal/config"
)

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:           "config",
		Short:         "Inspect the project's power config",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	showCmd := &cobra.Command{
		Use:           "show",
		Short:         "Print the resolved power config",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runConfigShow,
	}
	addProjectFlags(showCmd)

	validateCmd := &cobra.Command{
		Use:           "validate",
		Short:         "Check that the power config exists and is valid",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runConfigValidate,
	}
	addProjectFlags(validateCmd)

	configCmd.AddCommand(showCmd, validateCmd)
	return configCmd
}

func addProjectFlags(cmd *cobra.Command) {
	cmd.Flags().String("project", ".", "Project directory containing the power config")
	cmd.Flags().String("config", "", "Path to the power config file (default <project>/power.config.json)")
}

func resolveProjectConfig(cmd *cobra.Command) (string, error) {
	projectFlag, _ := cmd.Flags().GetString("project")
	configFlag, _ := cmd.Flags().GetString("config")

	projectDir, err := filepath.Abs(config.ExpandPath(projectFlag))
	if err != nil {
		return "", fmt.Errorf("resolve project directory: %w", err)
	}
	return config.ResolveConfigPath(projectDir, configFlag)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	path, err := resolveProjectConfig(cmd)
	if err != nil {
		return out.Error("Failed to resolve config path", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return out.Error("Failed to load power config", err)
	}

	if out.jsonMode {
		return out.Print(cfg)
	}

	fmt.Printf("Config: %s\n", path)
	fmt.Printf("  Environment ID: %s\n", cfg.EnvironmentID)
	if cfg.AppID != "" {
		fmt.Printf("  App ID: %s\n", cfg.AppID)
	}
	if cfg.AppDisplayName != "" {
		fmt.Printf("  Display Name: %s\n", cfg.AppDisplayName)
	}
	if cfg.Description != "" {
		fmt.Printf("  Description: %s\n", cfg.Description)
	}
	if cfg.BuildPath != "" {
		fmt.Printf("  Build Path: %s\n", cfg.BuildPath)
	}
	if cfg.BuildEntryPoint != "" {
		fmt.Printf("  Build Entry Point: %s\n", cfg.BuildEntryPoint)
	}
	if cfg.LocalAppURL != "" {
		fmt.Printf("  Local App URL: %s\n", cfg.LocalAppURL)
	}
	return nil
}

// runConfigValidate classifies load failures so scripts can tell a missing
// config from a broken one by message.
func runConfigValidate(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	path, err := resolveProjectConfig(cmd)
	if err != nil {
		return out.Error("Failed to resolve config path", err)
	}

	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, config.ErrMissing):
		return out.Error("Power config not found", err)
	case errors.Is(err, config.ErrMalformed):
		return out.Error("Power config is not valid JSON", err)
	case errors.Is(err, config.ErrInvalid):
		return out.Error("Power config is invalid", err)
	case err != nil:
		return out.Error("Failed to read power config", err)
	}

	return out.Success("Power config is valid", map[string]interface{}{
		"path":           path,
		"environment_id": cfg.EnvironmentID,
	})
}
