package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pabridge-dev/pabridge/internal/config"
	"github.com/pabridge-dev/pabridge/internal/validate"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "init",
		Short:         "Create a power config for the project",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runInit,
	}
	addProjectFlags(cmd)
	cmd.Flags().String("environment-id", "", "Power Platform environment ID (required)")
	cmd.Flags().String("app-id", "", "App ID, if already registered")
	cmd.Flags().String("display-name", "", "App display name")
	cmd.Flags().String("description", "", "App description")
	cmd.Flags().String("build-path", "", "Relative path to built app output")
	cmd.Flags().Bool("force", false, "Overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	environmentID, _ := cmd.Flags().GetString("environment-id")
	appID, _ := cmd.Flags().GetString("app-id")
	displayName, _ := cmd.Flags().GetString("display-name")
	description, _ := cmd.Flags().GetString("description")
	buildPath, _ := cmd.Flags().GetString("build-path")
	force, _ := cmd.Flags().GetBool("force")

	if !validate.EnvironmentID(environmentID) {
		return out.Error("A valid --environment-id is required", nil)
	}

	path, err := resolveProjectConfig(cmd)
	if err != nil {
		return out.Error("Failed to resolve config path", err)
	}

	if _, err := os.Stat(path); err == nil && !force {
		return out.Error(fmt.Sprintf("Config already exists at %s (use --force to overwrite)", path), nil)
	}

	cfg := config.PowerConfig{
		EnvironmentID:  environmentID,
		AppID:          appID,
		AppDisplayName: displayName,
		Description:    description,
		BuildPath:      buildPath,
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return out.Error("Failed to encode config", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return out.Error("Failed to write config", err)
	}

	return out.Success(fmt.Sprintf("Created %s", path), map[string]interface{}{
		"path":           path,
		"environment_id": environmentID,
	})
}
