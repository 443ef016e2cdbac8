package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func newRestartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "restart",
		Short:         "Restart the bridge's managed dev server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRestart,
	}
	addAddressFlag(cmd)
	return cmd
}

func runRestart(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	c := bridgeClient(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Restart(ctx); err != nil {
		return out.Error("Failed to restart dev server", err)
	}

	return out.Success("Restart requested", map[string]interface{}{
		"method": "api",
	})
}
