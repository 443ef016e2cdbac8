package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pabridge-dev/pabridge/internal/client"
	"github.com/pabridge-dev/pabridge/internal/config"
	"github.com/pabridge-dev/pabridge/internal/procutil"
	"github.com/pabridge-dev/pabridge/internal/runtime"
)

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stop",
		Short:         "Stop the running bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStop,
	}
	addAddressFlag(cmd)
	return cmd
}

// runStop asks the bridge to shut itself down and falls back to signalling
// the recorded PID when the control endpoint cannot be used.
func runStop(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	c := bridgeClient(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	apiErr := c.Shutdown(ctx)
	if apiErr == nil {
		return out.Success("Shutdown request sent to bridge", map[string]interface{}{
			"method": "api",
		})
	}
	if !errors.Is(apiErr, client.ErrBridgeUnreachable) && !errors.Is(apiErr, client.ErrShutdownUnavailable) {
		return out.Error("Failed to stop bridge", apiErr)
	}

	paths := config.GetBridgePaths()
	pid, err := runtime.ReadPIDFile(paths.PID)
	if err != nil {
		return out.Error("Failed to stop bridge via API and no usable PID file", fmt.Errorf("%v; %w", apiErr, err))
	}

	if !procutil.IsProcessAlive(pid) {
		runtime.RemovePIDFile(paths.PID)
		return out.Error("Bridge is not running", fmt.Errorf("stale pid file for pid %d removed", pid))
	}

	if err := procutil.TerminateByPID(pid); err != nil {
		return out.Error("Failed to signal bridge", err)
	}

	if procutil.WaitForExit(pid, 3*time.Second) {
		runtime.RemovePIDFile(paths.PID)
		return out.Success("Bridge stopped", map[string]interface{}{
			"pid":    pid,
			"method": "signal",
		})
	}

	// The bridge is draining connections; leave the PID file for a retry.
	return out.Success("Sent termination signal to bridge", map[string]interface{}{
		"pid":    pid,
		"method": "signal",
	})
}
