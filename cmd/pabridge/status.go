package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	pabridgeversion "github.com/pabridge-dev/pabridge/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show the status of the running bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStatus,
	}
	addAddressFlag(cmd)
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	c := bridgeClient(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := c.Status(ctx)
	if err != nil {
		return out.Error("Bridge is not reachable", err)
	}

	if warning := pabridgeversion.CheckVersionMismatch(status.Version); warning != "" {
		fmt.Fprintln(os.Stderr, warning)
	}

	if out.jsonMode {
		return out.Print(status)
	}

	fmt.Println("Bridge Status:")
	fmt.Printf("  Version: %s\n", status.Version)
	fmt.Printf("  Session: %s\n", status.SessionID)
	fmt.Printf("  PID: %d\n", status.PID)
	fmt.Printf("  Address: %s\n", status.Address)
	if len(status.URLs) > 0 {
		fmt.Printf("  URL: %s\n", status.URLs[0])
	}
	if status.PlayerURL != "" {
		fmt.Printf("  Player URL: %s\n", status.PlayerURL)
	}
	fmt.Printf("  Uptime: %.0f seconds\n", status.UptimeSeconds)
	if status.ConfigPath != "" {
		fmt.Printf("  Config: %s\n", status.ConfigPath)
	}
	if status.Upstream != "" {
		fmt.Printf("  Upstream: %s\n", status.Upstream)
	}
	if status.BuildPath != "" {
		fmt.Printf("  Build Path: %s\n", status.BuildPath)
	}
	if status.TLS {
		fmt.Println("  TLS: enabled")
	}
	if status.DevServer != nil {
		line := fmt.Sprintf("  Dev Server: %s", status.DevServer.State)
		if status.DevServer.PID != 0 {
			line += fmt.Sprintf(" (pid %d)", status.DevServer.PID)
		}
		if status.DevServer.ExitCode != nil {
			line += fmt.Sprintf(" (exit code %d)", *status.DevServer.ExitCode)
		}
		if status.DevServer.Restarts > 0 {
			line += fmt.Sprintf(", restarts: %d", status.DevServer.Restarts)
		}
		fmt.Println(line)
	}
	fmt.Printf("  Reload Clients: %d\n", status.Clients)

	return nil
}
