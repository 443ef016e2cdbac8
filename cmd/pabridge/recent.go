package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pabridge-dev/pabridge/internal/api"
	"github.com/pabridge-dev/pabridge/internal/config"
	"github.com/pabridge-dev/pabridge/internal/state"
)

func newRecentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "recent",
		Short:         "List recent app launches",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRecent,
	}
	cmd.Flags().Int("limit", 10, "Maximum number of launches to list")
	return cmd
}

// runRecent reads launch history straight from the local database, so it
// works whether or not a bridge is currently running.
func runRecent(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	limit, _ := cmd.Flags().GetInt("limit")

	paths := config.GetBridgePaths()
	store, err := state.Open(state.Options{DBPath: paths.StateDB})
	if err != nil {
		return out.Error("Failed to open launch history", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	launches, err := store.RecentLaunches(ctx, limit)
	if err != nil {
		return out.Error("Failed to read launch history", err)
	}

	if out.jsonMode {
		return out.Print(api.LaunchesToDTO(launches))
	}

	if len(launches) == 0 {
		fmt.Println("No launches recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tENVIRONMENT\tAPP\tSTATUS\tPLAYER URL")
	for _, l := range launches {
		status := "ended"
		if l.Running() {
			status = "running"
		}
		app := l.AppDisplayName
		if app == "" {
			app = l.AppID
		}
		if app == "" {
			app = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			l.StartedAt.Local().Format("2006-01-02 15:04:05"),
			l.EnvironmentID,
			app,
			status,
			l.PlayerURL,
		)
	}
	return w.Flush()
}
