package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	pabridgeversion "github.com/pabridge-dev/pabridge/internal/version"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show client and bridge versions",
		RunE:  runVersion,
	}
	addAddressFlag(cmd)
	return cmd
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	clientVersion := pabridgeversion.String()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c := bridgeClient(cmd)

	var bridgeVersion string
	var bridgeReachable bool
	var bridgeErr error
	if status, err := c.Status(ctx); err == nil {
		bridgeReachable = true
		bridgeVersion = status.Version
	} else {
		bridgeErr = err
	}

	if out.jsonMode {
		data := map[string]any{
			"client": clientVersion,
		}
		if bridgeReachable {
			if bridgeVersion != "" {
				data["bridge"] = bridgeVersion
			} else {
				data["bridge"] = "unknown"
			}
			if w := pabridgeversion.CheckVersionMismatch(bridgeVersion); w != "" {
				data["mismatch"] = true
				data["warning"] = w
			}
		} else {
			data["bridge"] = nil
			if bridgeErr != nil {
				data["bridge_error"] = bridgeErr.Error()
			}
		}
		return out.Print(data)
	}

	fmt.Printf("Client: %s\n", pabridgeversion.FormatVersion(clientVersion))
	if bridgeReachable {
		if bridgeVersion != "" {
			fmt.Printf("Bridge: %s\n", pabridgeversion.FormatVersion(bridgeVersion))
		} else {
			fmt.Println("Bridge: running (version unknown)")
		}
		if w := pabridgeversion.CheckVersionMismatch(bridgeVersion); w != "" {
			fmt.Println(w)
		}
	} else {
		fmt.Printf("Bridge: unavailable (%v)\n", bridgeErr)
	}
	return nil
}
