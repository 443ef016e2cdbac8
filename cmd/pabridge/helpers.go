package main

import (
	"github.com/spf13/cobra"

	"github.com/pabridge-dev/pabridge/internal/client"
)

// defaultBridgeAddress matches the serve command's default --listen value.
const defaultBridgeAddress = "http://127.0.0.1:5173"

func addAddressFlag(cmd *cobra.Command) {
	cmd.Flags().String("address", defaultBridgeAddress, "Base URL of the running bridge")
}

func bridgeClient(cmd *cobra.Command) *client.Client {
	address, _ := cmd.Flags().GetString("address")
	return client.New(address, nil)
}
