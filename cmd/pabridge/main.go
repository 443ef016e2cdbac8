package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pabridgeversion "github.com/pabridge-dev/pabridge/internal/version"
)

// rootCmd is package-global so init can wire version and flags before
// main attaches the subcommands.
var rootCmd *cobra.Command

// OutputFormatter renders command results as human text or JSON,
// driven by the global --json flag.
type OutputFormatter struct {
	jsonMode bool
}

// newOutputFormatter reads the --json flag off cmd.
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print renders data in the active mode.
func (f *OutputFormatter) Print(data interface{}) error {
	if f.jsonMode {
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonBytes))
	} else {
		switch v := data.(type) {
		case string:
			fmt.Println(v)
		default:
			// Anything structured falls back to indented JSON.
			jsonBytes, _ := json.MarshalIndent(data, "", "  ")
			fmt.Println(string(jsonBytes))
		}
	}
	return nil
}

// Success reports a completed action. In JSON mode the extra data
// fields are merged into the envelope.
func (f *OutputFormatter) Success(message string, data map[string]interface{}) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Println(message)
	return nil
}

// Error reports a failure on stderr and returns an error carrying the
// same message, so callers can hand it straight back to cobra.
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(os.Stderr, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(os.Stderr, message)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	return fmt.Errorf("%s", message)
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "pabridge",
		Short: "pabridge - local development bridge for Power Apps code apps",
		Long: `pabridge connects a local dev server to the hosted Power Apps player.

It serves the project's power config with the CORS headers the player
needs, prints the player URL that loads the local app, watches the config
file, and restarts the managed dev server when the config changes.`,
	}
	rootCmd.Version = pabridgeversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	// --json applies to every subcommand.
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
}

func main() {
	rootCmd.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newStopCmd(),
		newRestartCmd(),
		newVersionCmd(),
		newRecentCmd(),
		newConfigCmd(),
		newInitCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
