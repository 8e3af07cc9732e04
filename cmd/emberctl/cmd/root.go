// Package cmd contains the CLI commands for emberwatch.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Used for flags
	serverURL string
	apiToken  string
	verbose   bool
	output    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "emberctl",
	Short: "Emberwatch - Log anomaly alerting",
	Long: `Emberctl talks to an emberwatch server over its REST API.

The server tracks per-signature occurrence history for aggregated log
events and raises alerts when a signature is new, spiking, or crossing
a volume threshold.

Authentication uses a bearer token minted with:
  emberwatch-server token --name ci --scopes read

Examples:
  # How often has this error fired in the last 24 hours?
  emberctl history --level ERROR --message "connection refused" --hours 24

  # Send a test event
  emberctl send --level ERROR --message "connection refused" --count 3

  # Signatures the server is tracking, alerts it has published
  emberctl signatures
  emberctl alerts --undelivered

  # Pipeline counters
  emberctl stats`,
	// Run when no subcommand is specified
	Run: func(cmd *cobra.Command, args []string) {
		// Show help by default
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "server base URL (default: EMBERWATCH_SERVER or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVarP(&apiToken, "token", "t", "", "API bearer token (default: EMBERWATCH_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json, plain)")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintError prints an error message and exits if fatal is true.
func PrintError(msg string, fatal bool) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	if fatal {
		os.Exit(1)
	}
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}
