// Package main provides tillsyncctl, the operator CLI for the tillsync
// daemon. Every command talks to the daemon's localhost API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	daemonAddr string
	jsonOutput bool
)

func main() {
	root := &cobra.Command{
		Use:   "tillsyncctl",
		Short: "Control the tillsync daemon",
		Long: `tillsyncctl inspects and controls the tillsync daemon over its
localhost API: engine status, the retry queue, manual sync runs,
connectivity checks, and backend credentials.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&daemonAddr, "addr", "http://127.0.0.1:7345", "daemon API address")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON responses")

	root.AddCommand(
		newStatusCommand(),
		newSyncCommand(),
		newCheckCommand(),
		newQueueCommand(),
		newConfigureCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func api() *apiClient {
	return newAPIClient(daemonAddr)
}
