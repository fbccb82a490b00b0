package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe the backend right now",
		Long:  "Run one reachability probe against the backend and report the result. Exits non-zero when the backend is unreachable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api()
			if jsonOutput {
				return printRaw(client, http.MethodPost, "/api/connectivity/check", nil)
			}

			var state struct {
				Online              bool  `json:"online"`
				Reachable           bool  `json:"reachable"`
				LatencyMS           int64 `json:"latency_ms"`
				ConsecutiveFailures int   `json:"consecutive_failures"`
			}
			if err := client.post("/api/connectivity/check", nil, &state); err != nil {
				return err
			}

			if state.Online && state.Reachable {
				fmt.Printf("Backend reachable (%dms)\n", state.LatencyMS)
				return nil
			}
			return fmt.Errorf("backend unreachable (%d consecutive failures)", state.ConsecutiveFailures)
		},
	}
}
