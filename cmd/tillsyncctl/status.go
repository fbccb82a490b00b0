package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api()
			if jsonOutput {
				return printRaw(client, http.MethodGet, "/api/status", nil)
			}

			var status struct {
				Connectivity struct {
					Online    bool  `json:"online"`
					Reachable bool  `json:"reachable"`
					LatencyMS int64 `json:"latency_ms"`
				} `json:"connectivity"`
				Queue struct {
					Total    int            `json:"total"`
					ByStatus map[string]int `json:"by_status"`
				} `json:"queue"`
				LastRun *struct {
					Status         string    `json:"status"`
					FinishedAt     time.Time `json:"finished_at"`
					ReceiptsPushed int       `json:"receipts_pushed"`
				} `json:"last_run"`
				Syncing          bool `json:"syncing"`
				UnsyncedReceipts int  `json:"unsynced_receipts"`
				Configured       bool `json:"configured"`
				Scheduler        struct {
					Running      bool   `json:"running"`
					SyncInterval string `json:"sync_interval"`
				} `json:"scheduler"`
			}
			if err := client.get("/api/status", &status); err != nil {
				return err
			}

			backend := "offline"
			if status.Connectivity.Online && status.Connectivity.Reachable {
				backend = fmt.Sprintf("online (%dms)", status.Connectivity.LatencyMS)
			} else if status.Connectivity.Online {
				backend = "online, backend unreachable"
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Backend:\t%s\n", backend)
			fmt.Fprintf(w, "Configured:\t%s\n", yesNo(status.Configured))
			fmt.Fprintf(w, "Syncing:\t%s\n", yesNo(status.Syncing))
			fmt.Fprintf(w, "Unsynced receipts:\t%d\n", status.UnsyncedReceipts)

			queueLine := fmt.Sprintf("%d", status.Queue.Total)
			if failed := status.Queue.ByStatus["failed"]; failed > 0 {
				queueLine += fmt.Sprintf(" (%d failed)", failed)
			}
			fmt.Fprintf(w, "Queue items:\t%s\n", queueLine)

			schedLine := "stopped"
			if status.Scheduler.Running {
				schedLine = "running, every " + status.Scheduler.SyncInterval
			}
			fmt.Fprintf(w, "Scheduler:\t%s\n", schedLine)

			if status.LastRun != nil {
				fmt.Fprintf(w, "Last run:\t%s at %s (%d receipts pushed)\n",
					status.LastRun.Status,
					status.LastRun.FinishedAt.Local().Format(time.RFC3339),
					status.LastRun.ReceiptsPushed)
			} else {
				fmt.Fprintf(w, "Last run:\tnever\n")
			}

			return w.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
