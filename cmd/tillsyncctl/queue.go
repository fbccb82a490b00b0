package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tillsync-io/tillsync/internal/models"
)

func newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the retry queue",
	}
	cmd.AddCommand(
		newQueueListCommand(),
		newQueueStatsCommand(),
		newQueueRetryCommand(),
		newQueueRetryAllCommand(),
		newQueueCancelCommand(),
	)
	return cmd
}

func newQueueListCommand() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api()

			path := "/api/queue"
			params := url.Values{}
			if status != "" {
				params.Set("status", status)
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			if jsonOutput {
				return printRaw(client, http.MethodGet, path, nil)
			}

			var resp struct {
				Items []struct {
					ID          string `json:"id"`
					Type        string `json:"op_type"`
					Priority    int    `json:"priority"`
					Status      string `json:"status"`
					Attempt     int    `json:"attempt"`
					MaxAttempts int    `json:"max_attempts"`
					LastError   string `json:"last_error"`
					CreatedAt   int64  `json:"created_at"`
				} `json:"items"`
				Count int `json:"count"`
			}
			if err := client.get(path, &resp); err != nil {
				return err
			}

			if resp.Count == 0 {
				fmt.Println("Queue is empty.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOPERATION\tPRIORITY\tSTATUS\tATTEMPTS\tAGE\tLAST ERROR")
			for _, item := range resp.Items {
				age := time.Since(time.Unix(item.CreatedAt, 0)).Round(time.Second)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					item.ID,
					item.Type,
					models.Priority(item.Priority).String(),
					item.Status,
					item.Attempt, item.MaxAttempts,
					age,
					truncate(item.LastError, 48),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, processing, retry_scheduled, failed, succeeded, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum items to list")
	return cmd
}

func newQueueStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api()
			if jsonOutput {
				return printRaw(client, http.MethodGet, "/api/queue/stats", nil)
			}

			var stats struct {
				Total             int            `json:"total"`
				ByStatus          map[string]int `json:"by_status"`
				PendingByPriority map[string]int `json:"pending_by_priority"`
				OldestPendingAge  int64          `json:"oldest_pending_age_seconds"`
			}
			if err := client.get("/api/queue/stats", &stats); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Total:\t%d\n", stats.Total)
			for _, status := range sortedKeys(stats.ByStatus) {
				fmt.Fprintf(w, "  %s:\t%d\n", status, stats.ByStatus[status])
			}
			if len(stats.PendingByPriority) > 0 {
				fmt.Fprintln(w, "Pending by priority:")
				for _, tier := range sortedKeys(stats.PendingByPriority) {
					fmt.Fprintf(w, "  %s:\t%d\n", tier, stats.PendingByPriority[tier])
				}
			}
			if stats.OldestPendingAge > 0 {
				fmt.Fprintf(w, "Oldest pending:\t%s\n", (time.Duration(stats.OldestPendingAge) * time.Second).String())
			}
			return w.Flush()
		},
	}
}

func newQueueRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <item-id>",
		Short: "Requeue a failed item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api()
			if err := client.post("/api/queue/"+args[0]+"/retry", nil, nil); err != nil {
				return err
			}
			fmt.Printf("Item %s queued for retry.\n", args[0])
			return nil
		},
	}
}

func newQueueRetryAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-all",
		Short: "Requeue every failed item",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api()
			var resp struct {
				Retried int `json:"retried"`
			}
			if err := client.post("/api/queue/retry-all", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Requeued %d failed items.\n", resp.Retried)
			return nil
		},
	}
}

func newQueueCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <item-id>",
		Short: "Cancel a queued item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api()
			if err := client.post("/api/queue/"+args[0]+"/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Printf("Item %s cancelled.\n", args[0])
			return nil
		},
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
