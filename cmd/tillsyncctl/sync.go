package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type stageView struct {
	Fetched int `json:"fetched"`
	Written int `json:"written"`
	Skipped int `json:"skipped"`
}

func newSyncCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger a full sync run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api()

			if !wait {
				if jsonOutput {
					return printRaw(client, http.MethodPost, "/api/sync", nil)
				}
				var resp struct {
					Status string `json:"status"`
				}
				if err := client.post("/api/sync", nil, &resp); err != nil {
					return err
				}
				fmt.Println("Sync started. Run 'tillsyncctl status' to follow it.")
				return nil
			}

			if jsonOutput {
				return printRaw(client, http.MethodPost, "/api/sync?wait=true", nil)
			}

			var result struct {
				Status         string    `json:"status"`
				Duration       int64     `json:"duration"`
				Categories     stageView `json:"categories"`
				Products       stageView `json:"products"`
				Customers      stageView `json:"customers"`
				ReceiptsPushed int       `json:"receipts_pushed"`
				QueueDrained   bool      `json:"queue_drained"`
				Error          string    `json:"error"`
			}
			if err := client.post("/api/sync?wait=true", nil, &result); err != nil {
				return err
			}

			fmt.Printf("Sync %s in %s\n", result.Status, time.Duration(result.Duration).Round(time.Millisecond))

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tFETCHED\tWRITTEN\tSKIPPED")
			printStage(w, "categories", result.Categories)
			printStage(w, "products", result.Products)
			printStage(w, "customers", result.Customers)
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Printf("Receipts pushed: %d\n", result.ReceiptsPushed)
			fmt.Printf("Queue drained:   %s\n", yesNo(result.QueueDrained))
			if result.Error != "" {
				return fmt.Errorf("run failed: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the run and print its result")
	return cmd
}

func printStage(w *tabwriter.Writer, name string, s stageView) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", name, s.Fetched, s.Written, s.Skipped)
}
