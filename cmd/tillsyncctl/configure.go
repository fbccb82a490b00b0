package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigureCommand() *cobra.Command {
	var baseURL, apiKey, apiSecret string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Store backend credentials",
		Long: `Store the backend address and API credentials. The daemon seals
them at rest with a machine-bound key and starts using the new backend
immediately, no restart needed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api()
			var resp struct {
				BaseURL string `json:"base_url"`
			}
			if err := client.post("/api/credentials", map[string]string{
				"base_url":   baseURL,
				"api_key":    apiKey,
				"api_secret": apiSecret,
			}, &resp); err != nil {
				return err
			}
			fmt.Printf("Backend configured: %s\n", resp.BaseURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "backend base URL")
	cmd.Flags().StringVar(&apiKey, "key", "", "API key")
	cmd.Flags().StringVar(&apiSecret, "secret", "", "API secret")
	cmd.MarkFlagRequired("url")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("secret")
	return cmd
}
