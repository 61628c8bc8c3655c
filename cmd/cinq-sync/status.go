package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Whitemarmot/cinq-offline/internal/config"
	"github.com/Whitemarmot/cinq-offline/internal/syncer"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the offline queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		var status syncer.Status
		if err := apiGet(cfg, "/api/status", &status); err != nil {
			return err
		}

		if status.Total() == 0 {
			fmt.Println("Queue empty")
		} else {
			// Badge text matches the web client's indicator
			fmt.Printf("%d en attente (%d messages, %d actions)\n",
				status.Total(), status.PendingMessages, status.PendingActions)
		}
		if status.FailedMessages > 0 {
			fmt.Printf("%d dead-lettered\n", status.FailedMessages)
		}
		if status.LastSync != nil {
			fmt.Printf("Last sync: %s\n", status.LastSync.Local().Format(time.RFC1123))
		}
		fmt.Printf("Online: %v  Syncing: %v\n", status.IsOnline, status.Syncing)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger an immediate sync pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		var result syncer.Result
		if err := apiPost(cfg, "/api/sync", nil, &result); err != nil {
			return err
		}

		fmt.Printf("Sync complete: %d sent, %d failed\n", result.Sent, result.Failed)
		return nil
	},
}

// apiGet calls the running daemon's local API.
func apiGet(cfg *config.Config, path string, out interface{}) error {
	resp, err := http.Get("http://" + cfg.Server.Addr + path)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s (is 'cinq-sync run' running?): %w", cfg.Server.Addr, err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

// apiPost calls the running daemon's local API with an empty JSON body.
func apiPost(cfg *config.Config, path string, body []byte, out interface{}) error {
	resp, err := http.Post("http://"+cfg.Server.Addr+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s (is 'cinq-sync run' running?): %w", cfg.Server.Addr, err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

func decodeAPIResponse(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon error: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon error: HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
