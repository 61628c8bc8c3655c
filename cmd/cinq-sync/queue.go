package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/Whitemarmot/cinq-offline/internal/config"
	"github.com/Whitemarmot/cinq-offline/internal/models"
)

var queuePing bool

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueMessageCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)

	queueMessageCmd.Flags().BoolVar(&queuePing, "ping", false, "queue a contentless ping instead of a text message")
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the offline queue",
}

var queueMessageCmd = &cobra.Command{
	Use:   "message <contact-id> [content]",
	Short: "Queue an outgoing message",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		content := ""
		if len(args) > 1 {
			content = args[1]
		}

		body, err := json.Marshal(map[string]interface{}{
			"contact_id": args[0],
			"content":    content,
			"is_ping":    queuePing,
		})
		if err != nil {
			return err
		}

		resp, err := http.Post("http://"+cfg.Server.Addr+"/api/queue/messages", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("cannot reach daemon at %s: %w", cfg.Server.Addr, err)
		}
		defer resp.Body.Close()

		var msg models.QueuedMessage
		if err := decodeAPIResponse(resp, &msg); err != nil {
			return err
		}

		fmt.Printf("Queued message %d for %s\n", msg.ID, msg.ContactID)
		return nil
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending messages and actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		var messages []models.QueuedMessage
		if err := apiGet(cfg, "/api/queue/messages", &messages); err != nil {
			return err
		}
		var actions []models.PendingAction
		if err := apiGet(cfg, "/api/queue/actions", &actions); err != nil {
			return err
		}

		if len(messages) == 0 && len(actions) == 0 {
			fmt.Println("Queue empty")
			return nil
		}

		for _, msg := range messages {
			kind := "message"
			if msg.IsPing {
				kind = "ping"
			}
			fmt.Printf("#%d  %s -> %s  retries=%d", msg.ID, kind, msg.ContactID, msg.Retries)
			if msg.LastError != "" {
				fmt.Printf("  last_error=%q", msg.LastError)
			}
			fmt.Println()
		}
		for _, action := range actions {
			fmt.Printf("#%d  action %s %s %s  priority=%d retries=%d\n",
				action.ID, action.Type, action.Method, action.Endpoint, action.Priority, action.Retries)
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Re-arm dead-lettered messages and actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		var result struct {
			Rearmed int `json:"rearmed"`
		}
		if err := apiPost(cfg, "/api/queue/retry-failed", nil, &result); err != nil {
			return err
		}

		fmt.Printf("Re-armed %d items\n", result.Rearmed)
		return nil
	},
}
