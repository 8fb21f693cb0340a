package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// EventRequest represents the events API request.
type EventRequest struct {
	Kind         string `json:"kind"`
	ChannelKey   string `json:"channelKey"`
	TimestampKey string `json:"timestampKey"`
	Author       string `json:"author,omitempty"`
	Text         string `json:"text,omitempty"`
	ThreadKey    string `json:"threadKey,omitempty"`
}

// EventResult represents the events API response.
type EventResult struct {
	Result  string `json:"result"`
	Stored  int    `json:"stored,omitempty"`
	Removed int64  `json:"removed,omitempty"`
}

// EventCmd creates the event command.
func EventCmd() *cobra.Command {
	var (
		kind      string
		channel   string
		timestamp string
		author    string
		threadKey string
	)

	cmd := &cobra.Command{
		Use:   "event <text>",
		Short: "Submit an inbound event",
		Long:  "Submits a normalized message, edit or delete event to the ingestion pipeline.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) > 0 {
				text = args[0]
			}
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runEvent(EventRequest{
				Kind:         kind,
				ChannelKey:   channel,
				TimestampKey: timestamp,
				Author:       author,
				Text:         text,
				ThreadKey:    threadKey,
			}, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "message", "Event kind: message, edit or delete")
	cmd.Flags().StringVarP(&channel, "channel", "c", "", "Channel key the event arrived on")
	cmd.Flags().StringVarP(&timestamp, "ts", "t", "", "Platform-assigned event timestamp")
	cmd.Flags().StringVarP(&author, "author", "a", "", "Event author")
	cmd.Flags().StringVar(&threadKey, "thread", "", "Thread key for threaded messages")
	cmd.MarkFlagRequired("channel")
	cmd.MarkFlagRequired("ts")

	return cmd
}

func runEvent(req EventRequest, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post("/events", req)
	if err != nil {
		return fmt.Errorf("event submission failed: %w", err)
	}

	var result EventResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse event response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Result: %s", result.Result)
	if result.Stored > 0 {
		fmt.Printf(" (%d stored)", result.Stored)
	}
	if result.Removed > 0 {
		fmt.Printf(" (%d removed)", result.Removed)
	}
	fmt.Println()

	return nil
}
