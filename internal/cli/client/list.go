package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// ListItem represents one stored item in the list API response.
type ListItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	HasVector bool   `json:"has_vector"`
	Source    string `json:"source"`
	Author    string `json:"author,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Ts        string `json:"ts"`
	CreatedAt string `json:"created_at"`
}

// ListItemsResponse represents the list API response.
type ListItemsResponse struct {
	Items   []ListItem `json:"items"`
	Cursor  string     `json:"cursor,omitempty"`
	HasMore bool       `json:"has_more"`
}

// ListCmd creates the list command.
func ListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored knowledge items",
		Long:  "Lists stored knowledge items, newest first, with cursor pagination.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runList(limit, cursor, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of items")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func runList(limit int, cursor string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("limit", fmt.Sprintf("%d", limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	resp, err := api.Get("/items?" + params.Encode())
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	var listResp ListItemsResponse
	if err := json.Unmarshal(resp.Data, &listResp); err != nil {
		return fmt.Errorf("failed to parse list response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(listResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(listResp.Items) == 0 {
		fmt.Println("No items found.")
		return nil
	}

	for i, item := range listResp.Items {
		text := item.Text
		if len(text) > 100 {
			text = text[:97] + "..."
		}
		fmt.Printf("%d. [%s] %s\n", i+1, item.Source, text)
		if item.Filename != "" {
			fmt.Printf("   File: %s\n", item.Filename)
		}
		fmt.Printf("   ID: %s\n", item.ID)
		if i < len(listResp.Items)-1 {
			fmt.Println(strings.Repeat("-", 40))
		}
	}
	if listResp.HasMore && listResp.Cursor != "" {
		fmt.Printf("\nMore items available. Use --cursor %s\n", listResp.Cursor)
	}

	return nil
}
