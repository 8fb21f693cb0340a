package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AskRequest represents the query API request.
type AskRequest struct {
	Query        string  `json:"query"`
	Mode         string  `json:"mode,omitempty"`
	TopK         int     `json:"top_k,omitempty"`
	MinRelevance float64 `json:"min_relevance,omitempty"`
}

// AskCitation represents one citation in an answer.
type AskCitation struct {
	Source     string `json:"source"`
	Author     string `json:"author,omitempty"`
	Filename   string `json:"filename,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
	Ts         string `json:"ts"`
}

// AskResponse represents the query API response.
type AskResponse struct {
	Outcome   string        `json:"outcome"`
	Answer    string        `json:"answer"`
	Sources   []string      `json:"sources,omitempty"`
	Citations []AskCitation `json:"citations,omitempty"`
	NumDocs   int           `json:"num_docs"`
}

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var (
		mode string
		topK int
	)

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Ask the knowledge base",
		Long:  "Runs a hybrid retrieval query and prints the answer with its sources.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runAsk(args[0], mode, topK, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "internal", "Query mode: internal or customer")
	cmd.Flags().IntVarP(&topK, "top-k", "n", 0, "Maximum number of documents to use")

	return cmd
}

func runAsk(query, mode string, topK int, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	req := AskRequest{
		Query: query,
		Mode:  mode,
		TopK:  topK,
	}

	resp, err := api.Post("/query", req)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	var askResp AskResponse
	if err := json.Unmarshal(resp.Data, &askResp); err != nil {
		return fmt.Errorf("failed to parse query response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(askResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(askResp.Answer)
	if len(askResp.Sources) > 0 {
		fmt.Printf("\nSources: %s (%d documents)\n", strings.Join(askResp.Sources, ", "), askResp.NumDocs)
	}

	return nil
}
