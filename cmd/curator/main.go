package main

import (
	"fmt"
	"os"

	"github.com/curatorhq/curator/internal/cli"
	"github.com/curatorhq/curator/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "curator",
		Short: "Curator CLI - knowledge ingestion and retrieval",
		Long: `Curator CLI provides commands to query the knowledge base and submit events.

Environment variables:
  CURATOR_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.EventCmd())
	rootCmd.AddCommand(client.ListCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
