package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"socialdash/pkg/ui"
)

// ingestCmd ingests an existing dataset
var ingestCmd = &cobra.Command{
	Use:   "ingest <dataset-id>",
	Short: "Ingest an Apify dataset",
	Long: `Read the items of a finished (or partially filled) Apify dataset and store
the profile and its posts for the configured user. Running it twice replaces
the profile's posts instead of duplicating them.`,
	Example: `  socialdash ingest aBcD1234 --user owner`,
	Args:    cobra.ExactArgs(1),
	Run:     runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	a, err := newApp(ctx, cfg)
	if err != nil {
		ui.PrintError("Failed to initialize", err.Error())
		os.Exit(1)
	}
	defer a.Close()

	userCtx, err := a.userContext(ctx)
	if err != nil {
		ui.PrintError("Missing user", err.Error())
		os.Exit(1)
	}
	a.gateway.EnsureBucket(ctx)

	ui.PrintInfo("Dataset", args[0])
	result := a.ingester.Ingest(userCtx, args[0])
	ui.PrintIngestResult(result)
	if !result.Success {
		os.Exit(1)
	}
	ui.PrintSuccess("[INGESTION COMPLETED]")
}
