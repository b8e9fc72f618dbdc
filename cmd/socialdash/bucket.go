package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"socialdash/pkg/ui"
)

// bucketCmd groups image bucket commands
var bucketCmd = &cobra.Command{
	Use:   "bucket",
	Short: "Manage the image bucket",
}

var ensureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the image bucket if it does not exist",
	Long: `Make sure the public image bucket exists. For the Supabase backend this
creates the bucket with the configured file size limit; for the local backend
it creates the directory.`,
	Run: runBucket,
}

func init() {
	rootCmd.AddCommand(bucketCmd)
	bucketCmd.AddCommand(ensureCmd)
}

func runBucket(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		ui.PrintError("Failed to initialize", err.Error())
		os.Exit(1)
	}
	defer a.Close()

	ui.PrintInfo("Backend", cfg.Storage.Backend)
	ui.PrintInfo("Bucket", cfg.Supabase.Bucket)
	if !a.gateway.EnsureBucket(ctx) {
		ui.PrintError("Bucket is not available; check the logs for details")
		os.Exit(1)
	}
	ui.PrintSuccess("Bucket ready")
}
