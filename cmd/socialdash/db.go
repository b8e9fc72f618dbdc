package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"socialdash/pkg/auth"
	"socialdash/pkg/database"
	"socialdash/pkg/logger"
	"socialdash/pkg/ui"
)

// dbCmd groups database maintenance commands
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Maintain the dashboard database",
	Long: `Maintain the Postgres database behind the dashboard. These commands need a
DSN (--dsn, SOCIALDASH_DATABASE_DSN or DATABASE_URL).`,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables and add missing provenance columns",
	Run:   runMigrate,
}

var setKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Store the active Apify API key in the apify_keys table",
	Long: `Store an Apify API key as the only active row of the apify_keys table.
Every deployment reading the same database will use it when no local token
is configured.`,
	Run: runSetKey,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(migrateCmd)
	dbCmd.AddCommand(setKeyCmd)
}

func openPostgres(ctx context.Context) *database.PostgresStore {
	if cfg.Database.DSN == "" {
		ui.PrintError("No database configured", "pass --dsn or set SOCIALDASH_DATABASE_DSN")
		os.Exit(1)
	}
	store, err := database.NewPostgresStore(ctx, cfg.Database, logger.GetLogger())
	if err != nil {
		ui.PrintError("Failed to connect to database", err.Error())
		os.Exit(1)
	}
	return store
}

func runMigrate(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openPostgres(ctx)
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		ui.PrintError("Migration failed", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess("Schema is up to date")
}

func runSetKey(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openPostgres(ctx)
	defer store.Close()

	ui.PrintInfo("Apify API key (hidden)", "")
	key, err := readPassword()
	if err != nil {
		ui.PrintError("Failed to read key", err.Error())
		os.Exit(1)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		ui.PrintError("Key is required")
		os.Exit(1)
	}

	if err := store.SetActiveAPIKey(ctx, key); err != nil {
		ui.PrintError("Failed to store key", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess("Active key set to " + auth.MaskToken(key))
}
