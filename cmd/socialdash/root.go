package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"socialdash/pkg/config"
	"socialdash/pkg/logger"
	"socialdash/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	userID     string
	dsn        string
	backend    string
	noColor    bool
	quiet      bool

	// cfg is loaded once per invocation by PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "socialdash",
	Short: "Instagram profile tracking and image ingestion for the social dashboard",
	Long: `socialdash starts Instagram profile scrapes on Apify, tracks them until
they finish and ingests the results into the dashboard database.

Images referenced by a scrape are copied into owned storage (a Supabase bucket
or a local directory) so the dashboard never depends on expiring CDN links.
When an image cannot be copied, the dashboard falls back to the built-in
image proxy.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if quiet || logLevel == "error" {
			ui.SetQuietMode(true)
		}
		if noColor {
			ui.SetNoColor(true)
		}

		if cmd.Annotations[skipConfig] != "" {
			return nil
		}

		loaded, err := config.Load(configFile, globalFlags(cmd))
		if err != nil {
			return err
		}
		cfg = loaded

		if err := logger.Initialize(&cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		// Don't show logo for certain commands
		switch cmd.Name() {
		case "version", "help", "show":
		default:
			ui.PrintLogo()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err.Error())
		os.Exit(1)
	}
}

// globalFlags collects the flags that were set explicitly, so unset flags do
// not override the config file or environment
func globalFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := func(name string, value interface{}) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			flags[name] = value
		}
	}
	set("log-level", logLevel)
	set("user", userID)
	set("dsn", dsn)
	set("storage", backend)

	if f := cmd.Flags().Lookup("limit"); f != nil && f.Changed {
		if v, err := cmd.Flags().GetInt("limit"); err == nil {
			flags["limit"] = v
		}
	}
	if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
		flags["addr"] = f.Value.String()
	}
	if f := cmd.Flags().Lookup("poll-interval"); f != nil && f.Changed {
		if v, err := cmd.Flags().GetDuration("poll-interval"); err == nil {
			flags["poll-interval"] = v
		}
	}
	return flags
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.socialdash.yaml or $HOME/.config/socialdash/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "dashboard user id that owns ingested profiles")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres connection string (in-memory store when empty)")
	rootCmd.PersistentFlags().StringVar(&backend, "storage", "", "image storage backend (supabase, local)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.SetVersionTemplate(`socialdash {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
