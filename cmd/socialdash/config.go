package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"socialdash/pkg/auth"
	"socialdash/pkg/config"
	"socialdash/pkg/ui"
)

// skipConfig marks commands that must run even when the configuration is invalid
const skipConfig = "skip-config"

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage socialdash configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (SOCIALDASH_*, APIFY_TOKEN, SUPABASE_URL, ...)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a configuration file with the default values",
	Long:        `Write the default configuration to .socialdash.yaml, or to the path given with --config. Secrets are never written.`,
	Annotations: map[string]string{skipConfig: "true"},
	Run:         runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after all sources are merged.

Secrets like the Apify token, the Supabase service key and the database DSN are masked.`,
	Run: runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:         "validate",
	Short:       "Validate configuration",
	Annotations: map[string]string{skipConfig: "true"},
	Run:         runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	configPath := configFile
	if configPath == "" {
		configPath = ".socialdash.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		os.Exit(1)
	}

	if err := config.DefaultConfig().Save(configPath); err != nil {
		ui.PrintError("Failed to write configuration", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration written to " + configPath)
	fmt.Println("\nSecrets are read from the environment:")
	fmt.Println("  APIFY_TOKEN                 Apify API token (or 'socialdash auth set-token')")
	fmt.Println("  SUPABASE_URL                Supabase project URL")
	fmt.Println("  SUPABASE_SERVICE_ROLE_KEY   Supabase service-role key")
	fmt.Println("  DATABASE_URL                Postgres connection string")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	shown := *cfg
	shown.Apify.Token = maskSecret(shown.Apify.Token)
	shown.Supabase.ServiceKey = maskSecret(shown.Supabase.ServiceKey)
	shown.Database.DSN = maskSecret(shown.Database.DSN)

	data, err := yaml.Marshal(&shown)
	if err != nil {
		ui.PrintError("Failed to render configuration", err.Error())
		os.Exit(1)
	}
	fmt.Print(string(data))
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	c := config.DefaultConfig()
	if err := c.LoadFromFile(configFile); err != nil {
		ui.PrintError("Invalid configuration file", err.Error())
		os.Exit(1)
	}
	if err := c.LoadFromEnv(); err != nil {
		ui.PrintError("Invalid environment", err.Error())
		os.Exit(1)
	}
	c.MergeCommandLineFlags(globalFlags(cmd))

	if err := c.Validate(); err != nil {
		ui.PrintError("Configuration is invalid")
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				fmt.Printf("  - %s\n", e)
			}
		} else {
			fmt.Printf("  - %s\n", err)
		}
		os.Exit(1)
	}

	var missing []string
	if c.Apify.Token == "" {
		missing = append(missing, "Apify token (checked at run time against the credential stores)")
	}
	if c.Storage.Backend == "supabase" && (c.Supabase.URL == "" || c.Supabase.ServiceKey == "") {
		missing = append(missing, "Supabase URL and service key (images will fall back to the proxy)")
	}
	if c.Database.DSN == "" {
		missing = append(missing, "database DSN (an in-memory store will be used)")
	}
	for _, m := range missing {
		ui.PrintWarning("Not configured", m)
	}
	ui.PrintSuccess("Configuration is valid")
}

func maskSecret(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return auth.MaskToken(s)
}
