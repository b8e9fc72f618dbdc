package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"socialdash/pkg/auth"
	"socialdash/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the Apify API token",
	Long: `Manage the Apify API token used to start and check scrape runs.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables and the config file
  - The active row of the apify_keys table (when a database is configured)`,
}

var setTokenCmd = &cobra.Command{
	Use:   "set-token [name]",
	Short: "Store an Apify API token securely",
	Example: `  # Interactive
  socialdash auth set-token

  # Store a second named token
  socialdash auth set-token staging`,
	Args: cobra.MaximumNArgs(1),
	Run:  runSetToken,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which token will be used",
	Run:   runAuthStatus,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tokens",
	Run:   runAuthList,
}

var authDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Remove a stored token",
	Args:  cobra.MaximumNArgs(1),
	Run:   runAuthDelete,
}

var authGuideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Explain where to find the Apify API token",
	Run: func(cmd *cobra.Command, args []string) {
		auth.ShowTokenGuide()
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(setTokenCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authDeleteCmd)
	authCmd.AddCommand(authGuideCmd)
}

func credentialName(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	return auth.DefaultName
}

func runSetToken(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager(cfg.Apify.Token)
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}
	name := credentialName(args)

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("\n⚠️  Token '%s' already exists (%s). Replace it? (y/N): ", name, auth.MaskToken(existing.Token))
		reader := bufio.NewReader(os.Stdin)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	fmt.Print("\nApify API token (hidden): ")
	token, err := readPassword()
	if err != nil {
		ui.PrintError("Failed to read token", err.Error())
		os.Exit(1)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		ui.PrintError("Token is required")
		os.Exit(1)
	}
	if !strings.HasPrefix(token, "apify_api_") {
		ui.PrintWarning("That does not look like a personal API token (expected the apify_api_ prefix)")
	}

	if err := manager.Store(&auth.Credential{Name: name, Token: token}); err != nil {
		ui.PrintError("Failed to store token", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess(fmt.Sprintf("✅ Token '%s' stored (%s)", name, auth.MaskToken(token)))
}

func runAuthStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		ui.PrintError("Failed to initialize", err.Error())
		os.Exit(1)
	}
	defer a.Close()

	token, err := a.tokens.Token(ctx)
	if err != nil {
		ui.PrintError("No Apify token available", err.Error())
		fmt.Println("\nRun 'socialdash auth guide' to learn where to find it.")
		os.Exit(1)
	}
	ui.PrintInfo("Apify token", auth.MaskToken(token))
	ui.PrintInfo("Actor", cfg.Apify.ActorID)
}

func runAuthList(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager(cfg.Apify.Token)
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}
	creds, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list tokens", err.Error())
		os.Exit(1)
	}
	if len(creds) == 0 {
		ui.PrintWarning("No stored tokens. Run 'socialdash auth set-token' to add one.")
		return
	}
	for _, cred := range creds {
		safe := auth.Sanitize(cred)
		modified := "-"
		if !safe.LastModified.IsZero() {
			modified = safe.LastModified.Format("2006-01-02 15:04")
		}
		fmt.Printf("  %-16s %-20s %s\n", safe.Name, safe.Token, modified)
	}
}

func runAuthDelete(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager("")
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}
	name := credentialName(args)
	if err := manager.Delete(name); err != nil {
		ui.PrintError("Failed to delete token", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess(fmt.Sprintf("Token '%s' removed", name))
}

// readPassword reads a secret without echo when stdin is a terminal
func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return string(password), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
