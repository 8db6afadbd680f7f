package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/paisatrail/paisatrail/pkg/client"
)

// runSetup runs the OAuth consent flow for one mailbox and stores its token.
func runSetup(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	user := fs.String("user", "", "mailbox to authorize (email address)")
	force := fs.Bool("force", false, "re-authorize even if a token already exists")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("-user is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.ClientSecretFile); os.IsNotExist(err) {
		return fmt.Errorf("credentials file not found: %s\n\nTo get your credentials:\n"+
			"1. Go to https://console.cloud.google.com/apis/credentials\n"+
			"2. Create an OAuth 2.0 Client ID (Desktop application)\n"+
			"3. Download the JSON file and save it as '%s'", cfg.ClientSecretFile, cfg.ClientSecretFile)
	}

	tokenPath := client.TokenPath(cfg.TokenDir, *user)
	if !*force {
		if _, err := os.Stat(tokenPath); err == nil {
			fmt.Printf("Already authorized: %s (token at %s)\n", *user, tokenPath)
			fmt.Println("To re-authorize, run: paisatrail setup -user", *user, "-force")
			return nil
		}
	}

	fmt.Printf("Authorizing %s for read-only Gmail access...\n", *user)
	fmt.Println("A browser window will open for consent.")
	fmt.Println()

	if err := client.Authorize(cfg.ClientSecretFile, cfg.TokenDir, *user, gmailapi.GmailReadonlyScope); err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}
	logger.Info("token stored", "user", *user, "path", tokenPath)

	fmt.Println()
	fmt.Printf("Setup complete. Token saved to %s\n", tokenPath)
	fmt.Println("Next: run 'paisatrail run -user", *user+"' to scan the mailbox.")
	return nil
}
