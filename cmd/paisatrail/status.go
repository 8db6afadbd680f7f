package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/paisatrail/paisatrail/pkg/client"
	"github.com/paisatrail/paisatrail/pkg/config"
	"github.com/paisatrail/paisatrail/pkg/logging"
)

// runStatus checks configuration, credentials, storage, and Gmail
// connectivity, printing one line per check.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("=== PaisaTrail Status ===")
	fmt.Println()

	allGood := true

	cfg := checkConfig(&allGood)
	if cfg == nil {
		printFinalStatus(false)
		return nil
	}

	checkCredentials(cfg, &allGood)
	users := checkTokens(cfg, &allGood)
	checkDatabase(cfg, &allGood)
	checkGmail(cfg, users, &allGood)

	printFinalStatus(allGood)
	return nil
}

func checkConfig(allGood *bool) *config.Config {
	fmt.Print("Configuration: ")
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return nil
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return nil
	}
	fmt.Println("✓ Valid")
	return cfg
}

func checkCredentials(cfg *config.Config, allGood *bool) {
	fmt.Printf("Client secret (%s): ", cfg.ClientSecretFile)
	if _, err := os.Stat(cfg.ClientSecretFile); err != nil {
		fmt.Println("✗ Not found")
		*allGood = false
		return
	}
	fmt.Println("✓ Found")
}

func checkTokens(cfg *config.Config, allGood *bool) []string {
	fmt.Printf("Stored tokens (%s): ", cfg.TokenDir)
	users, err := client.ListUsers(cfg.TokenDir)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return nil
	}
	if len(users) == 0 {
		fmt.Println("⚠ None (run 'paisatrail setup')")
		return nil
	}
	fmt.Printf("✓ %d user(s)\n", len(users))
	return users
}

func checkDatabase(cfg *config.Config, allGood *bool) {
	fmt.Printf("PostgreSQL (%s:%d/%s): ", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)

	// Quiet logger: connection noise would garble the checklist output.
	logger := logging.Setup(logging.Config{Level: slog.LevelError, Format: logging.FormatText, Output: os.Stderr})
	store, err := openStore(cfg, logger)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}
	fmt.Println("✓ Connected, schema ready")
}

func checkGmail(cfg *config.Config, users []string, allGood *bool) {
	for _, user := range users {
		fmt.Printf("Gmail (%s): ", user)

		httpClient, err := client.New(cfg.ClientSecretFile, cfg.TokenDir, user, gmailapi.GmailReadonlyScope)
		if errors.Is(err, client.ErrNoToken) {
			fmt.Println("⚠ No token")
			continue
		}
		if err != nil {
			fmt.Printf("✗ %v\n", err)
			*allGood = false
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
		if err == nil {
			_, err = svc.Users.GetProfile("me").Context(ctx).Do()
		}
		cancel()
		if err != nil {
			fmt.Printf("✗ %v\n", err)
			*allGood = false
			continue
		}
		fmt.Println("✓ Reachable")
	}
}

func printFinalStatus(allGood bool) {
	fmt.Println()
	if allGood {
		fmt.Println("All checks passed.")
	} else {
		fmt.Println("Some checks failed, see above.")
	}
}
