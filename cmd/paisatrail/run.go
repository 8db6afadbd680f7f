package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paisatrail/paisatrail/internal/syncer"
	"github.com/paisatrail/paisatrail/pkg/api"
	"github.com/paisatrail/paisatrail/pkg/client"
)

// runSync performs one fetch-extract-write cycle, for a single user or for
// every user with a stored token, and prints a per-user summary.
func runSync(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	user := fs.String("user", "", "sync a single mailbox (email address)")
	all := fs.Bool("all", false, "sync every mailbox with a stored token")
	asJSON := fs.Bool("json", false, "print run reports as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*user == "" && !*all) || (*user != "" && *all) {
		return errors.New("exactly one of -user or -all is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := newSyncer(cfg, store, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emails := []string{*user}
	if *all {
		emails, err = client.ListUsers(cfg.TokenDir)
		if err != nil {
			return err
		}
		if len(emails) == 0 {
			return errors.New("no stored tokens, run 'paisatrail setup' first")
		}
	}

	results := s.SyncAll(ctx, emails)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			printResult(r)
		}
	}

	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("sync failed for %s: %w", r.User, r.Err)
		}
	}
	return nil
}

const timeRound = 10 * time.Millisecond

func printResult(r syncer.UserResult) {
	if r.Err != nil {
		fmt.Printf("%s: failed: %v\n", r.User, r.Err)
		return
	}
	printReport(r.Report)
}

func printReport(report *api.Report) {
	fmt.Printf("%s: %d fetched, %d new, %d duplicates, %d skipped, %d failed (%s)\n",
		report.User, report.Fetched, report.New, report.Duplicates,
		report.Skipped, report.Failed,
		report.FinishedAt.Sub(report.StartedAt).Round(timeRound))
}
