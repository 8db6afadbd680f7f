// Command paisatrail scans Gmail mailboxes for bank transaction emails,
// extracts structured transactions, and serves them to the dashboard.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/paisatrail/paisatrail/internal/syncer"
	"github.com/paisatrail/paisatrail/pkg/api"
	"github.com/paisatrail/paisatrail/pkg/client"
	"github.com/paisatrail/paisatrail/pkg/config"
	"github.com/paisatrail/paisatrail/pkg/extract"
	"github.com/paisatrail/paisatrail/pkg/logging"
	gmailreader "github.com/paisatrail/paisatrail/pkg/reader/gmail"
	"github.com/paisatrail/paisatrail/pkg/store/postgres"
)

const usage = `paisatrail - bank transaction tracking from your inbox

Usage:
  paisatrail <command> [flags]

Commands:
  serve    Run the REST API server and background sync scheduler
  run      Run one sync cycle for a user or all users
  import   Backfill transactions from an mbox archive
  setup    Authorize a Gmail account (OAuth consent flow)
  status   Check configuration, credentials, and connectivity

Run 'paisatrail <command> -h' for command flags.`

func main() {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	logger := logging.Setup(logging.DefaultConfig())
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(logger, os.Args[2:])
	case "run":
		err = runSync(logger, os.Args[2:])
	case "import":
		err = runImport(logger, os.Args[2:])
	case "setup":
		err = runSetup(logger, os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration; validation failures abort
// before any per-user work starts.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore connects to Postgres and provisions the schema.
func openStore(cfg *config.Config, logger *slog.Logger) (*postgres.Store, error) {
	return postgres.New(postgres.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
	}, logger.With("component", "store"))
}

// newExtractor builds the extractor from configuration, loading the external
// corrections table when one is configured.
func newExtractor(cfg *config.Config) (*extract.Extractor, error) {
	opts := extract.Options{Location: cfg.Sync.Location()}
	if cfg.CorrectionsFile != "" {
		corrections, err := extract.LoadCorrections(cfg.CorrectionsFile)
		if err != nil {
			return nil, err
		}
		opts.Corrections = corrections
	}
	return extract.New(opts), nil
}

// gmailSourceFactory opens a Gmail source from a user's stored token.
func gmailSourceFactory(cfg *config.Config, logger *slog.Logger) syncer.SourceFactory {
	return func(_ context.Context, email string) (api.Source, error) {
		httpClient, err := client.New(cfg.ClientSecretFile, cfg.TokenDir, email, gmailapi.GmailReadonlyScope)
		if err != nil {
			return nil, err
		}
		return gmailreader.New(httpClient, logger.With("component", "gmail_source", "user", email))
	}
}

// newSyncer wires the store, the Gmail source, and the extractor together.
func newSyncer(cfg *config.Config, store *postgres.Store, logger *slog.Logger) (*syncer.Syncer, error) {
	extractor, err := newExtractor(cfg)
	if err != nil {
		return nil, err
	}
	return syncer.New(store, gmailSourceFactory(cfg, logger), extractor, syncer.Config{
		LookbackDays: cfg.Sync.LookbackDays,
		MaxResults:   cfg.Sync.MaxResults,
		Location:     cfg.Sync.Location(),
	}, logger.With("component", "syncer")), nil
}
