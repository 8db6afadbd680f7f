package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/paisatrail/paisatrail/internal/syncer"
	"github.com/paisatrail/paisatrail/pkg/api"
	mboxreader "github.com/paisatrail/paisatrail/pkg/reader/mbox"
)

// runImport backfills transactions from an mbox archive (Google Takeout)
// through the same extract and write pipeline as a live sync, so dedup and
// the marker behave identically.
func runImport(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	user := fs.String("user", "", "mailbox the archive belongs to (email address)")
	file := fs.String("file", "", "path to the mbox archive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *file == "" {
		return errors.New("-user and -file are required")
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

	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	factory := func(context.Context, string) (api.Source, error) {
		return mboxreader.New(*file, logger.With("component", "mbox_source")), nil
	}
	s := syncer.New(store, factory, extractor, syncer.Config{
		LookbackDays: cfg.Sync.LookbackDays,
		// An archive import is bounded by the file, not the API cap.
		MaxResults: 0,
		Location:   cfg.Sync.Location(),
	}, logger.With("component", "syncer"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := s.SyncUser(ctx, *user)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}
