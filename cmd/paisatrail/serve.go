package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/paisatrail/paisatrail/internal/scheduler"
	"github.com/paisatrail/paisatrail/internal/server"
	"github.com/paisatrail/paisatrail/pkg/client"
)

// runServe starts the REST API server and the background sync scheduler and
// blocks until SIGINT or SIGTERM.
func runServe(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
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

	sched := scheduler.New(
		s.SyncUser,
		func() ([]string, error) { return client.ListUsers(cfg.TokenDir) },
		logger.With("component", "scheduler"),
	)
	if err := sched.Start(cfg.Sync.Schedule); err != nil {
		return err
	}
	defer sched.Stop()

	srv := server.New(cfg.Server, store, sched, logger.With("component", "server"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
