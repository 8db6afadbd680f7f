// Package syncer runs the fetch-extract-write cycle for a mailbox: plan the
// incremental query, stream matching messages from the source, extract
// transactions, write them with deduplication, and advance the last-checked
// marker. One run per user at a time; everything a run observes is recorded
// in a Report rather than aborting on per-message failures.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/paisatrail/paisatrail/pkg/api"
	"github.com/paisatrail/paisatrail/pkg/extract"
	"github.com/paisatrail/paisatrail/pkg/store/postgres"
)

// ErrRunInProgress is returned when another run already holds the per-user
// run lock. The API boundary maps it to 409.
var ErrRunInProgress = errors.New("a sync run is already in progress for this user")

// Store is the storage surface a run needs.
type Store interface {
	EnsureUser(ctx context.Context, email string) (string, error)
	AcquireRunLock(ctx context.Context, userID string) (release func(), acquired bool, err error)
	LastChecked(ctx context.Context, userID string) (*api.StoredTransaction, error)
	InsertTransaction(ctx context.Context, userID string, tx *api.Transaction) (postgres.Outcome, error)
	AdvanceMarker(ctx context.Context, userID string) error
}

// SourceFactory opens a mailbox source for one user's stored credential.
type SourceFactory func(ctx context.Context, email string) (api.Source, error)

// Syncer orchestrates runs. Users are processed strictly sequentially; the
// only concurrency inside a run lives in the source's own detail fetching.
type Syncer struct {
	store     Store
	newSource SourceFactory
	extractor *extract.Extractor
	planner   *Planner
	logger    *slog.Logger
}

// Config carries the fetch-planning knobs.
type Config struct {
	// LookbackDays bounds the first scan of a mailbox, before any marker exists.
	LookbackDays int
	// MaxResults caps how many messages one run may fetch.
	MaxResults int64
	// Location is the zone marker instants and transaction times live in.
	Location *time.Location
}

// New builds a Syncer.
func New(store Store, newSource SourceFactory, extractor *extract.Extractor, cfg Config, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = extract.DefaultLocation
	}
	return &Syncer{
		store:     store,
		newSource: newSource,
		extractor: extractor,
		planner:   NewPlanner(store, cfg.LookbackDays, cfg.MaxResults, loc),
		logger:    logger,
	}
}

// SyncUser runs one full cycle for a mailbox and returns its report. A
// second concurrent run for the same user observes ErrRunInProgress. The
// marker is advanced after every completed cycle, including cycles that
// stored nothing, so an interrupted run simply re-covers the same window
// next time.
func (s *Syncer) SyncUser(ctx context.Context, email string) (*api.Report, error) {
	userID, err := s.store.EnsureUser(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("resolving user %s: %w", email, err)
	}

	release, acquired, err := s.store.AcquireRunLock(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("locking run for %s: %w", email, err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer release()

	report := &api.Report{
		RunID:     uuid.NewString(),
		User:      email,
		StartedAt: time.Now().UTC(),
	}
	logger := s.logger.With("run_id", report.RunID, "user", email)

	query, err := s.planner.Plan(ctx, userID)
	if err != nil {
		return nil, err
	}
	logger.Info("planned fetch", "query", query.Raw, "max_results", query.MaxResults)

	source, err := s.newSource(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("opening source for %s: %w", email, err)
	}

	messages := make(chan *api.RawMessage, 64)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- source.Fetch(ctx, query, messages)
	}()

	for msg := range messages {
		report.Fetched++
		s.processMessage(ctx, userID, msg, report, logger)
	}
	if err := <-fetchDone; err != nil {
		return report, fmt.Errorf("fetching mail for %s: %w", email, err)
	}

	if err := s.store.AdvanceMarker(ctx, userID); err != nil {
		return report, fmt.Errorf("advancing marker for %s: %w", email, err)
	}

	report.FinishedAt = time.Now().UTC()
	logger.Info("run complete",
		"fetched", report.Fetched,
		"new", report.New,
		"duplicates", report.Duplicates,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, nil
}

// processMessage handles one message end to end. Rejections are the expected
// outcome for most traffic; a storage failure marks this one item failed and
// the run moves on.
func (s *Syncer) processMessage(ctx context.Context, userID string, msg *api.RawMessage, report *api.Report, logger *slog.Logger) {
	// Cheap pre-filter before the full pipeline; Extract re-checks the same
	// vocabulary as its authoritative gate.
	if !extract.Eligible(msg.Subject, msg.BodyText) {
		report.Add(msg.ID, api.ItemSkipped, "ineligible")
		return
	}

	tx, ok := s.extractor.Extract(msg)
	if !ok {
		report.Add(msg.ID, api.ItemSkipped, "no transaction found")
		return
	}

	outcome, err := s.store.InsertTransaction(ctx, userID, tx)
	if err != nil {
		logger.Warn("failed to store transaction", "message_id", msg.ID, "error", err)
		report.Add(msg.ID, api.ItemFailed, err.Error())
		return
	}
	switch outcome {
	case postgres.OutcomeDuplicate:
		report.Add(msg.ID, api.ItemDuplicate, "")
	default:
		report.Add(msg.ID, api.ItemInserted, "")
		logger.Debug("stored transaction",
			"message_id", msg.ID, "amount", tx.Amount, "name", tx.Name, "kind", tx.Kind)
	}
}

// UserResult pairs a user with their run's outcome in a batch.
type UserResult struct {
	User   string      `json:"user"`
	Report *api.Report `json:"report,omitempty"`
	Err    error       `json:"-"`
}

// SyncAll runs every user in order, one full cycle at a time. A user's
// failure is recorded in their result and never stops the users after them;
// only context cancellation ends the batch early.
func (s *Syncer) SyncAll(ctx context.Context, emails []string) []UserResult {
	results := make([]UserResult, 0, len(emails))
	for _, email := range emails {
		if ctx.Err() != nil {
			break
		}
		report, err := s.SyncUser(ctx, email)
		if err != nil {
			s.logger.Error("sync failed", "user", email, "error", err)
		}
		results = append(results, UserResult{User: email, Report: report, Err: err})
	}
	return results
}
