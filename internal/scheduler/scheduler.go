// Package scheduler runs periodic background syncs over every mailbox with a
// stored credential. A single cron schedule covers all users; each tick
// processes them sequentially, one full run at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/paisatrail/paisatrail/pkg/api"
)

// ErrSyncRunning is returned by TriggerSync when a run for that user is
// already underway.
var ErrSyncRunning = errors.New("sync already running for user")

// SyncFunc performs one full run for a mailbox and returns its report.
type SyncFunc func(ctx context.Context, email string) (*api.Report, error)

// UsersFunc lists the mailboxes to sync, typically the stored token files.
type UsersFunc func() ([]string, error)

// UserStatus is one user's scheduling state, surfaced through the API.
type UserStatus struct {
	Email     string    `json:"email"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run,omitzero"`
}

// Scheduler wraps a cron entry around the syncer and tracks per-user run
// state so manual triggers and the status endpoint see the same picture.
type Scheduler struct {
	cron     *cron.Cron
	syncFunc SyncFunc
	users    UsersFunc
	logger   *slog.Logger

	mu      sync.Mutex
	entry   cron.EntryID
	running map[string]bool
	lastRun map[string]time.Time
	lastErr map[string]error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler around syncFunc. Users are re-listed on every tick,
// so newly authorized mailboxes join the rotation without a restart.
func New(syncFunc SyncFunc, users UsersFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(),
		syncFunc: syncFunc,
		users:    users,
		logger:   logger,
		running:  make(map[string]bool),
		lastRun:  make(map[string]time.Time),
		lastErr:  make(map[string]error),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers the schedule and begins ticking. The expression accepts
// standard five-field cron or the @every / @hourly descriptors.
func (s *Scheduler) Start(schedule string) error {
	entry, err := s.cron.AddFunc(schedule, s.tick)
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	s.mu.Lock()
	s.entry = entry
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started",
		"schedule", schedule,
		"next_run", s.cron.Entry(entry).Next)
	return nil
}

// Stop cancels in-flight runs and waits for the cron goroutine and any
// running sync to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("scheduler stopping")
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.wg.Wait()
}

// tick syncs every known user in order. One user's failure is recorded and
// never blocks the users after them.
func (s *Scheduler) tick() {
	s.wg.Add(1)
	defer s.wg.Done()

	emails, err := s.users()
	if err != nil {
		s.logger.Error("listing users for scheduled sync", "error", err)
		return
	}
	s.logger.Info("scheduled sync starting", "users", len(emails))

	for _, email := range emails {
		if s.ctx.Err() != nil {
			return
		}
		if _, err := s.runOne(s.ctx, email); err != nil && !errors.Is(err, ErrSyncRunning) {
			s.logger.Error("scheduled sync failed", "user", email, "error", err)
		}
	}
}

// TriggerSync runs one user synchronously, outside the schedule, and returns
// the run report. A run already underway for that user is ErrSyncRunning.
func (s *Scheduler) TriggerSync(ctx context.Context, email string) (*api.Report, error) {
	s.wg.Add(1)
	defer s.wg.Done()
	return s.runOne(ctx, email)
}

func (s *Scheduler) runOne(ctx context.Context, email string) (*api.Report, error) {
	s.mu.Lock()
	if s.running[email] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSyncRunning, email)
	}
	s.running[email] = true
	s.mu.Unlock()

	start := time.Now()
	report, err := s.syncFunc(ctx, email)

	s.mu.Lock()
	s.running[email] = false
	s.lastErr[email] = err
	if err == nil {
		s.lastRun[email] = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		return report, err
	}
	s.logger.Info("sync completed", "user", email, "duration", time.Since(start))
	return report, nil
}

// Status reports scheduling state for every known user.
func (s *Scheduler) Status() []UserStatus {
	emails, err := s.users()
	if err != nil {
		s.logger.Error("listing users for status", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cron.Entry(s.entry).Next
	statuses := make([]UserStatus, 0, len(emails))
	for _, email := range emails {
		st := UserStatus{
			Email:   email,
			Running: s.running[email],
			LastRun: s.lastRun[email],
			NextRun: next,
		}
		if err := s.lastErr[email]; err != nil {
			st.LastError = err.Error()
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// UserStatusFor returns one user's scheduling state and whether the user is
// known to the scheduler.
func (s *Scheduler) UserStatusFor(email string) (UserStatus, bool) {
	for _, st := range s.Status() {
		if st.Email == email {
			return st, true
		}
	}
	return UserStatus{}, false
}
