package postgres

import (
	"context"
	"fmt"
	"time"
)

// AcquireRunLock takes the per-user advisory lock that serializes extraction
// runs. It returns acquired=false without error when another run already
// holds the lock. On success the caller must call release, which unlocks and
// returns the underlying connection to the pool; the lock is session-scoped,
// so the connection is pinned until then.
func (s *Store) AcquireRunLock(ctx context.Context, userID string) (release func(), acquired bool, err error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring connection: %w", err)
	}

	var got bool
	if err := conn.QueryRow(ctx,
		`SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, userID,
	).Scan(&got); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("taking advisory lock: %w", err)
	}
	if !got {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx,
			`SELECT pg_advisory_unlock(hashtextextended($1, 0))`, userID,
		); err != nil {
			s.logger.Warn("failed to release run lock", "user_id", userID, "error", err)
		}
		conn.Release()
	}
	return release, true, nil
}
