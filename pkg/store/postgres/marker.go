package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/paisatrail/paisatrail/pkg/api"
)

// LastChecked returns the row currently carrying the last-checked marker for
// a user, or nil when no marker exists (first run, or empty storage).
func (s *Store) LastChecked(ctx context.Context, userID string) (*api.StoredTransaction, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM transactions
		 WHERE user_id = $1 AND last_checked
		 ORDER BY transaction_date DESC, transaction_time DESC, id DESC
		 LIMIT 1`, selectColumns,
	), userID)

	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting marker row: %w", err)
	}
	return tx, nil
}

// AdvanceMarker moves the last-checked marker to the user's most recent
// stored row, most recent meaning the (transaction_date, transaction_time,
// id) descending order. Clear and set run in one database transaction so at
// most one row ever carries the marker; re-marking the same row is a no-op
// in effect. With no rows stored, no marker is set and that is valid steady
// state.
func (s *Store) AdvanceMarker(ctx context.Context, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE transactions SET last_checked = FALSE WHERE user_id = $1 AND last_checked`,
		userID,
	); err != nil {
		return fmt.Errorf("clearing marker: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE transactions SET last_checked = TRUE
		WHERE id = (
			SELECT id FROM transactions
			WHERE user_id = $1
			ORDER BY transaction_date DESC, transaction_time DESC, id DESC
			LIMIT 1
		)`, userID,
	); err != nil {
		return fmt.Errorf("setting marker: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing marker advance: %w", err)
	}
	return nil
}
