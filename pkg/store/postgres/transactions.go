package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/paisatrail/paisatrail/pkg/api"
)

// Outcome is the result of a deduplicating insert.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeDuplicate Outcome = "duplicate"
)

// selectColumns is the column list every transaction read uses; date and
// time come back as the canonical string forms the rest of the system
// speaks.
const selectColumns = `id, message_id, amount::float8, name,
	to_char(transaction_date, 'YYYY-MM-DD'),
	to_char(transaction_time, 'HH24:MI:SS'),
	kind, description, tag, created_at`

func scanTransaction(row pgx.Row) (*api.StoredTransaction, error) {
	var tx api.StoredTransaction
	err := row.Scan(
		&tx.ID,
		&tx.MessageID,
		&tx.Amount,
		&tx.Name,
		&tx.Date,
		&tx.Time,
		&tx.Kind,
		&tx.Description,
		&tx.Tag,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// InsertTransaction writes one extracted transaction for a user. A message
// already stored for that user reports OutcomeDuplicate without writing;
// so does a unique-constraint violation from a concurrent run racing the
// existence probe. A missing relation triggers schema provisioning once.
func (s *Store) InsertTransaction(ctx context.Context, userID string, tx *api.Transaction) (Outcome, error) {
	exists, err := s.messageExists(ctx, userID, tx.MessageID)
	if err != nil && isUndefinedTable(err) {
		if err = s.EnsureSchema(ctx); err != nil {
			return "", err
		}
		exists, err = s.messageExists(ctx, userID, tx.MessageID)
	}
	if err != nil {
		return "", fmt.Errorf("checking for existing message: %w", err)
	}
	if exists {
		return OutcomeDuplicate, nil
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO transactions (user_id, message_id, amount, name, transaction_date, transaction_time, kind)
		VALUES ($1, $2, $3, $4, $5::date, $6::time, $7)`,
		userID, tx.MessageID, tx.Amount, tx.Name, tx.Date, tx.Time, string(tx.Kind),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("inserting transaction: %w", err)
	}
	return OutcomeInserted, nil
}

func (s *Store) messageExists(ctx context.Context, userID, messageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE user_id = $1 AND message_id = $2)`,
		userID, messageID,
	).Scan(&exists)
	return exists, err
}

// ListOptions control pagination, ordering, and filtering of a transaction
// listing.
type ListOptions struct {
	Page     int
	PageSize int
	Sort     string // date | amount | name | created
	Order    string // asc | desc
	Tag      string
	Kind     string
}

// sortColumns whitelists the sortable columns; anything else falls back to
// the date ordering.
var sortColumns = map[string]string{
	"date":    "transaction_date",
	"amount":  "amount",
	"name":    "name",
	"created": "created_at",
}

func (o ListOptions) normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize < 1 {
		o.PageSize = 20
	}
	if o.PageSize > 100 {
		o.PageSize = 100
	}
	if _, ok := sortColumns[o.Sort]; !ok {
		o.Sort = "date"
	}
	if o.Order != "asc" {
		o.Order = "desc"
	}
	return o
}

// orderBy builds the ORDER BY clause from whitelisted values only; id is
// always the final tie-break so paging is stable.
func (o ListOptions) orderBy() string {
	dir := strings.ToUpper(o.Order)
	if o.Sort == "date" {
		return fmt.Sprintf("transaction_date %s, transaction_time %s, id %s", dir, dir, dir)
	}
	return fmt.Sprintf("%s %s, id %s", sortColumns[o.Sort], dir, dir)
}

// ListTransactions returns one page of a user's transactions plus the total
// row count for the same filter. Count and page ride a single batch.
func (s *Store) ListTransactions(ctx context.Context, userID string, opts ListOptions) ([]*api.StoredTransaction, int64, error) {
	opts = opts.normalize()

	where := []string{"user_id = $1"}
	args := []any{userID}
	if opts.Tag != "" {
		args = append(args, opts.Tag)
		where = append(where, fmt.Sprintf("tag = $%d", len(args)))
	}
	if opts.Kind != "" {
		args = append(args, opts.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	pageArgs := append(args[:len(args):len(args)],
		opts.PageSize, (opts.Page-1)*opts.PageSize)

	batch := &pgx.Batch{}
	batch.Queue(`SELECT COUNT(*) FROM transactions WHERE `+cond, args...)
	batch.Queue(fmt.Sprintf(
		`SELECT %s FROM transactions WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		selectColumns, cond, opts.orderBy(), len(args)+1, len(args)+2,
	), pageArgs...)

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	var total int64
	if err := results.QueryRow().Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting transactions: %w", err)
	}

	rows, err := results.Query()
	if err != nil {
		return nil, 0, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var list []*api.StoredTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning transaction: %w", err)
		}
		list = append(list, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("reading transactions: %w", err)
	}
	return list, total, nil
}

// ExportAll returns every transaction for a user in chronological order.
func (s *Store) ExportAll(ctx context.Context, userID string) ([]*api.StoredTransaction, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM transactions WHERE user_id = $1
		 ORDER BY transaction_date ASC, transaction_time ASC, id ASC`, selectColumns,
	), userID)
	if err != nil {
		return nil, fmt.Errorf("exporting transactions: %w", err)
	}
	defer rows.Close()

	var list []*api.StoredTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		list = append(list, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading transactions: %w", err)
	}
	return list, nil
}

// Rename sets a new counterparty name on one transaction.
func (s *Store) Rename(ctx context.Context, userID string, id int64, name string) error {
	return s.updateColumn(ctx, userID, id, "name", name)
}

// SetNote sets the free-text description on one transaction.
func (s *Store) SetNote(ctx context.Context, userID string, id int64, note string) error {
	return s.updateColumn(ctx, userID, id, "description", note)
}

// SetTag sets the tag on one transaction; an empty tag clears it. Vocabulary
// validation happens at the API boundary.
func (s *Store) SetTag(ctx context.Context, userID string, id int64, tag string) error {
	return s.updateColumn(ctx, userID, id, "tag", tag)
}

func (s *Store) updateColumn(ctx context.Context, userID string, id int64, column, value string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE transactions SET %s = $3 WHERE user_id = $1 AND id = $2`, column,
	), userID, id, value)
	if err != nil {
		return fmt.Errorf("updating %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every transaction for a user and returns how many rows
// went away. Deleting an already-empty relation is a no-op, not an error.
func (s *Store) DeleteAll(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Overview aggregates a user's transactions: totals by kind, a tag
// breakdown, and a recent monthly series, all in one batch round trip.
func (s *Store) Overview(ctx context.Context, userID string) (*api.Overview, error) {
	batch := &pgx.Batch{}
	batch.Queue(`
		SELECT COUNT(*),
		       COALESCE(SUM(amount) FILTER (WHERE kind = 'debit'), 0)::float8,
		       COALESCE(SUM(amount) FILTER (WHERE kind = 'credit'), 0)::float8
		FROM transactions WHERE user_id = $1`, userID)
	batch.Queue(`
		SELECT COALESCE(NULLIF(tag, ''), 'untagged'), COUNT(*), SUM(amount)::float8
		FROM transactions WHERE user_id = $1
		GROUP BY 1 ORDER BY 3 DESC, 1 ASC`, userID)
	batch.Queue(`
		SELECT to_char(date_trunc('month', transaction_date), 'YYYY-MM'),
		       COALESCE(SUM(amount) FILTER (WHERE kind = 'debit'), 0)::float8,
		       COALESCE(SUM(amount) FILTER (WHERE kind = 'credit'), 0)::float8
		FROM transactions WHERE user_id = $1
		GROUP BY 1 ORDER BY 1 DESC LIMIT 12`, userID)

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	var ov api.Overview
	if err := results.QueryRow().Scan(&ov.Count, &ov.DebitTotal, &ov.CreditTotal); err != nil {
		return nil, fmt.Errorf("aggregating totals: %w", err)
	}

	rows, err := results.Query()
	if err != nil {
		return nil, fmt.Errorf("aggregating tags: %w", err)
	}
	for rows.Next() {
		var t api.TagTotal
		if err := rows.Scan(&t.Tag, &t.Count, &t.Total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning tag total: %w", err)
		}
		ov.ByTag = append(ov.ByTag, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading tag totals: %w", err)
	}
	rows.Close()

	rows, err = results.Query()
	if err != nil {
		return nil, fmt.Errorf("aggregating months: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m api.MonthTotal
		if err := rows.Scan(&m.Month, &m.Debit, &m.Credit); err != nil {
			return nil, fmt.Errorf("scanning month total: %w", err)
		}
		ov.ByMonth = append(ov.ByMonth, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading month totals: %w", err)
	}
	return &ov, nil
}

// Ping verifies database connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
