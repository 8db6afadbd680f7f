// Package postgres provides PostgreSQL-backed storage for users and
// extracted transactions.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgreSQL error codes the store reacts to.
const (
	pgUndefinedTable  = "42P01"
	pgUniqueViolation = "23505"
)

// ErrNotFound is returned when an update targets a transaction that does not
// exist for the given user.
var ErrNotFound = errors.New("transaction not found")

// Config holds the PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

// Store reads and writes users and transactions in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new Store, verifies connectivity, and provisions the schema.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
	)

	s := &Store{
		pool:   pool,
		logger: logger,
	}

	if err := s.EnsureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("provisioning schema: %w", err)
	}

	return s, nil
}

// EnsureSchema checks that the transaction relation exists by attempting a
// trivial read. If the read fails with "relation does not exist" it runs the
// embedded create-if-not-exists DDL and probes again. Any other failure is
// returned as-is.
func (s *Store) EnsureSchema(ctx context.Context) error {
	err := s.probe(ctx)
	if err == nil {
		return nil
	}
	if !isUndefinedTable(err) {
		return fmt.Errorf("probing schema: %w", err)
	}

	s.logger.Info("provisioning database schema")
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("executing schema DDL: %w", err)
	}

	if err := s.probe(ctx); err != nil {
		return fmt.Errorf("schema still unavailable after DDL: %w", err)
	}
	return nil
}

func (s *Store) probe(ctx context.Context) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM transactions LIMIT 1`).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

// isUndefinedTable reports whether err is the PostgreSQL "relation does not
// exist" failure.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// EnsureUser inserts the user if absent and returns the user id.
func (s *Store) EnsureUser(ctx context.Context, email string) (string, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email) VALUES ($1, $2) ON CONFLICT (email) DO NOTHING`,
		uuid.NewString(), email,
	)
	if err != nil {
		return "", fmt.Errorf("inserting user: %w", err)
	}

	var id string
	if err := s.pool.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&id); err != nil {
		return "", fmt.Errorf("selecting user: %w", err)
	}
	return id, nil
}

// UserID returns the id for email, or ErrNotFound when the user is unknown.
func (s *Store) UserID(ctx context.Context, email string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("selecting user: %w", err)
	}
	return id, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("closed PostgreSQL connection pool")
	}
}
