// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// DefaultClientSecretFile is the default path to the Google OAuth credentials JSON file.
const DefaultClientSecretFile = "data/client_secret.json"

// DefaultTokenDir is the default directory for per-user OAuth token files.
const DefaultTokenDir = "data/tokens"

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// ClientSecretFile is the path to the Google OAuth credentials JSON file.
	// Environment variable: PAISATRAIL_CLIENT_SECRET
	ClientSecretFile string `koanf:"PAISATRAIL_CLIENT_SECRET"`

	// TokenDir is the directory holding per-user OAuth token files.
	// Environment variable: PAISATRAIL_TOKEN_DIR
	TokenDir string `koanf:"PAISATRAIL_TOKEN_DIR"`

	// CorrectionsFile optionally overrides the embedded counterparty
	// name-correction table with an external JSON file.
	// Environment variable: PAISATRAIL_CORRECTIONS_FILE
	CorrectionsFile string `koanf:"PAISATRAIL_CORRECTIONS_FILE"`

	Postgres PostgresConfig
	Server   ServerConfig
	Sync     SyncConfig
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
}

// ServerConfig holds REST API server configuration.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `koanf:"PAISATRAIL_SERVER_ADDR"`

	// APIKey protects the API when set. Empty disables auth (local development).
	APIKey string `koanf:"PAISATRAIL_API_KEY"`

	// CORSOrigins is a comma-separated list of allowed origins.
	CORSOrigins string `koanf:"PAISATRAIL_CORS_ORIGINS"`

	// RateLimitRPS is the per-client request rate. Zero or negative disables limiting.
	RateLimitRPS float64 `koanf:"PAISATRAIL_RATE_LIMIT_RPS"`

	// RateLimitBurst is the per-client burst size.
	RateLimitBurst int `koanf:"PAISATRAIL_RATE_LIMIT_BURST"`
}

// SyncConfig holds mailbox scan configuration.
type SyncConfig struct {
	// Schedule is the cron expression for background syncs,
	// e.g. "@every 6h" or "0 */6 * * *".
	Schedule string `koanf:"PAISATRAIL_SYNC_SCHEDULE"`

	// LookbackDays bounds the first scan of a mailbox, before any
	// high-water mark exists.
	LookbackDays int `koanf:"PAISATRAIL_SYNC_LOOKBACK_DAYS"`

	// MaxResults caps how many messages one run may fetch.
	MaxResults int64 `koanf:"PAISATRAIL_SYNC_MAX_RESULTS"`

	// UTCOffsetMinutes is the fixed offset used to turn message timestamps
	// into local civil time. Default 330 (UTC+5:30).
	UTCOffsetMinutes int `koanf:"PAISATRAIL_SYNC_UTC_OFFSET_MINUTES"`
}

// Location returns the fixed local timezone derived from UTCOffsetMinutes.
func (s SyncConfig) Location() *time.Location {
	m := s.UTCOffsetMinutes
	sign := "+"
	if m < 0 {
		sign = "-"
		m = -m
	}
	name := fmt.Sprintf("UTC%s%02d:%02d", sign, m/60, m%60)
	return time.FixedZone(name, s.UTCOffsetMinutes*60)
}

// Load reads configuration from the environment and applies defaults.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ClientSecretFile == "" {
		c.ClientSecretFile = DefaultClientSecretFile
	}
	if c.TokenDir == "" {
		c.TokenDir = DefaultTokenDir
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 20
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "@every 6h"
	}
	if c.Sync.LookbackDays == 0 {
		c.Sync.LookbackDays = 365
	}
	if c.Sync.MaxResults == 0 {
		c.Sync.MaxResults = 500
	}
	if c.Sync.UTCOffsetMinutes == 0 {
		c.Sync.UTCOffsetMinutes = 330
	}
}

// Validate reports the first fatal configuration problem. It runs before any
// per-user work so that misconfiguration aborts the whole run eagerly.
func (c *Config) Validate() error {
	if c.Postgres.Host == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.Postgres.Database == "" {
		return fmt.Errorf("POSTGRES_DB is required")
	}
	if c.Postgres.User == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
		return fmt.Errorf("POSTGRES_PORT %d out of range", c.Postgres.Port)
	}
	if c.Sync.LookbackDays < 1 {
		return fmt.Errorf("PAISATRAIL_SYNC_LOOKBACK_DAYS must be positive, got %d", c.Sync.LookbackDays)
	}
	if c.Sync.MaxResults < 1 {
		return fmt.Errorf("PAISATRAIL_SYNC_MAX_RESULTS must be positive, got %d", c.Sync.MaxResults)
	}
	// Real-world UTC offsets span -12:00 to +14:00.
	if c.Sync.UTCOffsetMinutes < -720 || c.Sync.UTCOffsetMinutes > 840 {
		return fmt.Errorf("PAISATRAIL_SYNC_UTC_OFFSET_MINUTES %d out of range", c.Sync.UTCOffsetMinutes)
	}
	return nil
}
