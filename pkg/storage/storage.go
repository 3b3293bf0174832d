// Package storage persists users, wallets, encrypted secrets, tokens and
// tracked-token relations behind a database/sql store. SQLite is the default
// backend; PostgreSQL is selected with driver "postgres".
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/tidaldex/dexbot/pkg/config"
	"github.com/tidaldex/dexbot/pkg/logger"
)

type Store struct {
	db       *sql.DB
	driver   string
	attempts int
	delay    time.Duration
}

// Open connects to the configured backend, applies the schema and returns a
// ready Store.
func Open(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		db, err = sql.Open("sqlite", cfg.DSN+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	case "postgres":
		db, err = sql.Open("pgx", cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		// modernc sqlite is not safe for concurrent writers on one file.
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:       db,
		driver:   cfg.Driver,
		attempts: cfg.RetryAttempts,
		delay:    time.Duration(cfg.RetryDelayMS) * time.Millisecond,
	}
	if s.attempts <= 0 {
		s.attempts = 5
	}
	if s.delay <= 0 {
		s.delay = 100 * time.Millisecond
	}

	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.InfoCF("storage", "store opened", map[string]any{"driver": cfg.Driver})
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == "postgres" {
		schema = schemaPostgres
	}
	return s.withRetry(ctx, "init schema", func() error {
		_, err := s.db.ExecContext(ctx, schema)
		return err
	})
}

// rebind rewrites ? placeholders to $N for postgres. Queries are written in
// sqlite style and rebound once at the call site.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withRetry runs fn, retrying transient lock/busy failures with a doubling
// delay. Other errors surface immediately; the last error surfaces once
// attempts are exhausted.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := s.delay
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		if attempt == s.attempts {
			break
		}
		logger.WarnCF("storage", "busy, retrying", map[string]any{
			"op": op, "attempt": attempt, "delay_ms": delay.Milliseconds(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("%s after %d attempts: %w", op, s.attempts, err)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "deadlock detected")
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	q := s.rebind(query)
	return s.withRetry(ctx, op, func() error {
		_, err := s.db.ExecContext(ctx, q, args...)
		return err
	})
}

func (s *Store) queryRow(ctx context.Context, op, query string, args []any, dest ...any) error {
	q := s.rebind(query)
	return s.withRetry(ctx, op, func() error {
		return s.db.QueryRowContext(ctx, q, args...).Scan(dest...)
	})
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    pin_hash TEXT,
    active_wallet_name TEXT DEFAULT '',
    mnemonic_index INTEGER DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS wallets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    address TEXT NOT NULL,
    private_key TEXT,
    derivation_path TEXT,
    name TEXT NOT NULL DEFAULT 'Default',
    is_imported INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE,
    UNIQUE(user_id, name)
);

CREATE TABLE IF NOT EXISTS mnemonics (
    user_id TEXT PRIMARY KEY,
    mnemonic TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pin_attempts (
    user_id TEXT PRIMARY KEY,
    failure_count INTEGER NOT NULL DEFAULT 0,
    last_attempt_time INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS tokens (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    token_address TEXT NOT NULL,
    token_symbol TEXT,
    token_name TEXT,
    token_decimals INTEGER DEFAULT 18,
    chain_id INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE(token_address, chain_id)
);

CREATE TABLE IF NOT EXISTS user_tracked_tokens (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    token_id INTEGER NOT NULL,
    tracked_at INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE,
    FOREIGN KEY (token_id) REFERENCES tokens(id) ON DELETE CASCADE,
    UNIQUE(user_id, token_id)
);

CREATE TABLE IF NOT EXISTS linked_accounts (
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    external_id TEXT NOT NULL,
    display_name TEXT,
    access_token TEXT NOT NULL,
    refresh_token TEXT,
    expires_at INTEGER,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, provider),
    FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    pin_hash TEXT,
    active_wallet_name TEXT DEFAULT '',
    mnemonic_index INTEGER DEFAULT 0,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS wallets (
    id SERIAL PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
    address TEXT NOT NULL,
    private_key TEXT,
    derivation_path TEXT,
    name TEXT NOT NULL DEFAULT 'Default',
    is_imported BOOLEAN NOT NULL DEFAULT FALSE,
    created_at BIGINT NOT NULL,
    UNIQUE(user_id, name)
);

CREATE TABLE IF NOT EXISTS mnemonics (
    user_id TEXT PRIMARY KEY REFERENCES users(user_id) ON DELETE CASCADE,
    mnemonic TEXT NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS pin_attempts (
    user_id TEXT PRIMARY KEY REFERENCES users(user_id) ON DELETE CASCADE,
    failure_count INTEGER NOT NULL DEFAULT 0,
    last_attempt_time BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
    id SERIAL PRIMARY KEY,
    token_address TEXT NOT NULL,
    token_symbol TEXT,
    token_name TEXT,
    token_decimals INTEGER DEFAULT 18,
    chain_id BIGINT NOT NULL,
    created_at BIGINT NOT NULL,
    UNIQUE(token_address, chain_id)
);

CREATE TABLE IF NOT EXISTS user_tracked_tokens (
    id SERIAL PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
    token_id INTEGER NOT NULL REFERENCES tokens(id) ON DELETE CASCADE,
    tracked_at BIGINT NOT NULL,
    UNIQUE(user_id, token_id)
);

CREATE TABLE IF NOT EXISTS linked_accounts (
    user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
    provider TEXT NOT NULL,
    external_id TEXT NOT NULL,
    display_name TEXT,
    access_token TEXT NOT NULL,
    refresh_token TEXT,
    expires_at BIGINT,
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (user_id, provider)
);
`
