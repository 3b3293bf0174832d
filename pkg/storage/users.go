package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// User is keyed by the hashed platform user id. Raw platform ids never reach
// the database.
type User struct {
	UserID           string
	PinHash          sql.NullString
	ActiveWalletName string
	MnemonicIndex    int
	CreatedAt        int64
}

type PinAttempts struct {
	FailureCount    int
	LastAttemptTime int64
}

// EnsureUser creates the user row on first touch. Existing rows are left
// untouched.
func (s *Store) EnsureUser(ctx context.Context, userID string) error {
	return s.exec(ctx, "ensure user",
		`INSERT INTO users (user_id, created_at) VALUES (?, ?) ON CONFLICT (user_id) DO NOTHING`,
		userID, time.Now().Unix())
}

func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.queryRow(ctx, "get user",
		`SELECT user_id, pin_hash, active_wallet_name, mnemonic_index, created_at FROM users WHERE user_id = ?`,
		[]any{userID},
		&u.UserID, &u.PinHash, &u.ActiveWalletName, &u.MnemonicIndex, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetPinHash returns the stored PIN hash, or "" when no PIN is set.
func (s *Store) GetPinHash(ctx context.Context, userID string) (string, error) {
	var hash sql.NullString
	err := s.queryRow(ctx, "get pin hash",
		`SELECT pin_hash FROM users WHERE user_id = ?`, []any{userID}, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return hash.String, nil
}

func (s *Store) SetPinHash(ctx context.Context, userID, hash string) error {
	return s.exec(ctx, "set pin hash",
		`UPDATE users SET pin_hash = ? WHERE user_id = ?`, hash, userID)
}

func (s *Store) SetActiveWallet(ctx context.Context, userID, name string) error {
	return s.exec(ctx, "set active wallet",
		`UPDATE users SET active_wallet_name = ? WHERE user_id = ?`, name, userID)
}

// NextMnemonicIndex returns the current derivation index and advances it.
func (s *Store) NextMnemonicIndex(ctx context.Context, userID string) (int, error) {
	var idx int
	err := s.queryRow(ctx, "get mnemonic index",
		`SELECT mnemonic_index FROM users WHERE user_id = ?`, []any{userID}, &idx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	if err := s.exec(ctx, "bump mnemonic index",
		`UPDATE users SET mnemonic_index = ? WHERE user_id = ?`, idx+1, userID); err != nil {
		return 0, err
	}
	return idx, nil
}

// SaveMnemonic stores the encrypted seed phrase envelope, replacing any
// previous one.
func (s *Store) SaveMnemonic(ctx context.Context, userID, envelope string) error {
	return s.exec(ctx, "save mnemonic",
		`INSERT INTO mnemonics (user_id, mnemonic, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET mnemonic = excluded.mnemonic`,
		userID, envelope, time.Now().Unix())
}

func (s *Store) GetMnemonic(ctx context.Context, userID string) (string, error) {
	var env string
	err := s.queryRow(ctx, "get mnemonic",
		`SELECT mnemonic FROM mnemonics WHERE user_id = ?`, []any{userID}, &env)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMnemonicNotFound
	}
	return env, err
}

// RecordPinFailure increments the failure counter and stamps the attempt.
func (s *Store) RecordPinFailure(ctx context.Context, userID string) error {
	return s.exec(ctx, "record pin failure",
		`INSERT INTO pin_attempts (user_id, failure_count, last_attempt_time) VALUES (?, 1, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   failure_count = pin_attempts.failure_count + 1,
		   last_attempt_time = excluded.last_attempt_time`,
		userID, time.Now().Unix())
}

func (s *Store) ResetPinAttempts(ctx context.Context, userID string) error {
	return s.exec(ctx, "reset pin attempts",
		`DELETE FROM pin_attempts WHERE user_id = ?`, userID)
}

// GetPinAttempts returns the failure record; a zero record when none exists.
func (s *Store) GetPinAttempts(ctx context.Context, userID string) (PinAttempts, error) {
	var a PinAttempts
	err := s.queryRow(ctx, "get pin attempts",
		`SELECT failure_count, last_attempt_time FROM pin_attempts WHERE user_id = ?`,
		[]any{userID}, &a.FailureCount, &a.LastAttemptTime)
	if errors.Is(err, sql.ErrNoRows) {
		return PinAttempts{}, nil
	}
	return a, err
}
