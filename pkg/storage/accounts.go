package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// LinkedAccount holds encrypted credentials for an external account tied to
// a user, one row per provider. AccessToken and RefreshToken are vault
// envelopes, never plaintext.
type LinkedAccount struct {
	UserID       string
	Provider     string
	ExternalID   string
	DisplayName  sql.NullString
	AccessToken  string
	RefreshToken sql.NullString
	ExpiresAt    sql.NullInt64
	UpdatedAt    int64
}

func (s *Store) SaveLinkedAccount(ctx context.Context, a *LinkedAccount) error {
	return s.exec(ctx, "save linked account",
		`INSERT INTO linked_accounts (user_id, provider, external_id, display_name, access_token, refresh_token, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, provider) DO UPDATE SET
		   external_id = excluded.external_id,
		   display_name = excluded.display_name,
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		a.UserID, a.Provider, a.ExternalID, a.DisplayName, a.AccessToken,
		a.RefreshToken, a.ExpiresAt, time.Now().Unix())
}

func (s *Store) GetLinkedAccount(ctx context.Context, userID, provider string) (*LinkedAccount, error) {
	var a LinkedAccount
	err := s.queryRow(ctx, "get linked account",
		`SELECT user_id, provider, external_id, display_name, access_token, refresh_token, expires_at, updated_at
		 FROM linked_accounts WHERE user_id = ? AND provider = ?`,
		[]any{userID, provider},
		&a.UserID, &a.Provider, &a.ExternalID, &a.DisplayName, &a.AccessToken,
		&a.RefreshToken, &a.ExpiresAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListLinkedAccounts(ctx context.Context, userID string) ([]*LinkedAccount, error) {
	q := s.rebind(`SELECT user_id, provider, external_id, display_name, access_token, refresh_token, expires_at, updated_at
		 FROM linked_accounts WHERE user_id = ? ORDER BY provider`)
	var accounts []*LinkedAccount
	err := s.withRetry(ctx, "list linked accounts", func() error {
		rows, err := s.db.QueryContext(ctx, q, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		accounts = accounts[:0]
		for rows.Next() {
			var a LinkedAccount
			if err := rows.Scan(&a.UserID, &a.Provider, &a.ExternalID, &a.DisplayName,
				&a.AccessToken, &a.RefreshToken, &a.ExpiresAt, &a.UpdatedAt); err != nil {
				return err
			}
			accounts = append(accounts, &a)
		}
		return rows.Err()
	})
	return accounts, err
}

// UpdateLinkedAccountTokens replaces the credential envelopes, used by PIN
// rotation.
func (s *Store) UpdateLinkedAccountTokens(ctx context.Context, userID, provider, access string, refresh sql.NullString) error {
	return s.exec(ctx, "update linked account tokens",
		`UPDATE linked_accounts SET access_token = ?, refresh_token = ?, updated_at = ?
		 WHERE user_id = ? AND provider = ?`,
		access, refresh, time.Now().Unix(), userID, provider)
}

func (s *Store) DeleteLinkedAccount(ctx context.Context, userID, provider string) error {
	return s.exec(ctx, "delete linked account",
		`DELETE FROM linked_accounts WHERE user_id = ? AND provider = ?`, userID, provider)
}
