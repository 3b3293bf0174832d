package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type Token struct {
	ID       int64
	Address  string
	Symbol   string
	Name     string
	Decimals int
	ChainID  int64
}

// UpsertToken inserts the token if absent and returns its row id. Addresses
// are stored lowercased so lookups are case-insensitive.
func (s *Store) UpsertToken(ctx context.Context, t *Token) (int64, error) {
	addr := strings.ToLower(t.Address)
	if err := s.exec(ctx, "upsert token",
		`INSERT INTO tokens (token_address, token_symbol, token_name, token_decimals, chain_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (token_address, chain_id) DO NOTHING`,
		addr, t.Symbol, t.Name, t.Decimals, t.ChainID, time.Now().Unix()); err != nil {
		return 0, err
	}
	var id int64
	err := s.queryRow(ctx, "get token id",
		`SELECT id FROM tokens WHERE token_address = ? AND chain_id = ?`,
		[]any{addr, t.ChainID}, &id)
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

func (s *Store) GetTokenByAddress(ctx context.Context, address string, chainID int64) (*Token, error) {
	var t Token
	err := s.queryRow(ctx, "get token",
		`SELECT id, token_address, token_symbol, token_name, token_decimals, chain_id
		 FROM tokens WHERE token_address = ? AND chain_id = ?`,
		[]any{strings.ToLower(address), chainID},
		&t.ID, &t.Address, &t.Symbol, &t.Name, &t.Decimals, &t.ChainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TrackToken records the user-token relation; tracking twice is a no-op.
func (s *Store) TrackToken(ctx context.Context, userID string, tokenID int64) error {
	return s.exec(ctx, "track token",
		`INSERT INTO user_tracked_tokens (user_id, token_id, tracked_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, token_id) DO NOTHING`,
		userID, tokenID, time.Now().Unix())
}

func (s *Store) UntrackToken(ctx context.Context, userID string, tokenID int64) error {
	return s.exec(ctx, "untrack token",
		`DELETE FROM user_tracked_tokens WHERE user_id = ? AND token_id = ?`, userID, tokenID)
}

// ListTrackedTokens returns the user's tracked tokens in tracking order.
func (s *Store) ListTrackedTokens(ctx context.Context, userID string, chainID int64) ([]*Token, error) {
	q := s.rebind(`SELECT t.id, t.token_address, t.token_symbol, t.token_name, t.token_decimals, t.chain_id
		 FROM tokens t JOIN user_tracked_tokens ut ON ut.token_id = t.id
		 WHERE ut.user_id = ? AND t.chain_id = ? ORDER BY ut.tracked_at, ut.id`)
	var tokens []*Token
	err := s.withRetry(ctx, "list tracked tokens", func() error {
		rows, err := s.db.QueryContext(ctx, q, userID, chainID)
		if err != nil {
			return err
		}
		defer rows.Close()

		tokens = tokens[:0]
		for rows.Next() {
			var t Token
			if err := rows.Scan(&t.ID, &t.Address, &t.Symbol, &t.Name, &t.Decimals, &t.ChainID); err != nil {
				return err
			}
			tokens = append(tokens, &t)
		}
		return rows.Err()
	})
	return tokens, err
}
