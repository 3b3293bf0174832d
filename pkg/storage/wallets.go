package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Wallet is a stored wallet row. PrivateKey holds the vault envelope for
// imported wallets and is empty for derived wallets, which re-derive from
// the mnemonic and DerivationPath on demand.
type Wallet struct {
	ID             int64
	UserID         string
	Address        string
	PrivateKey     sql.NullString
	DerivationPath sql.NullString
	Name           string
	IsImported     bool
	CreatedAt      int64
}

const walletCols = `id, user_id, address, private_key, derivation_path, name, is_imported, created_at`

func scanWallet(row *sql.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Address, &w.PrivateKey, &w.DerivationPath,
		&w.Name, &w.IsImported, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) CreateWallet(ctx context.Context, w *Wallet) error {
	err := s.exec(ctx, "create wallet",
		`INSERT INTO wallets (user_id, address, private_key, derivation_path, name, is_imported, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.UserID, w.Address, w.PrivateKey, w.DerivationPath, w.Name, w.IsImported, time.Now().Unix())
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return ErrWalletExists
	}
	return err
}

func (s *Store) GetWallet(ctx context.Context, userID, name string) (*Wallet, error) {
	q := s.rebind(`SELECT ` + walletCols + ` FROM wallets WHERE user_id = ? AND name = ?`)
	var w *Wallet
	err := s.withRetry(ctx, "get wallet", func() error {
		var err error
		w, err = scanWallet(s.db.QueryRowContext(ctx, q, userID, name))
		if errors.Is(err, ErrWalletNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWalletNotFound
	}
	return w, nil
}

func (s *Store) ListWallets(ctx context.Context, userID string) ([]*Wallet, error) {
	q := s.rebind(`SELECT ` + walletCols + ` FROM wallets WHERE user_id = ? ORDER BY created_at, id`)
	var wallets []*Wallet
	err := s.withRetry(ctx, "list wallets", func() error {
		rows, err := s.db.QueryContext(ctx, q, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		wallets = wallets[:0]
		for rows.Next() {
			var w Wallet
			if err := rows.Scan(&w.ID, &w.UserID, &w.Address, &w.PrivateKey, &w.DerivationPath,
				&w.Name, &w.IsImported, &w.CreatedAt); err != nil {
				return err
			}
			wallets = append(wallets, &w)
		}
		return rows.Err()
	})
	return wallets, err
}

func (s *Store) RenameWallet(ctx context.Context, userID, oldName, newName string) error {
	err := s.exec(ctx, "rename wallet",
		`UPDATE wallets SET name = ? WHERE user_id = ? AND name = ?`, newName, userID, oldName)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return ErrWalletExists
	}
	return err
}

func (s *Store) DeleteWallet(ctx context.Context, userID, name string) error {
	return s.exec(ctx, "delete wallet",
		`DELETE FROM wallets WHERE user_id = ? AND name = ?`, userID, name)
}

// UpdateWalletKey replaces the stored key envelope, used by PIN rotation.
func (s *Store) UpdateWalletKey(ctx context.Context, walletID int64, envelope string) error {
	return s.exec(ctx, "update wallet key",
		`UPDATE wallets SET private_key = ? WHERE id = ?`, envelope, walletID)
}
