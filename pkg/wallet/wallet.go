// Package wallet manages the wallet lifecycle: creation from a per-user seed
// phrase, raw-key import, renaming, activation, deletion and export. Key
// material is stored only as vault envelopes; derived wallets keep just
// their derivation path and rebuild the key on demand.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"

	"github.com/tidaldex/dexbot/pkg/blockchain"
	"github.com/tidaldex/dexbot/pkg/logger"
	"github.com/tidaldex/dexbot/pkg/storage"
	"github.com/tidaldex/dexbot/pkg/vault"
)

// Info is the caller-facing view of a wallet; no key material.
type Info struct {
	Name       string
	Address    common.Address
	IsImported bool
	IsActive   bool
}

type Service struct {
	store *storage.Store
	vault *vault.Vault
}

func NewService(store *storage.Store, v *vault.Vault) *Service {
	return &Service{store: store, vault: v}
}

// Create derives a new wallet from the user's seed phrase, minting the seed
// phrase on first use. The wallet becomes active when it is the user's first.
func (s *Service) Create(ctx context.Context, userHash, pin, name string) (*Info, error) {
	mnemonic, err := s.ensureMnemonic(ctx, userHash, pin)
	if err != nil {
		return nil, err
	}

	idx, err := s.store.NextMnemonicIndex(ctx, userHash)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("m/44'/60'/0'/0/%d", idx)

	priv, err := deriveKey(mnemonic, path)
	if err != nil {
		return nil, err
	}
	address := crypto.PubkeyToAddress(priv.PublicKey)

	w := &storage.Wallet{
		UserID:         userHash,
		Address:        address.Hex(),
		DerivationPath: sql.NullString{String: path, Valid: true},
		Name:           name,
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		if errors.Is(err, storage.ErrWalletExists) {
			return nil, ErrWalletExists
		}
		return nil, err
	}

	if err := s.activateIfFirst(ctx, userHash, name); err != nil {
		return nil, err
	}

	logger.InfoCF("wallet", "wallet created", map[string]any{
		"address": address.Hex(), "path": path,
	})
	return s.info(ctx, userHash, w)
}

// Import stores an externally supplied private key as a new wallet.
func (s *Service) Import(ctx context.Context, userHash, pin, name, privateKeyHex string) (*Info, error) {
	priv, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	address := crypto.PubkeyToAddress(priv.PublicKey)

	envelope, err := s.vault.Encrypt(userHash, pin, hex.EncodeToString(crypto.FromECDSA(priv)))
	if err != nil {
		return nil, err
	}

	w := &storage.Wallet{
		UserID:     userHash,
		Address:    address.Hex(),
		PrivateKey: sql.NullString{String: envelope, Valid: true},
		Name:       name,
		IsImported: true,
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		if errors.Is(err, storage.ErrWalletExists) {
			return nil, ErrWalletExists
		}
		return nil, err
	}

	if err := s.activateIfFirst(ctx, userHash, name); err != nil {
		return nil, err
	}

	logger.InfoCF("wallet", "wallet imported", map[string]any{"address": address.Hex()})
	return s.info(ctx, userHash, w)
}

// List returns all wallets for the user with the active one flagged.
func (s *Service) List(ctx context.Context, userHash string) ([]*Info, error) {
	user, err := s.store.GetUser(ctx, userHash)
	if err != nil {
		return nil, err
	}
	wallets, err := s.store.ListWallets(ctx, userHash)
	if err != nil {
		return nil, err
	}
	infos := make([]*Info, 0, len(wallets))
	for _, w := range wallets {
		infos = append(infos, &Info{
			Name:       w.Name,
			Address:    common.HexToAddress(w.Address),
			IsImported: w.IsImported,
			IsActive:   w.Name == user.ActiveWalletName,
		})
	}
	return infos, nil
}

// Active returns the user's active wallet.
func (s *Service) Active(ctx context.Context, userHash string) (*Info, error) {
	user, err := s.store.GetUser(ctx, userHash)
	if err != nil {
		return nil, err
	}
	if user.ActiveWalletName == "" {
		return nil, ErrNoActiveWallet
	}
	w, err := s.store.GetWallet(ctx, userHash, user.ActiveWalletName)
	if err != nil {
		if errors.Is(err, storage.ErrWalletNotFound) {
			return nil, ErrNoActiveWallet
		}
		return nil, err
	}
	return &Info{
		Name:       w.Name,
		Address:    common.HexToAddress(w.Address),
		IsImported: w.IsImported,
		IsActive:   true,
	}, nil
}

func (s *Service) Activate(ctx context.Context, userHash, name string) error {
	if _, err := s.store.GetWallet(ctx, userHash, name); err != nil {
		if errors.Is(err, storage.ErrWalletNotFound) {
			return ErrWalletNotFound
		}
		return err
	}
	return s.store.SetActiveWallet(ctx, userHash, name)
}

func (s *Service) Rename(ctx context.Context, userHash, oldName, newName string) error {
	if _, err := s.store.GetWallet(ctx, userHash, oldName); err != nil {
		if errors.Is(err, storage.ErrWalletNotFound) {
			return ErrWalletNotFound
		}
		return err
	}
	if err := s.store.RenameWallet(ctx, userHash, oldName, newName); err != nil {
		if errors.Is(err, storage.ErrWalletExists) {
			return ErrWalletExists
		}
		return err
	}
	user, err := s.store.GetUser(ctx, userHash)
	if err != nil {
		return err
	}
	if user.ActiveWalletName == oldName {
		return s.store.SetActiveWallet(ctx, userHash, newName)
	}
	return nil
}

// Delete removes the wallet. When the active wallet is deleted the first
// remaining wallet, if any, becomes active.
func (s *Service) Delete(ctx context.Context, userHash, name string) error {
	if _, err := s.store.GetWallet(ctx, userHash, name); err != nil {
		if errors.Is(err, storage.ErrWalletNotFound) {
			return ErrWalletNotFound
		}
		return err
	}
	if err := s.store.DeleteWallet(ctx, userHash, name); err != nil {
		return err
	}

	user, err := s.store.GetUser(ctx, userHash)
	if err != nil {
		return err
	}
	if user.ActiveWalletName != name {
		return nil
	}
	remaining, err := s.store.ListWallets(ctx, userHash)
	if err != nil {
		return err
	}
	next := ""
	if len(remaining) > 0 {
		next = remaining[0].Name
	}
	return s.store.SetActiveWallet(ctx, userHash, next)
}

// ExportKey returns the wallet's private key as hex. PIN verification is the
// caller's responsibility; a wrong PIN fails decryption anyway.
func (s *Service) ExportKey(ctx context.Context, userHash, pin, name string) (string, error) {
	priv, _, err := s.PrivateKey(ctx, userHash, pin, name)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.FromECDSA(priv)), nil
}

// ExportMnemonic returns the user's seed phrase.
func (s *Service) ExportMnemonic(ctx context.Context, userHash, pin string) (string, error) {
	env, err := s.store.GetMnemonic(ctx, userHash)
	if err != nil {
		return "", err
	}
	return s.vault.Decrypt(userHash, pin, env)
}

// PrivateKey materializes the wallet's signing key. Imported wallets decrypt
// the stored envelope; derived wallets decrypt the seed phrase and re-derive.
func (s *Service) PrivateKey(ctx context.Context, userHash, pin, name string) (*ecdsa.PrivateKey, common.Address, error) {
	w, err := s.store.GetWallet(ctx, userHash, name)
	if err != nil {
		if errors.Is(err, storage.ErrWalletNotFound) {
			return nil, common.Address{}, ErrWalletNotFound
		}
		return nil, common.Address{}, err
	}

	var priv *ecdsa.PrivateKey
	switch {
	case w.PrivateKey.Valid && w.PrivateKey.String != "":
		plain, err := s.vault.Decrypt(userHash, pin, w.PrivateKey.String)
		if err != nil {
			return nil, common.Address{}, err
		}
		priv, err = parsePrivateKey(plain)
		if err != nil {
			return nil, common.Address{}, err
		}
	case w.DerivationPath.Valid && w.DerivationPath.String != "":
		env, err := s.store.GetMnemonic(ctx, userHash)
		if err != nil {
			return nil, common.Address{}, err
		}
		mnemonic, err := s.vault.Decrypt(userHash, pin, env)
		if err != nil {
			return nil, common.Address{}, err
		}
		priv, err = deriveKey(mnemonic, w.DerivationPath.String)
		if err != nil {
			return nil, common.Address{}, err
		}
	default:
		return nil, common.Address{}, ErrNoKeyMaterial
	}

	return priv, crypto.PubkeyToAddress(priv.PublicKey), nil
}

// Signer returns a SignerFunc bound to the named wallet. The key is
// materialized once per call inside the closure, not retained by Service.
func (s *Service) Signer(ctx context.Context, userHash, pin, name string) (blockchain.SignerFunc, common.Address, error) {
	priv, address, err := s.PrivateKey(ctx, userHash, pin, name)
	if err != nil {
		return nil, common.Address{}, err
	}
	signer := func(ctx context.Context, chainID int64, tx *types.Transaction) (*types.Transaction, error) {
		return types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(chainID)), priv)
	}
	return signer, address, nil
}

func (s *Service) ensureMnemonic(ctx context.Context, userHash, pin string) (string, error) {
	env, err := s.store.GetMnemonic(ctx, userHash)
	if err == nil {
		return s.vault.Decrypt(userHash, pin, env)
	}
	if !errors.Is(err, storage.ErrMnemonicNotFound) {
		return "", err
	}

	mnemonic, err := hdwallet.NewMnemonic(128)
	if err != nil {
		return "", fmt.Errorf("mint mnemonic: %w", err)
	}
	env, err = s.vault.Encrypt(userHash, pin, mnemonic)
	if err != nil {
		return "", err
	}
	if err := s.store.SaveMnemonic(ctx, userHash, env); err != nil {
		return "", err
	}
	return mnemonic, nil
}

func (s *Service) activateIfFirst(ctx context.Context, userHash, name string) error {
	user, err := s.store.GetUser(ctx, userHash)
	if err != nil {
		return err
	}
	if user.ActiveWalletName == "" {
		return s.store.SetActiveWallet(ctx, userHash, name)
	}
	return nil
}

func (s *Service) info(ctx context.Context, userHash string, w *storage.Wallet) (*Info, error) {
	user, err := s.store.GetUser(ctx, userHash)
	if err != nil {
		return nil, err
	}
	return &Info{
		Name:       w.Name,
		Address:    common.HexToAddress(w.Address),
		IsImported: w.IsImported,
		IsActive:   w.Name == user.ActiveWalletName,
	}, nil
}

func deriveKey(mnemonic, path string) (*ecdsa.PrivateKey, error) {
	hd, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("load mnemonic: %w", err)
	}
	dp, err := hdwallet.ParseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("derivation path %q: %w", path, err)
	}
	account, err := hd.Derive(dp, false)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", path, err)
	}
	return hd.PrivateKey(account)
}

func parsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	priv, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return priv, nil
}
