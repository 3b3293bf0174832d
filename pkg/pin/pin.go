// Package pin owns the PIN lifecycle: hashing and verification, the
// in-memory verified-PIN session cache, failed-attempt tracking, and the
// rotation cascade that re-encrypts every stored secret under a new PIN.
package pin

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tidaldex/dexbot/pkg/logger"
	"github.com/tidaldex/dexbot/pkg/storage"
	"github.com/tidaldex/dexbot/pkg/vault"
)

type sessionEntry struct {
	pin     string
	expires time.Time
}

// Authority verifies PINs and caches verified ones for a bounded session.
// Cached PINs live only in process memory.
type Authority struct {
	store *storage.Store
	vault *vault.Vault
	ttl   time.Duration

	mu       sync.Mutex
	sessions map[string]sessionEntry

	stopSweep chan struct{}
	sweepOnce sync.Once
}

func NewAuthority(store *storage.Store, v *vault.Vault, ttl time.Duration) *Authority {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Authority{
		store:     store,
		vault:     v,
		ttl:       ttl,
		sessions:  make(map[string]sessionEntry),
		stopSweep: make(chan struct{}),
	}
}

// hashPin binds the hash to the user so identical PINs of different users
// never collide at rest.
func hashPin(userHash, pin string) string {
	sum := sha256.Sum256([]byte(userHash + ":" + pin))
	return hex.EncodeToString(sum[:])
}

// HasPin reports whether the user has set a PIN.
func (a *Authority) HasPin(ctx context.Context, userHash string) (bool, error) {
	hash, err := a.store.GetPinHash(ctx, userHash)
	if err != nil {
		return false, err
	}
	return hash != "", nil
}

// Set stores the initial PIN. Secrets created before any PIN was set are
// sealed under the empty PIN; they are re-encrypted under the new PIN
// before the hash is persisted, so nothing becomes unreadable. Changing an
// existing PIN must go through Rotate.
func (a *Authority) Set(ctx context.Context, userHash, pin string) error {
	if pin == "" {
		return ErrEmptyPin
	}
	existing, err := a.store.GetPinHash(ctx, userHash)
	if err != nil {
		return err
	}
	if existing != "" {
		return ErrPinAlreadySet
	}

	stats, err := a.recryptSecrets(ctx, userHash, "", pin)
	if err != nil {
		return err
	}
	if err := a.store.SetPinHash(ctx, userHash, hashPin(userHash, pin)); err != nil {
		return err
	}
	a.cache(userHash, pin)

	if stats.wallets > 0 || stats.accounts > 0 || stats.mnemonic {
		logger.InfoCF("pin", "pin set over existing secrets", map[string]any{
			"wallets": stats.wallets, "accounts": stats.accounts, "mnemonic": stats.mnemonic,
		})
	}
	return nil
}

// Verify checks the PIN against the stored hash. Success caches the PIN and
// clears the failure record; failure increments it. A user without a PIN
// verifies trivially: nothing is cached and no failure is recorded.
func (a *Authority) Verify(ctx context.Context, userHash, pin string) error {
	stored, err := a.store.GetPinHash(ctx, userHash)
	if err != nil {
		return err
	}
	if stored == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashPin(userHash, pin))) != 1 {
		if err := a.store.RecordPinFailure(ctx, userHash); err != nil {
			logger.WarnCF("pin", "failed to record attempt", map[string]any{"error": err.Error()})
		}
		return ErrInvalidPin
	}
	if err := a.store.ResetPinAttempts(ctx, userHash); err != nil {
		logger.WarnCF("pin", "failed to reset attempts", map[string]any{"error": err.Error()})
	}
	a.cache(userHash, pin)
	return nil
}

// Cached returns the verified PIN for the user if the session is still live.
func (a *Authority) Cached(userHash string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.sessions[userHash]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expires) {
		delete(a.sessions, userHash)
		return "", false
	}
	return entry.pin, true
}

// Clear drops the user's cached session, e.g. on an explicit lock command.
func (a *Authority) Clear(userHash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, userHash)
}

func (a *Authority) cache(userHash, pin string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[userHash] = sessionEntry{pin: pin, expires: time.Now().Add(a.ttl)}
}

// LockoutStatus exposes the failure record. Enforcement is the front end's
// call; the core only keeps the books.
func (a *Authority) LockoutStatus(ctx context.Context, userHash string) (storage.PinAttempts, error) {
	return a.store.GetPinAttempts(ctx, userHash)
}

// StartSweeper launches the background goroutine that evicts expired
// sessions. It stops when ctx is cancelled or Close is called.
func (a *Authority) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.sweep()
			case <-ctx.Done():
				return
			case <-a.stopSweep:
				return
			}
		}
	}()
}

func (a *Authority) sweep() {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for user, entry := range a.sessions {
		if now.After(entry.expires) {
			delete(a.sessions, user)
		}
	}
}

// Close stops the sweeper and drops all cached sessions.
func (a *Authority) Close() {
	a.sweepOnce.Do(func() { close(a.stopSweep) })
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = make(map[string]sessionEntry)
}

// Rotate re-encrypts every secret stored for the user under newPin. All
// plaintexts are read first; if any envelope fails to decrypt the rotation
// aborts with nothing written. The PIN hash is persisted last, after every
// re-encrypted secret, so a crash mid-way leaves the old PIN valid for the
// envelopes that were not yet rewritten rather than orphaning all of them.
func (a *Authority) Rotate(ctx context.Context, userHash, oldPin, newPin string) error {
	if newPin == "" {
		return ErrEmptyPin
	}
	if err := a.Verify(ctx, userHash, oldPin); err != nil {
		return err
	}

	stats, err := a.recryptSecrets(ctx, userHash, oldPin, newPin)
	if err != nil {
		return err
	}

	// The hash goes last.
	if err := a.store.SetPinHash(ctx, userHash, hashPin(userHash, newPin)); err != nil {
		return err
	}
	a.cache(userHash, newPin)

	logger.InfoCF("pin", "rotation complete", map[string]any{
		"wallets": stats.wallets, "accounts": stats.accounts, "mnemonic": stats.mnemonic,
	})
	return nil
}

type recryptStats struct {
	wallets  int
	accounts int
	mnemonic bool
}

// recryptSecrets re-seals every stored envelope from oldPin to newPin.
// Phase 1 decrypts everything; any failure aborts before the first write.
// Phase 2 persists the re-encrypted secrets. The caller owns the PIN hash.
func (a *Authority) recryptSecrets(ctx context.Context, userHash, oldPin, newPin string) (recryptStats, error) {
	var stats recryptStats

	// Phase 1: decrypt everything.
	var mnemonicPlain string
	if env, err := a.store.GetMnemonic(ctx, userHash); err == nil {
		mnemonicPlain, err = a.vault.Decrypt(userHash, oldPin, env)
		if err != nil {
			return stats, fmt.Errorf("%w: mnemonic: %w", ErrRotationAborted, err)
		}
		stats.mnemonic = true
	} else if !errors.Is(err, storage.ErrMnemonicNotFound) {
		return stats, err
	}

	wallets, err := a.store.ListWallets(ctx, userHash)
	if err != nil {
		return stats, err
	}
	walletKeys := make(map[int64]string)
	for _, w := range wallets {
		if !w.PrivateKey.Valid || w.PrivateKey.String == "" {
			continue
		}
		plain, err := a.vault.Decrypt(userHash, oldPin, w.PrivateKey.String)
		if err != nil {
			return stats, fmt.Errorf("%w: wallet %q: %w", ErrRotationAborted, w.Name, err)
		}
		walletKeys[w.ID] = plain
	}

	accounts, err := a.store.ListLinkedAccounts(ctx, userHash)
	if err != nil {
		return stats, err
	}
	type accountPlain struct {
		access  string
		refresh string
		hasRef  bool
	}
	accountKeys := make(map[string]accountPlain)
	for _, acct := range accounts {
		plain := accountPlain{}
		plain.access, err = a.vault.Decrypt(userHash, oldPin, acct.AccessToken)
		if err != nil {
			return stats, fmt.Errorf("%w: account %s: %w", ErrRotationAborted, acct.Provider, err)
		}
		if acct.RefreshToken.Valid && acct.RefreshToken.String != "" {
			plain.refresh, err = a.vault.Decrypt(userHash, oldPin, acct.RefreshToken.String)
			if err != nil {
				return stats, fmt.Errorf("%w: account %s: %w", ErrRotationAborted, acct.Provider, err)
			}
			plain.hasRef = true
		}
		accountKeys[acct.Provider] = plain
	}

	// Phase 2: re-encrypt and persist secrets.
	if stats.mnemonic {
		env, err := a.vault.Encrypt(userHash, newPin, mnemonicPlain)
		if err != nil {
			return stats, err
		}
		if err := a.store.SaveMnemonic(ctx, userHash, env); err != nil {
			return stats, err
		}
	}
	for id, plain := range walletKeys {
		env, err := a.vault.Encrypt(userHash, newPin, plain)
		if err != nil {
			return stats, err
		}
		if err := a.store.UpdateWalletKey(ctx, id, env); err != nil {
			return stats, err
		}
	}
	for provider, plain := range accountKeys {
		access, err := a.vault.Encrypt(userHash, newPin, plain.access)
		if err != nil {
			return stats, err
		}
		var refresh sql.NullString
		if plain.hasRef {
			env, err := a.vault.Encrypt(userHash, newPin, plain.refresh)
			if err != nil {
				return stats, err
			}
			refresh = sql.NullString{String: env, Valid: true}
		}
		if err := a.store.UpdateLinkedAccountTokens(ctx, userHash, provider, access, refresh); err != nil {
			return stats, err
		}
	}

	stats.wallets = len(walletKeys)
	stats.accounts = len(accountKeys)
	return stats, nil
}
