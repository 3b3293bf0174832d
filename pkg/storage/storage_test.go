package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tidaldex/dexbot/pkg/config"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), config.StorageConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Driver: "mysql"})
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("err = %v, want ErrUnsupportedDriver", err)
	}
}

func TestEnsureUser_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.EnsureUser(ctx, "u1"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := s.SetPinHash(ctx, "u1", "hash1"); err != nil {
		t.Fatalf("SetPinHash: %v", err)
	}
	// Second touch must not clobber the existing row.
	if err := s.EnsureUser(ctx, "u1"); err != nil {
		t.Fatalf("EnsureUser again: %v", err)
	}
	hash, err := s.GetPinHash(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPinHash: %v", err)
	}
	if hash != "hash1" {
		t.Errorf("pin hash = %q, want hash1", hash)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetUser(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestNextMnemonicIndex_Advances(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.EnsureUser(ctx, "u1"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	for want := 0; want < 3; want++ {
		got, err := s.NextMnemonicIndex(ctx, "u1")
		if err != nil {
			t.Fatalf("NextMnemonicIndex: %v", err)
		}
		if got != want {
			t.Errorf("index = %d, want %d", got, want)
		}
	}
}

func TestWallets_CRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.EnsureUser(ctx, "u1"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	w := &Wallet{
		UserID:     "u1",
		Address:    "0xabc",
		PrivateKey: sql.NullString{String: "envelope", Valid: true},
		Name:       "Default",
		IsImported: true,
	}
	if err := s.CreateWallet(ctx, w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if err := s.CreateWallet(ctx, w); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("duplicate create err = %v, want ErrWalletExists", err)
	}

	got, err := s.GetWallet(ctx, "u1", "Default")
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if got.Address != "0xabc" || !got.IsImported {
		t.Errorf("wallet = %+v", got)
	}

	if err := s.RenameWallet(ctx, "u1", "Default", "Main"); err != nil {
		t.Fatalf("RenameWallet: %v", err)
	}
	if _, err := s.GetWallet(ctx, "u1", "Default"); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("old name err = %v, want ErrWalletNotFound", err)
	}

	if err := s.UpdateWalletKey(ctx, got.ID, "envelope2"); err != nil {
		t.Fatalf("UpdateWalletKey: %v", err)
	}
	got, err = s.GetWallet(ctx, "u1", "Main")
	if err != nil {
		t.Fatalf("GetWallet after rekey: %v", err)
	}
	if got.PrivateKey.String != "envelope2" {
		t.Errorf("private key = %q, want envelope2", got.PrivateKey.String)
	}

	list, err := s.ListWallets(ctx, "u1")
	if err != nil {
		t.Fatalf("ListWallets: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("wallets = %d, want 1", len(list))
	}

	if err := s.DeleteWallet(ctx, "u1", "Main"); err != nil {
		t.Fatalf("DeleteWallet: %v", err)
	}
	list, _ = s.ListWallets(ctx, "u1")
	if len(list) != 0 {
		t.Errorf("wallets after delete = %d, want 0", len(list))
	}
}

func TestPinAttempts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.EnsureUser(ctx, "u1"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	a, err := s.GetPinAttempts(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPinAttempts: %v", err)
	}
	if a.FailureCount != 0 {
		t.Errorf("initial failures = %d, want 0", a.FailureCount)
	}

	for i := 0; i < 3; i++ {
		if err := s.RecordPinFailure(ctx, "u1"); err != nil {
			t.Fatalf("RecordPinFailure: %v", err)
		}
	}
	a, _ = s.GetPinAttempts(ctx, "u1")
	if a.FailureCount != 3 {
		t.Errorf("failures = %d, want 3", a.FailureCount)
	}
	if a.LastAttemptTime == 0 {
		t.Error("last attempt time not recorded")
	}

	if err := s.ResetPinAttempts(ctx, "u1"); err != nil {
		t.Fatalf("ResetPinAttempts: %v", err)
	}
	a, _ = s.GetPinAttempts(ctx, "u1")
	if a.FailureCount != 0 {
		t.Errorf("failures after reset = %d, want 0", a.FailureCount)
	}
}

func TestTokens_TrackUntrack(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.EnsureUser(ctx, "u1"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	tok := &Token{Address: "0xDEF", Symbol: "TKN", Name: "Token", Decimals: 18, ChainID: 56}
	id, err := s.UpsertToken(ctx, tok)
	if err != nil {
		t.Fatalf("UpsertToken: %v", err)
	}
	// Same address, different case: same row.
	id2, err := s.UpsertToken(ctx, &Token{Address: "0xdef", ChainID: 56})
	if err != nil {
		t.Fatalf("UpsertToken again: %v", err)
	}
	if id != id2 {
		t.Errorf("ids differ: %d vs %d", id, id2)
	}

	got, err := s.GetTokenByAddress(ctx, "0xDEF", 56)
	if err != nil {
		t.Fatalf("GetTokenByAddress: %v", err)
	}
	if got.Symbol != "TKN" || got.Decimals != 18 {
		t.Errorf("token = %+v", got)
	}

	if err := s.TrackToken(ctx, "u1", id); err != nil {
		t.Fatalf("TrackToken: %v", err)
	}
	if err := s.TrackToken(ctx, "u1", id); err != nil {
		t.Fatalf("TrackToken twice: %v", err)
	}

	tracked, err := s.ListTrackedTokens(ctx, "u1", 56)
	if err != nil {
		t.Fatalf("ListTrackedTokens: %v", err)
	}
	if len(tracked) != 1 {
		t.Fatalf("tracked = %d, want 1", len(tracked))
	}

	if err := s.UntrackToken(ctx, "u1", id); err != nil {
		t.Fatalf("UntrackToken: %v", err)
	}
	tracked, _ = s.ListTrackedTokens(ctx, "u1", 56)
	if len(tracked) != 0 {
		t.Errorf("tracked after untrack = %d, want 0", len(tracked))
	}
}

func TestLinkedAccounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.EnsureUser(ctx, "u1"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	a := &LinkedAccount{
		UserID:      "u1",
		Provider:    "x",
		ExternalID:  "12345",
		AccessToken: "enc-access",
	}
	if err := s.SaveLinkedAccount(ctx, a); err != nil {
		t.Fatalf("SaveLinkedAccount: %v", err)
	}

	got, err := s.GetLinkedAccount(ctx, "u1", "x")
	if err != nil {
		t.Fatalf("GetLinkedAccount: %v", err)
	}
	if got.AccessToken != "enc-access" {
		t.Errorf("access token = %q", got.AccessToken)
	}

	if err := s.UpdateLinkedAccountTokens(ctx, "u1", "x", "enc-access-2", sql.NullString{}); err != nil {
		t.Fatalf("UpdateLinkedAccountTokens: %v", err)
	}
	got, _ = s.GetLinkedAccount(ctx, "u1", "x")
	if got.AccessToken != "enc-access-2" {
		t.Errorf("rotated access token = %q", got.AccessToken)
	}

	if err := s.DeleteLinkedAccount(ctx, "u1", "x"); err != nil {
		t.Fatalf("DeleteLinkedAccount: %v", err)
	}
	if _, err := s.GetLinkedAccount(ctx, "u1", "x"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestRebind_Postgres(t *testing.T) {
	s := &Store{driver: "postgres"}
	got := s.rebind(`INSERT INTO t (a, b) VALUES (?, ?)`)
	want := `INSERT INTO t (a, b) VALUES ($1, $2)`
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	s.driver = "sqlite"
	if got := s.rebind(`SELECT ?`); got != `SELECT ?` {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestWithRetry_ExhaustsOnBusy(t *testing.T) {
	s := &Store{driver: "sqlite", attempts: 3, delay: 1}
	calls := 0
	err := s.withRetry(context.Background(), "op", func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetry_NonBusyImmediate(t *testing.T) {
	s := &Store{driver: "sqlite", attempts: 5, delay: 1}
	calls := 0
	err := s.withRetry(context.Background(), "op", func() error {
		calls++
		return errors.New("syntax error")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
