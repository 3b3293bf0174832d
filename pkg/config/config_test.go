package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Pin.SessionTTLMinutes != 30 {
		t.Errorf("Pin.SessionTTLMinutes = %d, want 30", cfg.Pin.SessionTTLMinutes)
	}
	if cfg.Swap.SlippageBps != 100 {
		t.Errorf("Swap.SlippageBps = %d, want 100", cfg.Swap.SlippageBps)
	}
	if cfg.Apps.DeadlineWindowSeconds != 300 {
		t.Errorf("Apps.DeadlineWindowSeconds = %d, want 300", cfg.Apps.DeadlineWindowSeconds)
	}
}

func TestLoadConfig_FileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
		"chain": {"name": "bsc-testnet", "rpc": "http://localhost:8545", "chain_id": 97, "currency": "tBNB"},
		"storage": {"driver": "postgres", "dsn": "postgres://localhost/dexbot"},
		"vault": {"secret": "test-secret"},
		"swap": {"slippage_bps": 50}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Chain.ChainID != 97 {
		t.Errorf("Chain.ChainID = %d, want 97", cfg.Chain.ChainID)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Storage.Driver = %q, want postgres", cfg.Storage.Driver)
	}
	if cfg.Swap.SlippageBps != 50 {
		t.Errorf("Swap.SlippageBps = %d, want 50", cfg.Swap.SlippageBps)
	}
	// Defaults survive for unset sections.
	if cfg.Pin.SessionTTLMinutes != 30 {
		t.Errorf("Pin.SessionTTLMinutes = %d, want 30", cfg.Pin.SessionTTLMinutes)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := `{
		"chain": {"rpc": "http://localhost:8545", "chain_id": 56},
		"vault": {"secret": "file-secret"}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DEXBOT_VAULT_SECRET", "env-secret")
	t.Setenv("DEXBOT_CHAIN_ID", "97")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Vault.Secret != "env-secret" {
		t.Errorf("Vault.Secret = %q, want env-secret", cfg.Vault.Secret)
	}
	if cfg.Chain.ChainID != 97 {
		t.Errorf("Chain.ChainID = %d, want 97", cfg.Chain.ChainID)
	}
}

func TestLoadConfig_MissingFileEnvOnly(t *testing.T) {
	t.Setenv("DEXBOT_VAULT_SECRET", "env-secret")
	t.Setenv("DEXBOT_CHAIN_RPC", "http://localhost:8545")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Vault.Secret != "env-secret" {
		t.Errorf("Vault.Secret = %q", cfg.Vault.Secret)
	}
}

func TestValidate_Rejections(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.Vault.Secret = "s"
		cfg.Chain.RPC = "http://localhost:8545"
		return cfg
	}

	cfg := base()
	cfg.Vault.Secret = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty vault secret")
	}

	cfg = base()
	cfg.Storage.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unsupported driver")
	}

	cfg = base()
	cfg.Swap.SlippageBps = 10000
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for slippage_bps = 10000")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.json")

	cfg := DefaultConfig()
	cfg.Vault.Secret = "s"
	cfg.Chain.RPC = "http://localhost:8545"
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var got Config
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Storage.DSN != cfg.Storage.DSN {
		t.Errorf("Storage.DSN = %q, want %q", got.Storage.DSN, cfg.Storage.DSN)
	}
}
