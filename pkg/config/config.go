package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	LogLevel string        `json:"log_level" env:"DEXBOT_LOG_LEVEL"`
	Chain    ChainConfig   `json:"chain"`
	Storage  StorageConfig `json:"storage"`
	Vault    VaultConfig   `json:"vault"`
	Pin      PinConfig     `json:"pin"`
	Tokens   TokensConfig  `json:"tokens"`
	Apps     AppsConfig    `json:"apps"`
	Swap     SwapConfig    `json:"swap"`
}

// ChainConfig describes one EVM chain connection.
type ChainConfig struct {
	Name          string `json:"name" env:"DEXBOT_CHAIN_NAME"`
	RPC           string `json:"rpc" env:"DEXBOT_CHAIN_RPC"`
	ChainID       int64  `json:"chain_id" env:"DEXBOT_CHAIN_ID"`
	Currency      string `json:"currency" env:"DEXBOT_CHAIN_CURRENCY"`
	WrappedNative string `json:"wrapped_native" env:"DEXBOT_CHAIN_WRAPPED_NATIVE"`
	ScannerURL    string `json:"scanner_url" env:"DEXBOT_CHAIN_SCANNER_URL"`
	// RPCRateLimit caps outbound RPC calls per second. 0 disables limiting.
	RPCRateLimit float64 `json:"rpc_rate_limit" env:"DEXBOT_CHAIN_RPC_RATE_LIMIT"`
	// ReceiptTimeoutSeconds bounds how long a submitted transaction is
	// polled for its receipt. 0 means the 120s default.
	ReceiptTimeoutSeconds int64 `json:"receipt_timeout_seconds" env:"DEXBOT_CHAIN_RECEIPT_TIMEOUT_SECONDS"`
}

type StorageConfig struct {
	// Driver selects the SQL backend: "sqlite" or "postgres".
	Driver string `json:"driver" env:"DEXBOT_STORAGE_DRIVER"`
	// DSN is the sqlite file path or the postgres connection string.
	DSN           string `json:"dsn" env:"DEXBOT_STORAGE_DSN"`
	RetryAttempts int    `json:"retry_attempts" env:"DEXBOT_STORAGE_RETRY_ATTEMPTS"`
	RetryDelayMS  int    `json:"retry_delay_ms" env:"DEXBOT_STORAGE_RETRY_DELAY_MS"`
}

type VaultConfig struct {
	// Secret is the process-wide key-derivation pepper. Required, never
	// user supplied, and not stored alongside the database.
	Secret string `json:"secret" env:"DEXBOT_VAULT_SECRET"`
}

type PinConfig struct {
	SessionTTLMinutes    int `json:"session_ttl_minutes" env:"DEXBOT_PIN_SESSION_TTL_MINUTES"`
	SweepIntervalMinutes int `json:"sweep_interval_minutes" env:"DEXBOT_PIN_SWEEP_INTERVAL_MINUTES"`
}

type TokensConfig struct {
	// DefaultListPath points at the curated token list JSON file.
	DefaultListPath string `json:"default_list_path" env:"DEXBOT_TOKENS_DEFAULT_LIST"`
	// NativeAliases are symbols resolved to the chain's native asset.
	NativeAliases []string `json:"native_aliases" env:"DEXBOT_TOKENS_NATIVE_ALIASES"`
}

type AppsConfig struct {
	// Dir holds one subdirectory per app, each with a descriptor JSON and
	// its contract ABI files.
	Dir                   string `json:"dir" env:"DEXBOT_APPS_DIR"`
	DeadlineWindowSeconds int64  `json:"deadline_window_seconds" env:"DEXBOT_APPS_DEADLINE_WINDOW_SECONDS"`
}

type SwapConfig struct {
	RouterAddress string `json:"router_address" env:"DEXBOT_SWAP_ROUTER_ADDRESS"`
	// HubToken is the intermediate token multi-hop swaps route through.
	HubToken string `json:"hub_token" env:"DEXBOT_SWAP_HUB_TOKEN"`
	// HubTokenAlt enables probing alternate routes when set.
	HubTokenAlt string `json:"hub_token_alt" env:"DEXBOT_SWAP_HUB_TOKEN_ALT"`
	// FeeCollector receives FeeBps of swap proceeds, best effort.
	FeeCollector string `json:"fee_collector" env:"DEXBOT_SWAP_FEE_COLLECTOR"`
	FeeBps       int64  `json:"fee_bps" env:"DEXBOT_SWAP_FEE_BPS"`
	SlippageBps  int64  `json:"slippage_bps" env:"DEXBOT_SWAP_SLIPPAGE_BPS"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Chain: ChainConfig{
			Name:                  "bsc",
			ChainID:               56,
			Currency:              "BNB",
			RPCRateLimit:          10,
			ReceiptTimeoutSeconds: 120,
		},
		Storage: StorageConfig{
			Driver:        "sqlite",
			DSN:           "data/dexbot.db",
			RetryAttempts: 5,
			RetryDelayMS:  100,
		},
		Pin: PinConfig{
			SessionTTLMinutes:    30,
			SweepIntervalMinutes: 5,
		},
		Tokens: TokensConfig{
			NativeAliases: []string{"BNB"},
		},
		Apps: AppsConfig{
			Dir:                   "apps",
			DeadlineWindowSeconds: 300,
		},
		Swap: SwapConfig{
			FeeBps:      0,
			SlippageBps: 100,
		},
	}
}

// LoadConfig reads the JSON config at path over the defaults, then applies
// environment overrides. A missing file is not an error; env-only setups
// are supported.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	if c.Vault.Secret == "" {
		return fmt.Errorf("vault.secret is required (set DEXBOT_VAULT_SECRET)")
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	if c.Chain.RPC == "" {
		return fmt.Errorf("chain.rpc is required")
	}
	if c.Swap.SlippageBps < 0 || c.Swap.SlippageBps >= 10000 {
		return fmt.Errorf("swap.slippage_bps out of range: %d", c.Swap.SlippageBps)
	}
	if c.Swap.FeeBps < 0 || c.Swap.FeeBps >= 10000 {
		return fmt.Errorf("swap.fee_bps out of range: %d", c.Swap.FeeBps)
	}
	if c.Pin.SessionTTLMinutes <= 0 {
		c.Pin.SessionTTLMinutes = 30
	}
	if c.Pin.SweepIntervalMinutes <= 0 {
		c.Pin.SweepIntervalMinutes = 5
	}
	return nil
}
