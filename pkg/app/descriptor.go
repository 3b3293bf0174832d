// Package app loads application descriptors (contracts, methods and their
// parameter-processing rules) and turns raw user parameters into ordered,
// scaled contract-call arguments.
package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/tidaldex/dexbot/pkg/logger"
)

// Contract points at a deployed contract: the address comes from the
// environment, the ABI from a file next to the descriptor.
type Contract struct {
	AddressEnvVar string `json:"address_env_var"`
	ABIFile       string `json:"abi_file"`
}

// TokenAmountPair links a token reference to an amount parameter; used for
// approvals and human-readable previews.
type TokenAmountPair struct {
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Role      string `json:"role"`
	DisplayAs string `json:"display_as"`
}

// DefaultKind tags what to inject when a parameter is omitted.
type DefaultKind int

const (
	DefaultNone DefaultKind = iota
	// DefaultOwnWallet injects the active wallet's address; the pipeline
	// substitutes it once the wallet is known.
	DefaultOwnWallet
	// DefaultDeadline injects now + the configured deadline window.
	DefaultDeadline
	// DefaultLiteral injects the literal value from the descriptor.
	DefaultLiteral
)

// ParamRule is one parameter's processing declaration.
type ParamRule struct {
	Type             string `json:"type"`
	ConvertFromHuman bool   `json:"convert_from_human"`
	GetDecimalsFrom  string `json:"get_decimals_from"`
	DefaultRaw       any    `json:"default"`

	// Resolved at load time.
	DefaultKind    DefaultKind `json:"-"`
	DefaultLiteral any         `json:"-"`
}

// Method is one callable contract method.
type Method struct {
	Type             string                `json:"type"`
	Contract         string                `json:"contract"`
	Inputs           []string              `json:"inputs"`
	RequiresApproval bool                  `json:"requires_token_approval"`
	TokenAmountPairs []TokenAmountPair     `json:"token_amount_pairs"`
	PathParams       []string              `json:"path_params"`
	Processing       map[string]*ParamRule `json:"parameter_processing"`
}

func (m *Method) IsWrite() bool { return m.Type == "write" }

// App is one loaded application descriptor with its parsed ABIs.
type App struct {
	Name      string              `json:"name"`
	Contracts map[string]Contract `json:"contracts"`
	Methods   map[string]*Method  `json:"methods"`

	abis map[string]*abi.ABI
}

// paramTypes is the closed set of parameter_processing types. Unknown types
// are a load error, not a call-time surprise.
var paramTypes = map[string]bool{
	"string":       true,
	"address":      true,
	"uint256":      true,
	"token":        true,
	"token_amount": true,
	"timestamp":    true,
	"token_array":  true,
}

const (
	defaultOwnWallet = "own_wallet_address"
	defaultDeadline  = "current_time + 5_minutes"
)

// LoadApps reads every subdirectory of dir holding a config.json.
func LoadApps(dir string) (map[string]*App, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*App{}, nil
		}
		return nil, fmt.Errorf("read apps dir: %w", err)
	}

	apps := make(map[string]*App)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		appDir := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(appDir, "config.json")); err != nil {
			continue
		}
		app, err := LoadApp(appDir)
		if err != nil {
			return nil, fmt.Errorf("app %s: %w", e.Name(), err)
		}
		apps[app.Name] = app
	}
	logger.InfoCF("app", "apps loaded", map[string]any{"count": len(apps)})
	return apps, nil
}

// LoadApp reads and validates a single descriptor directory.
func LoadApp(dir string) (*App, error) {
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, err
	}

	app := &App{abis: make(map[string]*abi.ABI)}
	if err := json.Unmarshal(data, app); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	if app.Name == "" {
		app.Name = filepath.Base(dir)
	}

	for name, c := range app.Contracts {
		if c.AddressEnvVar == "" {
			return nil, fmt.Errorf("contract %s: missing address_env_var", name)
		}
		raw, err := os.ReadFile(filepath.Join(dir, c.ABIFile))
		if err != nil {
			return nil, fmt.Errorf("contract %s abi: %w", name, err)
		}
		parsed, err := abi.JSON(strings.NewReader(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("contract %s abi: %w", name, err)
		}
		app.abis[name] = &parsed
	}

	for methodName, m := range app.Methods {
		if err := validateMethod(app, methodName, m); err != nil {
			return nil, err
		}
	}
	return app, nil
}

func validateMethod(app *App, name string, m *Method) error {
	if m.Type != "view" && m.Type != "write" {
		return fmt.Errorf("method %s: type must be view or write, got %q", name, m.Type)
	}
	if m.Contract != "" {
		if _, ok := app.Contracts[m.Contract]; !ok {
			return fmt.Errorf("method %s: unknown contract %q", name, m.Contract)
		}
	} else if len(app.Contracts) == 0 {
		return fmt.Errorf("method %s: no contracts declared", name)
	} else if len(app.Contracts) > 1 {
		// A bare method over several contracts would dispatch to whichever
		// the map yields first.
		return fmt.Errorf("method %s: contract required when %d contracts are declared", name, len(app.Contracts))
	}

	for param, rule := range m.Processing {
		if rule.Type == "" {
			rule.Type = "string"
		}
		if !paramTypes[rule.Type] {
			return fmt.Errorf("%w: method %s param %s type %q", ErrUnknownParamType, name, param, rule.Type)
		}

		switch v := rule.DefaultRaw.(type) {
		case nil:
			rule.DefaultKind = DefaultNone
		case string:
			switch v {
			case defaultOwnWallet:
				rule.DefaultKind = DefaultOwnWallet
			case defaultDeadline:
				rule.DefaultKind = DefaultDeadline
			default:
				rule.DefaultKind = DefaultLiteral
				rule.DefaultLiteral = v
			}
		default:
			rule.DefaultKind = DefaultLiteral
			rule.DefaultLiteral = v
		}
	}
	return nil
}

// ABI returns the parsed ABI for a contract name.
func (a *App) ABI(contract string) (*abi.ABI, error) {
	parsed, ok := a.abis[contract]
	if !ok {
		return nil, fmt.Errorf("no abi for contract %q", contract)
	}
	return parsed, nil
}

// ContractFor picks the method's contract, defaulting to the app's only
// one (load validation rejects a bare method over several contracts), and
// resolves its address from the environment.
func (a *App) ContractFor(m *Method) (string, string, error) {
	name := m.Contract
	if name == "" {
		for n := range a.Contracts {
			name = n
			break
		}
	}
	c, ok := a.Contracts[name]
	if !ok {
		return "", "", fmt.Errorf("contract %q not declared", name)
	}
	address := os.Getenv(c.AddressEnvVar)
	if address == "" {
		return "", "", fmt.Errorf("%w: %s", ErrContractAddressUnset, c.AddressEnvVar)
	}
	return name, address, nil
}
