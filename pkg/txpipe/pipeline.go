// Package txpipe owns the pending-transaction state machine: prepare a view
// or write call from an app descriptor, preview it, execute it under PIN
// gating and compliance checks, and report the outcome. One pending
// transaction per user at a time.
package txpipe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/tidaldex/dexbot/pkg/app"
	"github.com/tidaldex/dexbot/pkg/blockchain"
	"github.com/tidaldex/dexbot/pkg/logger"
	"github.com/tidaldex/dexbot/pkg/pin"
	"github.com/tidaldex/dexbot/pkg/tokens"
	"github.com/tidaldex/dexbot/pkg/wallet"
)

type State string

const (
	StatePreparing            State = "preparing"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateAwaitingPin          State = "awaiting_pin"
	StateExecuting            State = "executing"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
)

// ComplianceGate is consulted before execution. A nil gate allows
// everything; a gate error blocks, never allows.
type ComplianceGate func(ctx context.Context, from, to common.Address) error

// PendingTx is one prepared write waiting for confirmation.
type PendingTx struct {
	ID            string
	UserHash      string
	App           string
	Method        string
	State         State
	WalletName    string
	WalletAddress common.Address
	To            common.Address
	Calldata      []byte
	Value         *big.Int
	GasEstimate   uint64
	Summary       string
	CreatedAt     time.Time

	requiresApproval bool
	approvalToken    common.Address
	approvalAmount   *big.Int
	approvalNative   bool
}

// Outcome reports the terminal result of an execution.
type Outcome struct {
	State  State
	TxHash common.Hash
}

type Pipeline struct {
	chain      *blockchain.Client
	wallets    *wallet.Service
	pins       *pin.Authority
	resolver   *tokens.Resolver
	processor  *app.Processor
	apps       map[string]*app.App
	approvals  *ApprovalManager
	compliance ComplianceGate

	mu      sync.Mutex
	pending map[string]*PendingTx
}

func NewPipeline(
	chain *blockchain.Client,
	wallets *wallet.Service,
	pins *pin.Authority,
	resolver *tokens.Resolver,
	processor *app.Processor,
	apps map[string]*app.App,
	compliance ComplianceGate,
) *Pipeline {
	return &Pipeline{
		chain:      chain,
		wallets:    wallets,
		pins:       pins,
		resolver:   resolver,
		processor:  processor,
		apps:       apps,
		approvals:  NewApprovalManager(chain),
		compliance: compliance,
		pending:    make(map[string]*PendingTx),
	}
}

func (p *Pipeline) lookup(appName, methodName string) (*app.App, *app.Method, error) {
	a, ok := p.apps[appName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownApp, appName)
	}
	m, ok := a.Methods[methodName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, appName, methodName)
	}
	return a, m, nil
}

// PrepareView processes parameters, runs the read call and returns the
// decoded outputs.
func (p *Pipeline) PrepareView(ctx context.Context, userHash, appName, methodName string, raw map[string]any) ([]any, error) {
	a, m, err := p.lookup(appName, methodName)
	if err != nil {
		return nil, err
	}
	if m.IsWrite() {
		return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotView, appName, methodName)
	}

	walletAddr := common.Address{}
	if active, err := p.wallets.Active(ctx, userHash); err == nil {
		walletAddr = active.Address
	}

	processed, err := p.processor.Process(ctx, m, raw, userHash, walletAddr)
	if err != nil {
		return nil, err
	}
	resolveSentinels(processed, walletAddr)

	args, err := m.OrderedArgs(processed)
	if err != nil {
		return nil, err
	}

	contractName, address, err := a.ContractFor(m)
	if err != nil {
		return nil, err
	}
	parsedABI, err := a.ABI(contractName)
	if err != nil {
		return nil, err
	}
	return p.chain.Call(ctx, common.HexToAddress(address), parsedABI, methodName, args...)
}

// PrepareWrite processes parameters, builds calldata, estimates gas and
// stores the pending transaction in AwaitingConfirmation. A prior pending
// transaction for the user is implicitly discarded.
func (p *Pipeline) PrepareWrite(ctx context.Context, userHash, appName, methodName string, raw map[string]any) (*PendingTx, error) {
	a, m, err := p.lookup(appName, methodName)
	if err != nil {
		return nil, err
	}
	if !m.IsWrite() {
		return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotWrite, appName, methodName)
	}

	active, err := p.wallets.Active(ctx, userHash)
	if err != nil {
		return nil, err
	}

	processed, err := p.processor.Process(ctx, m, raw, userHash, active.Address)
	if err != nil {
		return nil, err
	}
	resolveSentinels(processed, active.Address)

	args, err := m.OrderedArgs(processed)
	if err != nil {
		return nil, err
	}

	contractName, address, err := a.ContractFor(m)
	if err != nil {
		return nil, err
	}
	parsedABI, err := a.ABI(contractName)
	if err != nil {
		return nil, err
	}
	calldata, err := parsedABI.Pack(methodName, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", methodName, err)
	}

	to := common.HexToAddress(address)
	gas, err := p.chain.EstimateGas(ctx, active.Address, to, nil, calldata)
	if err != nil {
		// Conservative fixed estimate; the real limit is set at execute.
		gas = 250_000
	}

	tx := &PendingTx{
		ID:            uuid.NewString(),
		UserHash:      userHash,
		App:           appName,
		Method:        methodName,
		State:         StateAwaitingConfirmation,
		WalletName:    active.Name,
		WalletAddress: active.Address,
		To:            to,
		Calldata:      calldata,
		Value:         big.NewInt(0),
		GasEstimate:   gas,
		Summary:       p.summarize(ctx, m, processed),
		CreatedAt:     time.Now(),
	}
	if m.RequiresApproval {
		if err := p.fillApproval(ctx, tx, m, processed); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	if old, ok := p.pending[userHash]; ok {
		logger.InfoCF("txpipe", "discarding prior pending transaction", map[string]any{
			"id": old.ID, "method": old.Method,
		})
	}
	p.pending[userHash] = tx
	p.mu.Unlock()

	return tx, nil
}

// Pending returns the user's pending transaction, if any.
func (p *Pipeline) Pending(userHash string) (*PendingTx, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.pending[userHash]
	return tx, ok
}

// Cancel clears the user's pending transaction from any non-terminal state.
func (p *Pipeline) Cancel(userHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.pending[userHash]
	if !ok {
		return ErrNothingPending
	}
	if tx.State == StateExecuting {
		return ErrNotConfirmable
	}
	delete(p.pending, userHash)
	return nil
}

// Execute runs the user's pending transaction. Requires a cached PIN when
// the user is PIN-gated; otherwise the transaction parks in AwaitingPin and
// the caller re-invokes after verification. Sign/submit failures return the
// transaction to AwaitingConfirmation; a mined receipt settles it as
// Completed or Failed and clears the pending slot either way.
func (p *Pipeline) Execute(ctx context.Context, userHash string) (*Outcome, error) {
	p.mu.Lock()
	tx, ok := p.pending[userHash]
	if !ok {
		p.mu.Unlock()
		return nil, ErrNothingPending
	}
	if tx.State != StateAwaitingConfirmation && tx.State != StateAwaitingPin {
		p.mu.Unlock()
		return nil, ErrNotConfirmable
	}

	userPin, err := p.cachedPin(ctx, userHash)
	if err != nil {
		if errors.Is(err, ErrPinRequired) {
			tx.State = StateAwaitingPin
		}
		p.mu.Unlock()
		return nil, err
	}
	// Claim the slot so a concurrent Execute cannot double-submit.
	tx.State = StateExecuting
	p.mu.Unlock()

	outcome, err := p.run(ctx, tx, userPin)
	if err != nil {
		// Not submitted: back to confirmable.
		p.mu.Lock()
		tx.State = StateAwaitingConfirmation
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	tx.State = outcome.State
	delete(p.pending, userHash)
	p.mu.Unlock()
	return outcome, nil
}

func (p *Pipeline) run(ctx context.Context, tx *PendingTx, userPin string) (*Outcome, error) {
	if p.compliance != nil {
		if err := p.compliance(ctx, tx.WalletAddress, tx.To); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrComplianceBlocked, err)
		}
	}

	signer, _, err := p.wallets.Signer(ctx, tx.UserHash, userPin, tx.WalletName)
	if err != nil {
		return nil, err
	}

	if tx.requiresApproval {
		if err := p.approvals.Ensure(ctx, tx.WalletAddress, tx.To, tx.approvalToken,
			tx.approvalAmount, tx.approvalNative, signer); err != nil {
			return nil, err
		}
	}

	built, err := p.chain.BuildTx(ctx, tx.WalletAddress, tx.To, tx.Value, tx.Calldata)
	if err != nil {
		return nil, err
	}

	if err := p.checkGasFunds(ctx, tx, built.Gas(), built.GasPrice()); err != nil {
		return nil, err
	}

	hash, err := p.chain.SignAndSend(ctx, built, signer)
	if err != nil {
		return nil, err
	}
	logger.InfoCF("txpipe", "transaction submitted", map[string]any{
		"id": tx.ID, "method": tx.Method, "tx": hash.Hex(),
	})

	if _, err := p.chain.WaitForReceipt(ctx, hash); err != nil {
		logger.WarnCF("txpipe", "transaction failed", map[string]any{
			"id": tx.ID, "tx": hash.Hex(), "error": err.Error(),
		})
		return &Outcome{State: StateFailed, TxHash: hash}, nil
	}
	return &Outcome{State: StateCompleted, TxHash: hash}, nil
}

// checkGasFunds verifies the wallet can cover gas plus any attached value.
func (p *Pipeline) checkGasFunds(ctx context.Context, tx *PendingTx, gasLimit uint64, gasPrice *big.Int) error {
	balance, err := p.chain.NativeBalance(ctx, tx.WalletAddress)
	if err != nil {
		return err
	}
	need := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	if tx.Value != nil {
		need.Add(need, tx.Value)
	}
	if balance.Cmp(need) < 0 {
		return &InsufficientBalanceError{Need: need, Have: balance}
	}
	return nil
}

// cachedPin returns the cached verified PIN for PIN-gated users. Users
// without a PIN pass trivially with an empty PIN.
func (p *Pipeline) cachedPin(ctx context.Context, userHash string) (string, error) {
	has, err := p.pins.HasPin(ctx, userHash)
	if err != nil {
		return "", err
	}
	if !has {
		return "", nil
	}
	cached, ok := p.pins.Cached(userHash)
	if !ok {
		return "", ErrPinRequired
	}
	return cached, nil
}

// fillApproval extracts the input token and amount from the descriptor's
// token_amount_pairs.
func (p *Pipeline) fillApproval(ctx context.Context, tx *PendingTx, m *app.Method, processed map[string]any) error {
	for _, pair := range m.TokenAmountPairs {
		if pair.Role != "" && pair.Role != "input" {
			continue
		}
		token, err := p.pairToken(ctx, tx.UserHash, pair.Token, processed)
		if err != nil {
			return err
		}
		amount, ok := pairAmount(pair.Amount, processed)
		if !ok {
			return fmt.Errorf("approval amount %q not found in parameters", pair.Amount)
		}
		tx.requiresApproval = true
		tx.approvalToken = token
		tx.approvalAmount = amount
		tx.approvalNative = p.resolver.IsNativeAlias(pair.Token)
		return nil
	}
	return fmt.Errorf("method %s requires approval but declares no input token pair", tx.Method)
}

func (p *Pipeline) pairToken(ctx context.Context, userHash, ref string, processed map[string]any) (common.Address, error) {
	if strings.Contains(ref, "[") {
		return app.IndexedAddress(ref, processed)
	}
	if val, ok := processed[ref]; ok {
		if addr, ok := val.(common.Address); ok {
			return addr, nil
		}
	}
	return p.resolver.Resolve(ctx, ref, userHash, common.Address{})
}

func pairAmount(ref string, processed map[string]any) (*big.Int, bool) {
	val, ok := processed[ref]
	if !ok {
		return nil, false
	}
	amount, ok := val.(*big.Int)
	return amount, ok
}

// summarize builds the human preview line from token_amount_pairs.
func (p *Pipeline) summarize(ctx context.Context, m *app.Method, processed map[string]any) string {
	var parts []string
	for _, pair := range m.TokenAmountPairs {
		amount, ok := pairAmount(pair.Amount, processed)
		if !ok {
			continue
		}
		token, err := p.pairToken(ctx, "", pair.Token, processed)
		symbol := pair.Token
		decimals := 18
		if err == nil {
			if d, derr := p.resolver.Decimals(ctx, token); derr == nil {
				decimals = d
			}
			if entry, ok := p.resolver.List().ByAddress(token.Hex()); ok {
				symbol = entry.Symbol
			}
		}
		display := FormatAmount(amount, decimals) + " " + symbol
		if pair.DisplayAs != "" {
			display = strings.ReplaceAll(pair.DisplayAs, "{amount}", FormatAmount(amount, decimals))
		}
		parts = append(parts, display)
	}
	if len(parts) == 0 {
		return m.Type + " " + strings.Join(m.Inputs, ", ")
	}
	return strings.Join(parts, " for ")
}

// resolveSentinels substitutes the own-wallet sentinel now that the wallet
// is known.
func resolveSentinels(processed map[string]any, wallet common.Address) {
	for k, v := range processed {
		if _, ok := v.(app.OwnWalletSentinel); ok {
			processed[k] = wallet
		}
	}
}
