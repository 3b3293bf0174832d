// Package blockchain wraps the EVM RPC connection: balances, contract calls,
// transaction building and submission, receipt polling and ERC20 helpers.
package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/tidaldex/dexbot/pkg/config"
	"github.com/tidaldex/dexbot/pkg/logger"
)

// ChainBackend is the slice of the RPC client the service uses. ethclient
// satisfies it; tests substitute a fake.
type ChainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// SignerFunc signs a transaction for the given chain. Implementations close
// over key material so it never crosses this package's API.
type SignerFunc func(ctx context.Context, chainID int64, tx *types.Transaction) (*types.Transaction, error)

// defaultReceiptTimeout bounds receipt polling when the chain config does
// not set one; a dropped transaction must not park a caller forever.
const defaultReceiptTimeout = 120 * time.Second

// Client is a rate-limited view of one EVM chain.
type Client struct {
	backend        ChainBackend
	chain          config.ChainConfig
	limiter        *rate.Limiter
	receiptTimeout time.Duration
}

// Dial connects to the configured RPC endpoint and verifies the chain id.
func Dial(ctx context.Context, chain config.ChainConfig) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, chain.RPC)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", chain.Name, err)
	}

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain id for %s: %w", chain.Name, err)
	}
	if chainID.Int64() != chain.ChainID {
		ec.Close()
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrChainMismatch, chain.ChainID, chainID.Int64())
	}

	logger.InfoCF("blockchain", "connected", map[string]any{
		"chain": chain.Name, "chain_id": chain.ChainID,
	})
	return NewClient(ec, chain), nil
}

// NewClient wraps an existing backend; used directly by tests.
func NewClient(backend ChainBackend, chain config.ChainConfig) *Client {
	limit := rate.Inf
	if chain.RPCRateLimit > 0 {
		limit = rate.Limit(chain.RPCRateLimit)
	}
	receiptTimeout := defaultReceiptTimeout
	if chain.ReceiptTimeoutSeconds > 0 {
		receiptTimeout = time.Duration(chain.ReceiptTimeoutSeconds) * time.Second
	}
	return &Client{
		backend:        backend,
		chain:          chain,
		limiter:        rate.NewLimiter(limit, 1),
		receiptTimeout: receiptTimeout,
	}
}

func (c *Client) Chain() config.ChainConfig { return c.chain }
func (c *Client) ChainID() int64            { return c.chain.ChainID }

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// NativeBalance returns the native coin balance in wei.
func (c *Client) NativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	bal, err := c.backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", address.Hex(), err)
	}
	return bal, nil
}

// PendingNonce returns the next account nonce including pending txs.
func (c *Client) PendingNonce(ctx context.Context, address common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.backend.PendingNonceAt(ctx, address)
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.backend.SuggestGasPrice(ctx)
}

// BlockTimestamp returns the latest block's timestamp in unix seconds.
func (c *Client) BlockTimestamp(ctx context.Context) (int64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	return int64(header.Time), nil
}

// Close closes the underlying connection when it owns one.
func (c *Client) Close() {
	if ec, ok := c.backend.(*ethclient.Client); ok {
		ec.Close()
	}
}
