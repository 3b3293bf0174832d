package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var (
	erc20Once sync.Once
	erc20ABI  abi.ABI
)

// ERC20ABI returns the parsed minimal ERC20 interface.
func ERC20ABI() *abi.ABI {
	erc20Once.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
		if err != nil {
			panic(fmt.Sprintf("erc20 abi: %v", err))
		}
		erc20ABI = parsed
	})
	return &erc20ABI
}

// TokenMetadata is the on-chain identity of an ERC20 token.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.Call(ctx, token, ERC20ABI(), "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token.Hex(), err)
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf %s: unexpected output type", token.Hex())
	}
	return bal, nil
}

func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.Call(ctx, token, ERC20ABI(), "decimals")
	if err != nil {
		return 0, fmt.Errorf("decimals %s: %w", token.Hex(), err)
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals %s: unexpected output type", token.Hex())
	}
	return dec, nil
}

// TokenMetadata fetches symbol, name and decimals in three calls.
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (*TokenMetadata, error) {
	md := &TokenMetadata{}

	out, err := c.Call(ctx, token, ERC20ABI(), "symbol")
	if err != nil {
		return nil, fmt.Errorf("symbol %s: %w", token.Hex(), err)
	}
	md.Symbol, _ = out[0].(string)

	out, err = c.Call(ctx, token, ERC20ABI(), "name")
	if err != nil {
		return nil, fmt.Errorf("name %s: %w", token.Hex(), err)
	}
	md.Name, _ = out[0].(string)

	md.Decimals, err = c.TokenDecimals(ctx, token)
	if err != nil {
		return nil, err
	}
	return md, nil
}

func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.Call(ctx, token, ERC20ABI(), "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("allowance %s: %w", token.Hex(), err)
	}
	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("allowance %s: unexpected output type", token.Hex())
	}
	return allowance, nil
}

// ApproveCalldata packs approve(spender, amount).
func ApproveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI().Pack("approve", spender, amount)
}

// TransferCalldata packs transfer(to, amount).
func TransferCalldata(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI().Pack("transfer", to, amount)
}
