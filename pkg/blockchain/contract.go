package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tidaldex/dexbot/pkg/logger"
)

// fallbackGasLimit is used when estimation fails; estimation failures are
// common on proxied or fee-on-transfer contracts that still execute fine.
const fallbackGasLimit = 250_000

// Call executes a read-only contract method and unpacks the outputs.
func (c *Client) Call(
	ctx context.Context,
	contract common.Address,
	parsedABI *abi.ABI,
	method string,
	args ...any,
) ([]any, error) {
	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, wrapRevert(err)
	}

	m, ok := parsedABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
	if len(m.Outputs) == 0 {
		return nil, nil
	}
	outputs, err := m.Outputs.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return outputs, nil
}

// BuildTx assembles an unsigned legacy transaction for a contract write.
// Gas estimation failure falls back to a fixed limit instead of failing the
// build; the node rejects truly impossible transactions at submit time.
func (c *Client) BuildTx(
	ctx context.Context,
	from, to common.Address,
	value *big.Int,
	data []byte,
) (*types.Transaction, error) {
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := c.PendingNonce(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}

	gasLimit, err := c.EstimateGas(ctx, from, to, value, data)
	if err != nil {
		logger.WarnCF("blockchain", "gas estimation failed, using fallback", map[string]any{
			"to": to.Hex(), "fallback": fallbackGasLimit, "error": err.Error(),
		})
		gasLimit = fallbackGasLimit
	}

	return types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data), nil
}

func (c *Client) EstimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
}

// SignAndSend signs tx with signer and submits it.
func (c *Client) SignAndSend(ctx context.Context, tx *types.Transaction, signer SignerFunc) (common.Hash, error) {
	signed, err := signer(ctx, c.chain.ChainID, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	if err := c.wait(ctx); err != nil {
		return common.Hash{}, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send: %w", wrapRevert(err))
	}
	return signed.Hash(), nil
}

// WaitForReceipt polls until the transaction is mined, the configured
// receipt timeout elapses, or ctx expires. A status-zero receipt returns
// ErrTxReverted alongside the receipt; a timed-out wait returns
// ErrTxNotConfirmed so callers can release whatever the pending tx holds.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, ErrTxReverted
			}
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", txHash.Hex(), err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrTxNotConfirmed, txHash.Hex())
		}
	}
}

// wrapRevert turns node "execution reverted" errors into a
// ContractRevertError carrying the reason string when present. Nodes that
// append the raw return data instead of a message get the Error(string)
// payload decoded; any other binary payload is stripped.
func wrapRevert(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	idx := strings.Index(msg, "execution reverted")
	if idx < 0 {
		return err
	}
	reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len("execution reverted"):], ":"))
	if strings.HasPrefix(reason, "0x") {
		reason = decodeRevertPayload(reason)
	}
	return &ContractRevertError{Reason: reason, Err: err}
}

func decodeRevertPayload(payload string) string {
	data, err := hexutil.Decode(payload)
	if err != nil {
		return ""
	}
	decoded, err := abi.UnpackRevert(data)
	if err != nil {
		return ""
	}
	return decoded
}
