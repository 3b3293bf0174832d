package txpipe

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tidaldex/dexbot/pkg/blockchain"
	"github.com/tidaldex/dexbot/pkg/logger"
)

// ApprovalManager guarantees ERC20 allowance before token-spending calls.
type ApprovalManager struct {
	chain *blockchain.Client
}

func NewApprovalManager(chain *blockchain.Client) *ApprovalManager {
	return &ApprovalManager{chain: chain}
}

// Ensure checks allowance(owner → spender) and, when short, submits an
// approval for exactly the required amount and waits for its confirmation.
// The native asset needs no approval and is a no-op. Approval failure aborts
// the caller's transaction with ErrApprovalFailed; the spend is never
// attempted on insufficient allowance.
func (am *ApprovalManager) Ensure(
	ctx context.Context,
	owner, spender, token common.Address,
	amount *big.Int,
	isNative bool,
	signer blockchain.SignerFunc,
) error {
	if isNative {
		return nil
	}

	allowance, err := am.chain.Allowance(ctx, token, owner, spender)
	if err != nil {
		return fmt.Errorf("%w: read allowance: %w", ErrApprovalFailed, err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	data, err := blockchain.ApproveCalldata(spender, amount)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}
	tx, err := am.chain.BuildTx(ctx, owner, token, nil, data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}
	hash, err := am.chain.SignAndSend(ctx, tx, signer)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}

	logger.InfoCF("txpipe", "approval submitted", map[string]any{
		"token": token.Hex(), "spender": spender.Hex(), "amount": amount.String(), "tx": hash.Hex(),
	})

	if _, err := am.chain.WaitForReceipt(ctx, hash); err != nil {
		return fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}
	return nil
}
