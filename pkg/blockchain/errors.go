package blockchain

import (
	"errors"
	"fmt"
)

var (
	ErrChainMismatch  = errors.New("chain id mismatch")
	ErrTxNotConfirmed = errors.New("transaction not confirmed before deadline")
	ErrTxReverted     = errors.New("transaction reverted on chain")
	ErrMethodNotFound = errors.New("method not found in abi")
)

// ContractRevertError carries the decoded revert reason when the node
// returned one.
type ContractRevertError struct {
	Reason string
	Err    error
}

func (e *ContractRevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("contract reverted: %s", e.Reason)
	}
	return "contract reverted"
}

func (e *ContractRevertError) Unwrap() error { return e.Err }
