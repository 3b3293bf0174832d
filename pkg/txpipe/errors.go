package txpipe

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNothingPending    = errors.New("no pending transaction")
	ErrNotConfirmable    = errors.New("pending transaction is not awaiting confirmation")
	ErrPinRequired       = errors.New("pin required")
	ErrComplianceBlocked = errors.New("transaction blocked by compliance check")
	ErrApprovalFailed    = errors.New("token approval failed")
	ErrUnknownApp        = errors.New("unknown app")
	ErrUnknownMethod     = errors.New("unknown method")
	ErrMethodNotView     = errors.New("method is not a view")
	ErrMethodNotWrite    = errors.New("method is not a write")
)

// InsufficientBalanceError reports a native-balance shortfall against the
// projected gas cost.
type InsufficientBalanceError struct {
	Need *big.Int
	Have *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient native balance: need %s wei, have %s wei", e.Need, e.Have)
}
