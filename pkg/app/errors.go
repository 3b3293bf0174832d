package app

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownParamType     = errors.New("unknown parameter processing type")
	ErrContractAddressUnset = errors.New("contract address not set in environment")
	ErrInvalidAmount        = errors.New("invalid amount")
)

// MissingParamError names the descriptor input that neither the caller nor
// a default supplied.
type MissingParamError struct {
	Param string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("missing parameter %q", e.Param)
}
