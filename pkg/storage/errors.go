package storage

import "errors"

var (
	ErrUnsupportedDriver = errors.New("unsupported storage driver")
	ErrUserNotFound      = errors.New("user not found")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletExists      = errors.New("wallet name already in use")
	ErrMnemonicNotFound  = errors.New("mnemonic not found")
	ErrTokenNotFound     = errors.New("token not found")
	ErrAccountNotFound   = errors.New("linked account not found")
)
