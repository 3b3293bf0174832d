package wallet

import "errors"

var (
	// ErrWalletNotFound is returned when the named wallet doesn't exist
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletExists is returned when the wallet name is already taken
	ErrWalletExists = errors.New("wallet already exists")

	// ErrInvalidPrivateKey is returned when an imported key doesn't parse
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrNoActiveWallet is returned when the user has no active wallet
	ErrNoActiveWallet = errors.New("no active wallet")

	// ErrNoKeyMaterial is returned when a wallet row has neither a stored
	// key nor a derivation path to rebuild one from
	ErrNoKeyMaterial = errors.New("wallet has no key material")
)
