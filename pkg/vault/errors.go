package vault

import "errors"

var (
	ErrNoSecret = errors.New("vault secret not configured")
	// ErrDecryptionFailed covers every decrypt failure mode; callers must
	// not learn whether the PIN or the ciphertext was at fault.
	ErrDecryptionFailed = errors.New("decryption failed")
)
