package pin

import "errors"

var (
	ErrEmptyPin        = errors.New("pin must not be empty")
	ErrPinAlreadySet   = errors.New("pin already set, use rotation to change it")
	ErrInvalidPin      = errors.New("invalid pin")
	ErrRotationAborted = errors.New("pin rotation aborted, no changes written")
)
