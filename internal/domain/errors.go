package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrAddressMismatch  = errors.New("recovered address does not match claimed address")
	ErrChainUnreachable = errors.New("chain rpc unreachable")
	ErrUnknownChain     = errors.New("unknown chain")
	ErrLockHeld         = errors.New("lock already held")
)
