package state

import "errors"

var (
	ErrLedgerPaused        = errors.New("state: ledger is paused")
	ErrInvalidAdmin        = errors.New("state: caller is not the admin")
	ErrPositionNotFound    = errors.New("state: position not found")
	ErrInvalidPositionSide = errors.New("state: trade side does not match position side")
	ErrInvalidPositionSize = errors.New("state: position size must be positive")
	ErrTooManyRelayers     = errors.New("state: relayer set is full")
	ErrRelayerExists       = errors.New("state: relayer already registered")
	ErrUnknownRelayer      = errors.New("state: relayer not registered")
	ErrInvalidThreshold    = errors.New("state: signature threshold out of range")
)
