package storage

import "errors"

// Common storage errors
var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAmountOutOfRange  = errors.New("amount out of range")
	ErrBalanceOverflow   = errors.New("balance overflow")
)
