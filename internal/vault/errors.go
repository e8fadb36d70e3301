package vault

import "errors"

var (
	ErrInvalidDecimals     = errors.New("invalid collateral decimals")
	ErrWithdrawalDisabled  = errors.New("withdrawal disabled")
	ErrNoApplication       = errors.New("no withdrawal application")
	ErrWithdrawalLocked    = errors.New("withdrawal still locked")
	ErrLowLevelCallFailed  = errors.New("low-level transfer failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
)
