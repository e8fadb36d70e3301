package perpetual

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrSystemPaused        = errors.New("system paused")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrLotSizeViolation    = errors.New("lot size violation")
	ErrSelfLiquidation     = errors.New("self liquidation")
	ErrMarginUnsafe        = errors.New("margin unsafe")
	ErrAccountSafe         = errors.New("account is safe")
	ErrAlreadySettled      = errors.New("already settled")
	ErrNotSettled          = errors.New("not settled")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidSide         = errors.New("invalid side")
	ErrInvalidAmount       = errors.New("invalid amount")
)
