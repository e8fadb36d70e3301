package amm

import "errors"

var (
	ErrPoolExists            = errors.New("pool already created")
	ErrPoolEmpty             = errors.New("pool has no position")
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrInsufficientShares    = errors.New("insufficient share balance")
	ErrExpired               = errors.New("deadline exceeded")
	ErrSlippageExceeded      = errors.New("price limit exceeded")
	ErrNoIndexPrice          = errors.New("no index price")
)
