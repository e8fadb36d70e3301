package event

import "github.com/shopspring/decimal"

// PoolCreated records the pool seeding trade.
type PoolCreated struct {
	Creator string          `json:"creator"`
	Price   decimal.Decimal `json:"price"`
	Amount  decimal.Decimal `json:"amount"`
	Shares  decimal.Decimal `json:"shares"`
}

// PoolTrade records a fill against the bonding curve.
type PoolTrade struct {
	Trader string          `json:"trader"`
	Side   string          `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// LiquidityAdded records a liquidity provision.
type LiquidityAdded struct {
	Provider string          `json:"provider"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
	Shares   decimal.Decimal `json:"shares"`
}

// LiquidityRemoved records a liquidity redemption.
type LiquidityRemoved struct {
	Provider string          `json:"provider"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
	Shares   decimal.Decimal `json:"shares"`
}
