package event

import "github.com/shopspring/decimal"

// Liquidation records a forced close of an unsafe position.
type Liquidation struct {
	Caller    string          `json:"caller"`
	Target    string          `json:"target"`
	MarkPrice decimal.Decimal `json:"mark_price"`
	Amount    decimal.Decimal `json:"amount"`
}
