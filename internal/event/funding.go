package event

import "github.com/shopspring/decimal"

// FundingAccrual records one accepted oracle tick that accrued funding.
type FundingAccrual struct {
	IndexPrice  decimal.Decimal `json:"index_price"`
	MarkPrice   decimal.Decimal `json:"mark_price"`
	Premium     decimal.Decimal `json:"premium"`
	Rate        decimal.Decimal `json:"rate"`
	Accumulated decimal.Decimal `json:"accumulated"`
	Timestamp   int64           `json:"timestamp"`
}
