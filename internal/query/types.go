package query

import "github.com/shopspring/decimal"

// AccountResponse is one margin account's projected state.
type AccountResponse struct {
	Account         string          `json:"account"`
	Side            string          `json:"side"`
	Size            decimal.Decimal `json:"size"`
	EntryValue      decimal.Decimal `json:"entry_value"`
	CashBalance     decimal.Decimal `json:"cash_balance"`
	MarginBalance   decimal.Decimal `json:"margin_balance"`
	AvailableMargin decimal.Decimal `json:"available_margin"`
	LastTick        int64           `json:"last_tick"`
	AsOfSequence    int64           `json:"as_of_sequence"`
}

// FundingHistoryResponse is one funding accrual record.
type FundingHistoryResponse struct {
	Sequence     int64           `json:"sequence"`
	Tick         int64           `json:"tick"`
	FundingRate  decimal.Decimal `json:"funding_rate"`
	Premium      decimal.Decimal `json:"premium"`
	IndexPrice   decimal.Decimal `json:"index_price"`
	MarkPrice    decimal.Decimal `json:"mark_price"`
	AccFunding   decimal.Decimal `json:"acc_funding"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// TradeResponse is one pool fill.
type TradeResponse struct {
	Sequence     int64           `json:"sequence"`
	Tick         int64           `json:"tick"`
	Trader       string          `json:"trader"`
	Side         string          `json:"side"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// EventResponse is one raw event log row.
type EventResponse struct {
	Sequence       int64  `json:"sequence"`
	EventID        string `json:"event_id"`
	EventType      string `json:"event_type"`
	IdempotencyKey string `json:"idempotency_key"`
	Account        string `json:"account,omitempty"`
	Tick           int64  `json:"tick"`
	Payload        []byte `json:"payload,omitempty"`
}

// IntegrityReport is the result of a hash chain verification sweep.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	CheckedThrough  int64   `json:"checked_through"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}
