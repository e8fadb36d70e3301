package core

import (
	"github.com/shopspring/decimal"

	"perpvenue/internal/config"
)

// Operation is one command consumed by the engine. Every operation
// carries a stable idempotency key, a source sequence for ordering
// validation, and a versioned tick that drives the logical clock.
type Operation interface {
	Kind() string
	Key() string
	SourceSeq() int64
	Tick() int64
}

// Meta is the common operation header.
type Meta struct {
	ID  string `json:"id"`
	Seq int64  `json:"seq"`
	At  int64  `json:"at"`
}

func (m Meta) Key() string      { return m.ID }
func (m Meta) SourceSeq() int64 { return m.Seq }
func (m Meta) Tick() int64      { return m.At }

// --- Collateral ---

type OpDeposit struct {
	Meta
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"` // raw asset units
}

func (OpDeposit) Kind() string { return "deposit" }

type OpApplyWithdrawal struct {
	Meta
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

func (OpApplyWithdrawal) Kind() string { return "apply_withdrawal" }

type OpWithdraw struct {
	Meta
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

func (OpWithdraw) Kind() string { return "withdraw" }

type OpSettleAccount struct {
	Meta
	Account string `json:"account"`
}

func (OpSettleAccount) Kind() string { return "settle_account" }

// --- Pool ---

type OpCreatePool struct {
	Meta
	Creator string          `json:"creator"`
	Amount  decimal.Decimal `json:"amount"`
}

func (OpCreatePool) Kind() string { return "create_pool" }

type OpBuy struct {
	Meta
	Trader     string          `json:"trader"`
	Amount     decimal.Decimal `json:"amount"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Deadline   int64           `json:"deadline"`
}

func (OpBuy) Kind() string { return "buy" }

type OpSell struct {
	Meta
	Trader     string          `json:"trader"`
	Amount     decimal.Decimal `json:"amount"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Deadline   int64           `json:"deadline"`
}

func (OpSell) Kind() string { return "sell" }

type OpAddLiquidity struct {
	Meta
	Provider string          `json:"provider"`
	Amount   decimal.Decimal `json:"amount"`
}

func (OpAddLiquidity) Kind() string { return "add_liquidity" }

type OpRemoveLiquidity struct {
	Meta
	Provider    string          `json:"provider"`
	ShareAmount decimal.Decimal `json:"share_amount"`
}

func (OpRemoveLiquidity) Kind() string { return "remove_liquidity" }

// --- Oracle & risk ---

// OpOraclePrice is an index price observation. The engine feeds it to
// the oracle and forwards the funding tick through the pool; the caller
// collects the update prize when an accrual happens.
type OpOraclePrice struct {
	Meta
	Caller    string          `json:"caller"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

func (OpOraclePrice) Kind() string { return "oracle_price" }

type OpLiquidate struct {
	Meta
	Caller string          `json:"caller"`
	Target string          `json:"target"`
	Amount decimal.Decimal `json:"amount"`
}

func (OpLiquidate) Kind() string { return "liquidate" }

// --- Governance & admin ---

type OpSetBroker struct {
	Meta
	Account string `json:"account"`
	Broker  string `json:"broker"`
}

func (OpSetBroker) Kind() string { return "set_broker" }

type OpSetParam struct {
	Meta
	Caller string          `json:"caller"`
	Param  config.ParamKey `json:"param"`
	Value  decimal.Decimal `json:"value"`
}

func (OpSetParam) Kind() string { return "set_param" }

type OpPause struct {
	Meta
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

func (OpPause) Kind() string { return "pause" }

type OpWithdrawSwitch struct {
	Meta
	Caller   string `json:"caller"`
	Disabled bool   `json:"disabled"`
}

func (OpWithdrawSwitch) Kind() string { return "withdraw_switch" }

type OpWhitelist struct {
	Meta
	Caller    string `json:"caller"`
	Component string `json:"component"`
	Add       bool   `json:"add"`
}

func (OpWhitelist) Kind() string { return "whitelist" }

type OpBeginSettlement struct {
	Meta
	Caller string          `json:"caller"`
	Price  decimal.Decimal `json:"price"`
}

func (OpBeginSettlement) Kind() string { return "begin_settlement" }

type OpEndSettlement struct {
	Meta
	Caller string `json:"caller"`
}

func (OpEndSettlement) Kind() string { return "end_settlement" }
