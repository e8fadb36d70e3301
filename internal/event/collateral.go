package event

import "github.com/shopspring/decimal"

// Deposit is the payload for a confirmed collateral deposit.
type Deposit struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// WithdrawalApplied records an apply-for-withdrawal notice.
type WithdrawalApplied struct {
	Account   string          `json:"account"`
	Amount    decimal.Decimal `json:"amount"`
	AppliedAt int64           `json:"applied_at"`
}

// Withdrawal records a paid-out withdrawal.
type Withdrawal struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// AccountSettled records a per-account settlement payout after global
// settlement.
type AccountSettled struct {
	Account string          `json:"account"`
	Payout  decimal.Decimal `json:"payout"`
}
