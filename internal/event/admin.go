package event

import "github.com/shopspring/decimal"

// GlobalSettlement records a settlement state transition.
type GlobalSettlement struct {
	Price decimal.Decimal `json:"price,omitempty"`
}

// ParamUpdated records a governance parameter change.
type ParamUpdated struct {
	Key   string          `json:"key"`
	Value decimal.Decimal `json:"value"`
}

// BrokerChanged records a broker designation taking effect later.
type BrokerChanged struct {
	Account   string `json:"account"`
	Broker    string `json:"broker"`
	AppliedAt int64  `json:"applied_at"`
}

// SwitchChanged records a pause or withdraw-switch flip.
type SwitchChanged struct {
	Caller  string `json:"caller"`
	Enabled bool   `json:"enabled"`
}

// WhitelistChanged records a whitelist mutation.
type WhitelistChanged struct {
	Component string `json:"component"`
	Added     bool   `json:"added"`
}
