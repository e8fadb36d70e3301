package perpetual

import (
	"github.com/shopspring/decimal"
)

// Side of a margin position.
type Side int8

const (
	SideFlat Side = iota
	SideShort
	SideLong
)

func (s Side) String() string {
	switch s {
	case SideFlat:
		return "Flat"
	case SideShort:
		return "Short"
	case SideLong:
		return "Long"
	default:
		return "Unknown"
	}
}

// Opposite returns the counterparty side. Flat has no opposite.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// Sign returns +1 for long, -1 for short, 0 for flat.
func (s Side) Sign() int64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// Account is one margin account. Invariant: Side == Flat ⇔ Size == 0 ⇔
// EntryValue == 0. EntrySocialLoss and EntryFundingLoss snapshot the
// global per-contract accumulators (scaled by size) at last mutation, so
// owed social loss and funding resolve lazily on read.
type Account struct {
	ID               string          `json:"id"`
	Side             Side            `json:"side"`
	Size             decimal.Decimal `json:"size"`
	EntryValue       decimal.Decimal `json:"entry_value"`
	EntrySocialLoss  decimal.Decimal `json:"entry_social_loss"`
	EntryFundingLoss decimal.Decimal `json:"entry_funding_loss"`
	CashBalance      decimal.Decimal `json:"cash_balance"` // signed; may go negative pre-liquidation
}

func newAccount(id string) *Account {
	return &Account{
		ID:               id,
		Side:             SideFlat,
		Size:             decimal.Zero,
		EntryValue:       decimal.Zero,
		EntrySocialLoss:  decimal.Zero,
		EntryFundingLoss: decimal.Zero,
		CashBalance:      decimal.Zero,
	}
}

// IsFlat reports whether the account has no exposure.
func (a *Account) IsFlat() bool {
	return a.Side == SideFlat || a.Size.IsZero()
}

// clone returns a value copy for checkpoint/restore.
func (a *Account) clone() Account {
	return *a
}
