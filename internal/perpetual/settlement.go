package perpetual

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perpvenue/internal/fixmath"
)

// Status is the instrument lifecycle: Normal → Emergency → Settled,
// strictly one-way.
type Status int

const (
	StatusNormal Status = iota
	StatusEmergency
	StatusSettled
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "Normal"
	case StatusEmergency:
		return "Emergency"
	case StatusSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// Status returns the current lifecycle state.
func (l *Ledger) Status() Status {
	return l.status
}

// SettlementPrice returns the frozen settlement price; zero before
// emergency settlement begins.
func (l *Ledger) SettlementPrice() decimal.Decimal {
	return l.settlementPrice
}

// BeginGlobalSettlement freezes the settlement price and disables
// trading and liquidation. Reachable exactly once.
func (l *Ledger) BeginGlobalSettlement(price decimal.Decimal) error {
	if l.status != StatusNormal {
		return fmt.Errorf("begin global settlement: %w", ErrAlreadySettled)
	}
	if price.Sign() <= 0 {
		return fmt.Errorf("begin global settlement at %s: %w", price, ErrInvalidPrice)
	}
	l.status = StatusEmergency
	l.settlementPrice = price
	l.log.Error().Str("price", price.String()).Msg("global settlement begun")
	return nil
}

// EndGlobalSettlement transitions Emergency → Settled, opening the
// per-account settle path.
func (l *Ledger) EndGlobalSettlement() error {
	if l.status != StatusEmergency {
		return fmt.Errorf("end global settlement: %w", ErrNotSettled)
	}
	l.status = StatusSettled
	l.log.Error().Msg("global settlement complete; accounts may settle")
	return nil
}

// Settle winds down one account at the frozen settlement price: the
// position is zeroed and the account's margin balance (floored at zero)
// is returned as the payout entitlement. The caller (vault) performs the
// external transfer after this mutation completes.
func (l *Ledger) Settle(id string) (decimal.Decimal, error) {
	if l.status != StatusSettled {
		return decimal.Zero, fmt.Errorf("settle %s: %w", id, ErrNotSettled)
	}

	a := l.Account(id)
	payout := fixmath.Max(l.MarginBalance(id, l.settlementPrice), decimal.Zero)

	if !a.IsFlat() {
		l.totalSize[a.Side] = l.totalSize[a.Side].Sub(a.Size)
	}
	a.Side = SideFlat
	a.Size = decimal.Zero
	a.EntryValue = decimal.Zero
	a.EntrySocialLoss = decimal.Zero
	a.EntryFundingLoss = decimal.Zero
	a.CashBalance = decimal.Zero

	l.log.Info().Str("account", id).Str("payout", payout.String()).Msg("account settled")
	return payout, nil
}
