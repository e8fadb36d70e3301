// Package perpetual is the margin accounting ledger: per-account position
// and cash bookkeeping, margin-safety evaluation, atomic trade
// application, liquidation with social loss, and the global settlement
// state machine.
package perpetual

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpvenue/internal/config"
	"perpvenue/internal/fixmath"
	"perpvenue/internal/guard"
)

// FundingSource supplies the global per-contract funding accumulator.
type FundingSource interface {
	AccumulatedFundingPerContract() decimal.Decimal
}

// Ledger is the margin account table for one instrument. All mutation
// happens on the engine goroutine; reentrant callers are treated as
// hostile and every operation completes its ledger mutations before any
// external call is made by the enclosing component.
type Ledger struct {
	log   zerolog.Logger
	gov   *config.Governance
	guard *guard.Guard

	funding FundingSource // nil until the funding engine is wired

	accounts map[string]*Account

	// Per-contract loss accumulators, keyed by the side that absorbs
	// them. O(1) global update; per-account resolution is lazy.
	socialLossPerContract map[Side]decimal.Decimal

	totalSize map[Side]decimal.Decimal

	insuranceFund decimal.Decimal

	status          Status
	settlementPrice decimal.Decimal
}

func NewLedger(gov *config.Governance, g *guard.Guard, log zerolog.Logger) *Ledger {
	return &Ledger{
		log:   log,
		gov:   gov,
		guard: g,
		accounts: make(map[string]*Account),
		socialLossPerContract: map[Side]decimal.Decimal{
			SideLong:  decimal.Zero,
			SideShort: decimal.Zero,
		},
		totalSize: map[Side]decimal.Decimal{
			SideLong:  decimal.Zero,
			SideShort: decimal.Zero,
		},
		insuranceFund: decimal.Zero,
		status:        StatusNormal,
	}
}

// SetFundingSource wires the funding engine. Done once at assembly; kept
// out of the constructor because the funding engine's mark price source
// is the AMM, which itself depends on the ledger.
func (l *Ledger) SetFundingSource(fs FundingSource) {
	l.funding = fs
}

// Account returns the account record, creating it implicitly.
func (l *Ledger) Account(id string) *Account {
	a, ok := l.accounts[id]
	if !ok {
		a = newAccount(id)
		l.accounts[id] = a
	}
	return a
}

// TotalSize returns the aggregate open size on one side.
func (l *Ledger) TotalSize(side Side) decimal.Decimal {
	return l.totalSize[side]
}

// SocialLossPerContract returns the per-contract accumulator for side.
func (l *Ledger) SocialLossPerContract(side Side) decimal.Decimal {
	return l.socialLossPerContract[side]
}

// InsuranceFund returns the insurance fund balance.
func (l *Ledger) InsuranceFund() decimal.Decimal {
	return l.insuranceFund
}

func (l *Ledger) fundingAcc() decimal.Decimal {
	if l.funding == nil {
		return decimal.Zero
	}
	return l.funding.AccumulatedFundingPerContract()
}

// --- Derived reads -------------------------------------------------------
// Pure functions of current state plus the supplied mark price.

// PositionMargin is size * mark * initialMarginRate.
func (l *Ledger) PositionMargin(id string, mark decimal.Decimal) decimal.Decimal {
	a := l.Account(id)
	return fixmath.Mul(fixmath.Mul(a.Size, mark), l.gov.InitialMarginRate)
}

// MaintenanceMargin is size * mark * maintenanceMarginRate.
func (l *Ledger) MaintenanceMargin(id string, mark decimal.Decimal) decimal.Decimal {
	a := l.Account(id)
	return fixmath.Mul(fixmath.Mul(a.Size, mark), l.gov.MaintenanceMarginRate)
}

// PendingSocialLoss is the social loss owed by the account and not yet
// realized into cash: size * accumulator - entry snapshot.
func (l *Ledger) PendingSocialLoss(a *Account) decimal.Decimal {
	if a.IsFlat() {
		return decimal.Zero
	}
	return fixmath.Mul(l.socialLossPerContract[a.Side], a.Size).Sub(a.EntrySocialLoss)
}

// PendingFundingLoss is the funding owed (positive) or earned (negative)
// since the entry snapshot. Longs pay when the accumulator rises.
func (l *Ledger) PendingFundingLoss(a *Account) decimal.Decimal {
	if a.IsFlat() {
		return decimal.Zero
	}
	diff := fixmath.Mul(l.fundingAcc(), a.Size).Sub(a.EntryFundingLoss)
	if a.Side == SideShort {
		return diff.Neg()
	}
	return diff
}

// Pnl is the unrealized profit at mark, net of pending social loss and
// funding loss.
func (l *Ledger) Pnl(id string, mark decimal.Decimal) decimal.Decimal {
	a := l.Account(id)
	if a.IsFlat() {
		return decimal.Zero
	}
	notional := fixmath.Mul(a.Size, mark).Sub(a.EntryValue)
	if a.Side == SideShort {
		notional = notional.Neg()
	}
	return notional.Sub(l.PendingSocialLoss(a)).Sub(l.PendingFundingLoss(a))
}

// MarginBalance is cash plus unrealized pnl.
func (l *Ledger) MarginBalance(id string, mark decimal.Decimal) decimal.Decimal {
	return l.Account(id).CashBalance.Add(l.Pnl(id, mark))
}

// AvailableMargin is marginBalance minus the initial-margin requirement.
func (l *Ledger) AvailableMargin(id string, mark decimal.Decimal) decimal.Decimal {
	return l.MarginBalance(id, mark).Sub(l.PositionMargin(id, mark))
}

// IsSafe reports whether marginBalance covers the initial margin.
func (l *Ledger) IsSafe(id string, mark decimal.Decimal) bool {
	return l.MarginBalance(id, mark).GreaterThanOrEqual(l.PositionMargin(id, mark))
}

// IsMaintenanceSafe reports whether marginBalance covers the maintenance
// margin.
func (l *Ledger) IsMaintenanceSafe(id string, mark decimal.Decimal) bool {
	return l.MarginBalance(id, mark).GreaterThanOrEqual(l.MaintenanceMargin(id, mark))
}

// IsBankrupt reports a negative margin balance.
func (l *Ledger) IsBankrupt(id string, mark decimal.Decimal) bool {
	return l.MarginBalance(id, mark).Sign() < 0
}

// --- Mutators ------------------------------------------------------------

// Trade applies a matched trade atomically to both parties: taker takes
// side, counterparty takes the opposite side, both at price. Restricted
// to whitelisted callers; the ledger trusts only the whitelist, not
// order semantics.
func (l *Ledger) Trade(caller, taker, counterparty string, side Side, price, amount decimal.Decimal) error {
	if !l.guard.IsWhitelisted(caller) {
		return fmt.Errorf("trade by %s: %w", caller, ErrUnauthorized)
	}
	if l.guard.Paused() {
		return fmt.Errorf("trade: %w", ErrSystemPaused)
	}
	if l.status != StatusNormal {
		return fmt.Errorf("trade: %w", ErrAlreadySettled)
	}
	if side != SideLong && side != SideShort {
		return fmt.Errorf("trade side %s: %w", side, ErrInvalidSide)
	}
	if price.Sign() <= 0 {
		return fmt.Errorf("trade price %s: %w", price, ErrInvalidPrice)
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("trade amount %s: %w", amount, ErrInvalidAmount)
	}
	if !fixmath.IsMultipleOf(amount, l.gov.TradingLotSize) {
		return fmt.Errorf("trade amount %s vs lot %s: %w", amount, l.gov.TradingLotSize, ErrLotSizeViolation)
	}
	if taker == counterparty {
		return fmt.Errorf("trade: taker and counterparty are the same account: %w", ErrInvalidAmount)
	}

	l.applyTrade(taker, side, price, amount)
	l.applyTrade(counterparty, side.Opposite(), price, amount)
	return nil
}

// applyTrade closes any opposite-side exposure first, realizing pnl into
// cash and re-basing the loss snapshots, then opens/extends same-side
// exposure at the traded price.
func (l *Ledger) applyTrade(id string, side Side, price, amount decimal.Decimal) {
	a := l.Account(id)
	remaining := amount
	if !a.IsFlat() && a.Side == side.Opposite() {
		closeAmount := fixmath.Min(a.Size, remaining)
		l.closePosition(a, price, closeAmount)
		remaining = remaining.Sub(closeAmount)
	}
	if remaining.Sign() > 0 {
		l.openPosition(a, side, price, remaining)
	}
}

func (l *Ledger) openPosition(a *Account, side Side, price, amount decimal.Decimal) {
	if a.IsFlat() {
		a.Side = side
	}
	a.Size = a.Size.Add(amount)
	a.EntryValue = a.EntryValue.Add(fixmath.Mul(price, amount))
	a.EntrySocialLoss = a.EntrySocialLoss.Add(fixmath.Mul(l.socialLossPerContract[side], amount))
	a.EntryFundingLoss = a.EntryFundingLoss.Add(fixmath.Mul(l.fundingAcc(), amount))
	l.totalSize[side] = l.totalSize[side].Add(amount)
}

func (l *Ledger) closePosition(a *Account, price, amount decimal.Decimal) {
	side := a.Side

	// Proportional share of the entry basis being closed.
	closedEntry := fixmath.Frac(a.EntryValue, amount, a.Size)
	closedSocial := fixmath.Frac(a.EntrySocialLoss, amount, a.Size)
	closedFunding := fixmath.Frac(a.EntryFundingLoss, amount, a.Size)

	socialLoss := fixmath.Mul(l.socialLossPerContract[side], amount).Sub(closedSocial)
	fundingDiff := fixmath.Mul(l.fundingAcc(), amount).Sub(closedFunding)

	var rpnl decimal.Decimal
	if side == SideLong {
		rpnl = fixmath.Mul(price, amount).Sub(closedEntry).Sub(socialLoss).Sub(fundingDiff)
	} else {
		rpnl = closedEntry.Sub(fixmath.Mul(price, amount)).Sub(socialLoss).Add(fundingDiff)
	}
	a.CashBalance = a.CashBalance.Add(rpnl)

	a.EntryValue = a.EntryValue.Sub(closedEntry)
	a.EntrySocialLoss = a.EntrySocialLoss.Sub(closedSocial)
	a.EntryFundingLoss = a.EntryFundingLoss.Sub(closedFunding)
	a.Size = a.Size.Sub(amount)
	l.totalSize[side] = l.totalSize[side].Sub(amount)

	if a.Size.IsZero() {
		a.Side = SideFlat
		a.EntryValue = decimal.Zero
		a.EntrySocialLoss = decimal.Zero
		a.EntryFundingLoss = decimal.Zero
	}
}

// TransferCashBalance moves cash between accounts. Restricted to
// whitelisted callers.
func (l *Ledger) TransferCashBalance(caller, from, to string, amount decimal.Decimal) error {
	if !l.guard.IsWhitelisted(caller) {
		return fmt.Errorf("transfer by %s: %w", caller, ErrUnauthorized)
	}
	if l.guard.Paused() {
		return fmt.Errorf("transfer: %w", ErrSystemPaused)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("transfer amount %s: %w", amount, ErrInvalidAmount)
	}
	fromAcc := l.Account(from)
	if fromAcc.CashBalance.LessThan(amount) {
		return fmt.Errorf("transfer %s from %s: %w", amount, from, ErrInsufficientBalance)
	}
	fromAcc.CashBalance = fromAcc.CashBalance.Sub(amount)
	l.Account(to).CashBalance = l.Account(to).CashBalance.Add(amount)
	return nil
}

// CreditCash adds collateral to an account's cash balance. Vault-only.
func (l *Ledger) CreditCash(caller, id string, amount decimal.Decimal) error {
	if !l.guard.IsWhitelisted(caller) {
		return fmt.Errorf("credit by %s: %w", caller, ErrUnauthorized)
	}
	a := l.Account(id)
	a.CashBalance = a.CashBalance.Add(amount)
	return nil
}

// DebitCash removes collateral from an account's cash balance. Vault-only.
func (l *Ledger) DebitCash(caller, id string, amount decimal.Decimal) error {
	if !l.guard.IsWhitelisted(caller) {
		return fmt.Errorf("debit by %s: %w", caller, ErrUnauthorized)
	}
	a := l.Account(id)
	a.CashBalance = a.CashBalance.Sub(amount)
	return nil
}

// --- Checkpoint ----------------------------------------------------------

// checkpoint captures the ledger state touched by a multi-step operation
// so the enclosing component can restore it when a post-trade check
// fails, preserving all-or-nothing semantics.
type checkpoint struct {
	accounts      map[string]Account
	totalLong     decimal.Decimal
	totalShort    decimal.Decimal
	socialLong    decimal.Decimal
	socialShort   decimal.Decimal
	insuranceFund decimal.Decimal
}

// Checkpoint snapshots the named accounts and the global accumulators.
func (l *Ledger) Checkpoint(ids ...string) *checkpoint {
	cp := &checkpoint{
		accounts:      make(map[string]Account, len(ids)),
		totalLong:     l.totalSize[SideLong],
		totalShort:    l.totalSize[SideShort],
		socialLong:    l.socialLossPerContract[SideLong],
		socialShort:   l.socialLossPerContract[SideShort],
		insuranceFund: l.insuranceFund,
	}
	for _, id := range ids {
		cp.accounts[id] = l.Account(id).clone()
	}
	return cp
}

// Restore rolls the ledger back to the checkpoint.
func (l *Ledger) Restore(cp *checkpoint) {
	for id, snap := range cp.accounts {
		a := snap
		l.accounts[id] = &a
	}
	l.totalSize[SideLong] = cp.totalLong
	l.totalSize[SideShort] = cp.totalShort
	l.socialLossPerContract[SideLong] = cp.socialLong
	l.socialLossPerContract[SideShort] = cp.socialShort
	l.insuranceFund = cp.insuranceFund
}

// --- Invariants ----------------------------------------------------------

// CheckInvariants verifies the structural ledger invariants. Called by
// the engine after every applied operation while trading is live; a
// violation is a fatal programming error.
func (l *Ledger) CheckInvariants() error {
	if l.status != StatusNormal {
		// Per-account settlement retires one side at a time.
		return nil
	}

	sumLong, sumShort := decimal.Zero, decimal.Zero
	for id, a := range l.accounts {
		if a.IsFlat() {
			if !a.Size.IsZero() || !a.EntryValue.IsZero() {
				return fmt.Errorf("flat account %s has size=%s entryValue=%s", id, a.Size, a.EntryValue)
			}
			continue
		}
		switch a.Side {
		case SideLong:
			sumLong = sumLong.Add(a.Size)
		case SideShort:
			sumShort = sumShort.Add(a.Size)
		}
	}
	if !sumLong.Equal(sumShort) {
		return fmt.Errorf("open interest mismatch: long=%s short=%s", sumLong, sumShort)
	}
	if !sumLong.Equal(l.totalSize[SideLong]) || !sumShort.Equal(l.totalSize[SideShort]) {
		return fmt.Errorf("total size cache mismatch: cached long=%s short=%s actual long=%s short=%s",
			l.totalSize[SideLong], l.totalSize[SideShort], sumLong, sumShort)
	}
	return nil
}
