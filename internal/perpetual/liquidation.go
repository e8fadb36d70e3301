package perpetual

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perpvenue/internal/fixmath"
)

// Liquidate transfers up to amount of target's position to caller at the
// mark price, charging the liquidation penalty against the target. The
// penalty is split between the caller and the insurance fund. If the
// target's margin balance is negative after closing, the insurance fund
// absorbs the deficit first; any remainder is socialized to the opposite
// side's per-contract accumulator. Callable by anyone except the target
// itself; returns the size actually liquidated.
func (l *Ledger) Liquidate(caller, target string, mark, amount decimal.Decimal) (decimal.Decimal, error) {
	if l.guard.Paused() {
		return decimal.Zero, fmt.Errorf("liquidate: %w", ErrSystemPaused)
	}
	if l.status != StatusNormal {
		return decimal.Zero, fmt.Errorf("liquidate: %w", ErrAlreadySettled)
	}
	if caller == target {
		return decimal.Zero, fmt.Errorf("liquidate %s: %w", target, ErrSelfLiquidation)
	}
	if mark.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("liquidate at %s: %w", mark, ErrInvalidPrice)
	}
	if amount.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("liquidate amount %s: %w", amount, ErrInvalidAmount)
	}
	if !fixmath.IsMultipleOf(amount, l.gov.LotSize) {
		return decimal.Zero, fmt.Errorf("liquidate amount %s vs lot %s: %w", amount, l.gov.LotSize, ErrLotSizeViolation)
	}

	t := l.Account(target)
	if t.IsFlat() {
		return decimal.Zero, fmt.Errorf("liquidate %s: flat position: %w", target, ErrInvalidAmount)
	}
	if l.IsSafe(target, mark) {
		return decimal.Zero, fmt.Errorf("liquidate %s: %w", target, ErrAccountSafe)
	}

	liqAmount := fixmath.Min(amount, t.Size)
	side := t.Side

	// The caller takes over the position at mark; the target closes.
	l.applyTrade(caller, side, mark, liqAmount)
	l.applyTrade(target, side.Opposite(), mark, liqAmount)

	notional := fixmath.Mul(mark, liqAmount)
	penaltyToCaller := fixmath.Mul(notional, l.gov.LiquidationPenaltyRate)
	penaltyToFund := fixmath.Mul(notional, l.gov.PenaltyFundRate)

	t.CashBalance = t.CashBalance.Sub(penaltyToCaller).Sub(penaltyToFund)
	l.Account(caller).CashBalance = l.Account(caller).CashBalance.Add(penaltyToCaller)
	l.insuranceFund = l.insuranceFund.Add(penaltyToFund)

	if mb := l.MarginBalance(target, mark); mb.Sign() < 0 {
		l.coverDeficit(t, side.Opposite(), mb.Neg())
	}

	l.log.Warn().
		Str("target", target).
		Str("caller", caller).
		Str("amount", liqAmount.String()).
		Str("mark", mark.String()).
		Msg("position liquidated")

	return liqAmount, nil
}

// coverDeficit settles a bankrupt account's uncollateralized loss: the
// insurance fund pays first, the remainder becomes social loss for every
// holder on the opposite side, resolved lazily via the accumulator.
func (l *Ledger) coverDeficit(t *Account, lossSide Side, deficit decimal.Decimal) {
	covered := fixmath.Min(deficit, l.insuranceFund)
	if covered.Sign() > 0 {
		l.insuranceFund = l.insuranceFund.Sub(covered)
		t.CashBalance = t.CashBalance.Add(covered)
	}

	remainder := deficit.Sub(covered)
	if remainder.Sign() <= 0 {
		return
	}

	total := l.totalSize[lossSide]
	if total.Sign() <= 0 {
		// No opposite-side holders to absorb the loss. The account stays
		// bankrupt; global settlement is the only way out.
		l.log.Error().
			Str("account", t.ID).
			Str("deficit", remainder.String()).
			Msg("uncovered deficit with empty opposite side")
		return
	}

	l.socialLossPerContract[lossSide] = l.socialLossPerContract[lossSide].
		Add(fixmath.Div(remainder, total))
	t.CashBalance = t.CashBalance.Add(remainder)

	l.log.Warn().
		Str("account", t.ID).
		Str("socialized", remainder.String()).
		Stringer("loss_side", lossSide).
		Msg("deficit socialized")
}
