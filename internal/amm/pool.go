// Package amm is the constant-product market maker built on top of the
// margin ledger. The pool is a regular ledger account holding a long
// position; its virtual reserves are x (available margin) and y (position
// size), and every fill trades against x/y with the product conserved.
package amm

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpvenue/internal/config"
	"perpvenue/internal/fixmath"
	"perpvenue/internal/perpetual"
)

// Clock supplies the current tick for deadline checks.
type Clock interface {
	Now() int64
}

// IndexSource is the funding engine's surface the pool depends on: the
// index price seeds the pool, and UpdateIndex is forwarded so callers
// can poke the funding clock through the AMM and collect the prize.
type IndexSource interface {
	LastIndexPrice() decimal.Decimal
	UpdateIndex() (bool, error)
}

// Pool is the automated market maker for one instrument. All methods run
// on the engine goroutine.
type Pool struct {
	log    zerolog.Logger
	gov    *config.Governance
	ledger *perpetual.Ledger
	clock  Clock

	index IndexSource // nil until the funding engine is wired

	// selfID is the pool's whitelisted identity for privileged ledger
	// calls; poolID holds the position, devID collects dev fees.
	selfID string
	poolID string
	devID  string

	shares      map[string]decimal.Decimal
	shareSupply decimal.Decimal
}

func NewPool(selfID, poolID, devID string, gov *config.Governance, ledger *perpetual.Ledger, clock Clock, log zerolog.Logger) *Pool {
	return &Pool{
		log:         log,
		gov:         gov,
		ledger:      ledger,
		clock:       clock,
		selfID:      selfID,
		poolID:      poolID,
		devID:       devID,
		shares:      make(map[string]decimal.Decimal),
		shareSupply: decimal.Zero,
	}
}

// SetIndexSource wires the funding engine. Done once at assembly; the
// funding engine's mark source is this pool, so neither constructor can
// see the other.
func (p *Pool) SetIndexSource(src IndexSource) {
	p.index = src
}

// PoolAccountID returns the ledger account holding the pool position.
func (p *Pool) PoolAccountID() string { return p.poolID }

// ShareSupply returns the total share supply.
func (p *Pool) ShareSupply() decimal.Decimal { return p.shareSupply }

// Shares returns a copy of the share register.
func (p *Pool) Shares() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(p.shares))
	for k, v := range p.shares {
		out[k] = v
	}
	return out
}

// RestoreShares replaces the share register on warm restart.
func (p *Pool) RestoreShares(shares map[string]decimal.Decimal, supply decimal.Decimal) {
	p.shares = make(map[string]decimal.Decimal, len(shares))
	for k, v := range shares {
		p.shares[k] = v
	}
	p.shareSupply = supply
}

// ShareBalance returns an account's share balance.
func (p *Pool) ShareBalance(account string) decimal.Decimal {
	if s, ok := p.shares[account]; ok {
		return s
	}
	return decimal.Zero
}

// PositionSize returns y, the pool's long position size.
func (p *Pool) PositionSize() decimal.Decimal {
	return p.ledger.Account(p.poolID).Size
}

// CurrentAvailableMargin returns x, the pool's cash net of its entry
// value and pending losses. This is the cash reserve the bonding curve
// quotes against.
func (p *Pool) CurrentAvailableMargin() decimal.Decimal {
	a := p.ledger.Account(p.poolID)
	return a.CashBalance.
		Sub(a.EntryValue).
		Sub(p.ledger.PendingSocialLoss(a)).
		Sub(p.ledger.PendingFundingLoss(a))
}

// CurrentFairPrice is x/y, the price at which an infinitesimal trade
// clears. Implements the mark-price source for funding and withdrawals.
func (p *Pool) CurrentFairPrice() (decimal.Decimal, error) {
	y := p.PositionSize()
	if y.Sign() <= 0 {
		return decimal.Zero, ErrPoolEmpty
	}
	return fixmath.Div(p.CurrentAvailableMargin(), y), nil
}

// CreatePool seeds the pool: the creator funds 2*price*amount of cash,
// goes short amount against the pool's long at the current index price,
// and receives amount shares. Callable once.
func (p *Pool) CreatePool(creator string, amount decimal.Decimal) error {
	if p.shareSupply.Sign() > 0 || p.PositionSize().Sign() > 0 {
		return fmt.Errorf("create pool: %w", ErrPoolExists)
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("create pool amount %s: %w", amount, perpetual.ErrInvalidAmount)
	}
	if !fixmath.IsMultipleOf(amount, p.gov.TradingLotSize) {
		return fmt.Errorf("create pool amount %s vs lot %s: %w", amount, p.gov.TradingLotSize, perpetual.ErrLotSizeViolation)
	}
	price := p.indexPrice()
	if price.Sign() <= 0 {
		return fmt.Errorf("create pool: %w", ErrNoIndexPrice)
	}

	cp := p.ledger.Checkpoint(creator, p.poolID)
	if err := p.seedLiquidity(creator, price, amount); err != nil {
		p.ledger.Restore(cp)
		return fmt.Errorf("create pool: %w", err)
	}

	p.mintShares(creator, amount)
	p.log.Info().
		Str("creator", creator).
		Str("amount", amount.String()).
		Str("price", price.String()).
		Msg("pool created")
	return nil
}

// seedLiquidity moves 2*price*amount cash into the pool account and
// opens the offsetting short(provider)/long(pool) pair, leaving the
// fair price at the entry price.
func (p *Pool) seedLiquidity(provider string, price, amount decimal.Decimal) error {
	cash := fixmath.Mul(fixmath.Mul(fixmath.Two, price), amount)
	if err := p.ledger.TransferCashBalance(p.selfID, provider, p.poolID, cash); err != nil {
		return err
	}
	if err := p.ledger.Trade(p.selfID, provider, p.poolID, perpetual.SideShort, price, amount); err != nil {
		return err
	}
	if !p.ledger.IsSafe(provider, price) {
		return fmt.Errorf("provider %s: %w", provider, perpetual.ErrMarginUnsafe)
	}
	return nil
}

// Buy fills a long order of amount against the curve. The fill price is
// x/(y-amount); the whole fill clears at that single price. limitPrice
// caps the acceptable price, deadline caps the acceptable tick.
func (p *Pool) Buy(trader string, amount, limitPrice decimal.Decimal, deadline int64) (decimal.Decimal, error) {
	if err := p.checkOrder(amount, deadline); err != nil {
		return decimal.Zero, err
	}
	x, y := p.CurrentAvailableMargin(), p.PositionSize()
	if y.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("buy: %w", ErrPoolEmpty)
	}
	if amount.GreaterThanOrEqual(y) {
		return decimal.Zero, fmt.Errorf("buy %s of pool %s: %w", amount, y, ErrInsufficientLiquidity)
	}

	price := fixmath.Div(x, y.Sub(amount))
	if price.GreaterThan(limitPrice) {
		return decimal.Zero, fmt.Errorf("buy at %s over limit %s: %w", price, limitPrice, ErrSlippageExceeded)
	}

	if err := p.fill(trader, perpetual.SideLong, price, amount); err != nil {
		return decimal.Zero, fmt.Errorf("buy: %w", err)
	}
	return price, nil
}

// Sell fills a short order of amount against the curve at x/(y+amount).
// limitPrice floors the acceptable price.
func (p *Pool) Sell(trader string, amount, limitPrice decimal.Decimal, deadline int64) (decimal.Decimal, error) {
	if err := p.checkOrder(amount, deadline); err != nil {
		return decimal.Zero, err
	}
	x, y := p.CurrentAvailableMargin(), p.PositionSize()
	if y.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("sell: %w", ErrPoolEmpty)
	}

	price := fixmath.Div(x, y.Add(amount))
	if price.LessThan(limitPrice) {
		return decimal.Zero, fmt.Errorf("sell at %s under limit %s: %w", price, limitPrice, ErrSlippageExceeded)
	}

	if err := p.fill(trader, perpetual.SideShort, price, amount); err != nil {
		return decimal.Zero, fmt.Errorf("sell: %w", err)
	}
	return price, nil
}

func (p *Pool) checkOrder(amount decimal.Decimal, deadline int64) error {
	if p.clock.Now() > deadline {
		return fmt.Errorf("deadline %d at tick %d: %w", deadline, p.clock.Now(), ErrExpired)
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("order amount %s: %w", amount, perpetual.ErrInvalidAmount)
	}
	if !fixmath.IsMultipleOf(amount, p.gov.TradingLotSize) {
		return fmt.Errorf("order amount %s vs lot %s: %w", amount, p.gov.TradingLotSize, perpetual.ErrLotSizeViolation)
	}
	return nil
}

// fill applies the trade and fees atomically: any failure, including the
// post-trade safety checks, rolls the ledger back to the pre-fill state.
// Safety is judged at the pre-fill fair price so the trader cannot mark
// their own fill as collateral.
func (p *Pool) fill(trader string, side perpetual.Side, price, amount decimal.Decimal) error {
	fair, err := p.CurrentFairPrice()
	if err != nil {
		return err
	}

	cp := p.ledger.Checkpoint(trader, p.poolID, p.devID)
	if err := p.applyFill(trader, side, price, amount, fair); err != nil {
		p.ledger.Restore(cp)
		return err
	}

	p.log.Info().
		Str("trader", trader).
		Stringer("side", side).
		Str("price", price.String()).
		Str("amount", amount.String()).
		Msg("pool fill")
	return nil
}

func (p *Pool) applyFill(trader string, side perpetual.Side, price, amount, fair decimal.Decimal) error {
	if err := p.ledger.Trade(p.selfID, trader, p.poolID, side, price, amount); err != nil {
		return err
	}

	value := fixmath.Mul(price, amount)
	poolFee := fixmath.Mul(value, p.gov.PoolFeeRate)
	devFee := fixmath.Mul(value, p.gov.PoolDevFeeRate)
	if poolFee.Sign() > 0 {
		if err := p.ledger.TransferCashBalance(p.selfID, trader, p.poolID, poolFee); err != nil {
			return err
		}
	}
	if devFee.Sign() > 0 {
		if err := p.ledger.TransferCashBalance(p.selfID, trader, p.devID, devFee); err != nil {
			return err
		}
	}

	if !p.ledger.IsSafe(trader, fair) {
		return fmt.Errorf("trader %s: %w", trader, perpetual.ErrMarginUnsafe)
	}
	if !p.ledger.IsSafe(p.devID, fair) {
		return fmt.Errorf("dev %s: %w", p.devID, perpetual.ErrMarginUnsafe)
	}
	if p.CurrentAvailableMargin().Sign() < 0 {
		return fmt.Errorf("pool reserve: %w", ErrInsufficientLiquidity)
	}
	return nil
}

// AddLiquidity deposits 2*fair*amount of cash into the pool, shorts
// amount against it at the fair price, and mints shares pro rata. The
// fair price is unchanged by construction.
func (p *Pool) AddLiquidity(provider string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("add liquidity %s: %w", amount, perpetual.ErrInvalidAmount)
	}
	if !fixmath.IsMultipleOf(amount, p.gov.TradingLotSize) {
		return fmt.Errorf("add liquidity %s vs lot %s: %w", amount, p.gov.TradingLotSize, perpetual.ErrLotSizeViolation)
	}
	y := p.PositionSize()
	if y.Sign() <= 0 {
		return fmt.Errorf("add liquidity: %w", ErrPoolEmpty)
	}
	price, err := p.CurrentFairPrice()
	if err != nil {
		return err
	}

	cp := p.ledger.Checkpoint(provider, p.poolID)
	if err := p.seedLiquidity(provider, price, amount); err != nil {
		p.ledger.Restore(cp)
		return fmt.Errorf("add liquidity: %w", err)
	}

	minted := fixmath.Frac(p.shareSupply, amount, y)
	p.mintShares(provider, minted)
	p.log.Info().
		Str("provider", provider).
		Str("amount", amount.String()).
		Str("shares", minted.String()).
		Msg("liquidity added")
	return nil
}

// RemoveLiquidity burns shareAmount of the provider's shares, returns
// the pro-rata position slice as a long fill at the fair price, and pays
// back 2*fair*amount of cash. The position slice is truncated to the
// lot size; the dust stays in the pool.
func (p *Pool) RemoveLiquidity(provider string, shareAmount decimal.Decimal) error {
	if shareAmount.Sign() <= 0 {
		return fmt.Errorf("remove liquidity %s: %w", shareAmount, perpetual.ErrInvalidAmount)
	}
	if p.ShareBalance(provider).LessThan(shareAmount) {
		return fmt.Errorf("remove liquidity %s with %s shares: %w", shareAmount, p.ShareBalance(provider), ErrInsufficientShares)
	}
	y := p.PositionSize()
	if y.Sign() <= 0 {
		return fmt.Errorf("remove liquidity: %w", ErrPoolEmpty)
	}
	price, err := p.CurrentFairPrice()
	if err != nil {
		return err
	}

	amount := fixmath.Frac(y, shareAmount, p.shareSupply)
	amount = amount.Sub(amount.Mod(p.gov.LotSize))
	if amount.Sign() <= 0 {
		return fmt.Errorf("remove liquidity %s shares: %w", shareAmount, perpetual.ErrInvalidAmount)
	}
	cash := fixmath.Mul(fixmath.Mul(fixmath.Two, price), amount)

	cp := p.ledger.Checkpoint(provider, p.poolID)
	err = func() error {
		if err := p.ledger.Trade(p.selfID, provider, p.poolID, perpetual.SideLong, price, amount); err != nil {
			return err
		}
		if err := p.ledger.TransferCashBalance(p.selfID, p.poolID, provider, cash); err != nil {
			return err
		}
		if !p.ledger.IsSafe(provider, price) {
			return fmt.Errorf("provider %s: %w", provider, perpetual.ErrMarginUnsafe)
		}
		return nil
	}()
	if err != nil {
		p.ledger.Restore(cp)
		return fmt.Errorf("remove liquidity: %w", err)
	}

	p.burnShares(provider, shareAmount)
	p.log.Info().
		Str("provider", provider).
		Str("shares", shareAmount.String()).
		Str("amount", amount.String()).
		Msg("liquidity removed")
	return nil
}

// UpdateIndex forwards the funding tick and pays the caller the update
// prize from the pool account when an accrual actually happened. An
// unpayable prize is skipped, not a failure: the accrual has already
// applied and must not be half-reported.
func (p *Pool) UpdateIndex(caller string) (bool, error) {
	accrued, err := p.index.UpdateIndex()
	if err != nil || !accrued {
		return false, err
	}
	prize := p.gov.UpdatePremiumPrize
	if prize.Sign() > 0 {
		if err := p.ledger.TransferCashBalance(p.selfID, p.poolID, caller, prize); err != nil {
			p.log.Warn().Err(err).Str("caller", caller).Msg("update prize skipped")
		}
	}
	return true, nil
}

func (p *Pool) indexPrice() decimal.Decimal {
	if p.index == nil {
		return decimal.Zero
	}
	return p.index.LastIndexPrice()
}

func (p *Pool) mintShares(account string, amount decimal.Decimal) {
	p.shares[account] = p.ShareBalance(account).Add(amount)
	p.shareSupply = p.shareSupply.Add(amount)
}

func (p *Pool) burnShares(account string, amount decimal.Decimal) {
	p.shares[account] = p.ShareBalance(account).Sub(amount)
	if p.shares[account].IsZero() {
		delete(p.shares, account)
	}
	p.shareSupply = p.shareSupply.Sub(amount)
}
