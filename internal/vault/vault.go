// Package vault is the collateral custodian: it moves the external asset
// between accounts and the venue, scales raw units to the internal WAD
// representation, and enforces the apply-then-withdraw delay. It is the
// only component that credits or debits ledger cash against external
// funds.
package vault

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpvenue/internal/fixmath"
	"perpvenue/internal/guard"
	"perpvenue/internal/perpetual"
)

// Clock supplies the current tick. Wall time never enters the vault
// directly; the engine hands it a versioned clock.
type Clock interface {
	Now() int64
}

// MarkSource supplies the mark price used for the withdrawal safety
// check on open positions.
type MarkSource interface {
	CurrentFairPrice() (decimal.Decimal, error)
}

// AttestedAsset marks adapters whose inbound transfers are certified
// upstream: a deposit operation reaches the engine only after the
// external transfer confirmed, so the book credits the sender before
// the pull.
type AttestedAsset interface {
	Credit(addr string, amount decimal.Decimal)
}

// application is a pending withdrawal notice. A fresh application
// replaces the previous one rather than stacking.
type application struct {
	amount    decimal.Decimal
	appliedAt int64
}

// Vault custodies collateral for one instrument. Ledger cash mutations
// always complete before the external transfer is attempted; a failed
// transfer is compensated by undoing the cash mutation.
type Vault struct {
	log    zerolog.Logger
	guard  *guard.Guard
	ledger *perpetual.Ledger
	asset  CollateralAsset
	scaler Scaler
	clock  Clock
	mark   MarkSource

	// selfID is the vault's whitelisted identity on the ledger and its
	// address on the external asset.
	selfID string

	delayTicks int64

	applications map[string]application

	// balance is the WAD total the vault believes it custodies. Compared
	// against BalanceOf in health checks, never trusted for accounting.
	balance decimal.Decimal
}

func New(selfID string, delayTicks int64, ledger *perpetual.Ledger, g *guard.Guard, asset CollateralAsset, scaler Scaler, mark MarkSource, clock Clock, log zerolog.Logger) *Vault {
	return &Vault{
		log:          log,
		guard:        g,
		ledger:       ledger,
		asset:        asset,
		scaler:       scaler,
		clock:        clock,
		mark:         mark,
		selfID:       selfID,
		delayTicks:   delayTicks,
		applications: make(map[string]application),
		balance:      decimal.Zero,
	}
}

// ID returns the vault's whitelisted identity.
func (v *Vault) ID() string {
	return v.selfID
}

// Balance returns the tracked custody total in WAD.
func (v *Vault) Balance() decimal.Decimal {
	return v.balance
}

// PendingWithdrawal returns the open application for an account, if any.
func (v *Vault) PendingWithdrawal(account string) (amount decimal.Decimal, appliedAt int64, ok bool) {
	app, ok := v.applications[account]
	if !ok {
		return decimal.Zero, 0, false
	}
	return app.amount, app.appliedAt, true
}

// Deposit pulls raw collateral units from the account's external balance
// and credits the scaled WAD amount to its ledger cash. Deposits are
// accepted only while the instrument trades normally.
func (v *Vault) Deposit(account string, rawAmount decimal.Decimal) error {
	if v.guard.Paused() {
		return fmt.Errorf("deposit: %w", perpetual.ErrSystemPaused)
	}
	if v.ledger.Status() != perpetual.StatusNormal {
		return fmt.Errorf("deposit: %w", perpetual.ErrAlreadySettled)
	}
	if rawAmount.Sign() <= 0 {
		return fmt.Errorf("deposit amount %s: %w", rawAmount, perpetual.ErrInvalidAmount)
	}

	if att, ok := v.asset.(AttestedAsset); ok {
		att.Credit(account, rawAmount)
	}

	ok, err := v.asset.TransferFrom(account, v.selfID, rawAmount)
	if err != nil {
		return fmt.Errorf("deposit pull from %s: %w", account, err)
	}
	if !ok {
		return fmt.Errorf("deposit pull from %s: %w", account, ErrLowLevelCallFailed)
	}

	wad := v.scaler.ToWad(rawAmount)
	if err := v.ledger.CreditCash(v.selfID, account, wad); err != nil {
		return fmt.Errorf("deposit credit: %w", err)
	}
	v.balance = v.balance.Add(wad)

	v.log.Info().
		Str("account", account).
		Str("amount", wad.String()).
		Msg("collateral deposited")
	return nil
}

// ApplyForWithdrawal records intent to withdraw a WAD amount. The funds
// stay in margin and keep collateralizing the position until Withdraw;
// a new application replaces any pending one and restarts the delay.
func (v *Vault) ApplyForWithdrawal(account string, amount decimal.Decimal) error {
	if v.guard.Paused() {
		return fmt.Errorf("apply for withdrawal: %w", perpetual.ErrSystemPaused)
	}
	if v.ledger.Status() != perpetual.StatusNormal {
		return fmt.Errorf("apply for withdrawal: %w", perpetual.ErrAlreadySettled)
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("apply for withdrawal %s: %w", amount, perpetual.ErrInvalidAmount)
	}

	v.applications[account] = application{amount: amount, appliedAt: v.clock.Now()}
	v.log.Info().
		Str("account", account).
		Str("amount", amount.String()).
		Msg("withdrawal applied")
	return nil
}

// Withdraw pays out a previously applied WAD amount once the delay has
// elapsed. Open positions must retain their full initial margin after the
// debit; flat accounts only need the cash. The ledger debit completes
// before the external transfer and is undone if the transfer fails.
func (v *Vault) Withdraw(account string, amount decimal.Decimal) error {
	if v.guard.Paused() {
		return fmt.Errorf("withdraw: %w", perpetual.ErrSystemPaused)
	}
	if v.guard.WithdrawDisabled() {
		return fmt.Errorf("withdraw: %w", ErrWithdrawalDisabled)
	}
	if v.ledger.Status() != perpetual.StatusNormal {
		return fmt.Errorf("withdraw: %w", perpetual.ErrAlreadySettled)
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("withdraw amount %s: %w", amount, perpetual.ErrInvalidAmount)
	}

	if v.delayTicks > 0 {
		app, ok := v.applications[account]
		if !ok || app.amount.LessThan(amount) {
			return fmt.Errorf("withdraw %s by %s: %w", amount, account, ErrNoApplication)
		}
		if v.clock.Now() < app.appliedAt+v.delayTicks {
			return fmt.Errorf("withdraw by %s before tick %d: %w", account, app.appliedAt+v.delayTicks, ErrWithdrawalLocked)
		}
	}

	if err := v.checkWithdrawable(account, amount); err != nil {
		return err
	}

	if err := v.ledger.DebitCash(v.selfID, account, amount); err != nil {
		return fmt.Errorf("withdraw debit: %w", err)
	}
	v.consumeApplication(account, amount)
	v.balance = v.balance.Sub(amount)

	if err := v.push(account, amount); err != nil {
		// Compensate: the external leg failed, put the cash back.
		if cerr := v.ledger.CreditCash(v.selfID, account, amount); cerr != nil {
			v.log.Error().Err(cerr).Str("account", account).Msg("withdraw compensation failed")
		}
		v.balance = v.balance.Add(amount)
		return err
	}

	v.log.Info().
		Str("account", account).
		Str("amount", amount.String()).
		Msg("collateral withdrawn")
	return nil
}

// checkWithdrawable verifies the debit leaves the account fully
// collateralized at the current mark price.
func (v *Vault) checkWithdrawable(account string, amount decimal.Decimal) error {
	a := v.ledger.Account(account)
	if a.IsFlat() {
		if a.CashBalance.LessThan(amount) {
			return fmt.Errorf("withdraw %s with cash %s: %w", amount, a.CashBalance, ErrInsufficientBalance)
		}
		return nil
	}

	mark, err := v.mark.CurrentFairPrice()
	if err != nil {
		return fmt.Errorf("withdraw mark price: %w", err)
	}
	if avail := v.ledger.AvailableMargin(account, mark); avail.LessThan(amount) {
		return fmt.Errorf("withdraw %s with available margin %s: %w", amount, avail, perpetual.ErrMarginUnsafe)
	}
	return nil
}

func (v *Vault) consumeApplication(account string, amount decimal.Decimal) {
	app, ok := v.applications[account]
	if !ok {
		return
	}
	remaining := app.amount.Sub(amount)
	if remaining.Sign() <= 0 {
		delete(v.applications, account)
		return
	}
	app.amount = remaining
	v.applications[account] = app
}

// SettleAndWithdraw winds down an account after global settlement: the
// ledger settles the position at the frozen price and the vault pays out
// the entitlement. The withdrawal delay does not apply; the instrument
// is dead and margin checks are moot.
func (v *Vault) SettleAndWithdraw(account string) (decimal.Decimal, error) {
	if v.guard.Paused() {
		return decimal.Zero, fmt.Errorf("settle: %w", perpetual.ErrSystemPaused)
	}
	if v.guard.WithdrawDisabled() {
		return decimal.Zero, fmt.Errorf("settle: %w", ErrWithdrawalDisabled)
	}

	payout, err := v.ledger.Settle(account)
	if err != nil {
		return decimal.Zero, err
	}
	if payout.Sign() <= 0 {
		return decimal.Zero, nil
	}

	payout = fixmath.Min(payout, v.balance)
	v.balance = v.balance.Sub(payout)

	if err := v.push(account, payout); err != nil {
		v.balance = v.balance.Add(payout)
		return decimal.Zero, err
	}

	v.log.Info().
		Str("account", account).
		Str("payout", payout.String()).
		Msg("account settled and paid out")
	return payout, nil
}

// Application is one serializable pending withdrawal.
type Application struct {
	Amount    decimal.Decimal `json:"amount"`
	AppliedAt int64           `json:"applied_at"`
}

// State is the vault's serializable custody state. External holds the
// in-process asset book when the native or token adapter is in use;
// Allowances carries the token adapter's approvals.
type State struct {
	Balance      decimal.Decimal            `json:"balance"`
	Applications map[string]Application     `json:"applications,omitempty"`
	External     map[string]decimal.Decimal `json:"external,omitempty"`
	Allowances   map[string]decimal.Decimal `json:"allowances,omitempty"`
}

// Snapshot captures the custody total, pending applications, and the
// in-process asset book if one backs the vault.
func (v *Vault) Snapshot() State {
	st := State{Balance: v.balance}
	if len(v.applications) > 0 {
		st.Applications = make(map[string]Application, len(v.applications))
		for account, app := range v.applications {
			st.Applications[account] = Application{Amount: app.amount, AppliedAt: app.appliedAt}
		}
	}
	switch book := v.asset.(type) {
	case *NativeAsset:
		st.External = book.Balances()
	case *TokenAsset:
		st.External = book.Balances()
		st.Allowances = book.Allowances()
	}
	return st
}

// Restore replaces the vault state with a snapshot's.
func (v *Vault) Restore(st State) {
	v.balance = st.Balance
	v.applications = make(map[string]application, len(st.Applications))
	for account, app := range st.Applications {
		v.applications[account] = application{amount: app.Amount, appliedAt: app.AppliedAt}
	}
	switch book := v.asset.(type) {
	case *NativeAsset:
		book.SetBalances(st.External)
	case *TokenAsset:
		book.SetBalances(st.External)
		book.SetAllowances(st.Allowances)
	}
}

// push transfers a WAD amount out to an external address.
func (v *Vault) push(to string, wad decimal.Decimal) error {
	raw := v.scaler.ToRaw(wad)
	ok, err := v.asset.Transfer(to, raw)
	if err != nil {
		return fmt.Errorf("push to %s: %w", to, err)
	}
	if !ok {
		return fmt.Errorf("push to %s: %w", to, ErrLowLevelCallFailed)
	}
	return nil
}
