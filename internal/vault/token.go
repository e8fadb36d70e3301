package vault

import (
	"github.com/shopspring/decimal"
)

// TokenAsset is the in-process book for tokenized collateral, selected
// when a token address is configured. Unlike the native unit, pulls
// spend an allowance the owner granted to the holder; a short allowance
// fails the transfer the way a token contract rejects it.
type TokenAsset struct {
	holder     string
	token      string
	balances   map[string]decimal.Decimal
	allowances map[string]decimal.Decimal
}

// NewTokenAsset creates the book for the configured token, bound to
// holder (the vault address) as the approved spender.
func NewTokenAsset(holder, token string) *TokenAsset {
	return &TokenAsset{
		holder:     holder,
		token:      token,
		balances:   make(map[string]decimal.Decimal),
		allowances: make(map[string]decimal.Decimal),
	}
}

// Token returns the configured token address.
func (a *TokenAsset) Token() string { return a.token }

// Mint credits raw units to an address. Genesis/test funding only.
func (a *TokenAsset) Mint(addr string, amount decimal.Decimal) {
	a.balances[addr] = a.balance(addr).Add(amount)
}

// Approve sets an owner's allowance toward the holder.
func (a *TokenAsset) Approve(owner string, amount decimal.Decimal) {
	a.allowances[owner] = amount
}

// Credit implements the attested-asset surface: a confirmed deposit
// carries both the funds and the approval for the pull that follows.
func (a *TokenAsset) Credit(addr string, amount decimal.Decimal) {
	a.Mint(addr, amount)
	a.allowances[addr] = a.allowance(addr).Add(amount)
}

// Balances returns a copy of the book.
func (a *TokenAsset) Balances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(a.balances))
	for addr, b := range a.balances {
		out[addr] = b
	}
	return out
}

// SetBalances replaces the book.
func (a *TokenAsset) SetBalances(balances map[string]decimal.Decimal) {
	a.balances = make(map[string]decimal.Decimal, len(balances))
	for addr, b := range balances {
		a.balances[addr] = b
	}
}

// Allowances returns a copy of the holder-directed allowances.
func (a *TokenAsset) Allowances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(a.allowances))
	for addr, al := range a.allowances {
		out[addr] = al
	}
	return out
}

// SetAllowances replaces the holder-directed allowances.
func (a *TokenAsset) SetAllowances(allowances map[string]decimal.Decimal) {
	a.allowances = make(map[string]decimal.Decimal, len(allowances))
	for addr, al := range allowances {
		a.allowances[addr] = al
	}
}

func (a *TokenAsset) balance(addr string) decimal.Decimal {
	if b, ok := a.balances[addr]; ok {
		return b
	}
	return decimal.Zero
}

func (a *TokenAsset) allowance(owner string) decimal.Decimal {
	if al, ok := a.allowances[owner]; ok {
		return al
	}
	return decimal.Zero
}

func (a *TokenAsset) move(from, to string, amount decimal.Decimal) bool {
	if a.balance(from).LessThan(amount) {
		return false
	}
	a.balances[from] = a.balance(from).Sub(amount)
	a.balances[to] = a.balance(to).Add(amount)
	return true
}

func (a *TokenAsset) Transfer(to string, amount decimal.Decimal) (bool, error) {
	return a.move(a.holder, to, amount), nil
}

func (a *TokenAsset) TransferFrom(from, to string, amount decimal.Decimal) (bool, error) {
	if a.allowance(from).LessThan(amount) {
		return false, nil
	}
	if !a.move(from, to, amount) {
		return false, nil
	}
	a.allowances[from] = a.allowance(from).Sub(amount)
	return true, nil
}

func (a *TokenAsset) BalanceOf(addr string) (decimal.Decimal, error) {
	return a.balance(addr), nil
}

func (a *TokenAsset) Allowance(owner, spender string) (decimal.Decimal, error) {
	if spender != a.holder {
		return decimal.Zero, nil
	}
	return a.allowance(owner), nil
}
