package vault

import (
	"github.com/shopspring/decimal"
)

// NativeAsset is the in-process book for the native transferable unit,
// selected when no token address is configured. The adapter is bound to
// the vault's own address: Transfer moves funds out of the vault, the
// way a token client signs with the holder's key. Allowance mirrors the
// owner balance: the native unit has no approval step.
type NativeAsset struct {
	holder   string
	balances map[string]decimal.Decimal
}

// NewNativeAsset creates the book bound to holder (the vault address).
func NewNativeAsset(holder string) *NativeAsset {
	return &NativeAsset{
		holder:   holder,
		balances: make(map[string]decimal.Decimal),
	}
}

// Mint credits raw units to an address. Genesis/test funding only.
func (n *NativeAsset) Mint(addr string, amount decimal.Decimal) {
	n.balances[addr] = n.balance(addr).Add(amount)
}

// Credit implements the attested-asset surface: deposits carry their own
// upstream confirmation, so the sender's book balance is created here.
func (n *NativeAsset) Credit(addr string, amount decimal.Decimal) {
	n.Mint(addr, amount)
}

// Balances returns a copy of the book.
func (n *NativeAsset) Balances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(n.balances))
	for addr, b := range n.balances {
		out[addr] = b
	}
	return out
}

// SetBalances replaces the book.
func (n *NativeAsset) SetBalances(balances map[string]decimal.Decimal) {
	n.balances = make(map[string]decimal.Decimal, len(balances))
	for addr, b := range balances {
		n.balances[addr] = b
	}
}

func (n *NativeAsset) balance(addr string) decimal.Decimal {
	if b, ok := n.balances[addr]; ok {
		return b
	}
	return decimal.Zero
}

func (n *NativeAsset) move(from, to string, amount decimal.Decimal) bool {
	if n.balance(from).LessThan(amount) {
		return false
	}
	n.balances[from] = n.balance(from).Sub(amount)
	n.balances[to] = n.balance(to).Add(amount)
	return true
}

func (n *NativeAsset) Transfer(to string, amount decimal.Decimal) (bool, error) {
	return n.move(n.holder, to, amount), nil
}

func (n *NativeAsset) TransferFrom(from, to string, amount decimal.Decimal) (bool, error) {
	return n.move(from, to, amount), nil
}

func (n *NativeAsset) BalanceOf(addr string) (decimal.Decimal, error) {
	return n.balance(addr), nil
}

func (n *NativeAsset) Allowance(owner, spender string) (decimal.Decimal, error) {
	return n.balance(owner), nil
}
