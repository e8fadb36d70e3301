package vault

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CollateralAsset is the external collateral's transfer surface. Two
// kinds exist: the native transferable unit and a tokenized asset with
// transfer/allowance semantics; assembly selects the adapter.
type CollateralAsset interface {
	Transfer(to string, amount decimal.Decimal) (bool, error)
	TransferFrom(from, to string, amount decimal.Decimal) (bool, error)
	BalanceOf(addr string) (decimal.Decimal, error)
	Allowance(owner, spender string) (decimal.Decimal, error)
}

// Scaler normalizes an asset of arbitrary precision (0–18 fractional
// digits) to the internal WAD unit and back.
type Scaler struct {
	decimals int
}

func NewScaler(decimals int) (Scaler, error) {
	if decimals < 0 || decimals > 18 {
		return Scaler{}, fmt.Errorf("decimals %d: %w", decimals, ErrInvalidDecimals)
	}
	return Scaler{decimals: decimals}, nil
}

// ToWad converts a raw asset amount (smallest units) to WAD value.
func (s Scaler) ToWad(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(int32(-s.decimals))
}

// ToRaw converts a WAD value to raw asset units, truncating sub-unit
// dust toward zero.
func (s Scaler) ToRaw(wad decimal.Decimal) decimal.Decimal {
	return wad.Shift(int32(s.decimals)).Truncate(0)
}
