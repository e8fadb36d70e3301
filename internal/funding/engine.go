// Package funding maintains the exponentially smoothed premium between
// mark and index price and accrues the per-contract funding accumulator
// over elapsed oracle time.
package funding

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpvenue/internal/config"
	"perpvenue/internal/fixmath"
)

var (
	ErrStalePrice       = errors.New("stale price")
	ErrPriceGapExceeded = errors.New("price gap exceeded")
)

// maxIndexStep bounds a single oracle move relative to the last accepted
// index price. A larger step is treated as a feed fault, not a market.
var maxIndexStep = fixmath.MustParse("0.5")

// Oracle supplies the index price. Timestamps must be monotonically
// non-decreasing; out-of-band values are the oracle's job to reject.
type Oracle interface {
	Price() (value decimal.Decimal, timestamp int64, err error)
}

// MarkSource supplies the mark price, the AMM's current fair price.
type MarkSource interface {
	CurrentFairPrice() (decimal.Decimal, error)
}

// State is the funding singleton for the instrument.
type State struct {
	LastFundingTime               int64           `json:"last_funding_time"`
	LastPremium                   decimal.Decimal `json:"last_premium"`
	LastEMAPremium                decimal.Decimal `json:"last_ema_premium"`
	LastIndexPrice                decimal.Decimal `json:"last_index_price"`
	AccumulatedFundingPerContract decimal.Decimal `json:"accumulated_funding_per_contract"`
}

// Engine owns the funding state. Mutated at most once per distinct
// oracle timestamp; a repeated timestamp is a no-op, which makes
// UpdateIndex idempotent within a tick.
type Engine struct {
	log    zerolog.Logger
	gov    *config.Governance
	oracle Oracle
	mark   MarkSource

	initialized bool
	state       State
}

func NewEngine(gov *config.Governance, oracle Oracle, mark MarkSource, log zerolog.Logger) *Engine {
	return &Engine{
		log:    log,
		gov:    gov,
		oracle: oracle,
		mark:   mark,
		state: State{
			LastPremium:                   decimal.Zero,
			LastEMAPremium:                decimal.Zero,
			LastIndexPrice:                decimal.Zero,
			AccumulatedFundingPerContract: decimal.Zero,
		},
	}
}

// State returns a copy of the funding state.
func (e *Engine) State() State {
	return e.state
}

// RestoreState replaces the funding state on warm restart.
func (e *Engine) RestoreState(s State) {
	e.state = s
	e.initialized = s.LastFundingTime > 0
}

// AccumulatedFundingPerContract implements perpetual.FundingSource.
func (e *Engine) AccumulatedFundingPerContract() decimal.Decimal {
	return e.state.AccumulatedFundingPerContract
}

// LastIndexPrice returns the most recent accepted index price.
func (e *Engine) LastIndexPrice() decimal.Decimal {
	return e.state.LastIndexPrice
}

// LastFundingTime returns the oracle timestamp of the last accrual.
func (e *Engine) LastFundingTime() int64 {
	return e.state.LastFundingTime
}

// CurrentFundingRate is the EMA premium clamped to the mark-premium
// limit and flattened to zero inside the dampener band, so negligible
// premia produce no funding payments.
func (e *Engine) CurrentFundingRate() decimal.Decimal {
	rate := fixmath.Clamp(
		e.state.LastEMAPremium,
		e.gov.MarkPremiumLimit.Neg(),
		e.gov.MarkPremiumLimit,
	)
	if rate.Abs().LessThanOrEqual(e.gov.FundingDampener) {
		return decimal.Zero
	}
	return rate
}

// UpdateIndex reads the oracle and, when its timestamp has advanced,
// folds the new premium into the EMA and accrues funding over the
// elapsed time. Returns whether an accrual happened.
func (e *Engine) UpdateIndex() (bool, error) {
	index, ts, err := e.oracle.Price()
	if err != nil {
		return false, fmt.Errorf("read oracle: %w", err)
	}
	if index.Sign() <= 0 {
		return false, fmt.Errorf("oracle price %s: %w", index, ErrStalePrice)
	}

	if !e.initialized {
		// First observation seeds the state without accruing: there is
		// no earlier timestamp to integrate from.
		e.state.LastFundingTime = ts
		e.state.LastIndexPrice = index
		e.initialized = true
		return false, nil
	}

	if ts < e.state.LastFundingTime {
		return false, fmt.Errorf("oracle time %d < %d: %w", ts, e.state.LastFundingTime, ErrStalePrice)
	}
	if ts == e.state.LastFundingTime {
		return false, nil
	}

	if e.state.LastIndexPrice.Sign() > 0 {
		step := fixmath.Div(index.Sub(e.state.LastIndexPrice).Abs(), e.state.LastIndexPrice)
		if step.GreaterThan(maxIndexStep) {
			return false, fmt.Errorf("index %s after %s: %w", index, e.state.LastIndexPrice, ErrPriceGapExceeded)
		}
	}

	mark, err := e.mark.CurrentFairPrice()
	if err != nil {
		return false, fmt.Errorf("read mark price: %w", err)
	}

	premium := fixmath.Div(mark.Sub(index), index)
	e.state.LastPremium = premium
	e.state.LastEMAPremium = e.state.LastEMAPremium.Add(
		fixmath.Mul(e.gov.EMAAlpha, premium.Sub(e.state.LastEMAPremium)),
	)

	rate := e.CurrentFundingRate()
	elapsed := fixmath.FromInt(ts - e.state.LastFundingTime)
	accrued := fixmath.Mul(fixmath.Mul(rate, mark), elapsed)
	e.state.AccumulatedFundingPerContract = e.state.AccumulatedFundingPerContract.Add(accrued)

	e.state.LastFundingTime = ts
	e.state.LastIndexPrice = index

	e.log.Debug().
		Str("index", index.String()).
		Str("mark", mark.String()).
		Str("premium", premium.String()).
		Str("rate", rate.String()).
		Str("accrued", accrued.String()).
		Msg("funding updated")

	return true, nil
}
