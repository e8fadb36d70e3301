package config

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"perpvenue/internal/fixmath"
)

// ParamKey enumerates the governance parameters. The string form of each
// key is the stable identifier used at the serialization boundary, so
// parameter stores remain self-describing across deployments.
type ParamKey int

const (
	ParamInitialMarginRate ParamKey = iota
	ParamMaintenanceMarginRate
	ParamLiquidationPenaltyRate
	ParamPenaltyFundRate
	ParamTakerDevFeeRate
	ParamMakerDevFeeRate
	ParamLotSize
	ParamTradingLotSize
	ParamPoolFeeRate
	ParamPoolDevFeeRate
	ParamEMAAlpha
	ParamMarkPremiumLimit
	ParamFundingDampener
	ParamUpdatePremiumPrize
)

func (k ParamKey) String() string {
	switch k {
	case ParamInitialMarginRate:
		return "initialMarginRate"
	case ParamMaintenanceMarginRate:
		return "maintenanceMarginRate"
	case ParamLiquidationPenaltyRate:
		return "liquidationPenaltyRate"
	case ParamPenaltyFundRate:
		return "penaltyFundRate"
	case ParamTakerDevFeeRate:
		return "takerDevFeeRate"
	case ParamMakerDevFeeRate:
		return "makerDevFeeRate"
	case ParamLotSize:
		return "lotSize"
	case ParamTradingLotSize:
		return "tradingLotSize"
	case ParamPoolFeeRate:
		return "poolFeeRate"
	case ParamPoolDevFeeRate:
		return "poolDevFeeRate"
	case ParamEMAAlpha:
		return "emaAlpha"
	case ParamMarkPremiumLimit:
		return "markPremiumLimit"
	case ParamFundingDampener:
		return "fundingDampener"
	case ParamUpdatePremiumPrize:
		return "updatePremiumPrize"
	default:
		return "unknown"
	}
}

// ParseParamKey maps a stable string identifier back to its key.
func ParseParamKey(s string) (ParamKey, error) {
	for k := ParamInitialMarginRate; k <= ParamUpdatePremiumPrize; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown governance param %q", s)
}

func (k ParamKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *ParamKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	key, err := ParseParamKey(s)
	if err != nil {
		return err
	}
	*k = key
	return nil
}

// Governance is the strongly typed parameter set for one instrument.
// A single instance is constructed at assembly time and injected into
// every component that needs it.
type Governance struct {
	InitialMarginRate      decimal.Decimal
	MaintenanceMarginRate  decimal.Decimal
	LiquidationPenaltyRate decimal.Decimal
	PenaltyFundRate        decimal.Decimal
	TakerDevFeeRate        decimal.Decimal
	MakerDevFeeRate        decimal.Decimal
	LotSize                decimal.Decimal
	TradingLotSize         decimal.Decimal

	PoolFeeRate        decimal.Decimal
	PoolDevFeeRate     decimal.Decimal
	EMAAlpha           decimal.Decimal
	MarkPremiumLimit   decimal.Decimal
	FundingDampener    decimal.Decimal
	UpdatePremiumPrize decimal.Decimal

	// WithdrawalDelay is the number of logical-clock ticks between a
	// withdrawal application and the earliest permitted withdrawal.
	WithdrawalDelay int64

	// SocialLossThreshold is the per-contract social loss at which global
	// settlement triggers automatically.
	SocialLossThreshold decimal.Decimal
}

// DefaultGovernance returns a conservative parameter set.
func DefaultGovernance() *Governance {
	return &Governance{
		InitialMarginRate:      fixmath.MustParse("0.1"),
		MaintenanceMarginRate:  fixmath.MustParse("0.05"),
		LiquidationPenaltyRate: fixmath.MustParse("0.005"),
		PenaltyFundRate:        fixmath.MustParse("0.005"),
		TakerDevFeeRate:        fixmath.MustParse("0.00075"),
		MakerDevFeeRate:        fixmath.MustParse("-0.00025"),
		LotSize:                fixmath.MustParse("1"),
		TradingLotSize:         fixmath.MustParse("1"),
		PoolFeeRate:            fixmath.MustParse("0.000375"),
		PoolDevFeeRate:         fixmath.MustParse("0.000375"),
		EMAAlpha:               fixmath.MustParse("0.003327"),
		MarkPremiumLimit:       fixmath.MustParse("0.005"),
		FundingDampener:        fixmath.MustParse("0.0005"),
		UpdatePremiumPrize:     decimal.Zero,
		WithdrawalDelay:        0,
		SocialLossThreshold:    fixmath.MustParse("1000000"),
	}
}

// Set assigns one parameter by key. The enumerated key replaces the
// string-keyed dynamic store of older designs; the compiler now rejects
// unknown parameters instead of a runtime lookup failing.
func (g *Governance) Set(key ParamKey, v decimal.Decimal) error {
	switch key {
	case ParamInitialMarginRate:
		g.InitialMarginRate = v
	case ParamMaintenanceMarginRate:
		g.MaintenanceMarginRate = v
	case ParamLiquidationPenaltyRate:
		g.LiquidationPenaltyRate = v
	case ParamPenaltyFundRate:
		g.PenaltyFundRate = v
	case ParamTakerDevFeeRate:
		g.TakerDevFeeRate = v
	case ParamMakerDevFeeRate:
		g.MakerDevFeeRate = v
	case ParamLotSize:
		g.LotSize = v
	case ParamTradingLotSize:
		g.TradingLotSize = v
	case ParamPoolFeeRate:
		g.PoolFeeRate = v
	case ParamPoolDevFeeRate:
		g.PoolDevFeeRate = v
	case ParamEMAAlpha:
		g.EMAAlpha = v
	case ParamMarkPremiumLimit:
		g.MarkPremiumLimit = v
	case ParamFundingDampener:
		g.FundingDampener = v
	case ParamUpdatePremiumPrize:
		g.UpdatePremiumPrize = v
	default:
		return fmt.Errorf("unknown governance param %d", key)
	}
	return g.Validate()
}

// Validate checks parameter ranges.
func (g *Governance) Validate() error {
	if g.MaintenanceMarginRate.Sign() <= 0 {
		return fmt.Errorf("maintenanceMarginRate must be > 0, got %s", g.MaintenanceMarginRate)
	}
	if !g.InitialMarginRate.GreaterThan(g.MaintenanceMarginRate) {
		return fmt.Errorf("initialMarginRate (%s) must be > maintenanceMarginRate (%s)",
			g.InitialMarginRate, g.MaintenanceMarginRate)
	}
	if g.InitialMarginRate.GreaterThanOrEqual(fixmath.One) {
		return fmt.Errorf("initialMarginRate must be < 1, got %s", g.InitialMarginRate)
	}
	if g.LotSize.Sign() <= 0 {
		return fmt.Errorf("lotSize must be > 0, got %s", g.LotSize)
	}
	if g.TradingLotSize.Sign() <= 0 {
		return fmt.Errorf("tradingLotSize must be > 0, got %s", g.TradingLotSize)
	}
	if !fixmath.IsMultipleOf(g.TradingLotSize, g.LotSize) {
		return fmt.Errorf("tradingLotSize (%s) must be a multiple of lotSize (%s)",
			g.TradingLotSize, g.LotSize)
	}
	if g.EMAAlpha.Sign() <= 0 || g.EMAAlpha.GreaterThanOrEqual(fixmath.One) {
		return fmt.Errorf("emaAlpha must be in (0, 1), got %s", g.EMAAlpha)
	}
	if g.MarkPremiumLimit.Sign() < 0 {
		return fmt.Errorf("markPremiumLimit must be >= 0, got %s", g.MarkPremiumLimit)
	}
	if g.FundingDampener.Sign() < 0 {
		return fmt.Errorf("fundingDampener must be >= 0, got %s", g.FundingDampener)
	}
	if g.FundingDampener.GreaterThan(g.MarkPremiumLimit) {
		return fmt.Errorf("fundingDampener (%s) must be <= markPremiumLimit (%s)",
			g.FundingDampener, g.MarkPremiumLimit)
	}
	if g.PoolFeeRate.Sign() < 0 {
		return fmt.Errorf("poolFeeRate must be >= 0, got %s", g.PoolFeeRate)
	}
	if g.PoolDevFeeRate.Sign() < 0 {
		return fmt.Errorf("poolDevFeeRate must be >= 0, got %s", g.PoolDevFeeRate)
	}
	if g.LiquidationPenaltyRate.Sign() < 0 || g.PenaltyFundRate.Sign() < 0 {
		return fmt.Errorf("liquidation penalty rates must be >= 0")
	}
	if g.LiquidationPenaltyRate.Add(g.PenaltyFundRate).GreaterThanOrEqual(g.MaintenanceMarginRate) {
		return fmt.Errorf("total liquidation penalty must be < maintenanceMarginRate")
	}
	return nil
}
