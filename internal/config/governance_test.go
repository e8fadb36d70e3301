package config

import (
	"encoding/json"
	"testing"

	"perpvenue/internal/fixmath"
)

func TestParamKeyRoundTrip(t *testing.T) {
	for k := ParamInitialMarginRate; k <= ParamUpdatePremiumPrize; k++ {
		parsed, err := ParseParamKey(k.String())
		if err != nil {
			t.Fatalf("parse %q: %v", k.String(), err)
		}
		if parsed != k {
			t.Errorf("round trip %q: got %d, want %d", k.String(), parsed, k)
		}
	}
	if _, err := ParseParamKey("noSuchParam"); err == nil {
		t.Error("unknown param parsed without error")
	}
}

func TestParamKeyJSON(t *testing.T) {
	raw, err := json.Marshal(ParamPoolFeeRate)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"poolFeeRate"` {
		t.Errorf("marshal = %s", raw)
	}

	var k ParamKey
	if err := json.Unmarshal([]byte(`"fundingDampener"`), &k); err != nil {
		t.Fatal(err)
	}
	if k != ParamFundingDampener {
		t.Errorf("unmarshal = %d, want %d", k, ParamFundingDampener)
	}
	if err := json.Unmarshal([]byte(`"bogus"`), &k); err == nil {
		t.Error("bogus key unmarshalled without error")
	}
}

func TestDefaultGovernanceValidates(t *testing.T) {
	if err := DefaultGovernance().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestSetValidatesRanges(t *testing.T) {
	cases := []struct {
		name  string
		key   ParamKey
		value string
		ok    bool
	}{
		{"raise pool fee", ParamPoolFeeRate, "0.0005", true},
		{"initial margin below maintenance", ParamInitialMarginRate, "0.04", false},
		{"initial margin at one", ParamInitialMarginRate, "1", false},
		{"zero maintenance margin", ParamMaintenanceMarginRate, "0", false},
		{"zero lot size", ParamLotSize, "0", false},
		{"trading lot off the lot grid", ParamTradingLotSize, "1.5", false},
		{"alpha out of range", ParamEMAAlpha, "1", false},
		{"dampener over premium limit", ParamFundingDampener, "0.01", false},
		{"penalty swallows maintenance margin", ParamLiquidationPenaltyRate, "0.05", false},
		{"widen premium limit", ParamMarkPremiumLimit, "0.01", true},
		{"negative pool fee", ParamPoolFeeRate, "-0.001", false},
		{"negative pool dev fee", ParamPoolDevFeeRate, "-0.001", false},
		{"maker rebate stays allowed", ParamMakerDevFeeRate, "-0.0005", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := DefaultGovernance()
			err := g.Set(tc.key, fixmath.MustParse(tc.value))
			if tc.ok && err != nil {
				t.Errorf("set: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("invalid value accepted")
			}
		})
	}
}
