package ingestion

import (
	"testing"

	"github.com/shopspring/decimal"

	"perpvenue/internal/core"
)

func TestParseDeposit(t *testing.T) {
	data := []byte(`{"id":"op-1","seq":1,"at":100,"account":"alice","amount":"1000.5"}`)

	op, err := ParseOperation("deposit", data)
	if err != nil {
		t.Fatalf("ParseOperation: %v", err)
	}

	dep, ok := op.(core.OpDeposit)
	if !ok {
		t.Fatalf("expected OpDeposit, got %T", op)
	}
	if dep.Account != "alice" {
		t.Errorf("account = %q, want alice", dep.Account)
	}
	if !dep.Amount.Equal(decimal.RequireFromString("1000.5")) {
		t.Errorf("amount = %s, want 1000.5", dep.Amount)
	}
	if dep.Key() != "op-1" || dep.SourceSeq() != 1 || dep.Tick() != 100 {
		t.Errorf("meta = (%s, %d, %d)", dep.Key(), dep.SourceSeq(), dep.Tick())
	}
}

func TestParseBuy(t *testing.T) {
	data := []byte(`{"id":"op-2","seq":2,"at":200,"trader":"bob","amount":"3","limit_price":"8000","deadline":250}`)

	op, err := ParseOperation("buy", data)
	if err != nil {
		t.Fatalf("ParseOperation: %v", err)
	}

	buy, ok := op.(core.OpBuy)
	if !ok {
		t.Fatalf("expected OpBuy, got %T", op)
	}
	if buy.Trader != "bob" || buy.Deadline != 250 {
		t.Errorf("got trader=%q deadline=%d", buy.Trader, buy.Deadline)
	}
	if !buy.LimitPrice.Equal(decimal.NewFromInt(8000)) {
		t.Errorf("limit price = %s, want 8000", buy.LimitPrice)
	}
}

func TestParseSetParamStringKey(t *testing.T) {
	data := []byte(`{"id":"op-3","seq":3,"at":300,"caller":"owner","param":"poolFeeRate","value":"0.001"}`)

	op, err := ParseOperation("set_param", data)
	if err != nil {
		t.Fatalf("ParseOperation: %v", err)
	}

	sp := op.(core.OpSetParam)
	if sp.Param.String() != "poolFeeRate" {
		t.Errorf("param = %s, want poolFeeRate", sp.Param)
	}
}

func TestParseUnknownKind(t *testing.T) {
	if _, err := ParseOperation("transmogrify", []byte(`{}`)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestParseRejectsMissingID(t *testing.T) {
	data := []byte(`{"seq":1,"at":100,"account":"alice","amount":"10"}`)
	if _, err := ParseOperation("deposit", data); err == nil {
		t.Fatal("expected validation error for missing id")
	}
}

func TestParseRejectsZeroSequence(t *testing.T) {
	data := []byte(`{"id":"op-4","seq":0,"at":100,"account":"alice","amount":"10"}`)
	if _, err := ParseOperation("deposit", data); err == nil {
		t.Fatal("expected validation error for zero sequence")
	}
}

func TestKindFromSubject(t *testing.T) {
	cases := map[string]string{
		"venue.ops.deposit":         "deposit",
		"venue.ops.buy":             "buy",
		"venue.prices.oracle_price": "oracle_price",
		"bare":                      "bare",
	}
	for subject, want := range cases {
		if got := kindFromSubject(subject); got != want {
			t.Errorf("kindFromSubject(%q) = %q, want %q", subject, got, want)
		}
	}
}
