package perpetual

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpvenue/internal/config"
	"perpvenue/internal/fixmath"
	"perpvenue/internal/guard"
)

const (
	owner  = "owner"
	broker = "sys" // whitelisted caller standing in for the pool/vault
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	g := guard.New(owner, zerolog.Nop())
	if err := g.AddWhitelisted(owner, broker); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	return NewLedger(config.DefaultGovernance(), g, zerolog.Nop())
}

func credit(t *testing.T, l *Ledger, account string, amount string) {
	t.Helper()
	if err := l.CreditCash(broker, account, fixmath.MustParse(amount)); err != nil {
		t.Fatalf("credit %s: %v", account, err)
	}
}

func dec(s string) decimal.Decimal {
	return fixmath.MustParse(s)
}

func TestTradeOpensOffsettingPositions(t *testing.T) {
	l := newTestLedger(t)
	credit(t, l, "alice", "1000")
	credit(t, l, "bob", "1000")

	if err := l.Trade(broker, "alice", "bob", SideLong, dec("100"), dec("2")); err != nil {
		t.Fatalf("trade: %v", err)
	}

	a, b := l.Account("alice"), l.Account("bob")
	if a.Side != SideLong || !a.Size.Equal(dec("2")) || !a.EntryValue.Equal(dec("200")) {
		t.Errorf("alice = %s %s entry %s, want Long 2 entry 200", a.Side, a.Size, a.EntryValue)
	}
	if b.Side != SideShort || !b.Size.Equal(dec("2")) {
		t.Errorf("bob = %s %s, want Short 2", b.Side, b.Size)
	}
	if err := l.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestTradeCloseRealizesPnl(t *testing.T) {
	l := newTestLedger(t)
	credit(t, l, "alice", "1000")
	credit(t, l, "bob", "1000")

	if err := l.Trade(broker, "alice", "bob", SideLong, dec("100"), dec("2")); err != nil {
		t.Fatalf("open: %v", err)
	}
	// Alice sells one contract back at 110: +10 realized.
	if err := l.Trade(broker, "alice", "bob", SideShort, dec("110"), dec("1")); err != nil {
		t.Fatalf("close: %v", err)
	}

	a := l.Account("alice")
	if !a.CashBalance.Equal(dec("1010")) {
		t.Errorf("alice cash = %s, want 1010", a.CashBalance)
	}
	if !a.Size.Equal(dec("1")) || !a.EntryValue.Equal(dec("100")) {
		t.Errorf("alice size %s entry %s, want 1 and 100", a.Size, a.EntryValue)
	}
	b := l.Account("bob")
	if !b.CashBalance.Equal(dec("990")) {
		t.Errorf("bob cash = %s, want 990", b.CashBalance)
	}
	if err := l.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestTradeRejections(t *testing.T) {
	l := newTestLedger(t)
	credit(t, l, "alice", "1000")
	credit(t, l, "bob", "1000")

	cases := []struct {
		name string
		err  error
		call func() error
	}{
		{"unauthorized caller", ErrUnauthorized, func() error {
			return l.Trade("mallory", "alice", "bob", SideLong, dec("100"), dec("1"))
		}},
		{"zero price", ErrInvalidPrice, func() error {
			return l.Trade(broker, "alice", "bob", SideLong, dec("0"), dec("1"))
		}},
		{"negative amount", ErrInvalidAmount, func() error {
			return l.Trade(broker, "alice", "bob", SideLong, dec("100"), dec("-1"))
		}},
		{"lot violation", ErrLotSizeViolation, func() error {
			return l.Trade(broker, "alice", "bob", SideLong, dec("100"), dec("0.5"))
		}},
		{"self trade", ErrInvalidAmount, func() error {
			return l.Trade(broker, "alice", "alice", SideLong, dec("100"), dec("1"))
		}},
		{"flat side", ErrInvalidSide, func() error {
			return l.Trade(broker, "alice", "bob", SideFlat, dec("100"), dec("1"))
		}},
	}
	for _, tc := range cases {
		if err := tc.call(); !errors.Is(err, tc.err) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.err)
		}
	}
}

func TestMarginSafetyAtMark(t *testing.T) {
	l := newTestLedger(t)
	credit(t, l, "alice", "1000")
	credit(t, l, "bob", "100000")

	if err := l.Trade(broker, "alice", "bob", SideLong, dec("7000"), dec("1")); err != nil {
		t.Fatalf("trade: %v", err)
	}

	// At entry: marginBalance 1000 vs initial margin 700.
	if !l.IsSafe("alice", dec("7000")) {
		t.Error("alice should be safe at entry price")
	}
	if got := l.AvailableMargin("alice", dec("7000")); !got.Equal(dec("300")) {
		t.Errorf("available margin = %s, want 300", got)
	}

	// At 6000 the position has lost the full cash buffer.
	if l.IsSafe("alice", dec("6000")) {
		t.Error("alice should be unsafe at 6000")
	}
	if l.IsBankrupt("alice", dec("6000")) {
		t.Error("alice margin balance is exactly zero, not negative")
	}
	if !l.IsBankrupt("alice", dec("5999")) {
		t.Error("alice should be bankrupt below 6000")
	}
}

func TestShortMarginSymmetry(t *testing.T) {
	l := newTestLedger(t)
	credit(t, l, "alice", "1000")
	credit(t, l, "bob", "100000")

	if err := l.Trade(broker, "alice", "bob", SideShort, dec("7000"), dec("1")); err != nil {
		t.Fatalf("trade: %v", err)
	}

	if !l.IsSafe("alice", dec("7000")) {
		t.Error("alice should be safe at entry price")
	}
	// Shorts lose as the mark rises.
	if got := l.MarginBalance("alice", dec("8000")); !got.Equal(dec("0")) {
		t.Errorf("margin balance at 8000 = %s, want 0", got)
	}
	if l.IsSafe("alice", dec("8000")) {
		t.Error("alice should be unsafe at 8000")
	}
}

func TestLiquidateSplitsPenaltyAndSocializesDeficit(t *testing.T) {
	l := newTestLedger(t)
	credit(t, l, "tgt", "700")
	credit(t, l, "cpty", "100000")
	credit(t, l, "liq", "10000")

	if err := l.Trade(broker, "tgt", "cpty", SideLong, dec("7000"), dec("1")); err != nil {
		t.Fatalf("trade: %v", err)
	}

	if _, err := l.Liquidate("liq", "tgt", dec("7000"), dec("1")); !errors.Is(err, ErrAccountSafe) {
		t.Fatalf("liquidating a safe account: got %v, want %v", err, ErrAccountSafe)
	}
	if _, err := l.Liquidate("tgt", "tgt", dec("6000"), dec("1")); !errors.Is(err, ErrSelfLiquidation) {
		t.Fatalf("self liquidation: got %v, want %v", err, ErrSelfLiquidation)
	}

	liquidated, err := l.Liquidate("liq", "tgt", dec("6000"), dec("1"))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !liquidated.Equal(dec("1")) {
		t.Fatalf("liquidated = %s, want 1", liquidated)
	}

	// Closing at 6000 realizes -1000; penalties take 2*30; the insurance
	// fund eats its 30 back and the last 330 is socialized to the shorts.
	tgt := l.Account("tgt")
	if !tgt.IsFlat() || !tgt.CashBalance.Equal(dec("0")) {
		t.Errorf("target = %s cash %s, want flat with zero cash", tgt.Side, tgt.CashBalance)
	}
	if got := l.Account("liq").CashBalance; !got.Equal(dec("10030")) {
		t.Errorf("liquidator cash = %s, want 10030", got)
	}
	if got := l.InsuranceFund(); !got.Equal(dec("0")) {
		t.Errorf("insurance fund = %s, want 0", got)
	}
	if got := l.SocialLossPerContract(SideShort); !got.Equal(dec("330")) {
		t.Errorf("short social loss = %s, want 330", got)
	}

	// The counterparty's short owes the socialized loss lazily.
	if got := l.PendingSocialLoss(l.Account("cpty")); !got.Equal(dec("330")) {
		t.Errorf("cpty pending social loss = %s, want 330", got)
	}
	if got := l.MarginBalance("cpty", dec("6000")); !got.Equal(dec("100670")) {
		t.Errorf("cpty margin balance = %s, want 100670", got)
	}

	if err := l.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestSettlementLifecycle(t *testing.T) {
	l := newTestLedger(t)
	credit(t, l, "alice", "1000")
	credit(t, l, "bob", "100000")

	if err := l.Trade(broker, "alice", "bob", SideLong, dec("7000"), dec("1")); err != nil {
		t.Fatalf("trade: %v", err)
	}

	if _, err := l.Settle("alice"); !errors.Is(err, ErrNotSettled) {
		t.Fatalf("settle before emergency: got %v, want %v", err, ErrNotSettled)
	}
	if err := l.BeginGlobalSettlement(dec("0")); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("begin at zero price: got %v, want %v", err, ErrInvalidPrice)
	}

	if err := l.BeginGlobalSettlement(dec("7100")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if l.Status() != StatusEmergency {
		t.Fatalf("status = %s, want Emergency", l.Status())
	}
	if err := l.BeginGlobalSettlement(dec("7200")); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("second begin: got %v, want %v", err, ErrAlreadySettled)
	}
	if err := l.Trade(broker, "alice", "bob", SideLong, dec("7000"), dec("1")); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("trade in emergency: got %v, want %v", err, ErrAlreadySettled)
	}

	if err := l.EndGlobalSettlement(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if l.Status() != StatusSettled {
		t.Fatalf("status = %s, want Settled", l.Status())
	}

	// Long 1 from 7000 settled at 7100: cash 1000 + 100 pnl.
	payout, err := l.Settle("alice")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !payout.Equal(dec("1100")) {
		t.Errorf("payout = %s, want 1100", payout)
	}
	if a := l.Account("alice"); !a.IsFlat() || !a.CashBalance.IsZero() {
		t.Errorf("alice not zeroed after settle: %s %s", a.Side, a.CashBalance)
	}

	// Settling again pays nothing.
	payout, err = l.Settle("alice")
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if !payout.IsZero() {
		t.Errorf("second payout = %s, want 0", payout)
	}
}

func TestTransferCashBalance(t *testing.T) {
	l := newTestLedger(t)
	credit(t, l, "alice", "100")

	if err := l.TransferCashBalance("mallory", "alice", "bob", dec("10")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unauthorized transfer: got %v, want %v", err, ErrUnauthorized)
	}
	if err := l.TransferCashBalance(broker, "alice", "bob", dec("200")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraft: got %v, want %v", err, ErrInsufficientBalance)
	}
	if err := l.TransferCashBalance(broker, "alice", "bob", dec("40")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := l.Account("alice").CashBalance; !got.Equal(dec("60")) {
		t.Errorf("alice cash = %s, want 60", got)
	}
	if got := l.Account("bob").CashBalance; !got.Equal(dec("40")) {
		t.Errorf("bob cash = %s, want 40", got)
	}
}

func TestCheckpointRestore(t *testing.T) {
	l := newTestLedger(t)
	credit(t, l, "alice", "1000")
	credit(t, l, "bob", "1000")

	cp := l.Checkpoint("alice", "bob")
	if err := l.Trade(broker, "alice", "bob", SideLong, dec("100"), dec("1")); err != nil {
		t.Fatalf("trade: %v", err)
	}
	l.Restore(cp)

	if a := l.Account("alice"); !a.IsFlat() || !a.CashBalance.Equal(dec("1000")) {
		t.Errorf("alice after restore: %s cash %s, want flat 1000", a.Side, a.CashBalance)
	}
	if !l.TotalSize(SideLong).IsZero() {
		t.Errorf("total long = %s, want 0", l.TotalSize(SideLong))
	}
	if err := l.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	credit(t, l, "alice", "1000")
	credit(t, l, "bob", "100000")
	if err := l.Trade(broker, "alice", "bob", SideLong, dec("7000"), dec("1")); err != nil {
		t.Fatalf("trade: %v", err)
	}

	snap := l.Snapshot()

	restored := newTestLedger(t)
	restored.RestoreFromSnapshot(snap)

	if a := restored.Account("alice"); a.Side != SideLong || !a.Size.Equal(dec("1")) {
		t.Errorf("restored alice = %s %s, want Long 1", a.Side, a.Size)
	}
	if !restored.TotalSize(SideLong).Equal(dec("1")) {
		t.Errorf("restored total long = %s, want 1", restored.TotalSize(SideLong))
	}
	if err := restored.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}
